package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/softboot/pkg"
)

// ReportSize is the fixed capacity of a transport report in bytes.
// Transports may deliver shorter reports but never longer ones.
const ReportSize = 64

// Command discriminants (report byte 0).
const (
	cmdSetSize = 0x00 // Announce total image size
	cmdBytes   = 0x01 // One chunk of image data
	cmdDone    = 0x02 // Upload complete
	cmdStatus  = 0x7F // Device-to-host status report
)

// Fixed wire layout sizes.
const (
	setSizeLen   = 5 // discriminant + u32 total
	bytesHdrLen  = 9 // discriminant + u32 offset + u32 size
	statusHdrLen = 3 // discriminant + stage + result
)

// MaxChunk is the largest payload a single bytes report can carry.
const MaxChunk = ReportSize - bytesHdrLen

// maxStatusText is the message capacity of a status report.
const maxStatusText = ReportSize - statusHdrLen

// Command is a decoded upload command. The concrete types are
// [SetSize], [Bytes], and [Done].
type Command interface {
	isCommand()
}

// SetSize announces the total image size and begins a new upload.
type SetSize struct {
	TotalSize uint32
}

// Bytes carries one chunk of image data at an absolute offset into the
// receive buffer. Data aliases the report passed to [Decode]; callers
// that retain it past the next read must copy it first.
type Bytes struct {
	Offset uint32
	Size   uint32
	Data   []byte
}

// Done marks the upload as complete.
type Done struct{}

func (SetSize) isCommand() {}
func (Bytes) isCommand()   {}
func (Done) isCommand()    {}

// Decode parses a single host-to-device report into a [Command].
//
// A set-size report must be exactly 5 bytes: shorter reports fail with
// [pkg.ErrReportTooShort], longer ones with [pkg.ErrPayloadSizeMismatch].
// A bytes report must carry at least its 9-byte header, and its declared
// size must fit within the report. A done report ignores trailing bytes,
// since fixed-size transports may pad it.
func Decode(report []byte) (Command, error) {
	if len(report) < 1 {
		return nil, fmt.Errorf("%w: empty report", pkg.ErrReportTooShort)
	}

	switch report[0] {
	case cmdSetSize:
		if len(report) < setSizeLen {
			return nil, fmt.Errorf("%w: set-size needs %d bytes, got %d",
				pkg.ErrReportTooShort, setSizeLen, len(report))
		}
		if len(report) > setSizeLen {
			return nil, fmt.Errorf("%w: set-size carries %d trailing bytes",
				pkg.ErrPayloadSizeMismatch, len(report)-setSizeLen)
		}
		return SetSize{TotalSize: binary.LittleEndian.Uint32(report[1:5])}, nil

	case cmdBytes:
		if len(report) < bytesHdrLen {
			return nil, fmt.Errorf("%w: bytes needs a %d-byte header, got %d",
				pkg.ErrReportTooShort, bytesHdrLen, len(report))
		}
		size := binary.LittleEndian.Uint32(report[5:9])
		if uint64(size) > uint64(len(report)-bytesHdrLen) {
			return nil, fmt.Errorf("%w: declared size %d exceeds %d payload bytes",
				pkg.ErrPayloadSizeMismatch, size, len(report)-bytesHdrLen)
		}
		return Bytes{
			Offset: binary.LittleEndian.Uint32(report[1:5]),
			Size:   size,
			Data:   report[bytesHdrLen : bytesHdrLen+int(size)],
		}, nil

	case cmdDone:
		return Done{}, nil

	default:
		return nil, fmt.Errorf("%w: 0x%02x", pkg.ErrUnknownCommand, report[0])
	}
}

// AppendSetSize appends a set-size report to dst and returns the
// extended slice.
func AppendSetSize(dst []byte, total uint32) []byte {
	dst = append(dst, cmdSetSize)
	return binary.LittleEndian.AppendUint32(dst, total)
}

// AppendBytes appends a bytes report carrying data at offset. It fails
// with [pkg.ErrPayloadSizeMismatch] when data exceeds [MaxChunk].
func AppendBytes(dst []byte, offset uint32, data []byte) ([]byte, error) {
	if len(data) > MaxChunk {
		return dst, fmt.Errorf("%w: chunk of %d bytes exceeds %d",
			pkg.ErrPayloadSizeMismatch, len(data), MaxChunk)
	}
	dst = append(dst, cmdBytes)
	dst = binary.LittleEndian.AppendUint32(dst, offset)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(data)))
	return append(dst, data...), nil
}

// AppendDone appends a done report to dst and returns the extended slice.
func AppendDone(dst []byte) []byte {
	return append(dst, cmdDone)
}

// Stage identifies the processing phase a status report refers to.
type Stage uint8

// Processing stages.
const (
	StageDecode   Stage = iota + 1 // Report decoding
	StageSession                   // Receive buffer lifecycle
	StageParse                     // Image interpretation
	StageValidate                  // Load plan validation
	StageFallback                  // Default boot arbitration
)

// stageTerminal marks a status that ends the upload attempt: the device
// either hands off to the image or is ready for a fresh upload, but it
// will not act further on reports already sent.
const stageTerminal = 0x80

// String returns a string representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageDecode:
		return "decode"
	case StageSession:
		return "session"
	case StageParse:
		return "parse"
	case StageValidate:
		return "validate"
	case StageFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Status is a device-to-host report describing the outcome of a command
// or of a completed upload. Terminal statuses settle the upload attempt;
// non-terminal ones describe rejected commands the device survived.
type Status struct {
	Stage    Stage
	Result   pkg.Result
	Terminal bool
	Message  string
}

// AppendStatus appends a status report to dst and returns the extended
// slice. Messages longer than the report capacity are truncated.
func AppendStatus(dst []byte, st Status) []byte {
	stage := byte(st.Stage)
	if st.Terminal {
		stage |= stageTerminal
	}
	dst = append(dst, cmdStatus, stage, byte(st.Result))
	msg := st.Message
	if len(msg) > maxStatusText {
		msg = msg[:maxStatusText]
	}
	return append(dst, msg...)
}

// DecodeStatus parses a device-to-host status report.
func DecodeStatus(report []byte) (Status, error) {
	if len(report) < statusHdrLen {
		return Status{}, fmt.Errorf("%w: status needs %d bytes, got %d",
			pkg.ErrReportTooShort, statusHdrLen, len(report))
	}
	if report[0] != cmdStatus {
		return Status{}, fmt.Errorf("%w: 0x%02x is not a status report",
			pkg.ErrUnknownCommand, report[0])
	}
	return Status{
		Stage:    Stage(report[1] &^ stageTerminal),
		Result:   pkg.Result(report[2]),
		Terminal: report[1]&stageTerminal != 0,
		Message:  string(report[statusHdrLen:]),
	}, nil
}
