package pkg

import "errors"

// Wire protocol errors.
var (
	// ErrReportTooShort indicates a report shorter than its command requires.
	ErrReportTooShort = errors.New("report too short")

	// ErrUnknownCommand indicates an unrecognized command discriminant.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrPayloadSizeMismatch indicates a declared payload size that does not
	// fit the report that carries it.
	ErrPayloadSizeMismatch = errors.New("payload size mismatch")
)

// Upload session errors.
var (
	// ErrNoActiveSession indicates a chunk or completion without a preceding
	// successful size announcement.
	ErrNoActiveSession = errors.New("no active session")

	// ErrOutOfBounds indicates a chunk that falls outside the receive buffer.
	ErrOutOfBounds = errors.New("write out of bounds")

	// ErrAllocationFailed indicates the receive buffer could not be allocated.
	ErrAllocationFailed = errors.New("allocation failed")

	// ErrImageTooLarge indicates an image that exceeds the protocol's
	// 32-bit size field.
	ErrImageTooLarge = errors.New("image too large")
)

// Image load errors.
var (
	// ErrNotELF indicates the image is not an ELF32 little-endian executable.
	ErrNotELF = errors.New("not an ELF image")

	// ErrUnsupportedABI indicates a machine or EABI version this loader
	// cannot boot.
	ErrUnsupportedABI = errors.New("unsupported ABI")

	// ErrMalformedHeader indicates an ELF header with inconsistent fields.
	ErrMalformedHeader = errors.New("malformed header")

	// ErrTruncatedImage indicates an image shorter than its headers claim.
	ErrTruncatedImage = errors.New("truncated image")

	// ErrTruncatedSegment indicates segment data extending past the image.
	ErrTruncatedSegment = errors.New("truncated segment")
)

// Target and transport errors.
var (
	// ErrUnmappedAddress indicates a write outside every target memory region.
	ErrUnmappedAddress = errors.New("unmapped address")

	// ErrInvalidProfile indicates a malformed target memory profile.
	ErrInvalidProfile = errors.New("invalid profile")

	// ErrSuperseded indicates the upload lost the race against the default
	// image boot.
	ErrSuperseded = errors.New("superseded by default boot")

	// ErrNotSupported indicates an unsupported operation on this build.
	ErrNotSupported = errors.New("not supported")

	// ErrAlreadyRunning indicates a component that was started twice.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates a component that has not been started.
	ErrNotRunning = errors.New("not running")

	// ErrNotInitialized indicates a transport used before Init.
	ErrNotInitialized = errors.New("not initialized")

	// ErrClosed indicates a transport that has been torn down.
	ErrClosed = errors.New("transport closed")

	// ErrNoDevice indicates no device is present on the bus.
	ErrNoDevice = errors.New("device not present")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrFraming indicates a malformed transport frame.
	ErrFraming = errors.New("framing error")
)

// Result is the outcome code carried by a wire status report.
type Result int

// Result code values.
const (
	ResultOK               Result = iota // Command or load completed
	ResultTooShort                       // Report too short
	ResultUnknownCommand                 // Unknown command discriminant
	ResultSizeMismatch                   // Payload size mismatch
	ResultNoSession                      // No active session
	ResultOutOfBounds                    // Chunk outside receive buffer
	ResultNoMemory                       // Receive buffer allocation failed
	ResultNotELF                         // Image is not ELF
	ResultUnsupportedABI                 // Wrong machine or EABI version
	ResultMalformedHeader                // Inconsistent ELF header
	ResultTruncatedImage                 // Image shorter than headers claim
	ResultTruncatedSegment               // Segment data past end of image
	ResultUnmapped                       // Segment outside target memory
	ResultSuperseded                     // Default boot already in progress
	ResultInternal                       // Unclassified failure
)

// resultErrors pairs each result code with its sentinel error.
var resultErrors = [...]error{
	ResultOK:               nil,
	ResultTooShort:         ErrReportTooShort,
	ResultUnknownCommand:   ErrUnknownCommand,
	ResultSizeMismatch:     ErrPayloadSizeMismatch,
	ResultNoSession:        ErrNoActiveSession,
	ResultOutOfBounds:      ErrOutOfBounds,
	ResultNoMemory:         ErrAllocationFailed,
	ResultNotELF:           ErrNotELF,
	ResultUnsupportedABI:   ErrUnsupportedABI,
	ResultMalformedHeader:  ErrMalformedHeader,
	ResultTruncatedImage:   ErrTruncatedImage,
	ResultTruncatedSegment: ErrTruncatedSegment,
	ResultUnmapped:         ErrUnmappedAddress,
	ResultSuperseded:       ErrSuperseded,
	ResultInternal:         nil,
}

// ResultOf classifies an error as a result code. A nil error maps to
// [ResultOK]; errors outside the loader taxonomy map to [ResultInternal].
func ResultOf(err error) Result {
	if err == nil {
		return ResultOK
	}
	for code, sentinel := range resultErrors {
		if sentinel != nil && errors.Is(err, sentinel) {
			return Result(code)
		}
	}
	return ResultInternal
}

// Err returns the sentinel error for the result code, or nil for
// [ResultOK]. [ResultInternal] and unknown codes map to a generic error.
func (r Result) Err() error {
	if r == ResultOK {
		return nil
	}
	if r > ResultOK && int(r) < len(resultErrors) && resultErrors[r] != nil {
		return resultErrors[r]
	}
	return errors.New("internal error")
}

// String returns a string representation of the result code.
func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultTooShort:
		return "too-short"
	case ResultUnknownCommand:
		return "unknown-command"
	case ResultSizeMismatch:
		return "size-mismatch"
	case ResultNoSession:
		return "no-session"
	case ResultOutOfBounds:
		return "out-of-bounds"
	case ResultNoMemory:
		return "no-memory"
	case ResultNotELF:
		return "not-elf"
	case ResultUnsupportedABI:
		return "unsupported-abi"
	case ResultMalformedHeader:
		return "malformed-header"
	case ResultTruncatedImage:
		return "truncated-image"
	case ResultTruncatedSegment:
		return "truncated-segment"
	case ResultUnmapped:
		return "unmapped"
	case ResultSuperseded:
		return "superseded"
	default:
		return "internal"
	}
}
