package fifo

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/ardnew/softboot/pkg"
)

// Frame type carried on the report FIFOs.
const msgReport = 0x02

// Connection signal bytes (one-way signaling to host).
const (
	sigConnect    = 0x01 // Device attached
	sigDisconnect = 0x00 // Device detached
)

// maxReportSize is the largest report payload a frame can carry. It is
// far above any report the upload protocol uses; the transport does not
// care what rides in it.
const maxReportSize = 512

// headerSize is the frame header: type (1) + length (2).
const headerSize = 3

// FIFO file names inside each device subdirectory.
const (
	fifoReportOut  = "report_out"
	fifoReportIn   = "report_in"
	fifoConnection = "connection"
)

// Timing constants.
const (
	readDeadline = 100 * time.Millisecond // Per-attempt read deadline
	pollInterval = 50 * time.Millisecond  // Bus directory polling interval
)

// readWithContext reads exactly len(buf) bytes, retrying short deadline
// reads so cancellation is observed promptly.
func readWithContext(ctx context.Context, f *os.File, buf []byte, closed <-chan struct{}) (int, error) {
	total := 0
	for total < len(buf) {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-closed:
			return total, pkg.ErrClosed
		default:
		}

		f.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := f.Read(buf[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			return total, err
		}
	}
	return total, nil
}

// readFrame reads one framed report into buf and returns the payload
// length.
func readFrame(ctx context.Context, f *os.File, scratch, buf []byte, closed <-chan struct{}) (int, error) {
	header := scratch[:headerSize]
	if _, err := readWithContext(ctx, f, header, closed); err != nil {
		return 0, err
	}
	if header[0] != msgReport {
		return 0, fmt.Errorf("%w: frame type %#02x", pkg.ErrFraming, header[0])
	}
	length := int(binary.LittleEndian.Uint16(header[1:3]))
	if length > maxReportSize {
		return 0, fmt.Errorf("%w: frame length %d exceeds %d", pkg.ErrFraming, length, maxReportSize)
	}
	if length > len(buf) {
		return 0, pkg.ErrBufferTooSmall
	}
	if length == 0 {
		return 0, nil
	}
	return readWithContext(ctx, f, buf[:length], closed)
}

// writeFrame frames data into scratch and writes it whole.
func writeFrame(ctx context.Context, f *os.File, scratch, data []byte, closed <-chan struct{}) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-closed:
		return 0, pkg.ErrClosed
	default:
	}

	if len(data) > maxReportSize {
		return 0, fmt.Errorf("%w: report %d bytes exceeds frame limit %d",
			pkg.ErrFraming, len(data), maxReportSize)
	}

	scratch[0] = msgReport
	binary.LittleEndian.PutUint16(scratch[1:3], uint16(len(data)))
	copy(scratch[headerSize:], data)

	total := headerSize + len(data)
	written := 0
	for written < total {
		n, err := f.Write(scratch[written:total])
		if n > 0 {
			written += n
		}
		if err != nil {
			return 0, err
		}
	}
	return len(data), nil
}
