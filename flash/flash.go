package flash

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ardnew/softboot/elf32"
	"github.com/ardnew/softboot/pkg"
	"github.com/ardnew/softboot/transport"
	"github.com/ardnew/softboot/wire"
)

// DefaultStatusWait bounds how long a flash waits for the device's
// verdict when no wait option is given.
const DefaultStatusWait = 2 * time.Second

// StatusError is a failure reported by the device.
type StatusError struct {
	Status wire.Status
}

func (e *StatusError) Error() string {
	if e.Status.Message != "" {
		return fmt.Sprintf("device: %s: %s", e.Status.Stage, e.Status.Message)
	}
	return fmt.Sprintf("device: %s: %s", e.Status.Stage, e.Status.Result)
}

// Unwrap maps the device's result code back onto the sentinel errors
// in [pkg], so callers can test the cause with errors.Is.
func (e *StatusError) Unwrap() error { return e.Status.Result.Err() }

// Option configures a client.
type Option func(*Client)

// WithChunkSize sets the payload bytes carried per report. Values
// outside (0, wire.MaxChunk] are ignored.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 && n <= wire.MaxChunk {
			c.chunk = n
		}
	}
}

// WithProgress registers a callback invoked as the transfer advances,
// with the bytes sent so far and the image total.
func WithProgress(fn func(sent, total int)) Option {
	return func(c *Client) { c.progress = fn }
}

// WithStatusWait bounds how long [Client.Flash] listens for the
// device's verdict after the final report. Zero returns immediately
// after the upload without reading any status.
func WithStatusWait(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.statusWait = d
		}
	}
}

// Client uploads images over an open transport.
type Client struct {
	chunk      int
	progress   func(sent, total int)
	statusWait time.Duration

	// Fixed report buffer (zero-allocation)
	buf [wire.ReportSize]byte
}

// New creates a client. The zero option set sends full-size chunks and
// waits [DefaultStatusWait] for the device's verdict.
func New(opts ...Option) *Client {
	c := &Client{
		chunk:      wire.MaxChunk,
		statusWait: DefaultStatusWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Flash uploads img and waits for the device's verdict. It returns nil
// when the device accepts the image, a [StatusError] when the device
// rejects it, and a plain error when the transfer itself fails.
func (c *Client) Flash(ctx context.Context, host transport.Host, img []byte) error {
	if uint64(len(img)) > math.MaxUint32 {
		return fmt.Errorf("%w: %s image", pkg.ErrImageTooLarge,
			humanize.IBytes(uint64(len(img))))
	}

	total := len(img)
	if _, err := host.SendReport(ctx, wire.AppendSetSize(c.buf[:0], uint32(total))); err != nil {
		return fmt.Errorf("set size: %w", err)
	}
	c.notify(0, total)

	for off := 0; off < total; off += c.chunk {
		end := off + c.chunk
		if end > total {
			end = total
		}
		rep, err := wire.AppendBytes(c.buf[:0], uint32(off), img[off:end])
		if err != nil {
			return fmt.Errorf("chunk at %#x: %w", off, err)
		}
		if _, err := host.SendReport(ctx, rep); err != nil {
			return fmt.Errorf("chunk at %#x: %w", off, err)
		}
		c.notify(end, total)
	}

	if _, err := host.SendReport(ctx, wire.AppendDone(c.buf[:0])); err != nil {
		return fmt.Errorf("finish: %w", err)
	}
	return c.await(ctx, host)
}

// FlashELF parses img before sending anything, so a malformed image is
// rejected locally instead of after the full transfer.
func (c *Client) FlashELF(ctx context.Context, host transport.Host, img []byte) error {
	if _, err := elf32.Parse(img); err != nil {
		return fmt.Errorf("image rejected: %w", err)
	}
	return c.Flash(ctx, host, img)
}

// await drains status reports until the device settles the upload or
// the wait expires. The first failure seen is the root cause even when
// later reports arrive.
func (c *Client) await(ctx context.Context, host transport.Host) error {
	if c.statusWait == 0 {
		return nil
	}
	wait, cancel := context.WithTimeout(ctx, c.statusWait)
	defer cancel()

	var first *StatusError
	for {
		n, err := host.ReadReport(wait, c.buf[:])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The wait expired or the device side of the pipe went
			// away in the handoff. Silence settles in the image's
			// favor.
			if first != nil {
				return first
			}
			return nil
		}
		st, err := wire.DecodeStatus(c.buf[:n])
		if err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		if st.Result != pkg.ResultOK && first == nil {
			first = &StatusError{Status: st}
		}
		if st.Terminal {
			if first != nil {
				return first
			}
			return nil
		}
	}
}

func (c *Client) notify(sent, total int) {
	if c.progress != nil {
		c.progress(sent, total)
	}
}
