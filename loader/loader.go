package loader

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ardnew/softboot/boot"
	"github.com/ardnew/softboot/elf32"
	"github.com/ardnew/softboot/fallback"
	"github.com/ardnew/softboot/pkg"
	"github.com/ardnew/softboot/session"
	"github.com/ardnew/softboot/target"
	"github.com/ardnew/softboot/transport"
	"github.com/ardnew/softboot/wire"
)

// DefaultCapacity bounds the receive buffer when no capacity option is
// given.
const DefaultCapacity = 16 << 20

// statusTimeout bounds how long a status write may block. Status
// reports are best effort; a host that went away must not wedge the
// loader.
const statusTimeout = 100 * time.Millisecond

// Option configures a loader.
type Option func(*Loader)

// WithArbiter attaches a fallback arbiter. The loader disarms it on the
// first set-size report and refuses uploads once it has fired.
func WithArbiter(arb *fallback.Arbiter) Option {
	return func(l *Loader) { l.arb = arb }
}

// WithCapacity bounds the receive buffer. Uploads announcing more than
// this are rejected without allocating.
func WithCapacity(capacity uint32) Option {
	return func(l *Loader) { l.capacity = capacity }
}

// Loader serves image uploads on a transport and boots accepted images
// on a target.
type Loader struct {
	dev      transport.Device
	tgt      target.Target
	arb      *fallback.Arbiter
	sess     *session.Session
	capacity uint32

	// Fixed report buffers (zero-allocation)
	reportBuf [wire.ReportSize]byte
	statusBuf [wire.ReportSize]byte
}

// New creates a loader serving uploads from dev onto tgt.
func New(dev transport.Device, tgt target.Target, opts ...Option) *Loader {
	l := &Loader{
		dev:      dev,
		tgt:      tgt,
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.sess = session.New(l.capacity)
	return l
}

// Run serves upload reports until the context is cancelled, the
// transport fails, or an accepted image takes the device. It returns
// nil on handoff: the boot proceeds on its own goroutine and the
// caller must not touch the target afterward.
func (l *Loader) Run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentLoader, "serving uploads",
		"capacity", humanize.IBytes(uint64(l.capacity)))

	for {
		n, err := l.dev.ReadReport(ctx, l.reportBuf[:])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read report: %w", err)
		}

		cmd, err := wire.Decode(l.reportBuf[:n])
		if err != nil {
			pkg.LogWarn(pkg.ComponentLoader, "rejected report", "error", err)
			l.report(wire.Status{
				Stage:   wire.StageDecode,
				Result:  pkg.ResultOf(err),
				Message: err.Error(),
			})
			continue
		}

		switch c := cmd.(type) {
		case wire.SetSize:
			if err := l.handleSetSize(c); err != nil {
				return err
			}
		case wire.Bytes:
			l.handleBytes(c)
		case wire.Done:
			if booted := l.handleDone(); booted {
				return nil
			}
		}
	}
}

// handleSetSize opens a fresh receive session, first settling the race
// against the fallback boot.
func (l *Loader) handleSetSize(c wire.SetSize) error {
	if l.arb != nil && !l.arb.Disarm() {
		err := fmt.Errorf("%w: default image boot in progress", pkg.ErrSuperseded)
		pkg.LogWarn(pkg.ComponentLoader, "upload refused", "error", err)
		l.report(wire.Status{
			Stage:    wire.StageFallback,
			Result:   pkg.ResultSuperseded,
			Terminal: true,
			Message:  err.Error(),
		})
		return err
	}

	if err := l.sess.Begin(c.TotalSize); err != nil {
		pkg.LogWarn(pkg.ComponentLoader, "upload rejected",
			"size", humanize.IBytes(uint64(c.TotalSize)), "error", err)
		l.report(wire.Status{
			Stage:   wire.StageSession,
			Result:  pkg.ResultOf(err),
			Message: err.Error(),
		})
		return nil
	}

	pkg.LogInfo(pkg.ComponentLoader, "upload started",
		"size", humanize.IBytes(uint64(c.TotalSize)))
	return nil
}

// handleBytes stores one chunk. A rejected chunk does not end the
// session; the offsets that did land remain valid.
func (l *Loader) handleBytes(c wire.Bytes) {
	if err := l.sess.WriteChunk(c.Offset, c.Data); err != nil {
		pkg.LogWarn(pkg.ComponentLoader, "chunk rejected",
			"offset", c.Offset, "size", c.Size, "error", err)
		l.report(wire.Status{
			Stage:   wire.StageSession,
			Result:  pkg.ResultOf(err),
			Message: err.Error(),
		})
	}
}

// handleDone settles the upload attempt: parse, validate, report the
// terminal status, and on success start the boot. It returns true when
// the device is handed off.
func (l *Loader) handleDone() bool {
	img, err := l.sess.Finish()
	if err != nil {
		pkg.LogWarn(pkg.ComponentLoader, "done without an upload", "error", err)
		l.report(wire.Status{
			Stage:    wire.StageSession,
			Result:   pkg.ResultOf(err),
			Terminal: true,
			Message:  err.Error(),
		})
		return false
	}

	plan, err := elf32.Parse(img)
	if err != nil {
		pkg.LogWarn(pkg.ComponentLoader, "image rejected", "error", err)
		l.report(wire.Status{
			Stage:    wire.StageParse,
			Result:   pkg.ResultOf(err),
			Terminal: true,
			Message:  err.Error(),
		})
		return false
	}

	if err := boot.Validate(l.tgt, plan); err != nil {
		pkg.LogWarn(pkg.ComponentLoader, "load plan rejected", "error", err)
		l.report(wire.Status{
			Stage:    wire.StageValidate,
			Result:   pkg.ResultOf(err),
			Terminal: true,
			Message:  err.Error(),
		})
		return false
	}

	pkg.LogInfo(pkg.ComponentLoader, "image accepted",
		"size", humanize.IBytes(uint64(len(img))),
		"segments", len(plan.Copies),
		"entry", fmt.Sprintf("%#08x", plan.Entry))
	l.report(wire.Status{
		Stage:    wire.StageValidate,
		Result:   pkg.ResultOK,
		Terminal: true,
	})

	boot.Start(l.tgt, plan, func(err error) {
		pkg.LogError(pkg.ComponentLoader, "boot failed", "error", err)
	})
	return true
}

// report sends one status report, best effort. The write context is
// independent of Run's so the last word still goes out while the
// loader is being torn down.
func (l *Loader) report(st wire.Status) {
	rep := wire.AppendStatus(l.statusBuf[:0], st)
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()
	if _, err := l.dev.WriteReport(ctx, rep); err != nil {
		pkg.LogDebug(pkg.ComponentLoader, "status report dropped",
			"stage", st.Stage, "result", st.Result, "error", err)
	}
}
