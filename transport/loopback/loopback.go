// Package loopback is an in-process report pipe. Tests wire a loader
// directly to a flash client with it, no bus involved.
package loopback

import (
	"context"
	"sync"

	"github.com/ardnew/softboot/pkg"
	"github.com/ardnew/softboot/transport"
)

// queueDepth is how many reports each direction buffers before writers
// block.
const queueDepth = 8

// New creates a connected device/host pair. Closing either end tears
// down the pipe for both.
func New() (*Device, *Host) {
	b := &bus{
		toDevice: make(chan []byte, queueDepth),
		toHost:   make(chan []byte, queueDepth),
		devUp:    make(chan struct{}),
		hostUp:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	return &Device{bus: b}, &Host{bus: b}
}

type bus struct {
	toDevice chan []byte
	toHost   chan []byte

	devUp  chan struct{} // closed when the device starts
	hostUp chan struct{} // closed when the host opens
	done   chan struct{} // closed on first Stop or Close

	devOnce   sync.Once
	hostOnce  sync.Once
	closeOnce sync.Once
}

func (b *bus) close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *bus) send(ctx context.Context, ch chan []byte, data []byte) (int, error) {
	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case ch <- buf:
		return len(data), nil
	case <-b.done:
		return 0, pkg.ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (b *bus) recv(ctx context.Context, ch chan []byte, buf []byte) (int, error) {
	select {
	case rep := <-ch:
		if len(rep) > len(buf) {
			return 0, pkg.ErrBufferTooSmall
		}
		return copy(buf, rep), nil
	case <-b.done:
		return 0, pkg.ErrClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Device is the loader end of the pipe.
type Device struct {
	bus *bus
}

// Compile-time interface check
var _ transport.Device = (*Device)(nil)

// Init is a no-op; the pipe needs no preparation.
func (d *Device) Init(ctx context.Context) error { return nil }

// Start makes the device visible to the host end.
func (d *Device) Start() error {
	d.bus.devOnce.Do(func() { close(d.bus.devUp) })
	return nil
}

// Stop tears down the pipe for both ends.
func (d *Device) Stop() error {
	d.bus.close()
	return nil
}

// ReadReport reads one host-to-device report.
func (d *Device) ReadReport(ctx context.Context, buf []byte) (int, error) {
	return d.bus.recv(ctx, d.bus.toDevice, buf)
}

// WriteReport queues one device-to-host report.
func (d *Device) WriteReport(ctx context.Context, data []byte) (int, error) {
	return d.bus.send(ctx, d.bus.toHost, data)
}

// IsConnected returns true once the host has opened the pipe.
func (d *Device) IsConnected() bool {
	select {
	case <-d.bus.done:
		return false
	default:
	}
	select {
	case <-d.bus.hostUp:
		return true
	default:
		return false
	}
}

// WaitConnect blocks until the host opens the pipe.
func (d *Device) WaitConnect(ctx context.Context) error {
	select {
	case <-d.bus.hostUp:
		return nil
	case <-d.bus.done:
		return pkg.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Host is the flash client end of the pipe.
type Host struct {
	bus *bus
}

// Compile-time interface check
var _ transport.Host = (*Host)(nil)

// Open attaches to the device end, blocking until it has started.
func (h *Host) Open(ctx context.Context) error {
	h.bus.hostOnce.Do(func() { close(h.bus.hostUp) })
	select {
	case <-h.bus.devUp:
		return nil
	case <-h.bus.done:
		return pkg.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the pipe for both ends.
func (h *Host) Close() error {
	h.bus.close()
	return nil
}

// SendReport queues one host-to-device report.
func (h *Host) SendReport(ctx context.Context, data []byte) (int, error) {
	return h.bus.send(ctx, h.bus.toDevice, data)
}

// ReadReport reads one device-to-host report.
func (h *Host) ReadReport(ctx context.Context, buf []byte) (int, error) {
	return h.bus.recv(ctx, h.bus.toHost, buf)
}
