package transport

import "context"

// Device is the device end of a report pipe. The loader reads upload
// commands from it and writes status reports back.
//
// All methods are safe for concurrent use.
type Device interface {
	// Init prepares the transport. The context can be used to cancel
	// initialization.
	Init(ctx context.Context) error

	// Start attaches to the bus. After Start returns, the device is
	// visible to hosts.
	Start() error

	// Stop detaches from the bus and releases transport resources.
	Stop() error

	// ReadReport reads one host-to-device report into buf. It blocks
	// until a report arrives or the context is cancelled, and returns the
	// number of bytes read.
	ReadReport(ctx context.Context, buf []byte) (int, error)

	// WriteReport writes one device-to-host report. It blocks until the
	// report is accepted or the context is cancelled.
	WriteReport(ctx context.Context, data []byte) (int, error)

	// IsConnected returns true if a host is attached.
	IsConnected() bool

	// WaitConnect blocks until a host attaches or the context is
	// cancelled.
	WaitConnect(ctx context.Context) error
}

// Host is the host end of a report pipe. The flash client writes
// upload commands to it and reads status reports back.
type Host interface {
	// Open attaches to a device. It blocks until a device is found or
	// the context is cancelled.
	Open(ctx context.Context) error

	// Close detaches and releases transport resources.
	Close() error

	// SendReport writes one host-to-device report and returns the number
	// of bytes sent.
	SendReport(ctx context.Context, data []byte) (int, error)

	// ReadReport reads one device-to-host report into buf and returns
	// the number of bytes read.
	ReadReport(ctx context.Context, buf []byte) (int, error)
}
