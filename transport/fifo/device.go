package fifo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/ardnew/softboot/pkg"
	"github.com/ardnew/softboot/transport"
)

// Device is the device end of a FIFO bus. Each instance claims its own
// subdirectory under the bus directory, so several devices can share a
// bus.
type Device struct {
	busDir    string
	deviceDir string
	id        string

	reportRead  *os.File // Device reads host-to-device reports
	reportWrite *os.File // Device writes device-to-host reports
	connWrite   *os.File // Device signals connection status

	connected atomic.Bool

	mu        sync.Mutex
	initDone  bool
	connectCh chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once

	// Internal buffers (zero-allocation)
	readBuf  [maxReportSize + headerSize]byte
	writeBuf [maxReportSize + headerSize]byte
}

// Compile-time interface check
var _ transport.Device = (*Device)(nil)

// NewDevice creates a device end for the given bus directory. The
// directory is created on Init if it does not exist.
func NewDevice(busDir string) *Device {
	return &Device{
		busDir:    busDir,
		connectCh: make(chan struct{}),
		closeCh:   make(chan struct{}),
	}
}

// Init creates the device subdirectory and its FIFOs, and opens them
// non-blocking so neither end can deadlock the other during setup.
func (d *Device) Init(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initDone {
		return pkg.ErrAlreadyRunning
	}

	d.id = uuid.NewString()
	d.deviceDir = filepath.Join(d.busDir, "device-"+d.id)

	if err := os.MkdirAll(d.busDir, 0o755); err != nil {
		return fmt.Errorf("create bus dir: %w", err)
	}
	if err := os.MkdirAll(d.deviceDir, 0o755); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}

	for _, name := range []string{fifoReportOut, fifoReportIn, fifoConnection} {
		if err := d.createFIFO(name); err != nil {
			d.cleanup()
			return err
		}
	}

	var err error
	if d.connWrite, err = d.openFIFO(fifoConnection); err != nil {
		d.cleanup()
		return err
	}
	if d.reportWrite, err = d.openFIFO(fifoReportIn); err != nil {
		d.cleanup()
		return err
	}
	if d.reportRead, err = d.openFIFO(fifoReportOut); err != nil {
		d.cleanup()
		return err
	}

	d.initDone = true
	pkg.LogInfo(pkg.ComponentTransport, "fifo device initialized",
		"busDir", d.busDir,
		"deviceDir", d.deviceDir)
	return nil
}

// Start signals the bus that the device is attached.
func (d *Device) Start() error {
	d.mu.Lock()
	if !d.initDone {
		d.mu.Unlock()
		return pkg.ErrNotInitialized
	}
	d.mu.Unlock()

	if _, err := d.connWrite.Write([]byte{sigConnect}); err != nil {
		pkg.LogWarn(pkg.ComponentTransport, "failed to signal connection", "error", err)
	}

	if d.connected.CompareAndSwap(false, true) {
		close(d.connectCh)
	}
	pkg.LogInfo(pkg.ComponentTransport, "fifo device started")
	return nil
}

// Stop signals detach, closes the FIFOs, and removes the device
// subdirectory.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connWrite != nil {
		d.connWrite.Write([]byte{sigDisconnect})
	}
	d.connected.Store(false)

	d.closeOnce.Do(func() { close(d.closeCh) })

	err := d.cleanup()
	d.initDone = false
	pkg.LogInfo(pkg.ComponentTransport, "fifo device stopped")
	return err
}

// cleanup closes all FIFOs and removes the device directory, collecting
// every failure.
func (d *Device) cleanup() error {
	var result *multierror.Error
	for _, f := range []**os.File{&d.reportRead, &d.reportWrite, &d.connWrite} {
		if *f != nil {
			if err := (*f).Close(); err != nil {
				result = multierror.Append(result, err)
			}
			*f = nil
		}
	}
	if d.deviceDir != "" {
		if err := os.RemoveAll(d.deviceDir); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// ReadReport reads one host-to-device report into buf.
func (d *Device) ReadReport(ctx context.Context, buf []byte) (int, error) {
	d.mu.Lock()
	f := d.reportRead
	d.mu.Unlock()
	if f == nil {
		return 0, pkg.ErrNotInitialized
	}
	return readFrame(ctx, f, d.readBuf[:], buf, d.closeCh)
}

// WriteReport writes one device-to-host report.
func (d *Device) WriteReport(ctx context.Context, data []byte) (int, error) {
	d.mu.Lock()
	f := d.reportWrite
	d.mu.Unlock()
	if f == nil {
		return 0, pkg.ErrNotInitialized
	}
	return writeFrame(ctx, f, d.writeBuf[:], data, d.closeCh)
}

// IsConnected returns true once the device has attached to the bus.
// The FIFO bus has no enumeration, so attachment is the device's own
// Start; it does not prove a host is listening.
func (d *Device) IsConnected() bool {
	return d.connected.Load()
}

// WaitConnect blocks until the device attaches to the bus.
func (d *Device) WaitConnect(ctx context.Context) error {
	select {
	case <-d.connectCh:
		return nil
	case <-d.closeCh:
		return pkg.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DeviceDir returns the device subdirectory path, useful in tests.
func (d *Device) DeviceDir() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceDir
}

// createFIFO creates a named pipe inside the device subdirectory.
func (d *Device) createFIFO(name string) error {
	path := filepath.Join(d.deviceDir, name)
	os.Remove(path)
	if err := syscall.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	return nil
}

// openFIFO opens a named pipe read-write and non-blocking: the device
// itself keeps both ends alive, so host opens never block and reads
// never hit EOF when the host detaches.
func (d *Device) openFIFO(name string) (*os.File, error) {
	path := filepath.Join(d.deviceDir, name)
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}
