package fifo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ardnew/softboot/pkg"
	"github.com/ardnew/softboot/transport"
)

// Host is the host end of a FIFO bus. Open scans the bus directory for
// attached devices and binds to the first one that signals a connect.
type Host struct {
	busDir string

	mu          sync.Mutex
	deviceDir   string
	reportWrite *os.File // Host writes host-to-device reports
	reportRead  *os.File // Host reads device-to-host reports
	connRead    *os.File // Host reads connection signals

	closeCh   chan struct{}
	closeOnce sync.Once

	// Internal buffers (zero-allocation)
	txBuf [maxReportSize + headerSize]byte
	rxBuf [maxReportSize + headerSize]byte
}

// Compile-time interface check
var _ transport.Host = (*Host)(nil)

// NewHost creates a host end for the given bus directory.
func NewHost(busDir string) *Host {
	return &Host{
		busDir:  busDir,
		closeCh: make(chan struct{}),
	}
}

// Open blocks until a device on the bus signals a connect, then opens
// its report pipes.
func (h *Host) Open(ctx context.Context) error {
	h.mu.Lock()
	attached := h.reportWrite != nil
	h.mu.Unlock()
	if attached {
		return pkg.ErrAlreadyRunning
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if dir := h.findDeviceDir(); dir != "" {
			err := h.attach(ctx, dir)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			pkg.LogDebug(pkg.ComponentTransport, "attach failed, rescanning bus",
				"deviceDir", dir, "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.closeCh:
			return pkg.ErrClosed
		case <-ticker.C:
		}
	}
}

// findDeviceDir returns the first device subdirectory whose connection
// FIFO exists, or "".
func (h *Host) findDeviceDir() string {
	entries, err := os.ReadDir(h.busDir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "device-") {
			continue
		}
		dir := filepath.Join(h.busDir, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, fifoConnection)); err == nil {
			return dir
		}
	}
	return ""
}

// attach waits for the device's connect signal, then opens its report
// pipes. The connect byte persists in the FIFO until read because the
// device holds both ends open, so a host arriving late still sees it.
func (h *Host) attach(ctx context.Context, dir string) error {
	conn, err := os.OpenFile(filepath.Join(dir, fifoConnection), os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		return err
	}

	var sig [1]byte
	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return ctx.Err()
		case <-h.closeCh:
			conn.Close()
			return pkg.ErrClosed
		default:
		}

		conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, err := conn.Read(sig[:])
		if err != nil {
			if os.IsTimeout(err) {
				// The device may have detached while we waited.
				if _, err := os.Stat(dir); err != nil {
					conn.Close()
					return pkg.ErrNoDevice
				}
				continue
			}
			conn.Close()
			return err
		}
		if n == 1 && sig[0] == sigConnect {
			break
		}
	}

	w, err := os.OpenFile(filepath.Join(dir, fifoReportOut), os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		conn.Close()
		return err
	}
	r, err := os.OpenFile(filepath.Join(dir, fifoReportIn), os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		w.Close()
		conn.Close()
		return err
	}

	h.mu.Lock()
	h.deviceDir = dir
	h.connRead = conn
	h.reportWrite = w
	h.reportRead = r
	h.mu.Unlock()

	pkg.LogInfo(pkg.ComponentTransport, "fifo host attached", "deviceDir", dir)
	return nil
}

// Close releases the report pipes. The device subdirectory belongs to
// the device and is left alone.
func (h *Host) Close() error {
	h.closeOnce.Do(func() { close(h.closeCh) })

	h.mu.Lock()
	defer h.mu.Unlock()

	var result *multierror.Error
	for _, f := range []**os.File{&h.reportRead, &h.reportWrite, &h.connRead} {
		if *f != nil {
			if err := (*f).Close(); err != nil {
				result = multierror.Append(result, err)
			}
			*f = nil
		}
	}
	pkg.LogInfo(pkg.ComponentTransport, "fifo host closed")
	return result.ErrorOrNil()
}

// SendReport writes one host-to-device report.
func (h *Host) SendReport(ctx context.Context, data []byte) (int, error) {
	h.mu.Lock()
	f := h.reportWrite
	h.mu.Unlock()
	if f == nil {
		return 0, pkg.ErrNotRunning
	}
	return writeFrame(ctx, f, h.txBuf[:], data, h.closeCh)
}

// ReadReport reads one device-to-host report into buf.
func (h *Host) ReadReport(ctx context.Context, buf []byte) (int, error) {
	h.mu.Lock()
	f := h.reportRead
	h.mu.Unlock()
	if f == nil {
		return 0, pkg.ErrNotRunning
	}
	return readFrame(ctx, f, h.rxBuf[:], buf, h.closeCh)
}
