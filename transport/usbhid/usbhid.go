//go:build cgo

// Package usbhid is the host end of the report pipe over real USB,
// via libusb. It binds to a HID interface on a device matched by
// vendor and product ID, preferring interrupt endpoints and falling
// back to control SET_REPORT when the device has no interrupt OUT.
//
// There is no device end here: on hardware the device side is the
// firmware's own HID stack.
package usbhid

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/gousb"
	"github.com/google/gousb/usbid"
	"github.com/hashicorp/go-multierror"

	"github.com/ardnew/softboot/pkg"
	"github.com/ardnew/softboot/transport"
)

// HID class request for sending an output report over the control
// endpoint.
const (
	reqSetReport     = 0x09
	reportTypeOutput = 0x02
)

// Host drives one HID device.
type Host struct {
	vid, pid gousb.ID

	mu      sync.Mutex
	usbctx  *gousb.Context
	dev     *gousb.Device
	cfg     *gousb.Config
	intf    *gousb.Interface
	intfNum int
	in      *gousb.InEndpoint
	out     *gousb.OutEndpoint
}

// Compile-time interface check
var _ transport.Host = (*Host)(nil)

// New creates a host for the device with the given vendor and product
// ID.
func New(vid, pid uint16) *Host {
	return &Host{vid: gousb.ID(vid), pid: gousb.ID(pid)}
}

// Open finds the device, claims its HID interface, and resolves the
// report endpoints.
func (h *Host) Open(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dev != nil {
		return pkg.ErrAlreadyRunning
	}

	usbctx := gousb.NewContext()
	dev, err := usbctx.OpenDeviceWithVIDPID(h.vid, h.pid)
	if err != nil {
		usbctx.Close()
		return fmt.Errorf("open %s:%s: %w", h.vid, h.pid, err)
	}
	if dev == nil {
		usbctx.Close()
		return fmt.Errorf("%w: %s:%s", pkg.ErrNoDevice, h.vid, h.pid)
	}

	if err := dev.SetAutoDetach(true); err != nil {
		pkg.LogWarn(pkg.ComponentTransport, "auto-detach unavailable", "error", err)
	}

	// Find the HID interface.
	var cn, in, an int
	found := false
	for _, cfg := range dev.Desc.Configs {
		for _, id := range cfg.Interfaces {
			for _, alt := range id.AltSettings {
				if alt.Class == gousb.ClassHID {
					cn, in, an = cfg.Number, id.Number, alt.Alternate
					found = true
				}
			}
		}
	}
	if !found {
		dev.Close()
		usbctx.Close()
		return fmt.Errorf("%w: device %s:%s has no HID interface", pkg.ErrNoDevice, h.vid, h.pid)
	}

	cfg, err := dev.Config(cn)
	if err != nil {
		dev.Close()
		usbctx.Close()
		return fmt.Errorf("claim config %d: %w", cn, err)
	}
	intf, err := cfg.Interface(in, an)
	if err != nil {
		cfg.Close()
		dev.Close()
		usbctx.Close()
		return fmt.Errorf("claim interface %d: %w", in, err)
	}

	// Resolve interrupt endpoints. IN carries status reports; OUT is
	// optional, with control SET_REPORT as the fallback.
	var inNum, outNum int
	for _, ed := range intf.Setting.Endpoints {
		if ed.TransferType != gousb.TransferTypeInterrupt {
			continue
		}
		if ed.Direction == gousb.EndpointDirectionIn {
			inNum = ed.Number
		} else {
			outNum = ed.Number
		}
	}

	h.usbctx, h.dev, h.cfg, h.intf, h.intfNum = usbctx, dev, cfg, intf, in
	if inNum != 0 {
		if h.in, err = intf.InEndpoint(inNum); err != nil {
			h.closeLocked()
			return fmt.Errorf("claim IN endpoint %d: %w", inNum, err)
		}
	}
	if outNum != 0 {
		if h.out, err = intf.OutEndpoint(outNum); err != nil {
			h.closeLocked()
			return fmt.Errorf("claim OUT endpoint %d: %w", outNum, err)
		}
	}

	pkg.LogInfo(pkg.ComponentTransport, "usb device opened",
		"vid", h.vid.String(),
		"pid", h.pid.String(),
		"device", usbid.Describe(dev.Desc),
		"interface", in,
		"interruptOut", outNum != 0)
	return nil
}

// Close releases the interface and the device.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeLocked()
}

func (h *Host) closeLocked() error {
	var result *multierror.Error
	if h.intf != nil {
		h.intf.Close()
		h.intf = nil
	}
	if h.cfg != nil {
		if err := h.cfg.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		h.cfg = nil
	}
	if h.dev != nil {
		if err := h.dev.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		h.dev = nil
	}
	if h.usbctx != nil {
		if err := h.usbctx.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		h.usbctx = nil
	}
	h.in, h.out = nil, nil
	return result.ErrorOrNil()
}

// SendReport writes one output report, over the interrupt OUT endpoint
// when the device has one and control SET_REPORT otherwise.
func (h *Host) SendReport(ctx context.Context, data []byte) (int, error) {
	h.mu.Lock()
	dev, out, intfNum := h.dev, h.out, h.intfNum
	h.mu.Unlock()

	if dev == nil {
		return 0, pkg.ErrNotRunning
	}
	if out != nil {
		return out.WriteContext(ctx, data)
	}
	return dev.Control(
		gousb.ControlOut|gousb.ControlClass|gousb.ControlInterface,
		reqSetReport, reportTypeOutput<<8, uint16(intfNum), data)
}

// ReadReport reads one input report from the interrupt IN endpoint.
func (h *Host) ReadReport(ctx context.Context, buf []byte) (int, error) {
	h.mu.Lock()
	in := h.in
	ready := h.dev != nil
	h.mu.Unlock()

	if !ready {
		return 0, pkg.ErrNotRunning
	}
	if in == nil {
		return 0, fmt.Errorf("%w: device has no interrupt IN endpoint", pkg.ErrNotSupported)
	}
	return in.ReadContext(ctx, buf)
}
