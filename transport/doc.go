// Package transport defines how upload reports move between the host
// and the device.
//
// The loader speaks through [Device] and the flash client through
// [Host]; neither knows what the pipe is made of. Three
// implementations ship with this module:
//
//   - loopback: an in-process channel pair for tests
//   - fifo: named pipes on a shared filesystem, emulating a bus for
//     development without hardware
//   - usbhid: a real USB HID device, host side only, via libusb
//
// Reports are opaque byte slices here; their layout belongs to package
// wire.
package transport
