// Package fifo emulates a report bus with named pipes, so a loader and
// a flash client can talk on one machine without hardware.
//
// # Bus layout
//
// A bus is a shared directory. Each device creates its own
// subdirectory, enabling hot-plug and multiple devices:
//
//	<busDir>/
//	    device-<uuid>/
//	        report_out   host-to-device reports (host writes, device reads)
//	        report_in    device-to-host reports (device writes, host reads)
//	        connection   connect/disconnect signaling (device writes)
//
// The device creates its FIFOs during Init and removes the whole
// subdirectory on Stop. The host polls the bus directory for device
// subdirectories and waits for a connect signal before opening the
// report pipes.
//
// # Framing
//
// FIFOs preserve bytes, not message boundaries, so each report travels
// in a frame:
//
//	[type (1)] [length u16 LE (2)] [payload...]
//
// The only frame type is a report. The connection FIFO carries single
// signal bytes instead: 0x01 connect, 0x00 disconnect.
//
// All FIFOs are opened with O_NONBLOCK and read under short deadlines,
// which keeps every blocking call cancellable by context.
package fifo
