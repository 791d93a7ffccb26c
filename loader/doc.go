// Package loader is the device-side upload service: it reads reports
// from a transport, maintains the receive session, and boots accepted
// images.
//
// # Upload lifecycle
//
// A host uploads an image as a set-size report, any number of bytes
// reports, and a done report. The loader answers problems with
// non-terminal status reports and settles every completed attempt with
// exactly one terminal status: OK just before control transfers to the
// image, or the error that rejected it. After a rejection the loader
// keeps serving, so the host can simply try again.
//
// # Fallback arbitration
//
// A loader built with an armed [fallback.Arbiter] disarms it on the
// first set-size report. If the arbiter already committed to booting
// the persisted default image, the upload is refused with a terminal
// superseded status and [Loader.Run] returns; the device belongs to
// the default image.
//
// The loader owns its report buffers and allocates only the receive
// buffer itself, sized by the set-size command.
package loader
