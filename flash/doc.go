// Package flash drives an image upload from the host side of the
// report pipe.
//
// A [Client] splits an image into set-size, bytes, and done reports,
// streams them over a [transport.Host], and then listens for the
// device's verdict.
//
// # Status handling
//
// The device answers a finished upload with one terminal status
// report. A device that accepts an image hands itself to that image,
// and the terminal report can be lost in the handoff, so a quiet pipe
// after the configured wait also counts as acceptance. Rejected
// commands produce non-terminal statuses along the way; the first
// failure seen is kept as the root cause and returned as a
// [StatusError], which unwraps to the matching sentinel in [pkg] for
// errors.Is tests.
package flash
