// Package wire implements the report codec for the softboot upload
// protocol.
//
// The protocol runs over a report pipe carrying packets of at most
// [ReportSize] bytes. Byte 0 of each host-to-device report selects the
// command; the remaining bytes are command-specific, with all multi-byte
// fields little-endian:
//
//	set-size:  [0x00][total u32]                         exactly 5 bytes
//	bytes:     [0x01][offset u32][size u32][payload...]  at least 9 bytes
//	done:      [0x02]                                    trailing bytes ignored
//
// The device-to-host direction carries only status reports:
//
//	status:    [0x7F][stage][result][message...]
//
// [Decode] and [DecodeStatus] are pure: they validate lengths and
// declared sizes but never allocate or copy payload data. The Append
// functions build the matching byte layouts for the host side.
package wire
