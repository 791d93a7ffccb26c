// Package session manages the receive buffer for a single image upload.
//
// A [Session] owns at most one buffer at a time. The buffer is created
// by Begin, filled by bounds-checked WriteChunk calls, and handed to the
// caller by Finish, after which the session holds no reference to it.
// Chunks may arrive in any order and may overwrite earlier chunks; the
// last write to an offset wins.
//
// Session methods are not safe for concurrent use. The loader confines
// each session to its transport task.
package session
