package atts

import (
	"bytes"
	"encoding/binary"
)

// l2capWriter helps create l2cap responses.
// It is not meant to be used with large writes.
// TODO: benchmark the number of allocs here.
// Reduce by letting WriteByteFit, WriteUint16Fit, etc.
// extend b/chunk and write into it directly.
type l2capWriter struct {
	mtu     int
	b       bytes.Buffer
	chunk   []byte
	chunked bool
}

func newL2capWriter(mtu int) *l2capWriter {
	return &l2capWriter{mtu: mtu}
}

// Chunk starts writing a new chunk. This chunk
// is not committed until Commit is called.
// Chunk panics if another chunk has already been
// started and not committed.
func (w *l2capWriter) Chunk() {
	if w.chunked {
		panic("l2capWriter: chunk called twice without committing")
	}
	w.chunked = true
	if w.chunk == nil {
		w.chunk = make([]byte, 0, w.mtu)
	}
}

// Commit writes the current chunk and reports whether the
// write succeeded. The write succeeds iff there is enough room.
// Commit panics if no chunk has been started.
func (w *l2capWriter) Commit() bool {
	if !w.chunked {
		panic("l2capWriter: commit without starting a chunk")
	}
	var success bool
	if len(w.chunk)+w.b.Len() <= w.mtu {
		success = true
		w.b.Write(w.chunk)
	}
	w.chunk = w.chunk[:0]
	w.chunked = false
	return success
}

// CommitFit writes as much of the current chunk as possible,
// truncating as needed.
// CommitFit panics if no chunk has been started.
func (w *l2capWriter) CommitFit() {
	if !w.chunked {
		panic("l2capWriter: commit without starting a chunk")
	}
	w.chunked = false
	w.WriteFit(w.chunk)
	w.chunk = w.chunk[:0]
}

// WriteByteFit writes b.
// It reports whether the write succeeded,
// using the criteria of WriteFit.
func (w *l2capWriter) WriteByteFit(b byte) bool {
	return w.WriteFit([]byte{b})
}

// WriteUint16Fit writes v using BLE (LittleEndian) encoding.
// It reports whether the write succeeded, using the
// criteria of WriteFit.
func (w *l2capWriter) WriteUint16Fit(v uint16) bool {
	b := []byte{0, 0}
	binary.LittleEndian.PutUint16(b, v)
	return w.WriteFit(b)
}

// WriteUUIDFit writes uuid using BLE (reversed) encoding.
// It reports whether the write succeeded, using the
// criteria of WriteFit.
func (w *l2capWriter) WriteUUIDFit(u UUID) bool {
	return w.WriteFit(u.b)
}

// WriteFit writes as much of b as fits.
// It reports whether the write succeeded without
// truncation. A write succeeds without truncation
// iff a chunk write is in progress or the entire
// contents were written (without exceeding the mtu).
func (w *l2capWriter) WriteFit(b []byte) bool {
	if w.chunked {
		w.chunk = append(w.chunk, b...)
		return true
	}
	avail := w.mtu - w.b.Len()
	if avail <= 0 {
		return len(b) == 0
	}
	if avail >= len(b) {
		w.b.Write(b)
		return true
	}
	w.b.Write(b[:avail])
	return false
}

// Bytes returns the written bytes.
// It will panic if a chunk has been started but not committed.
func (w *l2capWriter) Bytes() []byte {
	if w.chunked {
		panic("l2capWriter: Bytes called with uncommitted chunk")
	}
	return w.b.Bytes()
}
