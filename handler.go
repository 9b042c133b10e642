package atts

import "github.com/pkg/errors"

// A Request describes the access a central is making.
type Request struct {
	Conn   Conn
	Attr   *Attr
	Handle uint16
	Opcode byte // ATT opcode that triggered the call
	Offset int  // read offset; writes always start at 0
}

// A ReadRequest is passed to a ReadHandler.
type ReadRequest struct {
	Request
	Cap int // the attribute's MaxLen
}

// ReadResponseWriter receives the value produced by a ReadHandler.
type ReadResponseWriter interface {
	// Write appends to the value. It fails once the value would
	// exceed the request's Cap.
	Write([]byte) (int, error)
	// SetStatus fails the read with one of the Status* codes.
	SetStatus(byte)
}

// A ReadHandler serves reads of attributes with SetReadCback. It
// writes the whole value; the server applies the request offset and
// stores the value as the attribute's current value.
type ReadHandler interface {
	ServeRead(resp ReadResponseWriter, req *ReadRequest)
}

// ReadHandlerFunc lets an ordinary function serve as a ReadHandler.
type ReadHandlerFunc func(resp ReadResponseWriter, req *ReadRequest)

func (f ReadHandlerFunc) ServeRead(resp ReadResponseWriter, req *ReadRequest) { f(resp, req) }

// A WriteHandler serves writes to attributes with SetWriteCback and
// returns a Status* code. Write requests and write commands look the
// same to the handler; the server answers requests only.
// The server does not store the written value.
type WriteHandler interface {
	ServeWrite(r Request, data []byte) (status byte)
}

// WriteHandlerFunc lets an ordinary function serve as a WriteHandler.
type WriteHandlerFunc func(r Request, data []byte) byte

func (f WriteHandlerFunc) ServeWrite(r Request, data []byte) byte { return f(r, data) }

type readResponseWriter struct {
	value  []byte
	limit  int
	status byte
}

func newReadResponseWriter(limit int) *readResponseWriter {
	return &readResponseWriter{limit: limit, status: StatusSuccess}
}

func (w *readResponseWriter) Write(b []byte) (int, error) {
	if len(w.value)+len(b) > w.limit {
		return 0, errors.Errorf("read value of %d bytes exceeds %d", len(w.value)+len(b), w.limit)
	}
	w.value = append(w.value, b...)
	return len(b), nil
}

func (w *readResponseWriter) SetStatus(status byte) { w.status = status }
func (w *readResponseWriter) bytes() []byte         { return w.value }
