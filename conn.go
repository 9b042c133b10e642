package atts

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// A Conn is a connected central.
type Conn interface {
	// LocalAddr returns the address of the local device (peripheral).
	LocalAddr() BDAddr

	// RemoteAddr returns the address of the connected device (central).
	RemoteAddr() BDAddr

	// Close disconnects the connection.
	Close() error

	// RSSI returns the last RSSI measurement, or -1 if there have not been any.
	RSSI() int

	// MTU returns the current connection mtu.
	MTU() int

	// CCC returns the client characteristic configuration the central
	// set for the characteristic whose value lives at valueHandle.
	CCC(valueHandle uint16) uint16

	// Notify sends v as a notification of value handle h.
	Notify(h uint16, v []byte) error

	// Indicate sends v as an indication of value handle h and
	// waits for the central to confirm it.
	Indicate(ctx context.Context, h uint16, v []byte) error
}

type security int

const (
	securityLow security = iota
	securityMed
	securityHigh
)

type conn struct {
	srv    *Server
	l2c    io.ReadWriteCloser
	remote BDAddr
	log    logrus.FieldLogger

	mu       sync.RWMutex
	mtu      int
	rssi     int
	security security
	cccs     map[uint16]uint16 // keyed by descriptor handle

	sendmu sync.Mutex // serializes writes to l2c
	indmu  sync.Mutex // one outstanding indication
	cnfc   chan struct{}
	// closed is closed once loop returns.
	closed chan struct{}
}

func (s *Server) newConn(l2c io.ReadWriteCloser, remote BDAddr) *conn {
	return &conn{
		srv:    s,
		l2c:    l2c,
		remote: remote,
		log:    s.log.WithField("remote", remote.String()),
		mtu:    defaultMTU,
		rssi:   -1,
		cccs:   make(map[uint16]uint16),
		cnfc:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

func (c *conn) LocalAddr() BDAddr {
	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	return c.srv.addr
}

func (c *conn) RemoteAddr() BDAddr { return c.remote }
func (c *conn) Close() error       { return c.l2c.Close() }

func (c *conn) RSSI() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rssi
}

func (c *conn) MTU() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mtu
}

func (c *conn) setRSSI(rssi int) {
	c.mu.Lock()
	c.rssi = rssi
	c.mu.Unlock()
}

func (c *conn) setSecurity(sec security) {
	c.mu.Lock()
	c.security = sec
	c.mu.Unlock()
}

func (c *conn) secure() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.security > securityLow
}

func (c *conn) CCC(valueHandle uint16) uint16 {
	c.srv.mu.RLock()
	b := c.srv.db.cccFor(valueHandle)
	c.srv.mu.RUnlock()
	if b == nil {
		return 0
	}
	return c.ccc(b.handle)
}

// ccc returns the value of CCC descriptor h.
func (c *conn) ccc(h uint16) uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cccs[h]
}

// forgetCCCs drops the configuration held for descriptors in g.
func (c *conn) forgetCCCs(g *Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for h := range c.cccs {
		if g.contains(h) {
			delete(c.cccs, h)
		}
	}
}

func (c *conn) loop(ctx context.Context) error {
	defer close(c.closed)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		c.l2c.Close()
	}()

	b := make([]byte, maxMTU)
	for {
		n, err := c.l2c.Read(b)
		if err == io.EOF || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read att pdu")
		}
		if n == 0 {
			continue
		}
		if rsp := c.handleReq(b[:n]); rsp != nil {
			if err := c.send(rsp); err != nil {
				return err
			}
		}
	}
}

func (c *conn) send(b []byte) error {
	c.sendmu.Lock()
	defer c.sendmu.Unlock()
	_, err := c.l2c.Write(b)
	return errors.Wrap(err, "write att pdu")
}

// handleReq dispatches a raw l2cap request.
// It returns the response to send, or nil.
func (c *conn) handleReq(b []byte) []byte {
	op := b[0]
	if n, ok := minReqLen[op]; ok && len(b) < n {
		if op&0x40 != 0 {
			return nil
		}
		return attErrorResp(op, 0x0000, ErrInvalidPDU)
	}
	switch op {
	case attOpMtuReq:
		return c.handleMTU(b)
	case attOpFindInfoReq:
		start, end := readHandleRange(b[1:])
		return c.handleFindInfo(start, end)
	case attOpFindByTypeReq:
		start, end := readHandleRange(b[1:])
		return c.handleFindByType(start, end, UUID{b[5:7]}, b[7:])
	case attOpReadByTypeReq:
		start, end := readHandleRange(b[1:])
		u, err := uuidFromBytes(b[5:])
		if err != nil {
			return attErrorResp(op, start, ErrInvalidPDU)
		}
		return c.handleReadByType(start, end, u)
	case attOpReadReq, attOpReadBlobReq:
		h := binary.LittleEndian.Uint16(b[1:])
		offset := 0
		if op == attOpReadBlobReq {
			offset = int(binary.LittleEndian.Uint16(b[3:]))
		}
		return c.handleRead(op, h, offset)
	case attOpReadByGroupReq:
		start, end := readHandleRange(b[1:])
		u, err := uuidFromBytes(b[5:])
		if err != nil {
			return attErrorResp(op, start, ErrInvalidPDU)
		}
		return c.handleReadByGroup(start, end, u)
	case attOpWriteReq, attOpWriteCmd:
		h := binary.LittleEndian.Uint16(b[1:])
		return c.handleWrite(op, h, b[3:])
	case attOpHandleCnf:
		select {
		case c.cnfc <- struct{}{}:
		default:
			c.log.Debug("unexpected handle value confirmation")
		}
		return nil
	}
	// Commands never get a response, supported or not.
	if _, isReq := attRespFor[op]; !isReq && op&0x40 != 0 {
		return nil
	}
	return attErrorResp(op, 0x0000, ErrReqNotSupp)
}

func readHandleRange(b []byte) (start, end uint16) {
	return binary.LittleEndian.Uint16(b), binary.LittleEndian.Uint16(b[2:])
}

func (c *conn) handleMTU(b []byte) []byte {
	mtu := int(binary.LittleEndian.Uint16(b[1:]))
	if mtu < defaultMTU {
		mtu = defaultMTU
	}
	if mtu > c.srv.maxMTU {
		mtu = c.srv.maxMTU
	}
	c.mu.Lock()
	c.mtu = mtu
	c.mu.Unlock()
	return []byte{attOpMtuResp, byte(mtu), byte(mtu >> 8)}
}

func (c *conn) handleFindInfo(start, end uint16) []byte {
	if start == 0 || start > end {
		return attErrorResp(attOpFindInfoReq, start, ErrInvalidHandle)
	}
	w := newL2capWriter(c.MTU())
	w.WriteByteFit(attOpFindInfoResp)

	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	ulen := 0
	for _, e := range c.srv.db.Subrange(start, end) {
		u := e.attr.UUID
		if ulen == 0 {
			ulen = u.Len()
			format := byte(0x01)
			if ulen == 16 {
				format = 0x02
			}
			w.WriteByteFit(format)
		}
		if u.Len() != ulen {
			break
		}
		w.Chunk()
		w.WriteUint16Fit(e.h)
		w.WriteUUIDFit(u)
		if ok := w.Commit(); !ok {
			break
		}
	}
	if ulen == 0 {
		return attErrorResp(attOpFindInfoReq, start, ErrAttrNotFound)
	}
	return w.Bytes()
}

func (c *conn) handleFindByType(start, end uint16, typ UUID, value []byte) []byte {
	if start == 0 || start > end {
		return attErrorResp(attOpFindByTypeReq, start, ErrInvalidHandle)
	}
	if !typ.Equal(PrimaryServiceUUID) {
		return attErrorResp(attOpFindByTypeReq, start, ErrAttrNotFound)
	}
	w := newL2capWriter(c.MTU())
	w.WriteByteFit(attOpFindByTypeResp)

	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	found := false
	for _, e := range c.srv.db.Subrange(start, end) {
		svc := UUID{e.attr.Value}
		if !e.isPrimaryService() || !svc.Equal(UUID{value}) {
			continue
		}
		w.Chunk()
		w.WriteUint16Fit(e.h)
		w.WriteUint16Fit(c.srv.db.serviceEnd(e.h))
		if ok := w.Commit(); !ok {
			break
		}
		found = true
	}
	if !found {
		return attErrorResp(attOpFindByTypeReq, start, ErrAttrNotFound)
	}
	return w.Bytes()
}

func (c *conn) handleReadByType(start, end uint16, typ UUID) []byte {
	if start == 0 || start > end {
		return attErrorResp(attOpReadByTypeReq, start, ErrInvalidHandle)
	}
	c.srv.mu.RLock()
	var ee []entry
	for _, e := range c.srv.db.Subrange(start, end) {
		if e.attr.UUID.Equal(typ) {
			ee = append(ee, e)
		}
	}
	c.srv.mu.RUnlock()

	w := newL2capWriter(c.MTU())
	w.WriteByteFit(attOpReadByTypeResp)
	dlen := 0
	for i, e := range ee {
		if st := c.checkRead(e); st != ErrSuccess {
			if i == 0 {
				return attErrorResp(attOpReadByTypeReq, e.h, st)
			}
			break
		}
		v, st := c.readValue(e, attOpReadByTypeReq, 0)
		if st != ErrSuccess {
			if i == 0 {
				return attErrorResp(attOpReadByTypeReq, e.h, st)
			}
			break
		}
		if dlen == 0 {
			// All entries must share one length, which must fit one byte
			// and one PDU alongside the opcode and length byte.
			dlen = min(2+len(v), 255, w.mtu-2)
			w.WriteByteFit(byte(dlen))
		} else if 2+len(v) != dlen {
			break
		}
		w.Chunk()
		w.WriteUint16Fit(e.h)
		w.WriteFit(v[:dlen-2])
		if ok := w.Commit(); !ok {
			break
		}
	}
	if dlen == 0 {
		return attErrorResp(attOpReadByTypeReq, start, ErrAttrNotFound)
	}
	return w.Bytes()
}

func (c *conn) handleRead(op byte, h uint16, offset int) []byte {
	c.srv.mu.RLock()
	e, ok := c.srv.db.At(h)
	c.srv.mu.RUnlock()
	if !ok {
		return attErrorResp(op, h, ErrInvalidHandle)
	}
	if st := c.checkRead(e); st != ErrSuccess {
		return attErrorResp(op, h, st)
	}
	v, st := c.readValue(e, op, offset)
	if st != ErrSuccess {
		return attErrorResp(op, h, st)
	}
	if offset > len(v) {
		return attErrorResp(op, h, ErrInvalidOffset)
	}

	w := newL2capWriter(c.MTU())
	w.WriteByteFit(attRespFor[op])
	w.Chunk()
	w.WriteFit(v[offset:])
	w.CommitFit()
	return w.Bytes()
}

func (c *conn) handleReadByGroup(start, end uint16, typ UUID) []byte {
	if start == 0 || start > end {
		return attErrorResp(attOpReadByGroupReq, start, ErrInvalidHandle)
	}
	if !typ.Equal(PrimaryServiceUUID) {
		return attErrorResp(attOpReadByGroupReq, start, ErrUnsuppGrpType)
	}
	w := newL2capWriter(c.MTU())
	w.WriteByteFit(attOpReadByGroupResp)

	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	dlen := 0
	for _, e := range c.srv.db.Subrange(start, end) {
		if !e.isPrimaryService() {
			continue
		}
		v := e.attr.Value
		if dlen == 0 {
			dlen = 4 + len(v)
			w.WriteByteFit(byte(dlen))
		} else if 4+len(v) != dlen {
			break
		}
		w.Chunk()
		w.WriteUint16Fit(e.h)
		w.WriteUint16Fit(c.srv.db.serviceEnd(e.h))
		w.WriteFit(v)
		if ok := w.Commit(); !ok {
			break
		}
	}
	if dlen == 0 {
		return attErrorResp(attOpReadByGroupReq, start, ErrAttrNotFound)
	}
	return w.Bytes()
}

func (c *conn) checkRead(e entry) Error {
	if !e.attr.readable() {
		return ErrReadNotPerm
	}
	if e.attr.secureRead() && !c.secure() {
		return ErrAuthentication
	}
	return ErrSuccess
}

// readValue returns the value of e as seen by this connection.
func (c *conn) readValue(e entry, op byte, offset int) ([]byte, Error) {
	if e.attr.Settings&SetCCC != 0 {
		v := make([]byte, 2)
		binary.LittleEndian.PutUint16(v, c.ccc(e.h))
		return v, ErrSuccess
	}
	if e.attr.Settings&SetReadCback != 0 && e.g.ReadHandler != nil {
		resp := newReadResponseWriter(e.attr.MaxLen)
		req := &ReadRequest{
			Request: Request{Conn: c, Attr: e.attr, Handle: e.h, Opcode: op, Offset: offset},
			Cap:     e.attr.MaxLen,
		}
		e.g.ReadHandler.ServeRead(resp, req)
		if resp.status != StatusSuccess {
			return nil, Error(resp.status)
		}
		v := resp.bytes()
		c.srv.mu.Lock()
		e.attr.Value = append(e.attr.Value[:0], v...)
		c.srv.mu.Unlock()
		return v, ErrSuccess
	}
	c.srv.mu.RLock()
	defer c.srv.mu.RUnlock()
	return append([]byte(nil), e.attr.Value...), ErrSuccess
}

func (c *conn) handleWrite(op byte, h uint16, value []byte) []byte {
	resp := func(st Error) []byte {
		if op == attOpWriteCmd {
			if st != ErrSuccess {
				c.log.WithField("handle", h).WithError(st).Debug("write command rejected")
			}
			return nil
		}
		if st != ErrSuccess {
			return attErrorResp(op, h, st)
		}
		return []byte{attOpWriteResp}
	}

	c.srv.mu.RLock()
	e, ok := c.srv.db.At(h)
	c.srv.mu.RUnlock()
	if !ok {
		return resp(ErrInvalidHandle)
	}
	if !e.attr.writable() {
		return resp(ErrWriteNotPerm)
	}
	if e.attr.secureWrite() && !c.secure() {
		return resp(ErrAuthentication)
	}
	if e.attr.Settings&SetCCC != 0 {
		return resp(c.writeCCC(e, value))
	}
	if st := e.attr.checkLen(len(value)); st != ErrSuccess {
		return resp(st)
	}
	if e.attr.Settings&SetWriteCback != 0 && e.g.WriteHandler != nil {
		r := Request{Conn: c, Attr: e.attr, Handle: h, Opcode: op}
		data := append([]byte(nil), value...)
		return resp(Error(e.g.WriteHandler.ServeWrite(r, data)))
	}
	c.srv.mu.Lock()
	e.attr.store(value)
	c.srv.mu.Unlock()
	return resp(ErrSuccess)
}

func (c *conn) writeCCC(e entry, value []byte) Error {
	if len(value) != 2 {
		return ErrInvalAttrValueLen
	}
	c.srv.mu.RLock()
	b := c.srv.db.cccs[e.h]
	c.srv.mu.RUnlock()
	if b == nil {
		return ErrUnlikely
	}
	v := binary.LittleEndian.Uint16(value)
	if v&^b.allowed() != 0 {
		return ErrCCCImproperlyConfigured
	}

	c.mu.Lock()
	old := c.cccs[e.h]
	c.cccs[e.h] = v
	c.mu.Unlock()

	if old != v {
		c.log.WithFields(logrus.Fields{
			"handle": b.valueHandle,
			"ccc":    v,
		}).Debug("client characteristic configuration changed")
		if c.srv.cccChange != nil {
			c.srv.cccChange(c, b.valueHandle, v)
		}
	}
	return ErrSuccess
}

func (c *conn) Notify(h uint16, v []byte) error {
	if c.CCC(h)&CCCNotify == 0 {
		return ErrNotifyDisabled
	}
	return c.send(c.valuePDU(attOpHandleNotify, h, v))
}

func (c *conn) Indicate(ctx context.Context, h uint16, v []byte) error {
	if c.CCC(h)&CCCIndicate == 0 {
		return ErrIndicationDisabled
	}
	c.indmu.Lock()
	defer c.indmu.Unlock()

	// Drop a stale confirmation left over from a timed out indication.
	select {
	case <-c.cnfc:
	default:
	}
	if err := c.send(c.valuePDU(attOpHandleInd, h, v)); err != nil {
		return err
	}
	t := time.NewTimer(c.srv.indTimeout)
	defer t.Stop()
	select {
	case <-c.cnfc:
		return nil
	case <-t.C:
		return ErrIndicationTimeout
	case <-c.closed:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// valuePDU builds a handle value notification or indication,
// truncating v to the connection MTU.
func (c *conn) valuePDU(op byte, h uint16, v []byte) []byte {
	w := newL2capWriter(c.MTU())
	w.WriteByteFit(op)
	w.WriteUint16Fit(h)
	w.Chunk()
	w.WriteFit(v)
	w.CommitFit()
	return w.Bytes()
}
