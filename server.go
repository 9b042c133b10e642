package atts

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Handles of the groups every server carries.
const (
	gapStart  = 0x0001
	gattStart = 0x0006
	// FirstFreeHandle is the lowest handle not used by the built-in
	// GAP and GATT services.
	FirstFreeHandle = 0x000A
)

// Server errors.
var (
	ErrNotConnected       = errors.New("not connected")
	ErrIndicationTimeout  = errors.New("indication not confirmed")
	ErrIndicationDisabled = errors.New("central has not enabled indications")
	ErrNotifyDisabled     = errors.New("central has not enabled notifications")
)

// A Server is an attribute server. Attribute groups may be added and
// removed at any time; connected centrals are told about the change
// through the Service Changed characteristic.
type Server struct {
	name        string
	log         logrus.FieldLogger
	connect     func(c Conn)
	disconnect  func(c Conn)
	receiveRSSI func(c Conn, rssi int)
	cccChange   func(c Conn, valueHandle uint16, ccc uint16)
	stateChange func(newState string)
	maxMTU      int
	indTimeout  time.Duration

	advertisingPacket  []byte
	scanResponsePacket []byte

	mu    sync.RWMutex
	db    *db
	conns map[*conn]struct{}
	addr  BDAddr
	hci   *hci
}

// NewServer creates a Server with the specified options.
// See also Server.Option.
// See http://dave.cheney.net/2014/10/17/functional-options-for-friendly-apis for more discussion.
func NewServer(opts ...Option) *Server {
	s := &Server{
		log:        logrus.StandardLogger(),
		maxMTU:     maxMTU,
		indTimeout: 30 * time.Second,
		db:         newDB(),
		conns:      make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, g := range defaultGroups(s.name) {
		if err := s.db.add(g); err != nil {
			panic(err)
		}
	}
	return s
}

func defaultGroups(name string) []*Group {
	gap := &Group{
		Attrs: []*Attr{
			NewAttr(PrimaryServiceUUID, attrGAPUUID.b, PermitRead, 0),
			NewAttr(CharacteristicUUID, CharacteristicDecl(CharRead, gapStart+2, attrDeviceNameUUID), PermitRead, 0),
			NewAttr(attrDeviceNameUUID, []byte(name), PermitRead, SetVariableLen),
			NewAttr(CharacteristicUUID, CharacteristicDecl(CharRead, gapStart+4, attrAppearanceUUID), PermitRead, 0),
			NewAttr(attrAppearanceUUID, gapCharAppearanceGenericHeartRateSensor, PermitRead, 0),
		},
		Start: gapStart,
		End:   gapStart + 4,
	}
	gatt := &Group{
		Attrs: []*Attr{
			NewAttr(PrimaryServiceUUID, attrGATTUUID.b, PermitRead, 0),
			NewAttr(CharacteristicUUID, CharacteristicDecl(CharIndicate, gattStart+2, attrServiceChangedUUID), PermitRead, 0),
			NewAttr(attrServiceChangedUUID, make([]byte, 4), 0, 0),
			NewAttr(ClientCharacteristicConfigUUID, make([]byte, 2), PermitRead|PermitWrite, SetCCC),
		},
		Start: gattStart,
		End:   gattStart + 3,
	}
	return []*Group{gap, gatt}
}

// CharacteristicDecl returns the value of a characteristic declaration
// for a characteristic of type u with the given properties, whose value
// lives at valueHandle.
func CharacteristicDecl(props byte, valueHandle uint16, u UUID) []byte {
	return append([]byte{props, byte(valueHandle), byte(valueHandle >> 8)}, u.b...)
}

// AddGroup registers g with the server.
func (s *Server) AddGroup(g *Group) error {
	s.mu.Lock()
	err := s.db.add(g)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"start": g.Start,
		"end":   g.End,
		"attrs": len(g.Attrs),
	}).Debug("added attribute group")
	s.serviceChanged(g.Start, g.End)
	s.readvertise()
	return nil
}

// RemoveGroup removes the group that starts at handle start.
func (s *Server) RemoveGroup(start uint16) error {
	s.mu.Lock()
	g, err := s.db.remove(start)
	if err == nil {
		for c := range s.conns {
			c.forgetCCCs(g)
		}
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"start": g.Start,
		"end":   g.End,
	}).Debug("removed attribute group")
	s.serviceChanged(g.Start, g.End)
	s.readvertise()
	return nil
}

// Attr returns a copy of the value of the attribute at handle h.
func (s *Server) Attr(h uint16) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.db.At(h)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.attr.Value...), true
}

// SetAttr replaces the value of the attribute at handle h.
// The value must not exceed the attribute's MaxLen.
func (s *Server) SetAttr(h uint16, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.db.At(h)
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "handle 0x%04X", h)
	}
	if len(v) > e.attr.MaxLen {
		return errors.Wrapf(ErrInvalAttrValueLen, "handle 0x%04X: %d bytes, max %d", h, len(v), e.attr.MaxLen)
	}
	e.attr.Value = append(e.attr.Value[:0], v...)
	return nil
}

// Notify stores v as the value of characteristic value handle h and
// sends it to every connected central that enabled notifications.
func (s *Server) Notify(h uint16, v []byte) error {
	if err := s.SetAttr(h, v); err != nil {
		return err
	}
	var first error
	for _, c := range s.subscribers(h, CCCNotify) {
		if err := c.Notify(h, v); err != nil && first == nil {
			first = errors.Wrapf(err, "notify %s", c.RemoteAddr())
		}
	}
	return first
}

// Indicate stores v as the value of characteristic value handle h and
// indicates it to every connected central that enabled indications.
// It returns once all of them confirmed, or on the first failure.
func (s *Server) Indicate(ctx context.Context, h uint16, v []byte) error {
	if err := s.SetAttr(h, v); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.subscribers(h, CCCIndicate) {
		c := c
		g.Go(func() error {
			return errors.Wrapf(c.Indicate(ctx, h, v), "indicate %s", c.RemoteAddr())
		})
	}
	return g.Wait()
}

// subscribers returns the connections whose CCC for value handle h has bit set.
func (s *Server) subscribers(h uint16, bit uint16) []*conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := s.db.cccFor(h)
	if b == nil {
		return nil
	}
	var cc []*conn
	for c := range s.conns {
		if c.ccc(b.handle)&bit != 0 {
			cc = append(cc, c)
		}
	}
	return cc
}

// serviceChanged indicates the handle range [start, end] to every central
// that enabled Service Changed indications.
func (s *Server) serviceChanged(start, end uint16) {
	v := []byte{byte(start), byte(start >> 8), byte(end), byte(end >> 8)}
	for _, c := range s.subscribers(gattStart+2, CCCIndicate) {
		go func(c *conn) {
			ctx, cancel := context.WithTimeout(context.Background(), s.indTimeout)
			defer cancel()
			if err := c.Indicate(ctx, gattStart+2, v); err != nil {
				c.log.WithError(err).Warn("service changed indication failed")
			}
		}(c)
	}
}

// readvertise refreshes the advertised service list.
func (s *Server) readvertise() {
	if err := s.startAdvertising(); err != nil {
		s.log.WithError(err).Warn("advertising failed")
	}
}

// ServeConn runs the ATT bearer l2c until it is closed or ctx is done.
// remote is the address of the connected central.
func (s *Server) ServeConn(ctx context.Context, l2c io.ReadWriteCloser, remote net.HardwareAddr) error {
	c := s.newConn(l2c, BDAddr{remote})
	return s.serveConn(ctx, c)
}

func (s *Server) serveConn(ctx context.Context, c *conn) error {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	c.log.Info("central connected")
	if s.connect != nil {
		s.connect(c)
	}

	err := c.loop(ctx)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.log.Info("central disconnected")
	if s.disconnect != nil {
		s.disconnect(c)
	}
	return err
}

// Conns returns the connected centrals.
func (s *Server) Conns() []Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cc := make([]Conn, 0, len(s.conns))
	for c := range s.conns {
		cc = append(cc, c)
	}
	return cc
}

// Serve drives the hci and l2cap shims until ctx is done or either
// shim fails. The server advertises once the adapter powers on and
// again after every disconnect.
func (s *Server) Serve(ctx context.Context, hciShim, l2capShim Shim) error {
	h := newHCI(hciShim)
	l := newL2cap(l2capShim, s)
	s.mu.Lock()
	s.hci = h
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.hci = nil
		s.mu.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.serveHCI(ctx, h) })
	g.Go(func() error { return l.serve(ctx) })
	return g.Wait()
}

// ListenAndServe starts the hci and l2cap shim executables for HCI
// device dev and serves them. See Serve.
func (s *Server) ListenAndServe(ctx context.Context, hciPath, l2capPath, dev string) error {
	h, err := StartShim(hciPath, dev)
	if err != nil {
		return err
	}
	l, err := StartShim(l2capPath, dev)
	if err != nil {
		h.Close()
		h.Wait()
		return err
	}
	err = s.Serve(ctx, h, l)
	for _, sh := range []Shim{h, l} {
		sh.Close()
		sh.Wait()
	}
	return err
}

// An Option configures a Server.
type Option func(*Server) Option

// Option sets the options specified.
// It returns an option to restore the last arg's previous value.
// See http://commandcenter.blogspot.com.au/2014/01/self-referential-functions-and-design.html for more discussion.
func (s *Server) Option(opts ...Option) (prev Option) {
	for _, opt := range opts {
		prev = opt(s)
	}
	return prev
}

// Name sets the device name, exposed via the Generic Access Service (0x1800)
// and the scan response.
func Name(n string) Option {
	return func(s *Server) Option {
		s.mu.Lock()
		prev := s.name
		s.name = n
		if e, ok := s.db.At(gapStart + 2); ok {
			e.attr.Value = []byte(n)
			e.attr.MaxLen = len(n)
		}
		s.mu.Unlock()
		return Name(prev)
	}
}

// Logger sets the logger used by the server and its connections.
func Logger(l logrus.FieldLogger) Option {
	return func(s *Server) Option {
		prev := s.log
		s.log = l
		return Logger(prev)
	}
}

// Connect sets a function to be called when a central connects.
func Connect(f func(c Conn)) Option {
	return func(s *Server) Option {
		prev := s.connect
		s.connect = f
		return Connect(prev)
	}
}

// Disconnect sets a function to be called when a central disconnects.
func Disconnect(f func(c Conn)) Option {
	return func(s *Server) Option {
		prev := s.disconnect
		s.disconnect = f
		return Disconnect(prev)
	}
}

// ReceiveRSSI sets a function to be called when an RSSI measurement is received for a connection.
func ReceiveRSSI(f func(c Conn, rssi int)) Option {
	return func(s *Server) Option {
		prev := s.receiveRSSI
		s.receiveRSSI = f
		return ReceiveRSSI(prev)
	}
}

// CCCChange sets a function to be called when a central changes the
// client characteristic configuration of the characteristic whose value
// lives at valueHandle.
func CCCChange(f func(c Conn, valueHandle uint16, ccc uint16)) Option {
	return func(s *Server) Option {
		prev := s.cccChange
		s.cccChange = f
		return CCCChange(prev)
	}
}

// StateChange sets a function to be called when the adapter changes states.
func StateChange(f func(newState string)) Option {
	return func(s *Server) Option {
		prev := s.stateChange
		s.stateChange = f
		return StateChange(prev)
	}
}

// MaxMTU caps the ATT MTU the server agrees to. n is clamped to
// [23, 517].
func MaxMTU(n int) Option {
	return func(s *Server) Option {
		prev := s.maxMTU
		s.maxMTU = max(defaultMTU, min(n, maxMTU))
		return MaxMTU(prev)
	}
}

// IndicationTimeout sets how long an indication may go unconfirmed.
func IndicationTimeout(d time.Duration) Option {
	return func(s *Server) Option {
		prev := s.indTimeout
		s.indTimeout = d
		return IndicationTimeout(prev)
	}
}

// AdvertisingPacket sets a custom advertising packet.
// If nil, the advertising data will be constructed to advertise
// as many services as possible. The AdvertisingPacket must be no
// longer than MaxEIRPacketLength.
func AdvertisingPacket(b []byte) Option {
	return func(s *Server) Option {
		prev := s.advertisingPacket
		s.advertisingPacket = b
		return AdvertisingPacket(prev)
	}
}

// ScanResponsePacket sets a custom scan response packet.
// If nil, the scan response packet will return the server
// name, truncated if necessary.
func ScanResponsePacket(b []byte) Option {
	return func(s *Server) Option {
		prev := s.scanResponsePacket
		s.scanResponsePacket = b
		return ScanResponsePacket(prev)
	}
}

// A BDAddr (Bluetooth Device Address) is a
// hardware-addressed-based net.Addr.
type BDAddr struct{ net.HardwareAddr }

func (a BDAddr) Network() string { return "BLE" }
