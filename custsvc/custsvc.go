// Package custsvc is the customized GATT service: a write-only and a
// read-only sample characteristic, three ECG notification
// characteristics and an indication characteristic, registered with
// an attribute server as one attribute group.
package custsvc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/XC-/atts"
	"github.com/XC-/atts/ecg"
)

// HandleStart is the default first handle of the service.
const HandleStart = 0x0800

// ValueLen is the size of every characteristic value.
const ValueLen = 20

// UUIDs of the service and its characteristics.
var (
	ServiceUUID       = atts.MustParseUUID("00002760-08c2-11e1-9073-0e8ac72e2001")
	WriteOnlyUUID     = atts.MustParseUUID("00002760-08c2-11e1-9073-0e8ac72e2002")
	ReadOnlyUUID      = atts.MustParseUUID("00002760-08c2-11e1-9073-0e8ac72e2003")
	ECGSampleUUID     = atts.MustParseUUID("00002760-08c2-11e1-9073-0e8ac72e2004")
	ECGSampleMaskUUID = atts.MustParseUUID("00002760-08c2-11e1-9073-0e8ac72e2005")
	ECGResultUUID     = atts.MustParseUUID("00002760-08c2-11e1-9073-0e8ac72e2006")
	IndicateUUID      = atts.MustParseUUID("00002760-08c2-11e1-9073-0e8ac72e2007")
)

// User descriptions.
const (
	WriteOnlyDescription     = "Write Only Sample Characteristic"
	ReadOnlyDescription      = "Read Only Sample Characteristic"
	ECGSampleDescription     = "Notification ECG Sample Characteristic"
	ECGSampleMaskDescription = "Notification ECG Sample Mask Characteristic"
	ECGResultDescription     = "Notification ECG Result Characteristic"
	IndicateDescription      = "Indication Sample Characteristic"
)

// Service errors.
var (
	ErrAdded    = errors.New("service group already added")
	ErrNotAdded = errors.New("service group not added")
)

// An AttributeServer holds attribute groups and talks to centrals.
// *atts.Server is an AttributeServer.
type AttributeServer interface {
	AddGroup(g *atts.Group) error
	RemoveGroup(start uint16) error
	SetAttr(h uint16, v []byte) error
	Notify(h uint16, v []byte) error
	Indicate(ctx context.Context, h uint16, v []byte) error
}

// Handles are the attribute handles of a Service.
// A zero handle means the attribute is absent.
type Handles struct {
	Service uint16

	WriteOnlyDecl  uint16
	WriteOnly      uint16
	WriteOnlyDescr uint16

	ReadOnlyDecl  uint16
	ReadOnly      uint16
	ReadOnlyDescr uint16

	ECGSampleDecl  uint16
	ECGSample      uint16
	ECGSampleCCC   uint16
	ECGSampleDescr uint16

	ECGSampleMaskDecl  uint16
	ECGSampleMask      uint16
	ECGSampleMaskCCC   uint16
	ECGSampleMaskDescr uint16

	ECGResultDecl  uint16
	ECGResult      uint16
	ECGResultCCC   uint16
	ECGResultDescr uint16

	IndicateDecl  uint16
	Indicate      uint16
	IndicateCCC   uint16
	IndicateDescr uint16

	End uint16
}

// A Service is one instance of the customized service.
type Service struct {
	start     uint16
	userDescr bool
	log       logrus.FieldLogger

	handles Handles
	group   *atts.Group

	mu       sync.Mutex
	srv      AttributeServer
	rhandler atts.ReadHandler
	whandler atts.WriteHandler
	readOnly []byte
}

// An Option configures a Service.
type Option func(*Service)

// WithStartHandle places the service at handle h instead of HandleStart.
func WithStartHandle(h uint16) Option {
	return func(s *Service) { s.start = h }
}

// WithUserDescriptions adds a user description descriptor to every
// characteristic.
func WithUserDescriptions(on bool) Option {
	return func(s *Service) { s.userDescr = on }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// New builds the attribute table of the service.
func New(opts ...Option) *Service {
	s := &Service{
		start: HandleStart,
		log:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.build()
	return s
}

// tableBuilder appends attributes at consecutive handles.
type tableBuilder struct {
	next  uint16
	attrs []*atts.Attr
}

func (b *tableBuilder) add(a *atts.Attr) uint16 {
	h := b.next
	b.attrs = append(b.attrs, a)
	b.next++
	return h
}

// characteristic adds a declaration and its value, and returns both handles.
func (b *tableBuilder) characteristic(props byte, u atts.UUID, value *atts.Attr) (decl, val uint16) {
	decl = b.add(atts.NewAttr(atts.CharacteristicUUID, atts.CharacteristicDecl(props, b.next+1, u), atts.PermitRead, 0))
	val = b.add(value)
	return decl, val
}

func (b *tableBuilder) ccc() uint16 {
	return b.add(atts.NewAttr(atts.ClientCharacteristicConfigUUID, make([]byte, 2), atts.PermitRead|atts.PermitWrite, atts.SetCCC))
}

func (s *Service) describe(b *tableBuilder, text string) uint16 {
	if !s.userDescr {
		return 0
	}
	return b.add(atts.NewAttr(atts.UserDescriptionUUID, []byte(text), atts.PermitRead, 0))
}

func valueAttr(u atts.UUID, perm atts.Permission, set atts.Setting) *atts.Attr {
	return atts.NewAttr(u, make([]byte, ValueLen), perm, set|atts.SetVariableLen)
}

func (s *Service) build() {
	b := &tableBuilder{next: s.start}
	h := &s.handles

	h.Service = b.add(atts.NewAttr(atts.PrimaryServiceUUID, ServiceUUID.Bytes(), atts.PermitRead, 0))

	h.WriteOnlyDecl, h.WriteOnly = b.characteristic(atts.CharWriteNR|atts.CharWrite, WriteOnlyUUID,
		valueAttr(WriteOnlyUUID, atts.PermitWrite, atts.SetWriteCback))
	h.WriteOnlyDescr = s.describe(b, WriteOnlyDescription)

	h.ReadOnlyDecl, h.ReadOnly = b.characteristic(atts.CharRead, ReadOnlyUUID,
		valueAttr(ReadOnlyUUID, atts.PermitRead, atts.SetReadCback))
	h.ReadOnlyDescr = s.describe(b, ReadOnlyDescription)

	h.ECGSampleDecl, h.ECGSample = b.characteristic(atts.CharNotify|atts.CharRead, ECGSampleUUID,
		valueAttr(ECGSampleUUID, atts.PermitRead, 0))
	h.ECGSampleCCC = b.ccc()
	h.ECGSampleDescr = s.describe(b, ECGSampleDescription)

	h.ECGSampleMaskDecl, h.ECGSampleMask = b.characteristic(atts.CharNotify|atts.CharRead, ECGSampleMaskUUID,
		valueAttr(ECGSampleMaskUUID, atts.PermitRead, 0))
	h.ECGSampleMaskCCC = b.ccc()
	h.ECGSampleMaskDescr = s.describe(b, ECGSampleMaskDescription)

	h.ECGResultDecl, h.ECGResult = b.characteristic(atts.CharNotify|atts.CharRead, ECGResultUUID,
		valueAttr(ECGResultUUID, atts.PermitRead, 0))
	h.ECGResultCCC = b.ccc()
	h.ECGResultDescr = s.describe(b, ECGResultDescription)

	h.IndicateDecl, h.Indicate = b.characteristic(atts.CharIndicate|atts.CharRead, IndicateUUID,
		valueAttr(IndicateUUID, atts.PermitRead, 0))
	h.IndicateCCC = b.ccc()
	h.IndicateDescr = s.describe(b, IndicateDescription)

	h.End = b.next - 1
	s.group = &atts.Group{
		Attrs:        b.attrs,
		ReadHandler:  atts.ReadHandlerFunc(s.serveRead),
		WriteHandler: atts.WriteHandlerFunc(s.serveWrite),
		Start:        h.Service,
		End:          h.End,
	}
}

// Handles returns the attribute handles of s.
func (s *Service) Handles() Handles {
	return s.handles
}

// AddGroup registers the service's attribute group with srv.
func (s *Service) AddGroup(srv AttributeServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return ErrAdded
	}
	if err := srv.AddGroup(s.group); err != nil {
		return errors.Wrap(err, "add customized service")
	}
	s.srv = srv
	s.log.WithFields(logrus.Fields{
		"start": s.handles.Service,
		"end":   s.handles.End,
	}).Info("customized service added")
	return nil
}

// RemoveGroup removes the service's attribute group from srv.
func (s *Service) RemoveGroup(srv AttributeServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := srv.RemoveGroup(s.handles.Service); err != nil {
		return errors.Wrap(err, "remove customized service")
	}
	if s.srv == srv {
		s.srv = nil
	}
	s.log.WithField("start", s.handles.Service).Info("customized service removed")
	return nil
}

// RegisterCallbacks sets the handler for reads of the read-only
// characteristic and the handler for writes to the write-only
// characteristic. Either may be nil.
func (s *Service) RegisterCallbacks(r atts.ReadHandler, w atts.WriteHandler) {
	s.mu.Lock()
	s.rhandler, s.whandler = r, w
	s.mu.Unlock()
}

func (s *Service) serveRead(resp atts.ReadResponseWriter, req *atts.ReadRequest) {
	s.mu.Lock()
	r, v := s.rhandler, s.readOnly
	s.mu.Unlock()
	if r != nil {
		r.ServeRead(resp, req)
		return
	}
	resp.Write(v)
}

func (s *Service) serveWrite(r atts.Request, data []byte) byte {
	s.mu.Lock()
	w, srv := s.whandler, s.srv
	s.mu.Unlock()
	if w != nil {
		return w.ServeWrite(r, data)
	}
	if srv == nil {
		return atts.StatusUnexpectedError
	}
	if err := srv.SetAttr(r.Handle, data); err != nil {
		s.log.WithError(err).WithField("handle", r.Handle).Warn("store written value")
		return atts.StatusUnexpectedError
	}
	return atts.StatusSuccess
}

func (s *Service) server() (AttributeServer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil, ErrNotAdded
	}
	return s.srv, nil
}

// SetReadOnlyValue sets the value served by the read-only
// characteristic when no read handler is registered.
func (s *Service) SetReadOnlyValue(v []byte) error {
	if len(v) > ValueLen {
		return errors.Errorf("read-only value of %d bytes exceeds %d", len(v), ValueLen)
	}
	s.mu.Lock()
	s.readOnly = append([]byte(nil), v...)
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.SetAttr(s.handles.ReadOnly, v)
}

func (s *Service) notifyChunks(h uint16, chunks [][]byte) error {
	srv, err := s.server()
	if err != nil {
		return err
	}
	for _, c := range chunks {
		if err := srv.Notify(h, c); err != nil {
			return err
		}
	}
	return nil
}

// NotifyECGSample notifies samples on the ECG sample characteristic,
// ValueLen bytes at a time.
func (s *Service) NotifyECGSample(samples []int16) error {
	return s.notifyChunks(s.handles.ECGSample, ecg.PackSamples(samples, ValueLen))
}

// NotifyECGMask notifies a segmentation mask on the ECG sample mask
// characteristic.
func (s *Service) NotifyECGMask(mask []ecg.HeartSegment) error {
	return s.notifyChunks(s.handles.ECGSampleMask, ecg.PackMask(mask, ValueLen))
}

// NotifyECGResult notifies r on the ECG result characteristic.
func (s *Service) NotifyECGResult(r ecg.Result) error {
	b, err := ecg.MarshalResult(r, ValueLen)
	if err != nil {
		return err
	}
	return s.notifyChunks(s.handles.ECGResult, [][]byte{b})
}

// Indicate indicates v on the indication characteristic and waits
// for the centrals to confirm.
func (s *Service) Indicate(ctx context.Context, v []byte) error {
	if len(v) > ValueLen {
		return errors.Errorf("indication of %d bytes exceeds %d", len(v), ValueLen)
	}
	srv, err := s.server()
	if err != nil {
		return err
	}
	return srv.Indicate(ctx, s.handles.Indicate, v)
}

// Default is the service used by the package-level functions.
var Default = New()

// AddGroup registers Default with srv.
func AddGroup(srv AttributeServer) error { return Default.AddGroup(srv) }

// RemoveGroup removes Default from srv.
func RemoveGroup(srv AttributeServer) error { return Default.RemoveGroup(srv) }

// RegisterCallbacks sets the read and write handlers of Default.
func RegisterCallbacks(r atts.ReadHandler, w atts.WriteHandler) {
	Default.RegisterCallbacks(r, w)
}
