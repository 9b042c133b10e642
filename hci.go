package atts

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

func newHCI(s Shim) *hci {
	c := &hci{
		Shim:    s,
		readbuf: bufio.NewReader(s),
	}
	return c
}

type hci struct {
	Shim
	readbuf *bufio.Reader
	mu      sync.Mutex // serializes writes to the shim
}

// advertiseEIR instructs hci to begin advertising. adv and scan
// must have maximum length 31.
//
// TODO: Support setting advertising params (LE Set Advertising Parameters,
// opcode 0x08 0x0006) once the hci shim accepts them.
func (c *hci) advertiseEIR(adv []byte, scan []byte) error {
	switch {
	case len(adv) > MaxEIRPacketLength:
		return ErrEIRPacketTooLong
	case len(scan) > MaxEIRPacketLength:
		return ErrEIRPacketTooLong
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.Shim, "%x %x\n", adv, scan)
	return errors.Wrap(err, "hci shim write")
}

// event returns the next available HCI event, blocking if needed.
func (c *hci) event() (string, error) {
	for {
		s, err := c.readbuf.ReadString('\n')
		if err != nil {
			return "", err
		}
		f := strings.Fields(s)
		if len(f) < 2 {
			return "", errors.Errorf("badly formed event: %q", s)
		}
		switch f[0] {
		case "adapterState":
			return f[1], nil
		case "hciDeviceId":
			continue
		default:
			return "", errors.Errorf("unexpected event type: %q", s)
		}
	}
}

// serveHCI reads adapter state changes until ctx is done or the
// shim exits, and starts advertising when the adapter powers on.
func (s *Server) serveHCI(ctx context.Context, c *hci) error {
	go func() {
		<-ctx.Done()
		c.Close()
	}()
	for {
		state, err := c.event()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "hci shim")
		}
		s.log.WithField("state", state).Info("adapter state changed")
		if s.stateChange != nil {
			s.stateChange(state)
		}
		if state == "poweredOn" {
			if err := s.startAdvertising(); err != nil {
				return err
			}
		}
	}
}

// startAdvertising advertises the server's primary services and name.
// It does nothing unless an hci shim is attached.
func (s *Server) startAdvertising() error {
	s.mu.RLock()
	c := s.hci
	adv, scan := s.advertisingPacket, s.scanResponsePacket
	if adv == nil {
		var fit []UUID
		adv, fit = serviceAdvertisingPacket(s.advertisedServices())
		s.log.WithField("services", len(fit)).Debug("built advertising packet")
	}
	if scan == nil {
		scan = nameScanResponsePacket(s.name)
	}
	s.mu.RUnlock()
	if c == nil {
		return nil
	}
	return c.advertiseEIR(adv, scan)
}

// advertisedServices returns the UUIDs of the primary services
// registered past the built-in GAP and GATT services.
// s.mu must be held.
func (s *Server) advertisedServices() []UUID {
	var uu []UUID
	for _, e := range s.db.Subrange(FirstFreeHandle, 0xFFFF) {
		if e.isPrimaryService() {
			uu = append(uu, UUID{e.attr.Value})
		}
	}
	return uu
}
