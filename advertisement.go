package atts

import "github.com/pkg/errors"

// MaxEIRPacketLength is the longest advertising or scan response
// payload the controller accepts.
const MaxEIRPacketLength = 31

// ErrEIRPacketTooLong is returned for advertising or scan response
// payloads longer than MaxEIRPacketLength.
var ErrEIRPacketTooLong = errors.New("max packet length is 31")

// AD structure types.
const (
	adFlags        = 0x01
	adSomeUUID16   = 0x02 // incomplete list of 16-bit service UUIDs
	adSomeUUID128  = 0x06 // incomplete list of 128-bit service UUIDs
	adShortName    = 0x08
	adCompleteName = 0x09
)

const (
	adFieldOverhead = 2    // length and type bytes
	adGeneralLEOnly = 0x06 // LE general discoverable, BR/EDR not supported
	adMaxNameLength = MaxEIRPacketLength - adFieldOverhead
)

// eir is an advertising or scan response payload under construction.
type eir []byte

// add appends an AD structure if it fits and reports whether it did.
func (p *eir) add(typ byte, data []byte) bool {
	if len(*p)+adFieldOverhead+len(data) > MaxEIRPacketLength {
		return false
	}
	*p = append(*p, byte(len(data)+1), typ)
	*p = append(*p, data...)
	return true
}

// nameScanResponsePacket builds a scan response carrying name,
// shortened to fit.
func nameScanResponsePacket(name string) []byte {
	var p eir
	if len(name) > adMaxNameLength {
		p.add(adShortName, []byte(name[:adMaxNameLength]))
	} else {
		p.add(adCompleteName, []byte(name))
	}
	return p
}

// serviceAdvertisingPacket builds an advertising packet listing as
// many of uu as fit, each in its own incomplete-list field. It returns
// the packet and the UUIDs it holds.
func serviceAdvertisingPacket(uu []UUID) ([]byte, []UUID) {
	var p eir
	p.add(adFlags, []byte{adGeneralLEOnly})
	fit := make([]UUID, 0, len(uu))
	for _, u := range uu {
		typ := byte(adSomeUUID16)
		if u.Len() == 16 {
			typ = adSomeUUID128
		}
		if p.add(typ, u.b) {
			fit = append(fit, u)
		}
	}
	return p, fit
}
