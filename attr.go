package atts

import "github.com/pkg/errors"

// Permission controls how a peer may access an attribute.
type Permission uint8

// Attribute permissions. Do not re-order; they match the
// permission byte of the attribute table format.
const (
	PermitRead           Permission = 1 << iota // readable
	PermitReadAuth                              // reading requires an authenticated link
	PermitReadAuthorize                         // reading requires authorization
	PermitReadEnc                               // reading requires an encrypted link
	PermitWrite                                 // writable
	PermitWriteAuth                             // writing requires an authenticated link
	PermitWriteAuthorize                        // writing requires authorization
	PermitWriteEnc                              // writing requires an encrypted link
)

// Setting tunes how the server treats an attribute.
type Setting uint8

// Attribute settings.
const (
	SetUUID128       Setting = 1 << iota // the attribute type is a 128-bit UUID
	SetWriteCback                        // writes are passed to the group's WriteHandler
	SetReadCback                         // reads are passed to the group's ReadHandler
	SetVariableLen                       // writes may be shorter than MaxLen
	SetAllowOffset                       // kept for the table format; offset writes are refused
	SetCCC                               // the attribute is a client characteristic configuration descriptor
	SetAllowSigned                       // signed writes are accepted
	SetRequireSigned                     // only signed writes are accepted
)

// An Attr is one entry of an attribute table.
type Attr struct {
	UUID        UUID
	Value       []byte // current value
	MaxLen      int    // capacity of Value
	Settings    Setting
	Permissions Permission
}

// NewAttr returns an attribute of type u holding a copy of v.
// MaxLen defaults to len(v).
func NewAttr(u UUID, v []byte, perm Permission, set Setting) *Attr {
	if u.Len() == 16 {
		set |= SetUUID128
	}
	return &Attr{
		UUID:        u,
		Value:       append([]byte(nil), v...),
		MaxLen:      len(v),
		Settings:    set,
		Permissions: perm,
	}
}

func (a *Attr) readable() bool { return a.Permissions&PermitRead != 0 }
func (a *Attr) writable() bool { return a.Permissions&PermitWrite != 0 }

// secureRead reports whether reading a requires more than a low security link.
func (a *Attr) secureRead() bool {
	return a.Permissions&(PermitReadAuth|PermitReadEnc|PermitReadAuthorize) != 0
}

// secureWrite reports whether writing a requires more than a low security link.
func (a *Attr) secureWrite() bool {
	return a.Permissions&(PermitWriteAuth|PermitWriteEnc|PermitWriteAuthorize) != 0
}

// checkLen reports whether a written value of n bytes is acceptable
// for a. Writes always start at offset 0.
func (a *Attr) checkLen(n int) Error {
	if n > a.MaxLen {
		return ErrInvalAttrValueLen
	}
	if a.Settings&SetVariableLen == 0 && n != a.MaxLen {
		return ErrInvalAttrValueLen
	}
	return ErrSuccess
}

// store replaces the value with v. checkLen must have accepted it.
func (a *Attr) store(v []byte) {
	a.Value = append(a.Value[:0], v...)
}

// A Group is a contiguous range of attributes registered with a Server.
// Attribute i of the group has handle Start+i.
type Group struct {
	Attrs []*Attr

	// ReadHandler serves reads of attributes with SetReadCback.
	ReadHandler ReadHandler
	// WriteHandler serves writes to attributes with SetWriteCback.
	WriteHandler WriteHandler

	Start uint16
	End   uint16
}

// Group validation errors.
var (
	ErrBadGroup      = errors.New("group handle range does not match its attributes")
	ErrGroupOverlap  = errors.New("group overlaps a registered group")
	ErrGroupNotFound = errors.New("no group starts at this handle")
)

func (g *Group) validate() error {
	if g.Start == 0 || g.End < g.Start {
		return errors.Wrapf(ErrBadGroup, "range [0x%04X, 0x%04X]", g.Start, g.End)
	}
	if n := int(g.End-g.Start) + 1; n != len(g.Attrs) {
		return errors.Wrapf(ErrBadGroup, "range [0x%04X, 0x%04X] holds %d handles, got %d attributes", g.Start, g.End, n, len(g.Attrs))
	}
	for i, a := range g.Attrs {
		if a == nil {
			return errors.Wrapf(ErrBadGroup, "nil attribute at handle 0x%04X", g.Start+uint16(i))
		}
	}
	return nil
}

func (g *Group) at(h uint16) *Attr {
	return g.Attrs[h-g.Start]
}

// contains reports whether handle h falls in g.
func (g *Group) contains(h uint16) bool {
	return h >= g.Start && h <= g.End
}
