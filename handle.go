package atts

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

// An entry is an attribute together with its handle and the
// group that owns it.
type entry struct {
	h    uint16
	attr *Attr
	g    *Group
}

// isPrimaryService reports whether this entry is a primary service declaration.
func (e entry) isPrimaryService() bool {
	return e.attr.UUID.Equal(PrimaryServiceUUID)
}

// isServiceDecl reports whether this entry starts a service.
func (e entry) isServiceDecl() bool {
	return e.isPrimaryService() || e.attr.UUID.Equal(SecondaryServiceUUID)
}

// A cccBinding ties a client characteristic configuration
// descriptor to the characteristic it configures.
type cccBinding struct {
	handle      uint16 // the CCC descriptor
	valueHandle uint16 // the characteristic value
	props       byte   // characteristic properties
}

// allowed returns the CCC bits the characteristic supports.
func (b *cccBinding) allowed() uint16 {
	var v uint16
	if b.props&CharNotify != 0 {
		v |= CCCNotify
	}
	if b.props&CharIndicate != 0 {
		v |= CCCIndicate
	}
	return v
}

// db holds the registered groups, ordered by start handle.
// Handles between groups are unassigned.
type db struct {
	groups []*Group
	cccs   map[uint16]*cccBinding // keyed by descriptor handle
}

func newDB() *db {
	return &db{cccs: make(map[uint16]*cccBinding)}
}

func (d *db) add(g *Group) error {
	if err := g.validate(); err != nil {
		return err
	}
	i := sort.Search(len(d.groups), func(i int) bool { return d.groups[i].Start > g.Start })
	if i > 0 && d.groups[i-1].End >= g.Start {
		return errors.Wrapf(ErrGroupOverlap, "[0x%04X, 0x%04X] and [0x%04X, 0x%04X]", g.Start, g.End, d.groups[i-1].Start, d.groups[i-1].End)
	}
	if i < len(d.groups) && d.groups[i].Start <= g.End {
		return errors.Wrapf(ErrGroupOverlap, "[0x%04X, 0x%04X] and [0x%04X, 0x%04X]", g.Start, g.End, d.groups[i].Start, d.groups[i].End)
	}
	bb, err := bindCCCs(g)
	if err != nil {
		return err
	}

	d.groups = append(d.groups, nil)
	copy(d.groups[i+1:], d.groups[i:])
	d.groups[i] = g
	for _, b := range bb {
		d.cccs[b.handle] = b
	}
	return nil
}

func (d *db) remove(start uint16) (*Group, error) {
	for i, g := range d.groups {
		if g.Start != start {
			continue
		}
		d.groups = append(d.groups[:i], d.groups[i+1:]...)
		for h := range d.cccs {
			if g.contains(h) {
				delete(d.cccs, h)
			}
		}
		return g, nil
	}
	return nil, errors.Wrapf(ErrGroupNotFound, "start handle 0x%04X", start)
}

// bindCCCs pairs every SetCCC attribute of g with the
// characteristic declaration that precedes it.
func bindCCCs(g *Group) ([]*cccBinding, error) {
	var bb []*cccBinding
	var decl *Attr
	for i, a := range g.Attrs {
		switch {
		case a.UUID.Equal(CharacteristicUUID):
			decl = a
		case a.UUID.Equal(PrimaryServiceUUID), a.UUID.Equal(SecondaryServiceUUID):
			decl = nil
		case a.Settings&SetCCC != 0:
			h := g.Start + uint16(i)
			if decl == nil || len(decl.Value) < 3 {
				return nil, errors.Wrapf(ErrBadGroup, "CCC at handle 0x%04X has no characteristic", h)
			}
			bb = append(bb, &cccBinding{
				handle:      h,
				valueHandle: binary.LittleEndian.Uint16(decl.Value[1:3]),
				props:       decl.Value[0],
			})
		}
	}
	return bb, nil
}

// group returns the group holding handle h, if any.
func (d *db) group(h uint16) *Group {
	i := sort.Search(len(d.groups), func(i int) bool { return d.groups[i].End >= h })
	if i < len(d.groups) && d.groups[i].contains(h) {
		return d.groups[i]
	}
	return nil
}

// cccFor returns the binding for characteristic value handle h.
func (d *db) cccFor(valueHandle uint16) *cccBinding {
	for _, b := range d.cccs {
		if b.valueHandle == valueHandle {
			return b
		}
	}
	return nil
}

const (
	tooSmall = -1
	tooLarge = -2
)

// idx returns the index into g.Attrs corresponding to handle n.
// If n is too small, idx returns tooSmall (-1).
// If n is too large, idx returns tooLarge (-2).
func idx(g *Group, n int) int {
	if n < int(g.Start) {
		return tooSmall
	}
	if n >= int(g.Start)+len(g.Attrs) {
		return tooLarge
	}
	return n - int(g.Start)
}

// At returns the attribute at handle h.
func (d *db) At(h uint16) (entry, bool) {
	g := d.group(h)
	if g == nil {
		return entry{}, false
	}
	return entry{h: h, attr: g.at(h), g: g}, true
}

// Subrange returns entries in range [start, end]; it may
// return an empty slice. Subrange does not panic for
// out-of-range start or end.
func (d *db) Subrange(start, end uint16) []entry {
	ee := []entry{}
	if start > end {
		return ee
	}
	for _, g := range d.groups {
		startidx := idx(g, int(start))
		switch startidx {
		case tooSmall:
			startidx = 0
		case tooLarge:
			continue
		}

		endidx := idx(g, int(end)+1) // [start, end] includes its upper bound!
		switch endidx {
		case tooSmall:
			return ee
		case tooLarge:
			endidx = len(g.Attrs)
		}
		for i := startidx; i < endidx; i++ {
			ee = append(ee, entry{h: g.Start + uint16(i), attr: g.Attrs[i], g: g})
		}
	}
	return ee
}

// serviceEnd returns the last handle of the service declared at h.
func (d *db) serviceEnd(h uint16) uint16 {
	end := h
	if h == 0xFFFF {
		return end
	}
	for _, e := range d.Subrange(h+1, 0xFFFF) {
		if e.isServiceDecl() {
			break
		}
		end = e.h
	}
	return end
}
