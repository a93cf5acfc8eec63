package nbt

import (
	"math"
	"slices"
)

// Equal reports if a and b hold the same value. Compounds compare equal regardless of entry
// order. Floating point values are compared by their bits, so NaN equals itself.
func Equal(a, b Tag) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.ID() != b.ID() {
		return false
	}
	switch a := a.(type) {
	case Float:
		return math.Float32bits(float32(a)) == math.Float32bits(float32(b.(Float)))
	case Double:
		return math.Float64bits(float64(a)) == math.Float64bits(float64(b.(Double)))
	case ByteArray:
		return slices.Equal(a, b.(ByteArray))
	case IntArray:
		return slices.Equal(a, b.(IntArray))
	case LongArray:
		return slices.Equal(a, b.(LongArray))
	case *List:
		bl := b.(*List)
		if a == nil || bl == nil {
			return a == bl
		}
		if a.Elem != bl.Elem || len(a.Items) != len(bl.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], bl.Items[i]) {
				return false
			}
		}
		return true
	case *Compound:
		bc := b.(*Compound)
		if a == nil || bc == nil {
			return a == bc
		}
		if a.Len() != bc.Len() {
			return false
		}
		for name, t := range a.All() {
			other, ok := bc.Get(name)
			if !ok || !Equal(t, other) {
				return false
			}
		}
		return true
	}
	return a == b
}

// Clone returns a deep copy of t.
func Clone(t Tag) Tag {
	switch t := t.(type) {
	case ByteArray:
		return slices.Clone(t)
	case IntArray:
		return slices.Clone(t)
	case LongArray:
		return slices.Clone(t)
	case *List:
		if t == nil {
			return t
		}
		l := &List{Elem: t.Elem, Items: make([]Tag, len(t.Items))}
		for i, item := range t.Items {
			l.Items[i] = Clone(item)
		}
		return l
	case *Compound:
		return t.Clone()
	}
	return t
}

// Clone returns a deep copy of the compound.
func (c *Compound) Clone() *Compound {
	if c == nil {
		return nil
	}
	out := &Compound{names: slices.Clone(c.names), tags: make(map[string]Tag, len(c.tags))}
	for name, t := range c.tags {
		out.tags[name] = Clone(t)
	}
	return out
}
