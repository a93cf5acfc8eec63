package nbt

import (
	"iter"
	"slices"
)

// Compound is a mapping from names to tags that remembers insertion order. Encoding a compound
// writes its entries in that order, which keeps the output deterministic.
type Compound struct {
	names []string
	tags  map[string]Tag
}

// NewCompound returns an empty compound.
func NewCompound() *Compound {
	return &Compound{tags: make(map[string]Tag)}
}

// ID ...
func (*Compound) ID() TagID { return TagCompound }

// Len returns the number of entries in the compound.
func (c *Compound) Len() int { return len(c.names) }

// Set stores t under name. An existing entry keeps its position.
func (c *Compound) Set(name string, t Tag) {
	if c.tags == nil {
		c.tags = make(map[string]Tag)
	}
	if _, ok := c.tags[name]; !ok {
		c.names = append(c.names, name)
	}
	c.tags[name] = t
}

// Get returns the tag stored under name.
func (c *Compound) Get(name string) (Tag, bool) {
	t, ok := c.tags[name]
	return t, ok
}

// Has reports if an entry with the name passed exists.
func (c *Compound) Has(name string) bool {
	_, ok := c.tags[name]
	return ok
}

// Delete removes the entry stored under name, if any.
func (c *Compound) Delete(name string) {
	if _, ok := c.tags[name]; !ok {
		return
	}
	delete(c.tags, name)
	if i := slices.Index(c.names, name); i >= 0 {
		c.names = slices.Delete(c.names, i, i+1)
	}
}

// Names returns the entry names in insertion order.
func (c *Compound) Names() []string {
	return slices.Clone(c.names)
}

// All iterates over the entries of the compound in insertion order.
func (c *Compound) All() iter.Seq2[string, Tag] {
	return func(yield func(string, Tag) bool) {
		for _, name := range c.names {
			if !yield(name, c.tags[name]) {
				return
			}
		}
	}
}

// Byte returns the value of a Byte entry.
func (c *Compound) Byte(name string) (int8, bool) {
	v, ok := c.tags[name].(Byte)
	return int8(v), ok
}

// Short returns the value of a Short entry.
func (c *Compound) Short(name string) (int16, bool) {
	v, ok := c.tags[name].(Short)
	return int16(v), ok
}

// Int returns the value of an Int entry.
func (c *Compound) Int(name string) (int32, bool) {
	v, ok := c.tags[name].(Int)
	return int32(v), ok
}

// Long returns the value of a Long entry.
func (c *Compound) Long(name string) (int64, bool) {
	v, ok := c.tags[name].(Long)
	return int64(v), ok
}

// Float returns the value of a Float entry.
func (c *Compound) Float(name string) (float32, bool) {
	v, ok := c.tags[name].(Float)
	return float32(v), ok
}

// Double returns the value of a Double entry.
func (c *Compound) Double(name string) (float64, bool) {
	v, ok := c.tags[name].(Double)
	return float64(v), ok
}

// String returns the value of a String entry.
func (c *Compound) String(name string) (string, bool) {
	v, ok := c.tags[name].(String)
	return string(v), ok
}

// ByteArray returns the value of a ByteArray entry.
func (c *Compound) ByteArray(name string) ([]byte, bool) {
	v, ok := c.tags[name].(ByteArray)
	return v, ok
}

// IntArray returns the value of an IntArray entry.
func (c *Compound) IntArray(name string) ([]int32, bool) {
	v, ok := c.tags[name].(IntArray)
	return v, ok
}

// LongArray returns the value of a LongArray entry.
func (c *Compound) LongArray(name string) ([]int64, bool) {
	v, ok := c.tags[name].(LongArray)
	return v, ok
}

// List returns the value of a List entry.
func (c *Compound) List(name string) (*List, bool) {
	v, ok := c.tags[name].(*List)
	return v, ok && v != nil
}

// Compound returns the value of a nested Compound entry.
func (c *Compound) Compound(name string) (*Compound, bool) {
	v, ok := c.tags[name].(*Compound)
	return v, ok && v != nil
}
