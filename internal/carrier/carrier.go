// Package carrier implements the ordered packet carrier the modification
// pipeline threads through: a sequence of {packet, delay} entries that
// modifications read, replace, reorder, split, or drop.
package carrier

import (
	"fmt"

	"github.com/tturner/fracture/internal/packet"
)

// Entry pairs a packet with the delay, in milliseconds, to hold before it
// is reinjected relative to the entry before it.
type Entry struct {
	Packet  *packet.Packet
	DelayMs int
}

// Carrier is an ordered, mutable list of entries. Modifications receive a
// Carrier, mutate or rebuild it, and return the result for the next stage.
type Carrier struct {
	entries []Entry
}

// New builds a Carrier from an initial packet with zero delay, the shape
// every pipeline invocation starts with.
func New(p *packet.Packet) *Carrier {
	return &Carrier{entries: []Entry{{Packet: p, DelayMs: 0}}}
}

// Empty returns a Carrier with no entries, the result of a total drop.
func Empty() *Carrier {
	return &Carrier{}
}

// FromEntries builds a Carrier from an explicit entry slice, copying it so
// the caller's backing array is not aliased.
func FromEntries(entries []Entry) *Carrier {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Carrier{entries: cp}
}

// Len reports the number of entries currently carried.
func (c *Carrier) Len() int { return len(c.entries) }

// At returns the entry at index i.
func (c *Carrier) At(i int) Entry { return c.entries[i] }

// Entries returns a copy of the underlying entry slice, safe to range over
// without observing later mutation.
func (c *Carrier) Entries() []Entry {
	cp := make([]Entry, len(c.entries))
	copy(cp, c.entries)
	return cp
}

// Append adds an entry to the end.
func (c *Carrier) Append(e Entry) { c.entries = append(c.entries, e) }

// Insert places an entry at index i, shifting the rest right.
func (c *Carrier) Insert(i int, e Entry) error {
	if i < 0 || i > len(c.entries) {
		return fmt.Errorf("carrier: insert index %d out of range [0,%d]", i, len(c.entries))
	}
	c.entries = append(c.entries, Entry{})
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = e
	return nil
}

// Remove deletes the entry at index i.
func (c *Carrier) Remove(i int) error {
	if i < 0 || i >= len(c.entries) {
		return fmt.Errorf("carrier: remove index %d out of range [0,%d)", i, len(c.entries))
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	return nil
}

// Replace overwrites the entry at index i.
func (c *Carrier) Replace(i int, e Entry) error {
	if i < 0 || i >= len(c.entries) {
		return fmt.Errorf("carrier: replace index %d out of range [0,%d)", i, len(c.entries))
	}
	c.entries[i] = e
	return nil
}

// Swap exchanges the entries at i and j, the primitive Reorder builds on.
func (c *Carrier) Swap(i, j int) error {
	if i < 0 || i >= len(c.entries) || j < 0 || j >= len(c.entries) {
		return fmt.Errorf("carrier: swap indices (%d,%d) out of range [0,%d)", i, j, len(c.entries))
	}
	c.entries[i], c.entries[j] = c.entries[j], c.entries[i]
	return nil
}

// Copy returns an independent Carrier with cloned packets, so a
// modification can branch (e.g. Duplicate) without aliasing state across
// entries.
func (c *Carrier) Copy() *Carrier {
	out := make([]Entry, len(c.entries))
	for i, e := range c.entries {
		var p *packet.Packet
		if e.Packet != nil {
			p = e.Packet.Clone()
		}
		out[i] = Entry{Packet: p, DelayMs: e.DelayMs}
	}
	return &Carrier{entries: out}
}

// Equal reports structural equality: same length, same delays, byte-exact
// packets in the same order.
func (c *Carrier) Equal(o *Carrier) bool {
	if c.Len() != o.Len() {
		return false
	}
	for i := range c.entries {
		a, b := c.entries[i], o.entries[i]
		if a.DelayMs != b.DelayMs {
			return false
		}
		if !a.Packet.Equal(b.Packet) {
			return false
		}
	}
	return true
}
