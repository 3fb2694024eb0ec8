package carrier

import (
	"testing"

	"github.com/tturner/fracture/internal/packet"
)

func mustPacket(b ...byte) *packet.Packet { return packet.New(b) }

func TestNew(t *testing.T) {
	c := New(mustPacket(1, 2, 3))
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	if c.At(0).DelayMs != 0 {
		t.Errorf("DelayMs = %d, want 0", c.At(0).DelayMs)
	}
}

func TestEmpty(t *testing.T) {
	if Empty().Len() != 0 {
		t.Error("Empty() should have zero entries")
	}
}

func TestAppendInsertRemove(t *testing.T) {
	c := New(mustPacket(1))
	c.Append(Entry{Packet: mustPacket(2), DelayMs: 5})
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}

	if err := c.Insert(1, Entry{Packet: mustPacket(9), DelayMs: 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if c.Len() != 3 || c.At(1).Packet.Bytes()[0] != 9 {
		t.Fatalf("Insert placed wrong entry: %v", c.Entries())
	}

	if err := c.Remove(1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if c.Len() != 2 || c.At(1).Packet.Bytes()[0] != 2 {
		t.Fatalf("Remove left wrong entries: %v", c.Entries())
	}
}

func TestInsertOutOfRange(t *testing.T) {
	c := New(mustPacket(1))
	if err := c.Insert(5, Entry{Packet: mustPacket(2)}); err == nil {
		t.Error("expected error for out-of-range insert")
	}
}

func TestRemoveOutOfRange(t *testing.T) {
	c := New(mustPacket(1))
	if err := c.Remove(5); err == nil {
		t.Error("expected error for out-of-range remove")
	}
}

func TestReplace(t *testing.T) {
	c := New(mustPacket(1))
	if err := c.Replace(0, Entry{Packet: mustPacket(9), DelayMs: 3}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if c.At(0).Packet.Bytes()[0] != 9 || c.At(0).DelayMs != 3 {
		t.Errorf("Replace() = %v", c.At(0))
	}
}

func TestSwap(t *testing.T) {
	c := FromEntries([]Entry{
		{Packet: mustPacket(1)},
		{Packet: mustPacket(2)},
	})
	if err := c.Swap(0, 1); err != nil {
		t.Fatalf("Swap: %v", err)
	}
	if c.At(0).Packet.Bytes()[0] != 2 || c.At(1).Packet.Bytes()[0] != 1 {
		t.Errorf("Swap did not exchange entries: %v", c.Entries())
	}
}

func TestSwapOutOfRange(t *testing.T) {
	c := New(mustPacket(1))
	if err := c.Swap(0, 5); err == nil {
		t.Error("expected error for out-of-range swap")
	}
}

func TestCopyIsIndependent(t *testing.T) {
	c := New(mustPacket(1, 2, 3))
	cp := c.Copy()
	cp.At(0).Packet.Bytes()[0] = 0xFF // mutate the copy's returned byte slice, not c's

	if !c.Equal(New(mustPacket(1, 2, 3))) {
		t.Error("original carrier was mutated through the copy")
	}
	if !cp.Equal(c) {
		t.Error("Copy() should be structurally equal to the original before divergence")
	}
}

func TestEqual(t *testing.T) {
	a := FromEntries([]Entry{{Packet: mustPacket(1, 2), DelayMs: 10}})
	b := FromEntries([]Entry{{Packet: mustPacket(1, 2), DelayMs: 10}})
	c := FromEntries([]Entry{{Packet: mustPacket(1, 2), DelayMs: 20}})
	d := FromEntries([]Entry{{Packet: mustPacket(1, 2)}, {Packet: mustPacket(3)}})

	if !a.Equal(b) {
		t.Error("a and b should be equal")
	}
	if a.Equal(c) {
		t.Error("a and c differ in delay, should not be equal")
	}
	if a.Equal(d) {
		t.Error("a and d differ in length, should not be equal")
	}
}

func TestFromEntriesCopiesBackingArray(t *testing.T) {
	src := []Entry{{Packet: mustPacket(1)}}
	c := FromEntries(src)
	src[0] = Entry{Packet: mustPacket(2)}
	if c.At(0).Packet.Bytes()[0] != 1 {
		t.Error("FromEntries should not alias the caller's slice")
	}
}
