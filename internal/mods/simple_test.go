package mods

import (
	"testing"

	"github.com/tturner/fracture/internal/atoms"
	"github.com/tturner/fracture/internal/carrier"
)

func threeEntryCarrier(t *testing.T) *carrier.Carrier {
	t.Helper()
	return carrier.FromEntries([]carrier.Entry{
		{Packet: buildIPv4TCP(t, []byte("a")).Clone()},
		{Packet: buildIPv4TCP(t, []byte("b")).Clone()},
		{Packet: buildIPv4TCP(t, []byte("c")).Clone()},
	})
}

func TestDropOne(t *testing.T) {
	k := dropOneKind{}
	inst, err := k.ParseArgs([]atoms.Value{atoms.IntValue(1)})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	c := threeEntryCarrier(t)
	out, err := inst.Apply(testCtx(1), c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", out.Len())
	}
}

func TestDropOneEmptyCarrierNoOp(t *testing.T) {
	inst, _ := dropOneKind{}.ParseArgs([]atoms.Value{atoms.IntValue(0)})
	out, err := inst.Apply(testCtx(1), carrier.Empty())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("Len() = %d, want 0", out.Len())
	}
}

func TestDropProbaZeroIsIdentity(t *testing.T) {
	inst, err := dropProbaKind{}.ParseArgs([]atoms.Value{atoms.StrValue("0")})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	c := threeEntryCarrier(t)
	out, err := inst.Apply(testCtx(1), c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Equal(c) {
		t.Error("drop_proba(0) should be identity")
	}
}

func TestDropProbaOneEmptiesCarrier(t *testing.T) {
	inst, err := dropProbaKind{}.ParseArgs([]atoms.Value{atoms.StrValue("1")})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	out, err := inst.Apply(testCtx(1), threeEntryCarrier(t))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("drop_proba(1) should empty the carrier, got len %d", out.Len())
	}
}

func TestDropProbaRejectsOutOfRange(t *testing.T) {
	if _, err := (dropProbaKind{}).ParseArgs([]atoms.Value{atoms.StrValue("1.5")}); err == nil {
		t.Error("expected error for probability > 1")
	}
}

func TestEchoIsIdentityAndLogs(t *testing.T) {
	inst, err := echoKind{}.ParseArgs([]atoms.Value{atoms.StrValue("marker")})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	c := threeEntryCarrier(t)
	ctx := testCtx(1)
	out, err := inst.Apply(ctx, c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Equal(c) {
		t.Error("echo should not change the carrier")
	}
	if len(*ctx.EchoLog) != 1 || (*ctx.EchoLog)[0] != "marker" {
		t.Errorf("EchoLog = %v, want [marker]", *ctx.EchoLog)
	}
}

func TestPrintIsIdentity(t *testing.T) {
	inst, err := printKind{}.ParseArgs(nil)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	c := threeEntryCarrier(t)
	out, err := inst.Apply(testCtx(1), c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Equal(c) {
		t.Error("print should not change the carrier")
	}
}

func TestDuplicateIndex(t *testing.T) {
	inst, err := duplicateKind{}.ParseArgs([]atoms.Value{atoms.IntValue(0)})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	c := threeEntryCarrier(t)
	out, err := inst.Apply(testCtx(1), c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", out.Len())
	}
	if !out.At(0).Packet.Equal(out.At(1).Packet) {
		t.Error("duplicated entry should equal its original")
	}
}

func TestDuplicateAll(t *testing.T) {
	inst, err := duplicateKind{}.ParseArgs([]atoms.Value{atoms.StrValue("all")})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	out, err := inst.Apply(testCtx(1), threeEntryCarrier(t))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Len() != 6 {
		t.Errorf("Len() = %d, want 6", out.Len())
	}
}

func TestReorderExplicitPermutation(t *testing.T) {
	inst, err := reorderKind{}.ParseArgs([]atoms.Value{{IsList: true, Ints: []int64{2, 0, 1}}})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	c := threeEntryCarrier(t)
	out, err := inst.Apply(testCtx(1), c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.At(0).Packet.Equal(c.At(2).Packet) || !out.At(1).Packet.Equal(c.At(0).Packet) {
		t.Errorf("reorder did not apply the requested permutation")
	}
}

func TestReorderPreservesMultiset(t *testing.T) {
	inst, err := reorderKind{}.ParseArgs([]atoms.Value{atoms.StrValue("random")})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	c := threeEntryCarrier(t)
	out, err := inst.Apply(testCtx(7), c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Len() != c.Len() {
		t.Fatalf("Len() = %d, want %d", out.Len(), c.Len())
	}
	for i := 0; i < c.Len(); i++ {
		found := false
		for j := 0; j < out.Len(); j++ {
			if c.At(i).Packet.Equal(out.At(j).Packet) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("entry %d missing from reordered output", i)
		}
	}
}

func TestSelectFiltersAndReorders(t *testing.T) {
	inst, err := selectKind{}.ParseArgs([]atoms.Value{{IsList: true, Ints: []int64{2, 0}}})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	c := threeEntryCarrier(t)
	out, err := inst.Apply(testCtx(1), c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", out.Len())
	}
	if !out.At(0).Packet.Equal(c.At(2).Packet) || !out.At(1).Packet.Equal(c.At(0).Packet) {
		t.Error("select did not keep the requested indices in order")
	}
}

func TestSelectOutOfRange(t *testing.T) {
	inst, _ := selectKind{}.ParseArgs([]atoms.Value{{IsList: true, Ints: []int64{5}}})
	if _, err := inst.Apply(testCtx(1), threeEntryCarrier(t)); err == nil {
		t.Error("expected error for out-of-range select index")
	}
}

func TestDelaySingleIndex(t *testing.T) {
	inst, err := delayKind{}.ParseArgs([]atoms.Value{atoms.IntValue(50), atoms.IntValue(1)})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	out, err := inst.Apply(testCtx(1), threeEntryCarrier(t))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.At(1).DelayMs != 50 {
		t.Errorf("DelayMs = %d, want 50", out.At(1).DelayMs)
	}
	if out.At(0).DelayMs != 0 || out.At(2).DelayMs != 0 {
		t.Error("delay should only affect the targeted entry")
	}
}

func TestDelayAll(t *testing.T) {
	inst, err := delayKind{}.ParseArgs([]atoms.Value{atoms.IntValue(10), atoms.StrValue("all")})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	out, err := inst.Apply(testCtx(1), threeEntryCarrier(t))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for i := 0; i < out.Len(); i++ {
		if out.At(i).DelayMs != 10 {
			t.Errorf("entry %d DelayMs = %d, want 10", i, out.At(i).DelayMs)
		}
	}
}
