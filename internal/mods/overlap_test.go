package mods

import (
	"bytes"
	"testing"

	"github.com/tturner/fracture/internal/atoms"
	"github.com/tturner/fracture/internal/carrier"
)

func TestOverlapFavorFirstTCP(t *testing.T) {
	payload := bytes.Repeat([]byte("o"), 40)
	p := buildIPv4TCP(t, payload)
	inst, err := overlapKind{}.ParseArgs([]atoms.Value{atoms.StrValue(OverlapFavorFirst), atoms.IntValue(20)})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	out, err := inst.Apply(testCtx(1), carrier.New(p))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", out.Len())
	}
	t0, _ := out.At(0).Packet.TCP()
	t1, _ := out.At(1).Packet.TCP()
	if t1.Seq >= t0.Seq+uint32(len(t0.LayerPayload())) {
		t.Error("expected the second segment to start before the first one ends")
	}
}

func TestOverlapZeroLengthOverlapInsertsExtraFragment(t *testing.T) {
	payload := bytes.Repeat([]byte("z"), 100)
	p := buildIPv4TCP(t, payload)
	inst, err := overlapKind{}.ParseArgs([]atoms.Value{atoms.StrValue(OverlapZeroLengthOverlap), atoms.IntValue(40)})
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	out, err := inst.Apply(testCtx(1), carrier.New(p))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (first, zero-length, last)", out.Len())
	}
	tcp, ok := out.At(1).Packet.TCP()
	if !ok {
		t.Fatal("middle segment missing tcp layer")
	}
	if len(tcp.LayerPayload()) != 0 {
		t.Errorf("middle segment payload len = %d, want 0", len(tcp.LayerPayload()))
	}
}

func TestOverlapUnknownStrategyRejected(t *testing.T) {
	if _, err := (overlapKind{}).ParseArgs([]atoms.Value{atoms.StrValue("bogus"), atoms.IntValue(10)}); err == nil {
		t.Error("expected error for unknown overlap strategy")
	}
}

func TestOverlapPassthroughWhenFits(t *testing.T) {
	p := buildIPv4TCP(t, []byte("short"))
	inst, _ := overlapKind{}.ParseArgs([]atoms.Value{atoms.StrValue(OverlapFavorFirst), atoms.IntValue(1000)})
	out, err := inst.Apply(testCtx(1), carrier.New(p))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.At(0).Packet.Equal(p) {
		t.Error("overlap should pass through a packet that already fits")
	}
}
