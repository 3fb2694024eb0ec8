package pipeline

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/tturner/fracture/internal/carrier"
	fractureerrors "github.com/tturner/fracture/internal/errors"
	"github.com/tturner/fracture/internal/packet"
	"github.com/tturner/fracture/internal/registry"
)

type identityInstance struct{ name string }

func (i identityInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	return c, nil
}
func (i identityInstance) Describe() string { return i.name }

type failingInstance struct{ name string }

func (f failingInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	return nil, fmt.Errorf("boom in %s", f.name)
}
func (f failingInstance) Describe() string { return f.name }

func testCarrier() *carrier.Carrier {
	return carrier.New(packet.New([]byte{1, 2, 3}))
}

func testCtx() *registry.ApplyContext {
	log := []string{}
	return &registry.ApplyContext{RNG: rand.New(rand.NewSource(1)), Counter: registry.NewCounter(1), EchoLog: &log}
}

func TestApplyIdentityChain(t *testing.T) {
	p := &Pipeline{Stages: []Stage{
		{Name: "a", Instance: identityInstance{"a"}},
		{Name: "b", Instance: identityInstance{"b"}},
	}}
	c := testCarrier()
	out, err := p.Apply(testCtx(), c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Equal(c) {
		t.Error("identity chain should not change the carrier")
	}
}

func TestApplyEmptyCarrierRunsAllStages(t *testing.T) {
	ran := false
	p := &Pipeline{Stages: []Stage{
		{Name: "observer", Instance: observerInstance{&ran}},
	}}
	_, err := p.Apply(testCtx(), carrier.Empty())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !ran {
		t.Error("stage should run even on an empty carrier")
	}
}

type observerInstance struct{ ran *bool }

func (o observerInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	*o.ran = true
	return c, nil
}
func (o observerInstance) Describe() string { return "observer" }

func TestApplyNonOptionalFailurePropagates(t *testing.T) {
	p := &Pipeline{Stages: []Stage{{Name: "bad", Instance: failingInstance{"bad"}}}}
	_, err := p.Apply(testCtx(), testCarrier())
	if err == nil {
		t.Fatal("expected error")
	}
	var fe fractureerrors.Error
	if !errors.As(err, &fe) || fe.Kind != fractureerrors.KindModificationRuntime {
		t.Errorf("error = %v, want ModificationRuntimeError", err)
	}
}

func TestApplyOptionalFailureDowngradesToPassthrough(t *testing.T) {
	c := testCarrier()
	p := &Pipeline{Stages: []Stage{
		{Name: "bad", Instance: failingInstance{"bad"}, Optional: true},
	}}
	out, err := p.Apply(testCtx(), c)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Equal(c) {
		t.Error("optional failure should leave the carrier unchanged")
	}
}

type panicInstance struct{}

func (panicInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	panic("unexpected")
}
func (panicInstance) Describe() string { return "panic" }

func TestApplyRecoversPanic(t *testing.T) {
	p := &Pipeline{Stages: []Stage{{Name: "panicker", Instance: panicInstance{}}}}
	_, err := p.Apply(testCtx(), testCarrier())
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
}
