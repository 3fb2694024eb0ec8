// Package pipeline implements the modification pipeline: a fold_left of
// modification instances over a carrier, with per-modification optional
// downgrade of runtime failures to a logged passthrough.
package pipeline

import (
	"fmt"

	"github.com/tturner/fracture/internal/carrier"
	fractureerrors "github.com/tturner/fracture/internal/errors"
	"github.com/tturner/fracture/internal/registry"
)

// Stage is one modification instance plus its optional flag as declared in
// configuration.
type Stage struct {
	Name     string
	Instance registry.Instance
	Optional bool
}

// Pipeline is an ordered sequence of stages applied left to right.
type Pipeline struct {
	Stages []Stage
}

// Apply runs fold_left(apply_i, c, Stages). It never early-exits on an
// empty carrier: some modifications (Echo) observe zero-length input.
// A non-optional stage's error aborts the fold and is returned wrapped as
// ModificationRuntimeError (test-scoped). An optional stage's error is
// logged and that stage becomes an identity transform.
func (p *Pipeline) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	cur := c
	for _, stage := range p.Stages {
		next, err := applyStage(ctx, stage, cur)
		if err != nil {
			if stage.Optional {
				if ctx.Logger != nil {
					ctx.Logger.Error("modification %q failed (optional, passing through): %v", stage.Name, err)
				}
				continue
			}
			return nil, fractureerrors.NewModificationRuntimeError(stage.Name, err)
		}
		cur = next
	}
	return cur, nil
}

// applyStage recovers from a panicking modification implementation and
// turns it into an error, since apply() contracts are trusted but not
// guaranteed not to panic on malformed packet content.
func applyStage(ctx *registry.ApplyContext, stage Stage, c *carrier.Carrier) (out *carrier.Carrier, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in modification %q: %v", stage.Name, r)
		}
	}()
	return stage.Instance.Apply(ctx, c)
}
