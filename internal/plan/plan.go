// Package plan expands a configuration's input/output modification
// descriptors into the concrete Cartesian product of Test values the
// runtime executes one at a time.
package plan

import (
	"fmt"

	"github.com/tturner/fracture/internal/atoms"
	"github.com/tturner/fracture/internal/config"
	fractureerrors "github.com/tturner/fracture/internal/errors"
	"github.com/tturner/fracture/internal/pipeline"
	"github.com/tturner/fracture/internal/registry"
)

// Test is one fully materialized suite entry.
type Test struct {
	Index  int
	Cmd    string
	Rules  []config.NFRule
	Input  *pipeline.Pipeline
	Output *pipeline.Pipeline
}

// boundMod is a modification descriptor resolved against the registry: its
// kind, per-parameter value lists (length 1 for composite/fixed
// parameters, N for expanding ones), and the descriptor's optional flag.
type boundMod struct {
	name      string
	kind      registry.Kind
	optional  bool
	paramVals [][]atoms.Value // paramVals[p] has len 1 (composite) or N (expanding)
}

// dim is one expansion dimension: a pointer back to which (modification,
// parameter) it drives, and the number of values it ranges over.
type dim struct {
	modIdx   int
	paramIdx int
	card     int
}

// Expander holds a fully resolved, ready-to-materialize plan.
type Expander struct {
	cfg   *config.Config
	mods  []boundMod // input pipeline's mods, then output pipeline's, in order
	nIn   int        // len(cfg.Input), to split mods back into the two pipelines
	dims  []dim
	total int
}

// New resolves every modification descriptor against reg and computes the
// expansion dimensions, without yet materializing any Test.
func New(cfg *config.Config, reg *registry.Registry) (*Expander, error) {
	e := &Expander{cfg: cfg, nIn: len(cfg.Input)}

	all := append(append([]config.ModDescriptor{}, cfg.Input...), cfg.Output...)
	for i, md := range all {
		bm, err := bindMod(md, reg)
		if err != nil {
			return nil, err
		}
		e.mods = append(e.mods, bm)
		for p, vals := range bm.paramVals {
			if bm.kind.Params()[p].Composite {
				continue
			}
			e.dims = append(e.dims, dim{modIdx: i, paramIdx: p, card: len(vals)})
		}
	}

	e.total = 1
	for _, d := range e.dims {
		e.total *= d.card
	}
	if len(e.dims) == 0 {
		e.total = 1
	}
	return e, nil
}

func bindMod(md config.ModDescriptor, reg *registry.Registry) (boundMod, error) {
	kind, err := reg.Lookup(md.ModName)
	if err != nil {
		return boundMod{}, err
	}
	params := kind.Params()
	raws := normalizeModOpts(md.ModOpts, len(params))
	if len(raws) > len(params) {
		return boundMod{}, fractureerrors.NewArgumentError(md.ModName,
			fmt.Errorf("expected at most %d argument(s), got %d", len(params), len(raws)))
	}
	for len(raws) < len(params) {
		p := params[len(raws)]
		if !p.Optional {
			return boundMod{}, fractureerrors.NewArgumentError(md.ModName,
				fmt.Errorf("expected %d argument(s), got %d", len(params), len(raws)))
		}
		raws = append(raws, p.Default)
	}

	bm := boundMod{name: md.ModName, kind: kind, optional: md.Optional, paramVals: make([][]atoms.Value, len(params))}
	for p, raw := range raws {
		atom, err := atoms.ParseModOpt(raw)
		if err != nil {
			return boundMod{}, fractureerrors.NewArgumentError(md.ModName, err)
		}
		if params[p].Composite {
			bm.paramVals[p] = []atoms.Value{atom.Whole()}
		} else {
			bm.paramVals[p] = atom.Enumerate()
		}
	}
	return bm, nil
}

// normalizeModOpts turns the JSON mod_opts value (absent, scalar, or array)
// into a per-parameter raw-token slice. A missing mod_opts on a
// zero-parameter modification yields an empty slice; a bare scalar on a
// one-parameter modification is wrapped.
func normalizeModOpts(raw interface{}, nparams int) []interface{} {
	if raw == nil {
		return nil
	}
	if arr, ok := raw.([]interface{}); ok {
		return arr
	}
	return []interface{}{raw}
}

// Total returns the number of tests the expansion produces.
func (e *Expander) Total() int { return e.total }

// Test materializes the concrete Test for index t (0-based), t < Total().
func (e *Expander) Test(t int) (*Test, error) {
	if t < 0 || t >= e.total {
		return nil, fmt.Errorf("plan: index %d out of range [0,%d)", t, e.total)
	}

	// Mixed-radix decode: dims[0] is slowest-changing (outermost loop).
	chosen := make(map[[2]int]atoms.Value) // (modIdx, paramIdx) -> value
	remaining := t
	divisor := e.total
	for _, d := range e.dims {
		divisor /= d.card
		idx := (remaining / divisor) % d.card
		vals := e.mods[d.modIdx].paramVals[d.paramIdx]
		chosen[[2]int{d.modIdx, d.paramIdx}] = vals[idx]
	}

	stages := make([]pipeline.Stage, len(e.mods))
	for i, bm := range e.mods {
		args := make([]atoms.Value, len(bm.paramVals))
		for p := range bm.paramVals {
			if v, ok := chosen[[2]int{i, p}]; ok {
				args[p] = v
			} else {
				args[p] = bm.paramVals[p][0] // composite: fixed single value
			}
		}
		inst, err := bm.kind.ParseArgs(args)
		if err != nil {
			return nil, fractureerrors.NewArgumentError(bm.name, err)
		}
		stages[i] = pipeline.Stage{Name: bm.name, Instance: inst, Optional: bm.optional}
	}

	return &Test{
		Index:  t,
		Cmd:    e.cfg.Cmd,
		Rules:  e.cfg.NFRules,
		Input:  &pipeline.Pipeline{Stages: stages[:e.nIn]},
		Output: &pipeline.Pipeline{Stages: stages[e.nIn:]},
	}, nil
}

// All materializes every test in order.
func (e *Expander) All() ([]*Test, error) {
	out := make([]*Test, 0, e.total)
	for t := 0; t < e.total; t++ {
		test, err := e.Test(t)
		if err != nil {
			return nil, err
		}
		out = append(out, test)
	}
	return out, nil
}

// CheckConfig exit codes, per the documented external interface.
const (
	ExitOK            = 0
	ExitConfigError   = 1
	ExitUnknownMod    = 2
	ExitArgumentError = 3
)

// CheckConfig validates a configuration by materializing only test 0,
// returning the exit code the checkconfig subcommand should use.
func CheckConfig(cfg *config.Config, reg *registry.Registry) (int, error) {
	all := append(append([]config.ModDescriptor{}, cfg.Input...), cfg.Output...)
	seenQNum := map[int]bool{}
	for _, r := range cfg.NFRules {
		if r.OutputChain {
			if seenQNum[r.QNum] {
				return ExitConfigError, fmt.Errorf("duplicate output qnum %d", r.QNum)
			}
			seenQNum[r.QNum] = true
		}
	}
	for _, md := range all {
		_, err := reg.Lookup(md.ModName)
		if err != nil {
			return ExitUnknownMod, err
		}
	}
	e, err := New(cfg, reg)
	if err != nil {
		var fe fractureerrors.Error
		if asFractureError(err, &fe) && fe.Kind == fractureerrors.KindArgument {
			return ExitArgumentError, err
		}
		return ExitUnknownMod, err
	}
	// Materialize one representative tuple to catch argument-shape errors
	// (e.g. a string value bound to an integer parameter) that atom
	// parsing alone does not surface.
	if _, err := e.Test(0); err != nil {
		var fe fractureerrors.Error
		if asFractureError(err, &fe) && fe.Kind == fractureerrors.KindArgument {
			return ExitArgumentError, err
		}
		return ExitConfigError, err
	}
	return ExitOK, nil
}

func asFractureError(err error, target *fractureerrors.Error) bool {
	fe, ok := err.(fractureerrors.Error)
	if !ok {
		return false
	}
	*target = fe
	return true
}
