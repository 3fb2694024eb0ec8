// Package mods implements the built-in modification kinds named in the
// modification registry: index/probability-driven carrier reshaping
// (DropOne, DropProba, Duplicate, Reorder, Select, Delay), tracing sentinels
// (Echo, Print), and header-rewriting transforms (Fragment6, Fragment4,
// Segment, Overlap) in fragment6.go, fragment4.go, segment.go, overlap.go.
package mods

import (
	"fmt"
	"strconv"

	"github.com/tturner/fracture/internal/atoms"
	"github.com/tturner/fracture/internal/carrier"
	"github.com/tturner/fracture/internal/registry"
)

// dropOneKind implements DropOne(i): removes the entry at index i mod n.
type dropOneKind struct{}

func (dropOneKind) Name() string { return "drop_one" }
func (dropOneKind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{{Name: "index", Description: "entry index to drop, wraps modulo carrier length"}}
}
func (k dropOneKind) Usage() string { return registry.FormatUsage(k) }
func (dropOneKind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	idx, err := requireInt(args, 0, "drop_one")
	if err != nil {
		return nil, err
	}
	return dropOneInstance{index: idx}, nil
}

type dropOneInstance struct{ index int64 }

func (d dropOneInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	if c.Len() == 0 {
		return c, nil
	}
	i := int(((d.index % int64(c.Len())) + int64(c.Len())) % int64(c.Len()))
	out := c.Copy()
	if err := out.Remove(i); err != nil {
		return nil, err
	}
	return out, nil
}
func (d dropOneInstance) Describe() string { return fmt.Sprintf("drop_one(%d)", d.index) }

// dropProbaKind implements DropProba(p): each entry survives independently
// with probability 1-p.
type dropProbaKind struct{}

func (dropProbaKind) Name() string { return "drop_proba" }
func (dropProbaKind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{{Name: "probability", Description: "drop probability in [0,1], e.g. \"0.3\""}}
}
func (k dropProbaKind) Usage() string { return registry.FormatUsage(k) }
func (dropProbaKind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("drop_proba expects exactly one argument")
	}
	p, err := strconv.ParseFloat(args[0].String(), 64)
	if err != nil {
		return nil, fmt.Errorf("drop_proba: probability must be a decimal, got %q: %w", args[0].String(), err)
	}
	if p < 0 || p > 1 {
		return nil, fmt.Errorf("drop_proba: probability %v out of range [0,1]", p)
	}
	return dropProbaInstance{p: p}, nil
}

type dropProbaInstance struct{ p float64 }

func (d dropProbaInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	out := carrier.Empty()
	for i := 0; i < c.Len(); i++ {
		if ctx.RNG.Float64() < d.p {
			continue
		}
		out.Append(c.At(i))
	}
	return out, nil
}
func (d dropProbaInstance) Describe() string { return fmt.Sprintf("drop_proba(%v)", d.p) }

// echoKind implements Echo(s): appends s to the run's side-channel trace log
// without touching the carrier.
type echoKind struct{}

func (echoKind) Name() string { return "echo" }
func (echoKind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{{Name: "message", Description: "sentinel string recorded to the trace log"}}
}
func (k echoKind) Usage() string { return registry.FormatUsage(k) }
func (echoKind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("echo expects exactly one argument")
	}
	return echoInstance{msg: args[0].String()}, nil
}

type echoInstance struct{ msg string }

func (e echoInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	if ctx.EchoLog != nil {
		*ctx.EchoLog = append(*ctx.EchoLog, e.msg)
	}
	if ctx.Logger != nil {
		ctx.Logger.Verbose("echo: %s", e.msg)
	}
	return c, nil
}
func (e echoInstance) Describe() string { return fmt.Sprintf("echo(%q)", e.msg) }

// printKind implements Print: logs a human dump of every entry, unchanged.
type printKind struct{}

func (printKind) Name() string                 { return "print" }
func (printKind) Params() []registry.ParamSpec { return nil }
func (k printKind) Usage() string              { return registry.FormatUsage(k) }
func (printKind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	if len(args) != 0 {
		return nil, fmt.Errorf("print takes no arguments")
	}
	return printInstance{}, nil
}

type printInstance struct{}

func (printInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	if ctx.Logger == nil {
		return c, nil
	}
	for i := 0; i < c.Len(); i++ {
		e := c.At(i)
		ctx.Logger.Info("packet[%d] delay=%dms len=%d", i, e.DelayMs, e.Packet.Len())
	}
	return c, nil
}
func (printInstance) Describe() string { return "print()" }

// duplicateKind implements Duplicate(spec): spec is an index, "random", or
// "all".
type duplicateKind struct{}

func (duplicateKind) Name() string { return "duplicate" }
func (duplicateKind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{{Name: "spec", Description: "entry index, \"random\", or \"all\""}}
}
func (k duplicateKind) Usage() string { return registry.FormatUsage(k) }
func (duplicateKind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("duplicate expects exactly one argument")
	}
	v := args[0]
	if v.IsInt {
		return duplicateInstance{index: &v.Int}, nil
	}
	switch v.Str {
	case "random", "all":
		return duplicateInstance{mode: v.Str}, nil
	default:
		return nil, fmt.Errorf("duplicate: spec must be an int, \"random\", or \"all\", got %q", v.Str)
	}
}

type duplicateInstance struct {
	index *int64
	mode  string
}

func (d duplicateInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	if c.Len() == 0 {
		return c, nil
	}
	if d.mode == "all" {
		out := carrier.Empty()
		for i := 0; i < c.Len(); i++ {
			out.Append(c.At(i))
			out.Append(c.At(i))
		}
		return out, nil
	}
	idx := 0
	switch {
	case d.mode == "random":
		idx = ctx.RNG.Intn(c.Len())
	case d.index != nil:
		idx = int(((*d.index % int64(c.Len())) + int64(c.Len())) % int64(c.Len()))
	}
	out := c.Copy()
	if err := out.Insert(idx+1, out.At(idx)); err != nil {
		return nil, err
	}
	return out, nil
}
func (d duplicateInstance) Describe() string {
	if d.index != nil {
		return fmt.Sprintf("duplicate(%d)", *d.index)
	}
	return fmt.Sprintf("duplicate(%s)", d.mode)
}

// reorderKind implements Reorder(spec): "random" or an explicit permutation
// of [0..n). The permutation is a composite parameter: consumed whole, not
// expanded across separate tests.
type reorderKind struct{}

func (reorderKind) Name() string { return "reorder" }
func (reorderKind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{{Name: "spec", Composite: true, Description: "\"random\" or a permutation of entry indices"}}
}
func (k reorderKind) Usage() string { return registry.FormatUsage(k) }
func (reorderKind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("reorder expects exactly one argument")
	}
	v := args[0]
	if v.IsList {
		return reorderInstance{perm: v.Ints}, nil
	}
	if v.Str == "random" {
		return reorderInstance{random: true}, nil
	}
	return nil, fmt.Errorf("reorder: spec must be \"random\" or a seq_int permutation, got %q", v.Str)
}

type reorderInstance struct {
	random bool
	perm   []int64
}

func (r reorderInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	n := c.Len()
	perm := r.perm
	if r.random {
		perm = make([]int64, n)
		for i := range perm {
			perm[i] = int64(i)
		}
		ctx.RNG.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	}
	if len(perm) != n {
		return nil, fmt.Errorf("reorder: permutation length %d does not match carrier length %d", len(perm), n)
	}
	out := carrier.Empty()
	for _, idx := range perm {
		if idx < 0 || int(idx) >= n {
			return nil, fmt.Errorf("reorder: index %d out of range [0,%d)", idx, n)
		}
		out.Append(c.At(int(idx)))
	}
	return out, nil
}
func (r reorderInstance) Describe() string {
	if r.random {
		return "reorder(random)"
	}
	return fmt.Sprintf("reorder(%v)", r.perm)
}

// selectKind implements Select(indices): keeps entries at the given indices,
// in the order listed. Composite: the index list is one argument.
type selectKind struct{}

func (selectKind) Name() string { return "select" }
func (selectKind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{{Name: "indices", Composite: true, Description: "entry indices to keep, in output order"}}
}
func (k selectKind) Usage() string { return registry.FormatUsage(k) }
func (selectKind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	if len(args) != 1 || !args[0].IsList {
		return nil, fmt.Errorf("select expects one seq_int argument")
	}
	return selectInstance{indices: args[0].Ints}, nil
}

type selectInstance struct{ indices []int64 }

func (s selectInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	out := carrier.Empty()
	for _, idx := range s.indices {
		if idx < 0 || int(idx) >= c.Len() {
			return nil, fmt.Errorf("select: index %d out of range [0,%d)", idx, c.Len())
		}
		out.Append(c.At(int(idx)))
	}
	return out, nil
}
func (s selectInstance) Describe() string { return fmt.Sprintf("select(%v)", s.indices) }

// delayKind implements Delay(ms, spec): sets the delay of selected entries
// (the wait before each is re-injected), spec an index or "all".
type delayKind struct{}

func (delayKind) Name() string { return "delay" }
func (delayKind) Params() []registry.ParamSpec {
	return []registry.ParamSpec{
		{Name: "ms", Description: "delay in milliseconds"},
		{Name: "spec", Description: "entry index or \"all\""},
	}
}
func (k delayKind) Usage() string { return registry.FormatUsage(k) }
func (delayKind) ParseArgs(args []atoms.Value) (registry.Instance, error) {
	ms, err := requireInt(args, 0, "delay")
	if err != nil {
		return nil, err
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("delay expects exactly two arguments")
	}
	v := args[1]
	if v.IsInt {
		return delayInstance{ms: ms, index: &v.Int}, nil
	}
	if v.Str == "all" {
		return delayInstance{ms: ms, all: true}, nil
	}
	return nil, fmt.Errorf("delay: spec must be an int index or \"all\", got %q", v.Str)
}

type delayInstance struct {
	ms    int64
	all   bool
	index *int64
}

func (d delayInstance) Apply(ctx *registry.ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error) {
	out := c.Copy()
	if d.all {
		for i := 0; i < out.Len(); i++ {
			e := out.At(i)
			e.DelayMs = int(d.ms)
			if err := out.Replace(i, e); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	if out.Len() == 0 {
		return out, nil
	}
	i := int(((*d.index % int64(out.Len())) + int64(out.Len())) % int64(out.Len()))
	e := out.At(i)
	e.DelayMs = int(d.ms)
	if err := out.Replace(i, e); err != nil {
		return nil, err
	}
	return out, nil
}
func (d delayInstance) Describe() string {
	if d.all {
		return fmt.Sprintf("delay(%d, all)", d.ms)
	}
	return fmt.Sprintf("delay(%d, %d)", d.ms, *d.index)
}

func requireInt(args []atoms.Value, pos int, mod string) (int64, error) {
	if pos >= len(args) {
		return 0, fmt.Errorf("%s: missing argument at position %d", mod, pos)
	}
	if !args[pos].IsInt {
		return 0, fmt.Errorf("%s: argument at position %d must be an integer, got %q", mod, pos, args[pos].String())
	}
	return args[pos].Int, nil
}
