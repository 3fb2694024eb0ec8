// Package registry maps modification names (lower-snake) to the kinds that
// parse their arguments and apply them to a carrier, mirroring how the
// upstream orchestrator's scenario registry resolves a scenario name to a
// constructor.
package registry

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/tturner/fracture/internal/atoms"
	"github.com/tturner/fracture/internal/carrier"
	fractureerrors "github.com/tturner/fracture/internal/errors"
	"github.com/tturner/fracture/internal/logging"
)

// ParamSpec describes one positional argument a modification kind accepts.
// Composite marks a parameter whose atom is consumed whole (Atom.Whole())
// rather than expanded (Atom.Enumerate()) during test-plan expansion.
// Optional marks a trailing parameter a descriptor may omit; when omitted,
// the expander substitutes Default (a raw mod_opts token, parsed the same
// way a supplied one would be).
type ParamSpec struct {
	Name        string
	Composite   bool
	Optional    bool
	Default     string
	Description string
}

// ApplyContext carries the per-test collaborators a modification instance
// needs while applying: the test's deterministic RNG, the logger for
// Print/Echo side effects, and a monotonic counter for IP Identification /
// TCP sequence renumbering shared across the whole pipeline invocation.
type ApplyContext struct {
	RNG     *rand.Rand
	Logger  *logging.Logger
	Counter *Counter
	// EchoLog receives Echo's side-channel sentinels, in order.
	EchoLog *[]string
}

// Counter is a monotonically increasing allocator seeded once per pipeline
// run, used by modifications that must hand out fresh IP Identification or
// TCP sequence values.
type Counter struct {
	mu   sync.Mutex
	next uint32
}

// NewCounter seeds the counter at a pseudo-random start derived from seed.
func NewCounter(seed uint64) *Counter {
	r := rand.New(rand.NewSource(int64(seed)))
	return &Counter{next: r.Uint32()}
}

// Next returns the next value and advances the counter.
func (c *Counter) Next() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.next
	c.next++
	return v
}

// Instance is one parsed, ready-to-apply modification.
type Instance interface {
	Apply(ctx *ApplyContext, c *carrier.Carrier) (*carrier.Carrier, error)
	Describe() string
}

// Kind is a registered modification implementation: it knows its own
// parameter shape and can parse a raw mod_opts tuple into an Instance.
type Kind interface {
	Name() string
	Params() []ParamSpec
	Usage() string
	ParseArgs(args []atoms.Value) (Instance, error)
}

// Registry maps modification names to kinds.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{kinds: make(map[string]Kind)}
}

// Register adds a kind under its own Name(). Re-registering an existing
// name overwrites it, matching the upstream scenario registry's behavior
// of last-registration-wins rather than erroring.
func (r *Registry) Register(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.Name()] = k
}

// Lookup resolves a name to its kind, or UnknownModification.
func (r *Registry) Lookup(name string) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[name]
	if !ok {
		return nil, fractureerrors.NewUnknownModification(name)
	}
	return k, nil
}

// List returns every registered name, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kinds))
	for n := range r.kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Usage returns the named kind's usage string, or UnknownModification.
func (r *Registry) Usage(name string) (string, error) {
	k, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return k.Usage(), nil
}

// FormatUsage renders a kind's usage line with its declared parameters, the
// shared fallback used when a Kind doesn't build a richer one itself.
func FormatUsage(k Kind) string {
	s := k.Name()
	for _, p := range k.Params() {
		switch {
		case p.Composite:
			s += fmt.Sprintf(" <%s...>", p.Name)
		case p.Optional:
			s += fmt.Sprintf(" [%s]", p.Name)
		default:
			s += fmt.Sprintf(" <%s>", p.Name)
		}
	}
	if desc := describeParams(k.Params()); desc != "" {
		s += "\n" + desc
	}
	return s
}

func describeParams(params []ParamSpec) string {
	s := ""
	for _, p := range params {
		if p.Description == "" {
			continue
		}
		s += fmt.Sprintf("  %s: %s\n", p.Name, p.Description)
	}
	return s
}
