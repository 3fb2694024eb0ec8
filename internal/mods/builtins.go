package mods

import "github.com/tturner/fracture/internal/registry"

// Builtins returns every built-in modification kind, in registration order.
func Builtins() []registry.Kind {
	return []registry.Kind{
		dropOneKind{},
		dropProbaKind{},
		echoKind{},
		printKind{},
		duplicateKind{},
		reorderKind{},
		selectKind{},
		fragment6Kind{},
		fragment4Kind{},
		segmentKind{},
		overlapKind{},
		delayKind{},
	}
}

// Default builds a registry populated with every built-in kind.
func Default() *registry.Registry {
	r := registry.New()
	for _, k := range Builtins() {
		r.Register(k)
	}
	return r
}
