package placeholder

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Registry maps placeholder names to definitions. Reads are lock-free;
// registration copies the table under a mutex and is expected to happen
// before the tick loop starts.
type Registry struct {
	mu     sync.Mutex
	table  atomic.Pointer[map[string]Definition]
	sealed atomic.Bool
}

func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]Definition)
	r.table.Store(&empty)
	return r
}

// Register adds a placeholder. Names are unique; re-registering a name is
// rejected with ErrDuplicateName.
func (r *Registry) Register(name string, requiredArgs int, builder Builder) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return fmt.Errorf("placeholder: %w: empty name", ErrInvalidDefinition)
	case strings.ContainsAny(name, "[]:,"):
		return fmt.Errorf("placeholder: %w: name %q contains reserved characters", ErrInvalidDefinition, name)
	case requiredArgs < 0:
		return fmt.Errorf("placeholder: %w: %q has negative argument count", ErrInvalidDefinition, name)
	case builder == nil:
		return fmt.Errorf("placeholder: %w: %q has no builder", ErrInvalidDefinition, name)
	}
	if r.sealed.Load() {
		return fmt.Errorf("placeholder: %w: cannot register %q", ErrRegistrySealed, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	current := *r.table.Load()
	if _, exists := current[name]; exists {
		return fmt.Errorf("placeholder: %w: %q", ErrDuplicateName, name)
	}
	next := make(map[string]Definition, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[name] = Definition{Name: name, RequiredArgs: requiredArgs, Builder: builder}
	r.table.Store(&next)
	return nil
}

// MustRegister panics on registration failure. Useful for tests and for
// built-in tables that are known to be valid.
func (r *Registry) MustRegister(name string, requiredArgs int, builder Builder) {
	if err := r.Register(name, requiredArgs, builder); err != nil {
		panic(err)
	}
}

// Seal rejects further registrations.
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	def, ok := (*r.table.Load())[name]
	return def, ok
}

// Resolve looks a placeholder up and checks the argument count.
func (r *Registry) Resolve(name string, args Args) (Definition, error) {
	def, ok := r.Lookup(name)
	if !ok {
		return Definition{}, fmt.Errorf("placeholder: %w: %q", ErrUnknownPlaceholder, name)
	}
	if len(args) != def.RequiredArgs {
		return Definition{}, &ArityError{Name: name, Want: def.RequiredArgs, Got: len(args)}
	}
	return def, nil
}

// Names lists registered placeholders in sorted order.
func (r *Registry) Names() []string {
	table := *r.table.Load()
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Binding is a resolved reference: a definition plus its arguments.
type Binding struct {
	Def  Definition
	Args Args
	key  string
}

// Key identifies the binding inside a cycle.
func (b Binding) Key() string { return b.key }

// Bind resolves a reference expression. Literal expressions cannot be bound.
func (r *Registry) Bind(expr Expr) (Binding, error) {
	if !expr.IsRef() {
		return Binding{}, fmt.Errorf("placeholder: %w: %q is a literal", ErrInvalidDefinition, expr.String())
	}
	def, err := r.Resolve(expr.Name(), expr.Args())
	if err != nil {
		return Binding{}, err
	}
	return Binding{Def: def, Args: expr.Args(), key: expr.Key()}, nil
}
