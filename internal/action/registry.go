package action

import (
	"errors"
	"fmt"
	"sort"
)

var ErrDescriptorNil = errors.New("action: descriptor is nil")

// Registry stores action descriptors by name. It is built once at startup,
// frozen, and then shared read-only.
type Registry struct {
	items  map[string]Descriptor
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Descriptor)}
}

// Register adds d. A second descriptor with the same name is rejected.
func (r *Registry) Register(d Descriptor) error {
	if d == nil {
		return ErrDescriptorNil
	}
	if r.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrRegistryFrozen, d.Name())
	}
	name := d.Name()
	if err := ValidateName(name); err != nil {
		return err
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateAction, name)
	}
	r.items[name] = d
	return nil
}

// MustRegister registers every descriptor and panics on conflict. Use it in
// startup wiring where a conflict is fatal to the process.
func (r *Registry) MustRegister(ds ...Descriptor) *Registry {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() *Registry {
	r.frozen = true
	return r
}

func (r *Registry) Frozen() bool {
	return r.frozen
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.items[name]
	return d, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	return len(r.items)
}
