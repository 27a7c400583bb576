package action

import (
	"errors"
	"fmt"
	"slices"

	"github.com/morezero/resource-rpc/pkg/rpcerror"
)

// Registry maps action names to actions. It is filled once while a resource is
// defined and only read afterwards, so concurrent Resolve calls need no locking.
type Registry struct {
	actions map[string]Action
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: map[string]Action{}}
}

// Register adds a. Names are unique.
func (r *Registry) Register(a Action) error {
	if a.Name == "" {
		return errors.New("action: name is required")
	}
	if a.direct == nil && a.lazy == nil {
		return fmt.Errorf("action: %s has no handler", a.Name)
	}
	if _, exists := r.actions[a.Name]; exists {
		return fmt.Errorf("action: %s is already registered", a.Name)
	}
	r.actions[a.Name] = a
	r.order = append(r.order, a.Name)
	return nil
}

// Resolve returns the named action or an ACTION_NOT_FOUND error.
func (r *Registry) Resolve(name string) (Action, error) {
	a, ok := r.actions[name]
	if !ok {
		return Action{}, rpcerror.ActionNotFound(name)
	}
	return a, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.actions[name]
	return ok
}

// Names lists the registered actions in registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	return len(r.order)
}
