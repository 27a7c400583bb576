// Package resource binds a persisted model and a validation schema to a set of
// RPC actions, and dispatches wire requests to them.
package resource

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/morezero/resource-rpc/pkg/action"
	"github.com/morezero/resource-rpc/pkg/events"
	"github.com/morezero/resource-rpc/pkg/filter"
	"github.com/morezero/resource-rpc/pkg/schema"
)

// DefaultVersion is used when a definition does not declare one.
const DefaultVersion = "1.0.0"

// Definition is the immutable configuration of one resource. It is built once
// with Define and shared by every dispatch.
type Definition struct {
	name      string
	version   *semver.Version
	schema    schema.Validator
	filters   []filter.Spec
	policy    filter.Policy
	actions   *action.Registry
	mutations map[string]events.ChangeKind
}

func (d *Definition) Name() string { return d.name }
func (d *Definition) Version() *semver.Version { return d.version }
func (d *Definition) Schema() schema.Validator { return d.schema }
func (d *Definition) Policy() filter.Policy { return d.policy }
func (d *Definition) Actions() *action.Registry { return d.actions }

// Filters returns a copy of the declared filter specs.
func (d *Definition) Filters() []filter.Spec {
	return append([]filter.Spec(nil), d.filters...)
}

// Builder collects the parts of a Definition.
type Builder struct {
	name      string
	version   string
	schema    schema.Validator
	filters   []filter.Spec
	policy    filter.Policy
	actions   []action.Action
	generated bool
}

// Define starts a resource definition. Generated list/get/create/update/delete
// actions are added unless disabled with NoGenerated; an action registered with
// the same name replaces the generated one.
func Define(name string) *Builder {
	return &Builder{name: name, version: DefaultVersion, generated: true}
}

func (b *Builder) Version(v string) *Builder {
	b.version = v
	return b
}

func (b *Builder) Schema(v schema.Validator) *Builder {
	b.schema = v
	return b
}

func (b *Builder) Filters(specs ...filter.Spec) *Builder {
	b.filters = append(b.filters, specs...)
	return b
}

// Policy sets how wrong-typed filter values are handled. The default is filter.Drop.
func (b *Builder) Policy(p filter.Policy) *Builder {
	b.policy = p
	return b
}

func (b *Builder) Action(a action.Action) *Builder {
	b.actions = append(b.actions, a)
	return b
}

// NoGenerated disables the generated model actions.
func (b *Builder) NoGenerated() *Builder {
	b.generated = false
	return b
}

// Build validates the configuration and returns the Definition.
func (b *Builder) Build() (*Definition, error) {
	if b.name == "" {
		return nil, errors.New("resource: name is required")
	}
	if b.schema == nil {
		return nil, fmt.Errorf("resource: %s has no schema", b.name)
	}
	version, err := semver.NewVersion(b.version)
	if err != nil {
		return nil, fmt.Errorf("resource: %s has invalid version %q: %w", b.name, b.version, err)
	}

	seen := map[string]bool{}
	for _, spec := range b.filters {
		if spec.Field == "" || seen[spec.Field] {
			return nil, fmt.Errorf("resource: %s declares an empty or duplicate filter %q", b.name, spec.Field)
		}
		seen[spec.Field] = true
	}

	def := &Definition{
		name:      b.name,
		version:   version,
		schema:    b.schema,
		filters:   append([]filter.Spec(nil), b.filters...),
		policy:    b.policy,
		actions:   action.NewRegistry(),
		mutations: map[string]events.ChangeKind{},
	}
	for _, a := range b.actions {
		if err := def.actions.Register(a); err != nil {
			return nil, fmt.Errorf("resource: %s: %w", b.name, err)
		}
	}
	if b.generated {
		for _, g := range generatedActions(def) {
			if def.actions.Has(g.action.Name) {
				continue
			}
			if err := def.actions.Register(g.action); err != nil {
				return nil, fmt.Errorf("resource: %s: %w", b.name, err)
			}
			if g.kind != "" {
				def.mutations[g.action.Name] = g.kind
			}
		}
	}
	return def, nil
}

// MustBuild is Build for package-level definitions; it panics on error.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}
