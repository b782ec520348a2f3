package resource

import (
	"fmt"
	"slices"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"basegraph.app/materializer/internal/model"
	"basegraph.app/materializer/internal/store"
)

// Definition is everything the pipeline knows about one resource type: where
// its roots live, which upstream tables feed it, and how to build it.
type Definition struct {
	Type      model.ResourceType
	RootTable string
	// RootFilter narrows which rows of RootTable are roots. It refers to the
	// root table as "r".
	RootFilter   sq.Sqlizer
	Dependencies []Dependency
	Builder      Builder
}

// RootSpec is the anti-join input for reconciliation.
func (d Definition) RootSpec() store.RootSpec {
	return store.RootSpec{
		ResourceType: d.Type,
		Table:        d.RootTable,
		Filter:       d.RootFilter,
	}
}

// Binding pairs a resource type with one of its dependencies.
type Binding struct {
	Type       model.ResourceType
	Dependency Dependency
}

type Registry struct {
	defs    map[model.ResourceType]Definition
	order   []model.ResourceType
	byTable map[string][]Binding
	byKind  map[string]model.ResourceType
}

func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{
		defs:    make(map[model.ResourceType]Definition),
		byTable: make(map[string][]Binding),
		byKind:  make(map[string]model.ResourceType),
	}
	for _, def := range defs {
		r.Register(def)
	}
	return r
}

// Register adds def. It panics on malformed or duplicate definitions, which
// only happens at startup.
func (r *Registry) Register(def Definition) {
	if def.Type == "" || def.RootTable == "" || def.Builder == nil {
		panic(fmt.Sprintf("resource: incomplete definition for %q", def.Type))
	}
	if _, dup := r.defs[def.Type]; dup {
		panic(fmt.Sprintf("resource: %s registered twice", def.Type))
	}

	seen := make(map[string]bool, len(def.Dependencies))
	for _, dep := range def.Dependencies {
		if dep.Table == "" || dep.FanOut == nil {
			panic(fmt.Sprintf("resource: %s has an incomplete dependency", def.Type))
		}
		if seen[dep.Table] {
			panic(fmt.Sprintf("resource: %s depends on %s twice", def.Type, dep.Table))
		}
		seen[dep.Table] = true
	}
	if !seen[def.RootTable] {
		panic(fmt.Sprintf("resource: %s does not depend on its root table %s", def.Type, def.RootTable))
	}

	r.defs[def.Type] = def
	r.order = append(r.order, def.Type)
	r.byKind[strings.ToLower(string(def.Type))] = def.Type
	for _, dep := range def.Dependencies {
		r.byTable[dep.Table] = append(r.byTable[dep.Table], Binding{Type: def.Type, Dependency: dep})
	}
}

func (r *Registry) Get(t model.ResourceType) (Definition, bool) {
	def, ok := r.defs[t]
	return def, ok
}

// Types returns the registered types in registration order.
func (r *Registry) Types() []model.ResourceType {
	return slices.Clone(r.order)
}

func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, t := range r.order {
		defs = append(defs, r.defs[t])
	}
	return defs
}

// DependentsOf returns every resource type that reads table, directly or
// through a join.
func (r *Registry) DependentsOf(table string) []Binding {
	return slices.Clone(r.byTable[table])
}

// TypeForKind maps the lower-cased kind used in upstream references back to
// a resource type.
func (r *Registry) TypeForKind(kind string) (model.ResourceType, bool) {
	t, ok := r.byKind[kind]
	return t, ok
}
