// Package schema describes the static entity graph: entity types, their
// attributes, and parent/child relationships. The graph is built once at
// startup and is read-only afterwards; any inconsistency in the declaration
// is a fatal SchemaError at Build time, never a runtime error.
package schema

import (
	"fmt"

	"github.com/erp/logicengine/internal/domain/shared"
)

// AttrType is the semantic type of an attribute
type AttrType string

const (
	TypeString  AttrType = "STRING"
	TypeInteger AttrType = "INTEGER"
	TypeDecimal AttrType = "DECIMAL" // fixed-point currency
	TypeTime    AttrType = "TIME"
	TypeRef     AttrType = "REF" // foreign key to another row's id
)

// Attribute describes one attribute of an entity type. Every entity
// additionally has an implicit uuid primary key named "id" that is not
// listed among its attributes.
type Attribute struct {
	Name     string
	Type     AttrType
	Nullable bool
	// Derived marks an attribute as engine-owned: its value is always
	// produced by a formula or aggregate rule and is never writable by
	// external callers.
	Derived bool
}

// Relationship is a parent/child edge between two entity types. Name is the
// child-list role as seen from the parent (e.g. Customer "OrderList");
// ParentRole is how a child row names its parent (e.g. Order "customer").
// ForeignKey is the attribute on the child holding the parent id.
type Relationship struct {
	Name       string
	Parent     string
	Child      string
	ParentRole string
	ForeignKey string
}

// Entity is one entity type with its attributes in declaration order.
type Entity struct {
	Name  string
	attrs []Attribute
	index map[string]int
}

// Attributes returns the attributes in declaration order.
func (e *Entity) Attributes() []Attribute {
	return e.attrs
}

// Attribute looks up an attribute by name.
func (e *Entity) Attribute(name string) (Attribute, bool) {
	i, ok := e.index[name]
	if !ok {
		return Attribute{}, false
	}
	return e.attrs[i], true
}

// Graph is the immutable entity graph.
type Graph struct {
	entities []*Entity
	byName   map[string]*Entity
	rels     []Relationship
}

// Entities returns all entity types in declaration order.
func (g *Graph) Entities() []*Entity {
	return g.entities
}

// Entity looks up an entity type by name.
func (g *Graph) Entity(name string) (*Entity, bool) {
	e, ok := g.byName[name]
	return e, ok
}

// Relationships returns all relationships in declaration order.
func (g *Graph) Relationships() []Relationship {
	return g.rels
}

// ChildRelationship resolves a child-list role on a parent entity.
func (g *Graph) ChildRelationship(parent, name string) (Relationship, bool) {
	for _, r := range g.rels {
		if r.Parent == parent && r.Name == name {
			return r, true
		}
	}
	return Relationship{}, false
}

// ParentRelationship resolves a parent role on a child entity.
func (g *Graph) ParentRelationship(child, role string) (Relationship, bool) {
	for _, r := range g.rels {
		if r.Child == child && r.ParentRole == role {
			return r, true
		}
	}
	return Relationship{}, false
}

// ParentsOf returns the relationships in which the given entity is the child.
func (g *Graph) ParentsOf(child string) []Relationship {
	var out []Relationship
	for _, r := range g.rels {
		if r.Child == child {
			out = append(out, r)
		}
	}
	return out
}

// Builder accumulates entity and relationship declarations. Declaration
// order is preserved; it drives tie-breaking in the evaluation order.
type Builder struct {
	entities []*Entity
	rels     []Relationship
}

// NewBuilder creates an empty schema builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Entity declares an entity type with its attributes.
func (b *Builder) Entity(name string, attrs ...Attribute) *Builder {
	e := &Entity{Name: name, attrs: attrs, index: make(map[string]int, len(attrs))}
	for i, a := range attrs {
		e.index[a.Name] = i
	}
	b.entities = append(b.entities, e)
	return b
}

// Relate declares a parent/child relationship.
func (b *Builder) Relate(rel Relationship) *Builder {
	b.rels = append(b.rels, rel)
	return b
}

// Build validates the declarations and returns the immutable graph.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{byName: make(map[string]*Entity, len(b.entities))}
	for _, e := range b.entities {
		if e.Name == "" {
			return nil, shared.NewSchemaError(shared.SchemaUnknownEntity, "entity with empty name")
		}
		if _, dup := g.byName[e.Name]; dup {
			return nil, shared.NewSchemaError(shared.SchemaDuplicateName, "entity %q declared twice", e.Name)
		}
		seen := make(map[string]bool, len(e.attrs))
		for _, a := range e.attrs {
			if a.Name == "" || a.Name == "id" {
				return nil, shared.NewSchemaError(shared.SchemaUnknownAttribute, "entity %q: invalid attribute name %q", e.Name, a.Name)
			}
			if seen[a.Name] {
				return nil, shared.NewSchemaError(shared.SchemaDuplicateName, "entity %q: attribute %q declared twice", e.Name, a.Name)
			}
			seen[a.Name] = true
		}
		g.byName[e.Name] = e
		g.entities = append(g.entities, e)
	}

	roleSeen := make(map[string]bool)
	for _, r := range b.rels {
		if _, ok := g.byName[r.Parent]; !ok {
			return nil, shared.NewSchemaError(shared.SchemaUnknownEntity, "relationship %q: unknown parent entity %q", r.Name, r.Parent)
		}
		child, ok := g.byName[r.Child]
		if !ok {
			return nil, shared.NewSchemaError(shared.SchemaUnknownEntity, "relationship %q: unknown child entity %q", r.Name, r.Child)
		}
		if r.Name == "" || r.ParentRole == "" {
			return nil, shared.NewSchemaError(shared.SchemaUnknownRelationship, "relationship between %q and %q: missing role name", r.Parent, r.Child)
		}
		fk, ok := child.Attribute(r.ForeignKey)
		if !ok {
			return nil, shared.NewSchemaError(shared.SchemaInvalidForeignKey, "relationship %q: child %q has no attribute %q", r.Name, r.Child, r.ForeignKey)
		}
		if fk.Type != TypeRef || fk.Derived {
			return nil, shared.NewSchemaError(shared.SchemaInvalidForeignKey, "relationship %q: foreign key %s.%s must be a non-derived REF attribute", r.Name, r.Child, r.ForeignKey)
		}
		childKey := fmt.Sprintf("%s>%s", r.Parent, r.Name)
		if roleSeen[childKey] {
			return nil, shared.NewSchemaError(shared.SchemaDuplicateName, "child-list role %q declared twice on %q", r.Name, r.Parent)
		}
		parentKey := fmt.Sprintf("%s<%s", r.Child, r.ParentRole)
		if roleSeen[parentKey] {
			return nil, shared.NewSchemaError(shared.SchemaDuplicateName, "parent role %q declared twice on %q", r.ParentRole, r.Child)
		}
		roleSeen[childKey] = true
		roleSeen[parentKey] = true
		g.rels = append(g.rels, r)
	}
	return g, nil
}
