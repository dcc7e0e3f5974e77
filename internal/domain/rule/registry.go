package rule

import (
	"fmt"

	"github.com/erp/logicengine/internal/domain/schema"
	"github.com/erp/logicengine/internal/domain/shared"
)

// Registry validates and holds the rule set for one entity graph.
// Registration order is preserved: it breaks ties in the evaluation order
// and fixes the order in which constraints are checked.
type Registry struct {
	graph       *schema.Graph
	formulas    []Formula
	aggregates  []Aggregate
	constraints []Constraint
	producers   map[string]string // "entity.attr" -> producing rule description
	names       map[string]bool   // constraint names
}

// NewRegistry creates an empty registry bound to the given graph.
func NewRegistry(g *schema.Graph) *Registry {
	return &Registry{
		graph:     g,
		producers: make(map[string]string),
		names:     make(map[string]bool),
	}
}

// Graph returns the entity graph this registry is bound to.
func (r *Registry) Graph() *schema.Graph {
	return r.graph
}

// Formulas returns all formula rules in registration order.
func (r *Registry) Formulas() []Formula {
	return r.formulas
}

// Aggregates returns all aggregate rules in registration order.
func (r *Registry) Aggregates() []Aggregate {
	return r.aggregates
}

// Constraints returns all constraint rules in registration order.
func (r *Registry) Constraints() []Constraint {
	return r.constraints
}

// AddFormula registers a formula rule.
func (r *Registry) AddFormula(f Formula) error {
	if f.Compute == nil {
		return shared.NewSchemaError(shared.SchemaUnknownAttribute, "formula for %s.%s has no compute function", f.Entity, f.Target)
	}
	if err := r.checkTarget(f.Entity, f.Target, fmt.Sprintf("formula %s.%s", f.Entity, f.Target)); err != nil {
		return err
	}
	for _, ref := range f.Reads {
		if err := r.checkRef(f.Entity, ref); err != nil {
			return err
		}
	}
	r.formulas = append(r.formulas, f)
	return nil
}

// AddAggregate registers an aggregate rule.
func (r *Registry) AddAggregate(a Aggregate) error {
	if !a.Op.IsValid() {
		return shared.NewSchemaError(shared.SchemaUnknownAttribute, "aggregate %s.%s: unsupported op %q", a.Entity, a.Target, a.Op)
	}
	if err := r.checkTarget(a.Entity, a.Target, fmt.Sprintf("aggregate %s.%s", a.Entity, a.Target)); err != nil {
		return err
	}
	rel, ok := r.graph.ChildRelationship(a.Entity, a.Relationship)
	if !ok {
		return shared.NewSchemaError(shared.SchemaUnknownRelationship, "aggregate %s.%s: entity has no child relationship %q", a.Entity, a.Target, a.Relationship)
	}
	if a.Op == OpSum {
		child, _ := r.graph.Entity(rel.Child)
		if _, ok := child.Attribute(a.ChildAttribute); !ok {
			return shared.NewSchemaError(shared.SchemaUnknownAttribute, "aggregate %s.%s: child %q has no attribute %q", a.Entity, a.Target, rel.Child, a.ChildAttribute)
		}
	}
	r.aggregates = append(r.aggregates, a)
	return nil
}

// AddConstraint registers a constraint rule.
func (r *Registry) AddConstraint(c Constraint) error {
	if c.Name == "" || c.Check == nil {
		return shared.NewSchemaError(shared.SchemaUnknownAttribute, "constraint on %q must have a name and a check function", c.Entity)
	}
	if r.names[c.Name] {
		return shared.NewSchemaError(shared.SchemaDuplicateName, "constraint %q declared twice", c.Name)
	}
	if _, ok := r.graph.Entity(c.Entity); !ok {
		return shared.NewSchemaError(shared.SchemaUnknownEntity, "constraint %q: unknown entity %q", c.Name, c.Entity)
	}
	for _, ref := range c.Reads {
		if err := r.checkRef(c.Entity, ref); err != nil {
			return err
		}
	}
	r.names[c.Name] = true
	r.constraints = append(r.constraints, c)
	return nil
}

// checkTarget validates a producer target and enforces the one-producer-per-
// attribute determinism requirement.
func (r *Registry) checkTarget(entity, target, producer string) error {
	e, ok := r.graph.Entity(entity)
	if !ok {
		return shared.NewSchemaError(shared.SchemaUnknownEntity, "%s: unknown entity %q", producer, entity)
	}
	attr, ok := e.Attribute(target)
	if !ok {
		return shared.NewSchemaError(shared.SchemaUnknownAttribute, "%s: entity has no attribute %q", producer, target)
	}
	if !attr.Derived {
		return shared.NewSchemaError(shared.SchemaTargetNotDerived, "%s: target attribute is a base fact, not derived", producer)
	}
	key := entity + "." + target
	if prev, dup := r.producers[key]; dup {
		return shared.NewSchemaError(shared.SchemaDuplicateProducer, "%s: attribute already produced by %s", producer, prev)
	}
	r.producers[key] = producer
	return nil
}

// checkRef validates one attribute reference against the graph.
func (r *Registry) checkRef(entity string, ref AttributeRef) error {
	target := entity
	if ref.Via != "" {
		rel, ok := r.graph.ParentRelationship(entity, ref.Via)
		if !ok {
			return shared.NewSchemaError(shared.SchemaUnknownRelationship, "entity %q has no parent role %q", entity, ref.Via)
		}
		target = rel.Parent
	}
	e, _ := r.graph.Entity(target)
	if _, ok := e.Attribute(ref.Attribute); !ok {
		return shared.NewSchemaError(shared.SchemaUnknownAttribute, "entity %q has no attribute %q", target, ref.Attribute)
	}
	return nil
}
