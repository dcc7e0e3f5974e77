package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/logicengine/internal/domain/rule"
	"github.com/erp/logicengine/internal/domain/schema"
	"github.com/erp/logicengine/internal/domain/shared"
)

// chainGraph is a two-level parent/child schema with a formula feeding an
// aggregate feeding another aggregate, mirroring the item → order →
// customer derivation chain.
func chainGraph(t *testing.T) *schema.Graph {
	b := schema.NewBuilder()
	b.Entity("customer",
		schema.Attribute{Name: "credit_limit", Type: schema.TypeDecimal},
		schema.Attribute{Name: "balance", Type: schema.TypeDecimal, Derived: true},
	)
	b.Entity("order",
		schema.Attribute{Name: "customer_id", Type: schema.TypeRef},
		schema.Attribute{Name: "total_amount", Type: schema.TypeDecimal, Derived: true},
	)
	b.Entity("item",
		schema.Attribute{Name: "order_id", Type: schema.TypeRef},
		schema.Attribute{Name: "quantity", Type: schema.TypeInteger},
		schema.Attribute{Name: "unit_price", Type: schema.TypeDecimal},
		schema.Attribute{Name: "amount", Type: schema.TypeDecimal, Derived: true},
	)
	b.Relate(schema.Relationship{Name: "OrderList", Parent: "customer", Child: "order", ParentRole: "customer", ForeignKey: "customer_id"})
	b.Relate(schema.Relationship{Name: "ItemList", Parent: "order", Child: "item", ParentRole: "order", ForeignKey: "order_id"})
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func chainRules(t *testing.T, g *schema.Graph) *rule.Registry {
	reg := rule.NewRegistry(g)
	require.NoError(t, reg.AddFormula(rule.Formula{
		Entity: "item",
		Target: "amount",
		Reads:  []rule.AttributeRef{{Attribute: "quantity"}, {Attribute: "unit_price"}},
		Compute: func(row rule.RowView) (any, error) {
			return decimal.NewFromInt(row.Int("quantity")).Mul(row.Decimal("unit_price")), nil
		},
	}))
	require.NoError(t, reg.AddAggregate(rule.Aggregate{
		Entity: "order", Target: "total_amount", Relationship: "ItemList", ChildAttribute: "amount", Op: rule.OpSum,
	}))
	require.NoError(t, reg.AddAggregate(rule.Aggregate{
		Entity: "customer", Target: "balance", Relationship: "OrderList", ChildAttribute: "total_amount", Op: rule.OpSum,
	}))
	return reg
}

func position(t *testing.T, r *resolver, entity, attribute string) int {
	for i, n := range r.order {
		if n.entity == entity && n.attribute == attribute {
			return i
		}
	}
	t.Fatalf("node %s.%s not in evaluation order", entity, attribute)
	return -1
}

func TestResolver_EvaluationOrder(t *testing.T) {
	g := chainGraph(t)
	r, err := newResolver(g, chainRules(t, g))
	require.NoError(t, err)

	// Sources precede targets along every edge of the chain.
	assert.Less(t, position(t, r, "item", "quantity"), position(t, r, "item", "amount"))
	assert.Less(t, position(t, r, "item", "unit_price"), position(t, r, "item", "amount"))
	assert.Less(t, position(t, r, "item", "amount"), position(t, r, "order", "total_amount"))
	assert.Less(t, position(t, r, "order", "total_amount"), position(t, r, "customer", "balance"))
}

func TestResolver_OrderIsDeterministic(t *testing.T) {
	g := chainGraph(t)
	first, err := newResolver(g, chainRules(t, g))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		next, err := newResolver(g, chainRules(t, g))
		require.NoError(t, err)
		assert.Equal(t, first.order, next.order)
	}
}

func TestResolver_EdgeHops(t *testing.T) {
	g := chainGraph(t)
	r, err := newResolver(g, chainRules(t, g))
	require.NoError(t, err)

	edges := r.dependents(attrNode{entity: "item", attribute: "amount"})
	require.Len(t, edges, 1)
	assert.Equal(t, hopToParent, edges[0].hop)
	assert.Equal(t, attrNode{entity: "order", attribute: "total_amount"}, edges[0].target)

	edges = r.dependents(attrNode{entity: "item", attribute: "quantity"})
	require.Len(t, edges, 1)
	assert.Equal(t, hopSelf, edges[0].hop)
}

func TestResolver_CycleIsFatal(t *testing.T) {
	b := schema.NewBuilder()
	b.Entity("node",
		schema.Attribute{Name: "a", Type: schema.TypeDecimal, Derived: true},
		schema.Attribute{Name: "b", Type: schema.TypeDecimal, Derived: true},
	)
	g, err := b.Build()
	require.NoError(t, err)

	reg := rule.NewRegistry(g)
	identity := func(attr string) func(rule.RowView) (any, error) {
		return func(row rule.RowView) (any, error) { return row.Decimal(attr), nil }
	}
	require.NoError(t, reg.AddFormula(rule.Formula{
		Entity: "node", Target: "a", Reads: []rule.AttributeRef{{Attribute: "b"}}, Compute: identity("b"),
	}))
	require.NoError(t, reg.AddFormula(rule.Formula{
		Entity: "node", Target: "b", Reads: []rule.AttributeRef{{Attribute: "a"}}, Compute: identity("a"),
	}))

	_, err = newResolver(g, reg)
	require.Error(t, err)
	var schemaErr *shared.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, shared.SchemaDependencyCycle, schemaErr.Code)
	assert.Contains(t, schemaErr.Message, "node.a")
	assert.Contains(t, schemaErr.Message, "node.b")
}
