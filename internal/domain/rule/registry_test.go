package rule

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/logicengine/internal/domain/schema"
	"github.com/erp/logicengine/internal/domain/shared"
)

func testGraph(t *testing.T) *schema.Graph {
	b := schema.NewBuilder()
	b.Entity("order",
		schema.Attribute{Name: "total_amount", Type: schema.TypeDecimal, Derived: true},
		schema.Attribute{Name: "item_count", Type: schema.TypeInteger, Derived: true},
	)
	b.Entity("item",
		schema.Attribute{Name: "order_id", Type: schema.TypeRef},
		schema.Attribute{Name: "quantity", Type: schema.TypeInteger},
		schema.Attribute{Name: "amount", Type: schema.TypeDecimal, Derived: true},
	)
	b.Relate(schema.Relationship{
		Name:       "ItemList",
		Parent:     "order",
		Child:      "item",
		ParentRole: "order",
		ForeignKey: "order_id",
	})
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func amountFormula() Formula {
	return Formula{
		Entity: "item",
		Target: "amount",
		Reads:  []AttributeRef{{Attribute: "quantity"}},
		Compute: func(row RowView) (any, error) {
			return decimal.NewFromInt(row.Int("quantity")), nil
		},
	}
}

func TestRegistry_AddFormula(t *testing.T) {
	reg := NewRegistry(testGraph(t))
	require.NoError(t, reg.AddFormula(amountFormula()))
	assert.Len(t, reg.Formulas(), 1)
}

func TestRegistry_AddFormula_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Formula)
		code   string
	}{
		{"unknown entity", func(f *Formula) { f.Entity = "nope" }, shared.SchemaUnknownEntity},
		{"unknown target", func(f *Formula) { f.Target = "nope" }, shared.SchemaUnknownAttribute},
		{"target is a base fact", func(f *Formula) { f.Target = "quantity" }, shared.SchemaTargetNotDerived},
		{"unknown read", func(f *Formula) { f.Reads = []AttributeRef{{Attribute: "nope"}} }, shared.SchemaUnknownAttribute},
		{"unknown parent role", func(f *Formula) { f.Reads = []AttributeRef{{Via: "nope", Attribute: "total_amount"}} }, shared.SchemaUnknownRelationship},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(testGraph(t))
			f := amountFormula()
			tt.mutate(&f)
			err := reg.AddFormula(f)
			require.Error(t, err)
			var schemaErr *shared.SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tt.code, schemaErr.Code)
		})
	}
}

func TestRegistry_OneProducerPerAttribute(t *testing.T) {
	reg := NewRegistry(testGraph(t))
	require.NoError(t, reg.AddFormula(amountFormula()))

	err := reg.AddFormula(amountFormula())
	require.Error(t, err)
	var schemaErr *shared.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, shared.SchemaDuplicateProducer, schemaErr.Code)

	// An aggregate targeting the same attribute is rejected too.
	require.NoError(t, reg.AddAggregate(Aggregate{
		Entity:         "order",
		Target:         "total_amount",
		Relationship:   "ItemList",
		ChildAttribute: "amount",
		Op:             OpSum,
	}))
	err = reg.AddAggregate(Aggregate{
		Entity:         "order",
		Target:         "total_amount",
		Relationship:   "ItemList",
		ChildAttribute: "amount",
		Op:             OpSum,
	})
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, shared.SchemaDuplicateProducer, schemaErr.Code)
}

func TestRegistry_AddAggregate(t *testing.T) {
	reg := NewRegistry(testGraph(t))
	require.NoError(t, reg.AddAggregate(Aggregate{
		Entity:       "order",
		Target:       "item_count",
		Relationship: "ItemList",
		Op:           OpCount,
	}))

	t.Run("unknown relationship", func(t *testing.T) {
		reg := NewRegistry(testGraph(t))
		err := reg.AddAggregate(Aggregate{
			Entity:         "order",
			Target:         "total_amount",
			Relationship:   "Nope",
			ChildAttribute: "amount",
			Op:             OpSum,
		})
		var schemaErr *shared.SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, shared.SchemaUnknownRelationship, schemaErr.Code)
	})

	t.Run("unknown child attribute", func(t *testing.T) {
		reg := NewRegistry(testGraph(t))
		err := reg.AddAggregate(Aggregate{
			Entity:         "order",
			Target:         "total_amount",
			Relationship:   "ItemList",
			ChildAttribute: "nope",
			Op:             OpSum,
		})
		var schemaErr *shared.SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, shared.SchemaUnknownAttribute, schemaErr.Code)
	})

	t.Run("invalid op", func(t *testing.T) {
		reg := NewRegistry(testGraph(t))
		err := reg.AddAggregate(Aggregate{
			Entity:         "order",
			Target:         "total_amount",
			Relationship:   "ItemList",
			ChildAttribute: "amount",
			Op:             AggregateOp("AVG"),
		})
		require.Error(t, err)
	})
}

func TestRegistry_AddConstraint(t *testing.T) {
	check := func(row RowView) (bool, error) { return row.Int("quantity") >= 1, nil }

	reg := NewRegistry(testGraph(t))
	require.NoError(t, reg.AddConstraint(Constraint{
		Entity:  "item",
		Name:    "positive_quantity",
		Reads:   []AttributeRef{{Attribute: "quantity"}},
		Check:   check,
		Message: "quantity must be positive",
	}))

	t.Run("duplicate name", func(t *testing.T) {
		err := reg.AddConstraint(Constraint{
			Entity: "item",
			Name:   "positive_quantity",
			Check:  check,
		})
		var schemaErr *shared.SchemaError
		require.ErrorAs(t, err, &schemaErr)
		assert.Equal(t, shared.SchemaDuplicateName, schemaErr.Code)
	})

	t.Run("missing name", func(t *testing.T) {
		err := reg.AddConstraint(Constraint{Entity: "item", Check: check})
		require.Error(t, err)
	})

	t.Run("registration order retained", func(t *testing.T) {
		require.NoError(t, reg.AddConstraint(Constraint{
			Entity: "item",
			Name:   "second",
			Check:  check,
		}))
		constraints := reg.Constraints()
		require.Len(t, constraints, 2)
		assert.Equal(t, "positive_quantity", constraints[0].Name)
		assert.Equal(t, "second", constraints[1].Name)
	})
}
