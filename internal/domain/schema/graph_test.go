package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/logicengine/internal/domain/shared"
)

func validBuilder() *Builder {
	b := NewBuilder()
	b.Entity("customer",
		Attribute{Name: "name", Type: TypeString},
		Attribute{Name: "balance", Type: TypeDecimal, Derived: true},
	)
	b.Entity("order",
		Attribute{Name: "customer_id", Type: TypeRef},
		Attribute{Name: "total_amount", Type: TypeDecimal, Derived: true},
	)
	b.Relate(Relationship{
		Name:       "OrderList",
		Parent:     "customer",
		Child:      "order",
		ParentRole: "customer",
		ForeignKey: "customer_id",
	})
	return b
}

func TestBuilder_Build(t *testing.T) {
	g, err := validBuilder().Build()
	require.NoError(t, err)

	assert.Len(t, g.Entities(), 2)

	customer, ok := g.Entity("customer")
	require.True(t, ok)
	attr, ok := customer.Attribute("balance")
	require.True(t, ok)
	assert.True(t, attr.Derived)
	assert.Equal(t, TypeDecimal, attr.Type)

	rel, ok := g.ChildRelationship("customer", "OrderList")
	require.True(t, ok)
	assert.Equal(t, "order", rel.Child)
	assert.Equal(t, "customer_id", rel.ForeignKey)

	back, ok := g.ParentRelationship("order", "customer")
	require.True(t, ok)
	assert.Equal(t, rel, back)

	_, ok = g.ChildRelationship("order", "OrderList")
	assert.False(t, ok)
}

func TestBuilder_Build_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
		code  string
	}{
		{
			name: "duplicate entity",
			build: func() *Builder {
				b := validBuilder()
				b.Entity("customer", Attribute{Name: "name", Type: TypeString})
				return b
			},
			code: shared.SchemaDuplicateName,
		},
		{
			name: "duplicate attribute",
			build: func() *Builder {
				b := NewBuilder()
				b.Entity("product",
					Attribute{Name: "price", Type: TypeDecimal},
					Attribute{Name: "price", Type: TypeDecimal},
				)
				return b
			},
			code: shared.SchemaDuplicateName,
		},
		{
			name: "reserved attribute name",
			build: func() *Builder {
				b := NewBuilder()
				b.Entity("product", Attribute{Name: "id", Type: TypeRef})
				return b
			},
			code: shared.SchemaUnknownAttribute,
		},
		{
			name: "unknown parent entity",
			build: func() *Builder {
				b := validBuilder()
				b.Relate(Relationship{Name: "X", Parent: "nope", Child: "order", ParentRole: "x", ForeignKey: "customer_id"})
				return b
			},
			code: shared.SchemaUnknownEntity,
		},
		{
			name: "dangling foreign key",
			build: func() *Builder {
				b := validBuilder()
				b.Relate(Relationship{Name: "Other", Parent: "customer", Child: "order", ParentRole: "other", ForeignKey: "missing_id"})
				return b
			},
			code: shared.SchemaInvalidForeignKey,
		},
		{
			name: "foreign key not a REF",
			build: func() *Builder {
				b := NewBuilder()
				b.Entity("parent", Attribute{Name: "name", Type: TypeString})
				b.Entity("child", Attribute{Name: "parent_id", Type: TypeString})
				b.Relate(Relationship{Name: "Kids", Parent: "parent", Child: "child", ParentRole: "parent", ForeignKey: "parent_id"})
				return b
			},
			code: shared.SchemaInvalidForeignKey,
		},
		{
			name: "duplicate child-list role",
			build: func() *Builder {
				b := validBuilder()
				b.Relate(Relationship{Name: "OrderList", Parent: "customer", Child: "order", ParentRole: "other", ForeignKey: "customer_id"})
				return b
			},
			code: shared.SchemaDuplicateName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Build()
			require.Error(t, err)
			var schemaErr *shared.SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tt.code, schemaErr.Code)
		})
	}
}
