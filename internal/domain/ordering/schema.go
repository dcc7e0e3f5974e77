// Package ordering declares the order-management entity graph and its
// derivation rules: customers with a derived outstanding balance, products
// with an authoritative price, orders whose total is summed from their
// items, and items that snapshot the product price at creation time.
package ordering

import (
	"github.com/erp/logicengine/internal/domain/schema"
)

// Entity names
const (
	EntityCustomer = "customer"
	EntityProduct  = "product"
	EntityOrder    = "order"
	EntityItem     = "item"
)

// Relationship roles. The child-list names follow the upstream schema
// (OrderList, ItemList); parent roles are the singular entity names.
const (
	RelCustomerOrders = "OrderList"
	RelOrderItems     = "ItemList"
	RelProductItems   = "ItemList"

	RoleCustomer = "customer"
	RoleOrder    = "order"
	RoleProduct  = "product"
)

// Graph builds the order-management entity graph. Derived attributes
// (balance, total_amount, unit_price, amount) are engine-owned; only base
// facts are externally writable.
func Graph() (*schema.Graph, error) {
	b := schema.NewBuilder()

	b.Entity(EntityCustomer,
		schema.Attribute{Name: "name", Type: schema.TypeString},
		schema.Attribute{Name: "email", Type: schema.TypeString, Nullable: true},
		schema.Attribute{Name: "credit_limit", Type: schema.TypeDecimal},
		schema.Attribute{Name: "balance", Type: schema.TypeDecimal, Derived: true},
	)
	b.Entity(EntityProduct,
		schema.Attribute{Name: "name", Type: schema.TypeString},
		schema.Attribute{Name: "price", Type: schema.TypeDecimal},
	)
	b.Entity(EntityOrder,
		schema.Attribute{Name: "customer_id", Type: schema.TypeRef},
		schema.Attribute{Name: "order_date", Type: schema.TypeTime},
		schema.Attribute{Name: "notes", Type: schema.TypeString, Nullable: true},
		schema.Attribute{Name: "total_amount", Type: schema.TypeDecimal, Derived: true},
	)
	b.Entity(EntityItem,
		schema.Attribute{Name: "order_id", Type: schema.TypeRef},
		schema.Attribute{Name: "product_id", Type: schema.TypeRef},
		schema.Attribute{Name: "quantity", Type: schema.TypeInteger},
		schema.Attribute{Name: "unit_price", Type: schema.TypeDecimal, Derived: true},
		schema.Attribute{Name: "amount", Type: schema.TypeDecimal, Derived: true},
	)

	b.Relate(schema.Relationship{
		Name:       RelCustomerOrders,
		Parent:     EntityCustomer,
		Child:      EntityOrder,
		ParentRole: RoleCustomer,
		ForeignKey: "customer_id",
	})
	b.Relate(schema.Relationship{
		Name:       RelOrderItems,
		Parent:     EntityOrder,
		Child:      EntityItem,
		ParentRole: RoleOrder,
		ForeignKey: "order_id",
	})
	b.Relate(schema.Relationship{
		Name:       RelProductItems,
		Parent:     EntityProduct,
		Child:      EntityItem,
		ParentRole: RoleProduct,
		ForeignKey: "product_id",
	})

	return b.Build()
}
