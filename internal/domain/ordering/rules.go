package ordering

import (
	"github.com/shopspring/decimal"

	"github.com/erp/logicengine/internal/domain/rule"
	"github.com/erp/logicengine/internal/domain/schema"
	"github.com/erp/logicengine/internal/engine"
)

// Constraint names
const (
	ConstraintCreditLimit      = "check_credit_limit"
	ConstraintPositiveQuantity = "check_positive_quantity"
)

// Rules registers the derivation chain and invariants:
//
//	item.unit_price ← product.price         (frozen at item creation)
//	item.amount      = quantity × unit_price
//	order.total_amount = Σ item.amount
//	customer.balance   = Σ order.total_amount
//	customer.balance  ≤ customer.credit_limit
//	item.quantity     ≥ 1
func Rules(g *schema.Graph) (*rule.Registry, error) {
	reg := rule.NewRegistry(g)

	if err := reg.AddFormula(rule.Formula{
		Entity: EntityItem,
		Target: "unit_price",
		Reads:  []rule.AttributeRef{{Via: RoleProduct, Attribute: "price"}},
		Compute: func(row rule.RowView) (any, error) {
			return row.Parent(RoleProduct).Decimal("price"), nil
		},
		OnInsertOnly: true,
	}); err != nil {
		return nil, err
	}

	if err := reg.AddFormula(rule.Formula{
		Entity: EntityItem,
		Target: "amount",
		Reads: []rule.AttributeRef{
			{Attribute: "quantity"},
			{Attribute: "unit_price"},
		},
		Compute: func(row rule.RowView) (any, error) {
			qty := decimal.NewFromInt(row.Int("quantity"))
			return qty.Mul(row.Decimal("unit_price")), nil
		},
	}); err != nil {
		return nil, err
	}

	if err := reg.AddAggregate(rule.Aggregate{
		Entity:         EntityOrder,
		Target:         "total_amount",
		Relationship:   RelOrderItems,
		ChildAttribute: "amount",
		Op:             rule.OpSum,
	}); err != nil {
		return nil, err
	}

	if err := reg.AddAggregate(rule.Aggregate{
		Entity:         EntityCustomer,
		Target:         "balance",
		Relationship:   RelCustomerOrders,
		ChildAttribute: "total_amount",
		Op:             rule.OpSum,
	}); err != nil {
		return nil, err
	}

	if err := reg.AddConstraint(rule.Constraint{
		Entity: EntityCustomer,
		Name:   ConstraintCreditLimit,
		Reads: []rule.AttributeRef{
			{Attribute: "balance"},
			{Attribute: "credit_limit"},
		},
		Check: func(row rule.RowView) (bool, error) {
			return row.Decimal("balance").LessThanOrEqual(row.Decimal("credit_limit")), nil
		},
		Message: "customer balance exceeds credit limit",
	}); err != nil {
		return nil, err
	}

	if err := reg.AddConstraint(rule.Constraint{
		Entity: EntityItem,
		Name:   ConstraintPositiveQuantity,
		Reads:  []rule.AttributeRef{{Attribute: "quantity"}},
		Check: func(row rule.RowView) (bool, error) {
			return row.Int("quantity") >= 1, nil
		},
		Message: "item quantity must be at least 1",
	}); err != nil {
		return nil, err
	}

	return reg, nil
}

// NewEngine wires the ordering graph and rules to a store.
func NewEngine(store engine.Store, opts ...engine.Option) (*engine.Engine, error) {
	g, err := Graph()
	if err != nil {
		return nil, err
	}
	reg, err := Rules(g)
	if err != nil {
		return nil, err
	}
	return engine.New(reg, store, opts...)
}
