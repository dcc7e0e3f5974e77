// Package ordering wraps the propagation engine with the order-management
// use cases: customer and product upkeep, order placement, and line-item
// edits. Each method builds one change-set, runs it through a single engine
// transaction, and surfaces constraint violations to the caller unchanged.
package ordering

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domain "github.com/erp/logicengine/internal/domain/ordering"
	"github.com/erp/logicengine/internal/engine"
)

// Service exposes order-management mutations backed by the engine.
type Service struct {
	engine *engine.Engine
	log    *zap.Logger
}

// NewService creates an ordering service.
func NewService(e *engine.Engine, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{engine: e, log: log.Named("ordering")}
}

// OrderLine is one requested line of a new order.
type OrderLine struct {
	ProductID uuid.UUID
	Quantity  int64
}

// CreateCustomer registers a customer with the given credit limit.
func (s *Service) CreateCustomer(ctx context.Context, name, email string, creditLimit decimal.Decimal) (uuid.UUID, error) {
	id := uuid.New()
	values := engine.Row{
		"name":         name,
		"credit_limit": creditLimit,
	}
	if email != "" {
		values["email"] = email
	}
	if err := s.run(ctx, engine.Change{Entity: domain.EntityCustomer, ID: id, Kind: engine.Insert, Values: values}); err != nil {
		return uuid.Nil, err
	}
	s.log.Info("customer created", zap.String("customer_id", id.String()))
	return id, nil
}

// UpdateCreditLimit changes a customer's credit limit. Lowering the limit
// below the current balance rejects the change.
func (s *Service) UpdateCreditLimit(ctx context.Context, customerID uuid.UUID, limit decimal.Decimal) error {
	return s.run(ctx, engine.Change{
		Entity: domain.EntityCustomer,
		ID:     customerID,
		Kind:   engine.Update,
		Values: engine.Row{"credit_limit": limit},
	})
}

// CreateProduct registers a product with its authoritative price.
func (s *Service) CreateProduct(ctx context.Context, name string, price decimal.Decimal) (uuid.UUID, error) {
	id := uuid.New()
	err := s.run(ctx, engine.Change{
		Entity: domain.EntityProduct,
		ID:     id,
		Kind:   engine.Insert,
		Values: engine.Row{"name": name, "price": price},
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.log.Info("product created", zap.String("product_id", id.String()))
	return id, nil
}

// ChangePrice updates a product's price. Existing order items keep the
// price snapshot taken when they were created.
func (s *Service) ChangePrice(ctx context.Context, productID uuid.UUID, price decimal.Decimal) error {
	return s.run(ctx, engine.Change{
		Entity: domain.EntityProduct,
		ID:     productID,
		Kind:   engine.Update,
		Values: engine.Row{"price": price},
	})
}

// PlaceOrder creates an order and its items in one transaction. If the
// resulting balance would exceed the customer's credit limit, nothing is
// applied.
func (s *Service) PlaceOrder(ctx context.Context, customerID uuid.UUID, orderDate time.Time, notes string, lines []OrderLine) (uuid.UUID, error) {
	tx, err := s.engine.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	orderID := uuid.New()
	values := engine.Row{
		"customer_id": customerID,
		"order_date":  orderDate,
	}
	if notes != "" {
		values["notes"] = notes
	}
	if err := tx.Submit(engine.Change{Entity: domain.EntityOrder, ID: orderID, Kind: engine.Insert, Values: values}); err != nil {
		return uuid.Nil, s.abort(tx, err)
	}
	for _, line := range lines {
		item := engine.Change{
			Entity: domain.EntityItem,
			ID:     uuid.New(),
			Kind:   engine.Insert,
			Values: engine.Row{
				"order_id":   orderID,
				"product_id": line.ProductID,
				"quantity":   line.Quantity,
			},
		}
		if err := tx.Submit(item); err != nil {
			return uuid.Nil, s.abort(tx, err)
		}
	}
	if _, err := tx.EvaluateAndCommit(ctx); err != nil {
		s.log.Info("order rejected", zap.String("customer_id", customerID.String()), zap.Error(err))
		return uuid.Nil, err
	}
	s.log.Info("order placed",
		zap.String("order_id", orderID.String()),
		zap.String("customer_id", customerID.String()),
		zap.Int("lines", len(lines)),
	)
	return orderID, nil
}

// AddItem appends a line item to an existing order.
func (s *Service) AddItem(ctx context.Context, orderID, productID uuid.UUID, quantity int64) (uuid.UUID, error) {
	id := uuid.New()
	err := s.run(ctx, engine.Change{
		Entity: domain.EntityItem,
		ID:     id,
		Kind:   engine.Insert,
		Values: engine.Row{
			"order_id":   orderID,
			"product_id": productID,
			"quantity":   quantity,
		},
	})
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ChangeItemQuantity updates a line item's quantity.
func (s *Service) ChangeItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int64) error {
	return s.run(ctx, engine.Change{
		Entity: domain.EntityItem,
		ID:     itemID,
		Kind:   engine.Update,
		Values: engine.Row{"quantity": quantity},
	})
}

// RemoveItem deletes a line item; the order total and customer balance
// follow.
func (s *Service) RemoveItem(ctx context.Context, itemID uuid.UUID) error {
	return s.run(ctx, engine.Change{Entity: domain.EntityItem, ID: itemID, Kind: engine.Delete})
}

// DeleteOrder deletes an order and all of its items in one transaction.
func (s *Service) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	tx, err := s.engine.Begin(ctx)
	if err != nil {
		return err
	}
	items, err := tx.Children(ctx, domain.EntityOrder, orderID, domain.RelOrderItems)
	if err != nil {
		return s.abort(tx, err)
	}
	for _, itemID := range items {
		if err := tx.Submit(engine.Change{Entity: domain.EntityItem, ID: itemID, Kind: engine.Delete}); err != nil {
			return s.abort(tx, err)
		}
	}
	if err := tx.Submit(engine.Change{Entity: domain.EntityOrder, ID: orderID, Kind: engine.Delete}); err != nil {
		return s.abort(tx, err)
	}
	if _, err := tx.EvaluateAndCommit(ctx); err != nil {
		return err
	}
	s.log.Info("order deleted", zap.String("order_id", orderID.String()), zap.Int("items", len(items)))
	return nil
}

// run executes a single-event transaction.
func (s *Service) run(ctx context.Context, c engine.Change) error {
	tx, err := s.engine.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.Submit(c); err != nil {
		return s.abort(tx, err)
	}
	_, err = tx.EvaluateAndCommit(ctx)
	return err
}

// abort rolls back after a submission error and returns the original error.
func (s *Service) abort(tx *engine.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		s.log.Warn("rollback failed", zap.Error(rbErr))
	}
	return err
}
