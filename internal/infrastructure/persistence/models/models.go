// Package models holds the GORM persistence models for the order-management
// schema. Row ids are uuids stored as text so the same models work on
// postgres and sqlite. Derived columns (balance, total_amount, unit_price,
// amount) are written exclusively by the propagation engine.
package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CustomerModel maps the customers table
type CustomerModel struct {
	ID          string          `gorm:"primaryKey;size:36"`
	Name        string          `gorm:"not null"`
	Email       *string         `gorm:"index"`
	CreditLimit decimal.Decimal `gorm:"column:credit_limit;type:numeric(18,6);not null"`
	Balance     decimal.Decimal `gorm:"type:numeric(18,6);not null"`
}

// TableName returns the table name for CustomerModel
func (CustomerModel) TableName() string {
	return "customers"
}

// ProductModel maps the products table
type ProductModel struct {
	ID    string          `gorm:"primaryKey;size:36"`
	Name  string          `gorm:"not null"`
	Price decimal.Decimal `gorm:"type:numeric(18,6);not null"`
}

// TableName returns the table name for ProductModel
func (ProductModel) TableName() string {
	return "products"
}

// OrderModel maps the orders table
type OrderModel struct {
	ID          string          `gorm:"primaryKey;size:36"`
	CustomerID  string          `gorm:"column:customer_id;size:36;not null;index"`
	OrderDate   time.Time       `gorm:"column:order_date;not null"`
	Notes       *string
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:numeric(18,6);not null"`
}

// TableName returns the table name for OrderModel
func (OrderModel) TableName() string {
	return "orders"
}

// ItemModel maps the items table
type ItemModel struct {
	ID        string          `gorm:"primaryKey;size:36"`
	OrderID   string          `gorm:"column:order_id;size:36;not null;index"`
	ProductID string          `gorm:"column:product_id;size:36;not null;index"`
	Quantity  int64           `gorm:"not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(18,6);not null"`
	Amount    decimal.Decimal `gorm:"type:numeric(18,6);not null"`
}

// TableName returns the table name for ItemModel
func (ItemModel) TableName() string {
	return "items"
}

// AutoMigrate creates or updates the schema for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&CustomerModel{},
		&ProductModel{},
		&OrderModel{},
		&ItemModel{},
	)
}
