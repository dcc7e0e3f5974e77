package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/logicengine/internal/domain/rule"
)

// rowView adapts one transaction-local row to the rule.RowView read surface.
// Parent hops resolve lazily through the transaction cache.
type rowView struct {
	t      *Tx
	ctx    context.Context
	entity string
	id     uuid.UUID
	row    Row
}

// view builds a RowView over the current transaction-local state of a row.
func (t *Tx) view(ctx context.Context, entity string, id uuid.UUID) (rule.RowView, error) {
	row, err := t.readRow(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	return &rowView{t: t, ctx: ctx, entity: entity, id: id, row: row}, nil
}

func (v *rowView) Get(attribute string) any {
	return v.row[attribute]
}

func (v *rowView) Decimal(attribute string) decimal.Decimal {
	return asDecimal(v.row[attribute])
}

func (v *rowView) Int(attribute string) int64 {
	if n, ok := v.row[attribute].(int64); ok {
		return n
	}
	return 0
}

func (v *rowView) String(attribute string) string {
	if s, ok := v.row[attribute].(string); ok {
		return s
	}
	return ""
}

func (v *rowView) Time(attribute string) time.Time {
	if ts, ok := v.row[attribute].(time.Time); ok {
		return ts
	}
	return time.Time{}
}

// Parent resolves the parent row through the named role. A null or dangling
// foreign key yields a zero-valued view so rule functions stay branch-free;
// mandatory foreign keys make that case unreachable in a valid schema.
func (v *rowView) Parent(role string) rule.RowView {
	rel, ok := v.t.e.graph.ParentRelationship(v.entity, role)
	if !ok {
		return emptyView{}
	}
	parentID, ok := v.row[rel.ForeignKey].(uuid.UUID)
	if !ok {
		return emptyView{}
	}
	pv, err := v.t.view(v.ctx, rel.Parent, parentID)
	if err != nil {
		return emptyView{}
	}
	return pv
}

// emptyView is the RowView of a missing row: every accessor returns its
// zero value.
type emptyView struct{}

func (emptyView) Get(string) any                 { return nil }
func (emptyView) Decimal(string) decimal.Decimal { return decimal.Zero }
func (emptyView) Int(string) int64               { return 0 }
func (emptyView) String(string) string           { return "" }
func (emptyView) Time(string) time.Time          { return time.Time{} }
func (emptyView) Parent(string) rule.RowView     { return emptyView{} }
