// Package rule holds the declarative derivation and constraint rules that
// drive the propagation engine. Rules are data: each carries an explicit
// list of the attributes it reads, which is what allows the dependency
// graph to be built statically instead of by reflection at runtime.
package rule

import (
	"time"

	"github.com/shopspring/decimal"
)

// AggregateOp is the operation an aggregate rule applies over a child set
type AggregateOp string

const (
	OpSum   AggregateOp = "SUM"
	OpCount AggregateOp = "COUNT"
)

// IsValid checks if the op is a supported AggregateOp
func (op AggregateOp) IsValid() bool {
	return op == OpSum || op == OpCount
}

// AttributeRef names one attribute read by a rule: an attribute of the
// rule's own row when Via is empty, or of a parent row reached through the
// named parent role otherwise.
type AttributeRef struct {
	Via       string
	Attribute string
}

// RowView is the read surface handed to formula and constraint functions.
// Typed accessors return the type's zero value for null attributes.
type RowView interface {
	Get(attribute string) any
	Decimal(attribute string) decimal.Decimal
	Int(attribute string) int64
	String(attribute string) string
	Time(attribute string) time.Time
	// Parent resolves a parent row through the named parent role. A null
	// or dangling foreign key yields a view whose accessors all return
	// zero values.
	Parent(role string) RowView
}

// Formula derives Target on rows of Entity from the attributes named in
// Reads. Compute must read exactly what Reads declares; the dependency
// graph is built from Reads, so an undeclared read would silently miss
// recomputation triggers.
type Formula struct {
	Entity  string
	Target  string
	Reads   []AttributeRef
	Compute func(row RowView) (any, error)
	// OnInsertOnly freezes the value at row creation: the formula fires
	// when the row is inserted and is skipped for later changes to its
	// sources (copy semantics, e.g. a price snapshot on an order item).
	OnInsertOnly bool
}

// Aggregate derives Target on rows of Entity by folding ChildAttribute over
// the child set of the named child-list relationship. ChildAttribute is
// ignored for OpCount.
type Aggregate struct {
	Entity         string
	Target         string
	Relationship   string
	ChildAttribute string
	Op             AggregateOp
}

// Constraint is a named invariant over one row of Entity (plus parent-
// reachable attributes). Check returns false when the invariant is
// violated; a violation aborts the whole transaction.
type Constraint struct {
	Entity  string
	Name    string
	Reads   []AttributeRef
	Check   func(row RowView) (bool, error)
	Message string
}
