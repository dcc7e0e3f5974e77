package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erp/logicengine/internal/domain/rule"
	"github.com/erp/logicengine/internal/domain/schema"
	"github.com/erp/logicengine/internal/domain/shared"
)

// ChangeKind classifies a row-level event
type ChangeKind string

const (
	Insert ChangeKind = "INSERT"
	Update ChangeKind = "UPDATE"
	Delete ChangeKind = "DELETE"
)

// IsValid checks if the kind is a valid ChangeKind
func (k ChangeKind) IsValid() bool {
	return k == Insert || k == Update || k == Delete
}

// Change is one row-level event submitted by the caller. Values carries
// base-fact attributes only; derived attributes are engine-owned.
type Change struct {
	Entity string
	ID     uuid.UUID
	Kind   ChangeKind
	Values Row
}

// RowRef identifies one row settled by a transaction.
type RowRef struct {
	Entity string
	ID     uuid.UUID
}

// txState is the per-transaction state machine position
type txState string

const (
	stateCollecting  txState = "COLLECTING"
	statePropagating txState = "PROPAGATING"
	stateSettled     txState = "SETTLED"
	stateRejected    txState = "REJECTED"
)

// rowState tracks what happened to a touched row within the transaction.
type rowState struct {
	inserted bool
	deleted  bool
}

// Tx is one logical transaction: an ordered log of base-fact events, the
// storage transaction they apply to, and the dirty-attribute bookkeeping of
// the propagation walk. A Tx is not safe for concurrent use; propagation is
// deliberately a sequential walk of the dependency order.
type Tx struct {
	e     *Engine
	st    StoreTx
	id    uuid.UUID
	state txState

	events     []Change
	dirty      map[attrNode]map[uuid.UUID]struct{}
	touched    map[string]map[uuid.UUID]*rowState
	cache      map[string]Row
	recomputes int
	log        *zap.Logger
}

// Submit queues a row-level event while the transaction is collecting.
// Values are validated against the entity graph: unknown attributes and
// writes to derived attributes are rejected here, before anything reaches
// the store.
func (t *Tx) Submit(c Change) error {
	if t.state != stateCollecting {
		return shared.ErrInvalidState
	}
	ent, ok := t.e.graph.Entity(c.Entity)
	if !ok {
		return shared.NewDomainError("UNKNOWN_ENTITY", fmt.Sprintf("unknown entity %q", c.Entity))
	}
	if c.ID == uuid.Nil {
		return shared.NewDomainError("INVALID_INPUT", "change must carry a row id")
	}
	if !c.Kind.IsValid() {
		return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("unknown change kind %q", c.Kind))
	}
	if c.Kind != Delete {
		normalized := make(Row, len(c.Values))
		for name, v := range c.Values {
			attr, ok := ent.Attribute(name)
			if !ok {
				return shared.NewDomainError("UNKNOWN_ATTRIBUTE", fmt.Sprintf("%s has no attribute %q", c.Entity, name))
			}
			if attr.Derived {
				return shared.ErrDerivedAttribute
			}
			cv, err := coerceValue(c.Entity, attr, v)
			if err != nil {
				return err
			}
			normalized[name] = cv
		}
		c.Values = normalized
	}
	t.events = append(t.events, c)
	return nil
}

// Row reads the transaction-local state of a row.
func (t *Tx) Row(ctx context.Context, entity string, id uuid.UUID) (Row, error) {
	row, err := t.readRow(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	return row.Clone(), nil
}

// Children reads the transaction-local child set of a relationship, for
// callers that cascade deletes themselves.
func (t *Tx) Children(ctx context.Context, entity string, id uuid.UUID, relationship string) ([]uuid.UUID, error) {
	return t.st.ReadChildren(ctx, entity, id, relationship)
}

// Rollback aborts the transaction and discards every row mutation. Aborting
// mid-propagation is equivalent to a rejection: no partial effects remain.
func (t *Tx) Rollback() error {
	if t.state == stateSettled {
		return shared.ErrInvalidState
	}
	t.state = stateRejected
	return t.st.Rollback()
}

// EvaluateAndCommit applies the collected events to the store, propagates
// derived attributes in dependency order, checks every constraint against
// the fully-propagated rows, and commits. Any failure rolls the storage
// transaction back in full; partial application is never visible.
func (t *Tx) EvaluateAndCommit(ctx context.Context) ([]RowRef, error) {
	if t.state != stateCollecting {
		return nil, shared.ErrInvalidState
	}
	t.state = statePropagating

	if err := t.applyEvents(ctx); err != nil {
		return nil, t.reject(err)
	}
	if err := t.walk(ctx); err != nil {
		return nil, t.reject(err)
	}
	t.state = stateSettled

	if err := t.checkInvariants(ctx); err != nil {
		return nil, t.reject(err)
	}
	if err := t.st.Commit(); err != nil {
		t.state = stateRejected
		return nil, err
	}

	refs := t.settledRefs()
	t.log.Debug("transaction settled",
		zap.Int("events", len(t.events)),
		zap.Int("recomputations", t.recomputes),
		zap.Int("rows", len(refs)),
	)
	return refs, nil
}

// reject rolls the storage transaction back and returns the original error.
func (t *Tx) reject(err error) error {
	t.state = stateRejected
	if rbErr := t.st.Rollback(); rbErr != nil {
		t.log.Warn("rollback failed", zap.Error(rbErr))
	}
	t.log.Info("transaction rejected", zap.Error(err))
	return err
}

// applyEvents writes the base-fact events to the store in submission order
// and seeds the dirty set with the directly affected derived attributes.
func (t *Tx) applyEvents(ctx context.Context) error {
	for _, ev := range t.events {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch ev.Kind {
		case Insert:
			err = t.applyInsert(ctx, ev)
		case Update:
			err = t.applyUpdate(ctx, ev)
		case Delete:
			err = t.applyDelete(ctx, ev)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) applyInsert(ctx context.Context, ev Change) error {
	ent, _ := t.e.graph.Entity(ev.Entity)
	row := make(Row, len(ent.Attributes()))
	for _, attr := range ent.Attributes() {
		if v, ok := ev.Values[attr.Name]; ok {
			row[attr.Name] = v
			continue
		}
		if attr.Derived {
			row[attr.Name] = zeroValue(attr)
			continue
		}
		if !attr.Nullable {
			return shared.NewDomainError("MISSING_ATTRIBUTE", fmt.Sprintf("%s.%s is required on insert", ev.Entity, attr.Name))
		}
		row[attr.Name] = nil
	}

	if err := t.st.InsertRow(ctx, ev.Entity, ev.ID, row.Clone()); err != nil {
		return err
	}
	t.cache[cacheKey(ev.Entity, ev.ID)] = row
	t.rowState(ev.Entity, ev.ID).inserted = true

	// A new row needs all of its own derived attributes computed, and its
	// very existence feeds its parents' aggregates.
	for _, f := range t.e.formulasByEntity[ev.Entity] {
		t.markDirty(attrNode{entity: f.Entity, attribute: f.Target}, ev.ID)
	}
	for _, a := range t.e.ownAggregates[ev.Entity] {
		t.markDirty(attrNode{entity: a.Entity, attribute: a.Target}, ev.ID)
	}
	for _, ca := range t.e.childAggregates[ev.Entity] {
		if parentID, ok := row[ca.rel.ForeignKey].(uuid.UUID); ok {
			t.markDirty(attrNode{entity: ca.agg.Entity, attribute: ca.agg.Target}, parentID)
		}
	}
	return nil
}

func (t *Tx) applyUpdate(ctx context.Context, ev Change) error {
	pre, err := t.readRow(ctx, ev.Entity, ev.ID)
	if err != nil {
		return err
	}
	pre = pre.Clone()
	if err := t.updateRow(ctx, ev.Entity, ev.ID, ev.Values); err != nil {
		return err
	}
	t.rowState(ev.Entity, ev.ID)

	for name, v := range ev.Values {
		if valuesEqual(pre[name], v) {
			continue
		}
		for _, edge := range t.e.res.dependents(attrNode{entity: ev.Entity, attribute: name}) {
			if err := t.fanOut(ctx, edge, ev.ID); err != nil {
				return err
			}
		}
		// Reparenting: both the former and the new parent's aggregates
		// see a changed child set.
		for _, ca := range t.e.childAggregates[ev.Entity] {
			if ca.rel.ForeignKey != name {
				continue
			}
			target := attrNode{entity: ca.agg.Entity, attribute: ca.agg.Target}
			if oldParent, ok := pre[name].(uuid.UUID); ok {
				t.markDirty(target, oldParent)
			}
			if newParent, ok := v.(uuid.UUID); ok {
				t.markDirty(target, newParent)
			}
		}
	}
	return nil
}

func (t *Tx) applyDelete(ctx context.Context, ev Change) error {
	pre, err := t.readRow(ctx, ev.Entity, ev.ID)
	if err != nil {
		return err
	}
	pre = pre.Clone()
	if err := t.st.DeleteRow(ctx, ev.Entity, ev.ID); err != nil {
		return err
	}
	delete(t.cache, cacheKey(ev.Entity, ev.ID))
	t.rowState(ev.Entity, ev.ID).deleted = true

	// The row is gone, but its disappearance still propagates upward.
	for _, ca := range t.e.childAggregates[ev.Entity] {
		if parentID, ok := pre[ca.rel.ForeignKey].(uuid.UUID); ok {
			t.markDirty(attrNode{entity: ca.agg.Entity, attribute: ca.agg.Target}, parentID)
		}
	}
	return nil
}

// walk re-evaluates dirty attributes following the static evaluation order.
// Every edge points forward in that order, so each attribute is visited at
// most once per transaction and its dirty row set is complete by the time
// the walk reaches it.
func (t *Tx) walk(ctx context.Context) error {
	for _, node := range t.e.res.order {
		rows := t.dirty[node]
		if len(rows) == 0 {
			continue
		}
		for _, id := range sortedIDs(rows) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if st := t.touched[node.entity][id]; st != nil && st.deleted {
				continue
			}
			t.recomputes++
			if t.recomputes > t.e.cascadeLimit {
				return &shared.PropagationOverflow{Recomputations: t.recomputes}
			}
			if err := t.recompute(ctx, node, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// recompute re-evaluates one derived attribute on one row and, when the
// value changed, writes it through and marks its dependents dirty.
func (t *Tx) recompute(ctx context.Context, node attrNode, id uuid.UUID) error {
	ent, _ := t.e.graph.Entity(node.entity)
	attr, _ := ent.Attribute(node.attribute)

	var value any
	if f, ok := t.e.formulaByTarget[node]; ok {
		if f.OnInsertOnly && !t.insertedThisTx(node.entity, id) {
			return nil
		}
		view, err := t.view(ctx, node.entity, id)
		if err != nil {
			return err
		}
		raw, err := f.Compute(view)
		if err != nil {
			return fmt.Errorf("formula %s: %w", node, err)
		}
		value, err = coerceValue(node.entity, attr, raw)
		if err != nil {
			return err
		}
	} else {
		a := t.e.aggregateByTarget[node]
		v, err := t.aggregate(ctx, a, id)
		if err != nil {
			return err
		}
		value = v
	}

	if d, ok := value.(decimal.Decimal); ok && attr.Type == schema.TypeDecimal {
		value = d.RoundBank(t.e.scale)
	}

	current, err := t.readRow(ctx, node.entity, id)
	if err != nil {
		return err
	}
	if valuesEqual(current[node.attribute], value) {
		return nil
	}
	if err := t.updateRow(ctx, node.entity, id, Row{node.attribute: value}); err != nil {
		return err
	}
	t.rowState(node.entity, id)
	for _, edge := range t.e.res.dependents(node) {
		if err := t.fanOut(ctx, edge, id); err != nil {
			return err
		}
	}
	return nil
}

// aggregate recomputes an aggregate by folding over the full current child
// set. Re-summing trades recomputation cost for correctness in the presence
// of multiple simultaneous child edits; sums accumulate at full precision
// and are rounded once at the end.
func (t *Tx) aggregate(ctx context.Context, a rule.Aggregate, id uuid.UUID) (any, error) {
	children, err := t.st.ReadChildren(ctx, a.Entity, id, a.Relationship)
	if err != nil {
		return nil, err
	}
	if a.Op == rule.OpCount {
		return int64(len(children)), nil
	}
	rel, _ := t.e.graph.ChildRelationship(a.Entity, a.Relationship)
	total := decimal.Zero
	for _, cid := range children {
		crow, err := t.readRow(ctx, rel.Child, cid)
		if err != nil {
			return nil, err
		}
		total = total.Add(asDecimal(crow[a.ChildAttribute]))
	}
	return total, nil
}

// fanOut marks the rows affected by a change at (edge.source, id) dirty at
// edge.target.
func (t *Tx) fanOut(ctx context.Context, edge depEdge, id uuid.UUID) error {
	switch edge.hop {
	case hopSelf:
		t.markDirty(edge.target, id)
	case hopToChildren:
		children, err := t.st.ReadChildren(ctx, edge.rel.Parent, id, edge.rel.Name)
		if err != nil {
			return err
		}
		for _, cid := range children {
			t.markDirty(edge.target, cid)
		}
	case hopToParent:
		row, err := t.readRow(ctx, edge.source.entity, id)
		if err != nil {
			return err
		}
		if parentID, ok := row[edge.rel.ForeignKey].(uuid.UUID); ok {
			t.markDirty(edge.target, parentID)
		}
	}
	return nil
}

func (t *Tx) markDirty(node attrNode, id uuid.UUID) {
	rows := t.dirty[node]
	if rows == nil {
		rows = make(map[uuid.UUID]struct{})
		t.dirty[node] = rows
	}
	rows[id] = struct{}{}
}

// rowState returns (creating if needed) the transaction-local state of a
// touched row.
func (t *Tx) rowState(entity string, id uuid.UUID) *rowState {
	rows := t.touched[entity]
	if rows == nil {
		rows = make(map[uuid.UUID]*rowState)
		t.touched[entity] = rows
	}
	st := rows[id]
	if st == nil {
		st = &rowState{}
		rows[id] = st
	}
	return st
}

func (t *Tx) insertedThisTx(entity string, id uuid.UUID) bool {
	st := t.touched[entity][id]
	return st != nil && st.inserted
}

// readRow reads through a transaction-local cache.
func (t *Tx) readRow(ctx context.Context, entity string, id uuid.UUID) (Row, error) {
	key := cacheKey(entity, id)
	if row, ok := t.cache[key]; ok {
		return row, nil
	}
	row, err := t.st.ReadRow(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	t.cache[key] = row
	return row, nil
}

// updateRow writes through to the store and keeps the cache coherent.
func (t *Tx) updateRow(ctx context.Context, entity string, id uuid.UUID, changes Row) error {
	if err := t.st.UpdateRow(ctx, entity, id, changes.Clone()); err != nil {
		return err
	}
	if row, ok := t.cache[cacheKey(entity, id)]; ok {
		for k, v := range changes {
			row[k] = v
		}
	}
	return nil
}

// settledRefs lists the non-deleted touched rows in deterministic order.
func (t *Tx) settledRefs() []RowRef {
	var refs []RowRef
	for entity, rows := range t.touched {
		for id, st := range rows {
			if st.deleted {
				continue
			}
			refs = append(refs, RowRef{Entity: entity, ID: id})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Entity != refs[j].Entity {
			return refs[i].Entity < refs[j].Entity
		}
		return refs[i].ID.String() < refs[j].ID.String()
	})
	return refs
}

func sortedIDs(rows map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func cacheKey(entity string, id uuid.UUID) string {
	return entity + "/" + id.String()
}
