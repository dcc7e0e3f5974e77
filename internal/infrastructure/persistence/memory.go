package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/erp/logicengine/internal/domain/schema"
	"github.com/erp/logicengine/internal/domain/shared"
	"github.com/erp/logicengine/internal/engine"
)

// MemoryStore is an in-process engine.Store. A store-wide mutex is held for
// the whole lifetime of each transaction, which serializes transactions and
// trivially satisfies the engine's isolation contract. Meant for tests and
// for validating rule sets without a database.
type MemoryStore struct {
	graph *schema.Graph
	mu    sync.Mutex
	rows  map[string]map[uuid.UUID]engine.Row
}

// NewMemoryStore creates an empty in-memory store for the given graph.
func NewMemoryStore(g *schema.Graph) *MemoryStore {
	rows := make(map[string]map[uuid.UUID]engine.Row)
	for _, e := range g.Entities() {
		rows[e.Name] = make(map[uuid.UUID]engine.Row)
	}
	return &MemoryStore{graph: g, rows: rows}
}

// Begin acquires the store and returns a transaction over an overlay of it.
// The store stays locked until Commit or Rollback.
func (s *MemoryStore) Begin(ctx context.Context) (engine.StoreTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &memoryTx{
		store:   s,
		overlay: make(map[string]map[uuid.UUID]engine.Row),
		deleted: make(map[string]map[uuid.UUID]bool),
	}, nil
}

// Snapshot returns a deep copy of the committed rows of one entity, for
// test assertions outside any transaction.
func (s *MemoryStore) Snapshot(entity string) map[uuid.UUID]engine.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uuid.UUID]engine.Row, len(s.rows[entity]))
	for id, row := range s.rows[entity] {
		out[id] = row.Clone()
	}
	return out
}

// memoryTx buffers all writes in an overlay until Commit.
type memoryTx struct {
	store   *MemoryStore
	overlay map[string]map[uuid.UUID]engine.Row
	deleted map[string]map[uuid.UUID]bool
	done    bool
}

func (t *memoryTx) ReadRow(ctx context.Context, entity string, id uuid.UUID) (engine.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, ok := t.lookup(entity, id)
	if !ok {
		return nil, shared.ErrNotFound
	}
	return row.Clone(), nil
}

func (t *memoryTx) ReadChildren(ctx context.Context, entity string, id uuid.UUID, relationship string) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, ok := t.store.graph.ChildRelationship(entity, relationship)
	if !ok {
		return nil, shared.NewDomainError("UNKNOWN_RELATIONSHIP", "unknown child relationship "+relationship)
	}
	var ids []uuid.UUID
	for cid := range t.store.rows[rel.Child] {
		if t.deleted[rel.Child][cid] {
			continue
		}
		if _, shadowed := t.overlay[rel.Child][cid]; shadowed {
			continue
		}
		row := t.store.rows[rel.Child][cid]
		if parentID, ok := row[rel.ForeignKey].(uuid.UUID); ok && parentID == id {
			ids = append(ids, cid)
		}
	}
	for cid, row := range t.overlay[rel.Child] {
		if t.deleted[rel.Child][cid] {
			continue
		}
		if parentID, ok := row[rel.ForeignKey].(uuid.UUID); ok && parentID == id {
			ids = append(ids, cid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (t *memoryTx) InsertRow(ctx context.Context, entity string, id uuid.UUID, values engine.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, exists := t.lookup(entity, id); exists {
		return shared.ErrAlreadyExists
	}
	delete(t.entityDeleted(entity), id)
	t.entityOverlay(entity)[id] = values.Clone()
	return nil
}

func (t *memoryTx) UpdateRow(ctx context.Context, entity string, id uuid.UUID, changes engine.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	row, ok := t.lookup(entity, id)
	if !ok {
		return shared.ErrNotFound
	}
	updated := row.Clone()
	for k, v := range changes {
		updated[k] = v
	}
	t.entityOverlay(entity)[id] = updated
	return nil
}

func (t *memoryTx) DeleteRow(ctx context.Context, entity string, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := t.lookup(entity, id); !ok {
		return shared.ErrNotFound
	}
	delete(t.entityOverlay(entity), id)
	t.entityDeleted(entity)[id] = true
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return shared.ErrInvalidState
	}
	for entity, ids := range t.deleted {
		for id := range ids {
			delete(t.store.rows[entity], id)
		}
	}
	for entity, rows := range t.overlay {
		for id, row := range rows {
			t.store.rows[entity][id] = row
		}
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return shared.ErrInvalidState
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

// lookup resolves a row through the overlay without copying.
func (t *memoryTx) lookup(entity string, id uuid.UUID) (engine.Row, bool) {
	if t.deleted[entity][id] {
		return nil, false
	}
	if row, ok := t.overlay[entity][id]; ok {
		return row, true
	}
	row, ok := t.store.rows[entity][id]
	return row, ok
}

func (t *memoryTx) entityOverlay(entity string) map[uuid.UUID]engine.Row {
	m := t.overlay[entity]
	if m == nil {
		m = make(map[uuid.UUID]engine.Row)
		t.overlay[entity] = m
	}
	return m
}

func (t *memoryTx) entityDeleted(entity string) map[uuid.UUID]bool {
	m := t.deleted[entity]
	if m == nil {
		m = make(map[uuid.UUID]bool)
		t.deleted[entity] = m
	}
	return m
}
