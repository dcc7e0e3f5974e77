package engine

import (
	"context"

	"github.com/google/uuid"
)

// Row holds attribute values keyed by attribute name. Currency attributes
// carry decimal.Decimal, integers int64, references uuid.UUID; null is nil.
type Row map[string]any

// Clone returns a shallow copy of the row. Values are immutable types, so a
// shallow copy is enough.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Store provides transactional row access. The engine treats one StoreTx as
// an isolated, consistent snapshot of the rows it touches; providing that
// isolation (snapshot or serializable) is the implementation's job.
type Store interface {
	Begin(ctx context.Context) (StoreTx, error)
}

// StoreTx is one storage transaction. Reads observe the transaction's own
// writes; nothing becomes visible outside the transaction until Commit.
// Implementations return shared.ErrNotFound for missing rows.
type StoreTx interface {
	ReadRow(ctx context.Context, entity string, id uuid.UUID) (Row, error)
	// ReadChildren returns the ids of the child rows of the named
	// child-list relationship, ordered by id.
	ReadChildren(ctx context.Context, entity string, id uuid.UUID, relationship string) ([]uuid.UUID, error)
	InsertRow(ctx context.Context, entity string, id uuid.UUID, values Row) error
	UpdateRow(ctx context.Context, entity string, id uuid.UUID, changes Row) error
	DeleteRow(ctx context.Context, entity string, id uuid.UUID) error
	Commit() error
	Rollback() error
}
