package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/erp/logicengine/internal/domain/shared"
)

// checkInvariants evaluates every constraint rule against the final,
// fully-propagated values of the rows touched in this transaction.
// Constraints run in declaration order, rows in id order, and the first
// violation wins: the checker fails fast rather than collecting all
// violations, which keeps the rejection reason deterministic.
func (t *Tx) checkInvariants(ctx context.Context) error {
	for _, c := range t.e.rules.Constraints() {
		rows := t.touched[c.Entity]
		if len(rows) == 0 {
			continue
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for id, st := range rows {
			if !st.deleted {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			view, err := t.view(ctx, c.Entity, id)
			if err != nil {
				return err
			}
			ok, err := c.Check(view)
			if err != nil {
				return fmt.Errorf("constraint %q: %w", c.Name, err)
			}
			if !ok {
				return &shared.ConstraintViolation{
					Rule:    c.Name,
					Entity:  c.Entity,
					RowID:   id,
					Message: c.Message,
				}
			}
		}
	}
	return nil
}
