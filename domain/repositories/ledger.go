package repositories

import (
	"context"

	"github.com/satriahrh/wicara/domain/entities"
)

// LedgerStore persists cost entries outside the core. Load must return
// entries in timestamp order so replay preserves ledger monotonicity.
type LedgerStore interface {
	Save(ctx context.Context, entries []entities.CostEntry) error
	Load(ctx context.Context) ([]entities.CostEntry, error)
}
