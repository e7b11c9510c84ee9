package ledger

import (
	"context"

	"github.com/linkerlin/laterclaw/internal/db"
	"github.com/linkerlin/laterclaw/internal/types"
)

// SQLiteBackend keeps events in the scheduled_events table. Saves upsert
// every row and never delete.
type SQLiteBackend struct {
	db *db.DB
}

func NewSQLiteBackend(d *db.DB) *SQLiteBackend {
	return &SQLiteBackend{db: d}
}

func (b *SQLiteBackend) Load(ctx context.Context) ([]types.ScheduledEvent, error) {
	return b.db.LoadEvents(ctx)
}

func (b *SQLiteBackend) Save(ctx context.Context, events []types.ScheduledEvent) error {
	return b.db.SaveEvents(ctx, events)
}
