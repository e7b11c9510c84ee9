// Package ledger keeps the persisted collection of scheduled events.
//
// Every mutation loads the whole collection, changes it and writes it back
// while holding the ledger mutex. Events are never removed: cancellation and
// completion are status changes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/linkerlin/laterclaw/internal/db"
	"github.com/linkerlin/laterclaw/internal/types"
	"github.com/rs/zerolog"
)

// ErrInvalidDraft is returned by Create for drafts missing required fields.
var ErrInvalidDraft = errors.New("invalid event draft")

// Backend is a durable store for the whole event collection.
type Backend interface {
	Load(ctx context.Context) ([]types.ScheduledEvent, error)
	Save(ctx context.Context, events []types.ScheduledEvent) error
}

// Ledger is the single owner of the event collection.
type Ledger struct {
	mu      sync.Mutex
	backend Backend
	now     func() time.Time
	newID   func() string
	log     zerolog.Logger
}

type Option func(*Ledger)

func WithNow(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func WithIDFunc(f func() string) Option { return func(l *Ledger) { l.newID = f } }

func WithLogger(log zerolog.Logger) Option { return func(l *Ledger) { l.log = log } }

// New creates a Ledger over backend.
func New(backend Backend, opts ...Option) *Ledger {
	l := &Ledger{
		backend: backend,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Open picks a backend by driver name: "file" stores a JSON document at
// path, "sqlite" uses the scheduled_events table of database.
func Open(driver, path string, database *db.DB) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "file", "json":
		fb, err := OpenFile(path)
		if err != nil {
			return nil, err
		}
		return fb, nil
	case "sqlite", "sqlite3":
		if database == nil {
			return nil, errors.New("ledger: sqlite driver needs an open database")
		}
		return NewSQLiteBackend(database), nil
	default:
		return nil, fmt.Errorf("ledger: unknown driver %q", driver)
	}
}

// Create stores a new active event built from d.
func (l *Ledger) Create(ctx context.Context, d types.EventDraft) (types.ScheduledEvent, error) {
	if d.OwnerID == "" || d.ChannelID == "" || d.Schedule == "" || strings.TrimSpace(d.Action) == "" {
		return types.ScheduledEvent{}, fmt.Errorf("%w: owner, channel, schedule and action are required", ErrInvalidDraft)
	}
	if d.Kind != types.KindOnce && d.Kind != types.KindRecurring {
		return types.ScheduledEvent{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDraft, d.Kind)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	evs, err := l.backend.Load(ctx)
	if err != nil {
		return types.ScheduledEvent{}, fmt.Errorf("load ledger: %w", err)
	}
	desc := d.Description
	if desc == "" {
		desc = d.Action
	}
	ev := types.ScheduledEvent{
		ID:            l.newID(),
		OwnerID:       d.OwnerID,
		OriginGroupID: d.OriginGroupID,
		ChannelID:     d.ChannelID,
		Kind:          d.Kind,
		Schedule:      d.Schedule,
		Action:        d.Action,
		Mention:       d.Mention,
		Description:   desc,
		Status:        types.StatusActive,
		CreatedAt:     l.now().UTC(),
	}
	evs = append(evs, ev)
	if err := l.backend.Save(ctx, evs); err != nil {
		return types.ScheduledEvent{}, fmt.Errorf("save ledger: %w", err)
	}
	l.log.Info().Str("id", ev.ID).Str("kind", string(ev.Kind)).Str("schedule", ev.Schedule).
		Str("owner", ev.OwnerID).Msg("event created")
	return ev, nil
}

// All returns every event, including terminal ones.
func (l *Ledger) All(ctx context.Context) ([]types.ScheduledEvent, error) {
	return l.filter(ctx, func(types.ScheduledEvent) bool { return true })
}

func (l *Ledger) ListActive(ctx context.Context) ([]types.ScheduledEvent, error) {
	return l.filter(ctx, func(e types.ScheduledEvent) bool { return e.IsActive() })
}

func (l *Ledger) ListForOwner(ctx context.Context, ownerID string) ([]types.ScheduledEvent, error) {
	return l.filter(ctx, func(e types.ScheduledEvent) bool { return e.OwnerID == ownerID })
}

func (l *Ledger) ListActiveForOwner(ctx context.Context, ownerID string) ([]types.ScheduledEvent, error) {
	return l.filter(ctx, func(e types.ScheduledEvent) bool { return e.OwnerID == ownerID && e.IsActive() })
}

// Get returns the event with id; ok is false when there is none.
func (l *Ledger) Get(ctx context.Context, id string) (ev types.ScheduledEvent, ok bool, err error) {
	evs, err := l.filter(ctx, func(e types.ScheduledEvent) bool { return e.ID == id })
	if err != nil || len(evs) == 0 {
		return types.ScheduledEvent{}, false, err
	}
	return evs[0], true, nil
}

func (l *Ledger) filter(ctx context.Context, keep func(types.ScheduledEvent) bool) ([]types.ScheduledEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	evs, err := l.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	out := make([]types.ScheduledEvent, 0, len(evs))
	for _, e := range evs {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkFired records a successful firing. A once event becomes completed.
// Unknown or no longer active events are left alone.
func (l *Ledger) MarkFired(ctx context.Context, id string) error {
	_, err := l.mutate(ctx, func(evs []types.ScheduledEvent, now time.Time) int {
		for i := range evs {
			e := &evs[i]
			if e.ID != id {
				continue
			}
			if !e.IsActive() {
				return 0
			}
			e.LastFiredAt = &now
			e.FireCount++
			if e.Kind == types.KindOnce {
				e.Status = types.StatusCompleted
				e.CompletedAt = &now
			}
			return 1
		}
		return 0
	})
	if err != nil {
		return err
	}
	l.log.Debug().Str("id", id).Msg("event marked fired")
	return nil
}

// Cancel moves an active event to cancelled. It returns false when the
// event does not exist or is already terminal.
func (l *Ledger) Cancel(ctx context.Context, id string) (bool, error) {
	n, err := l.mutate(ctx, func(evs []types.ScheduledEvent, now time.Time) int {
		for i := range evs {
			if evs[i].ID == id {
				return cancel(&evs[i], now)
			}
		}
		return 0
	})
	return n > 0, err
}

// CancelAllForOwner cancels every active event of ownerID and returns how
// many were cancelled.
func (l *Ledger) CancelAllForOwner(ctx context.Context, ownerID string) (int, error) {
	return l.mutate(ctx, func(evs []types.ScheduledEvent, now time.Time) int {
		n := 0
		for i := range evs {
			if evs[i].OwnerID == ownerID {
				n += cancel(&evs[i], now)
			}
		}
		return n
	})
}

func cancel(e *types.ScheduledEvent, now time.Time) int {
	if !e.IsActive() {
		return 0
	}
	e.Status = types.StatusCancelled
	e.CompletedAt = &now
	return 1
}

// mutate runs fn over the loaded collection and saves it when fn reports
// at least one change.
func (l *Ledger) mutate(ctx context.Context, fn func([]types.ScheduledEvent, time.Time) int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	evs, err := l.backend.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load ledger: %w", err)
	}
	n := fn(evs, l.now().UTC())
	if n == 0 {
		return 0, nil
	}
	if err := l.backend.Save(ctx, evs); err != nil {
		return 0, fmt.Errorf("save ledger: %w", err)
	}
	return n, nil
}
