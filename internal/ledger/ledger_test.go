package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linkerlin/laterclaw/internal/db"
	"github.com/linkerlin/laterclaw/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ev-%d", n)
	}
}

// backends returns a fresh ledger per backend kind so every test covers both.
func backends(t *testing.T, c *clock) map[string]*Ledger {
	t.Helper()
	dir := t.TempDir()

	fb, err := OpenFile(filepath.Join(dir, "ledger", "events.json"))
	require.NoError(t, err)

	d, err := db.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	return map[string]*Ledger{
		"file":   New(fb, WithNow(c.now), WithIDFunc(seqIDs())),
		"sqlite": New(NewSQLiteBackend(d), WithNow(c.now), WithIDFunc(seqIDs())),
	}
}

func onceDraft(owner string) types.EventDraft {
	return types.EventDraft{
		OwnerID:     owner,
		ChannelID:   "chan-" + owner,
		Kind:        types.KindOnce,
		Schedule:    "2025-04-01T10:00:00Z",
		Action:      "remind me to stretch",
		Description: "stretch",
	}
}

func recurringDraft(owner string) types.EventDraft {
	return types.EventDraft{
		OwnerID:   owner,
		ChannelID: "chan-" + owner,
		Kind:      types.KindRecurring,
		Schedule:  "0 9 * * *",
		Action:    "send the weather",
	}
}

func TestCreate(t *testing.T) {
	c := &clock{t: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	for name, l := range backends(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ev, err := l.Create(ctx, recurringDraft("alice"))
			require.NoError(t, err)
			assert.Equal(t, "ev-1", ev.ID)
			assert.Equal(t, types.StatusActive, ev.Status)
			assert.Zero(t, ev.FireCount)
			assert.True(t, ev.CreatedAt.Equal(c.t))
			// Description falls back to the action.
			assert.Equal(t, "send the weather", ev.Description)

			got, ok, err := l.Get(ctx, ev.ID)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, ev.Schedule, got.Schedule)

			_, ok, err = l.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCreate_RejectsBadDraft(t *testing.T) {
	c := &clock{t: time.Now()}
	for name, l := range backends(t, c) {
		t.Run(name, func(t *testing.T) {
			d := onceDraft("alice")
			d.Kind = "sometimes"
			_, err := l.Create(context.Background(), d)
			assert.ErrorIs(t, err, ErrInvalidDraft)

			d = onceDraft("alice")
			d.Action = "  "
			_, err = l.Create(context.Background(), d)
			assert.ErrorIs(t, err, ErrInvalidDraft)
		})
	}
}

func TestCancel_TrueThenFalse(t *testing.T) {
	c := &clock{t: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	for name, l := range backends(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ev, err := l.Create(ctx, onceDraft("alice"))
			require.NoError(t, err)

			ok, err := l.Cancel(ctx, ev.ID)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = l.Cancel(ctx, ev.ID)
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = l.Cancel(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, ok)

			got, _, err := l.Get(ctx, ev.ID)
			require.NoError(t, err)
			assert.Equal(t, types.StatusCancelled, got.Status)
			require.NotNil(t, got.CompletedAt)
		})
	}
}

func TestMarkFired_OnceFiresAtMostOnce(t *testing.T) {
	c := &clock{t: time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)}
	for name, l := range backends(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ev, err := l.Create(ctx, onceDraft("alice"))
			require.NoError(t, err)

			require.NoError(t, l.MarkFired(ctx, ev.ID))
			require.NoError(t, l.MarkFired(ctx, ev.ID))
			require.NoError(t, l.MarkFired(ctx, "unknown"))

			got, _, err := l.Get(ctx, ev.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.FireCount)
			assert.Equal(t, types.StatusCompleted, got.Status)
			require.NotNil(t, got.LastFiredAt)
			require.NotNil(t, got.CompletedAt)

			// A completed event cannot be cancelled.
			ok, err := l.Cancel(ctx, ev.ID)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMarkFired_RecurringStaysActive(t *testing.T) {
	c := &clock{t: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	for name, l := range backends(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ev, err := l.Create(ctx, recurringDraft("bob"))
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				c.t = c.t.Add(24 * time.Hour)
				require.NoError(t, l.MarkFired(ctx, ev.ID))
			}
			got, _, err := l.Get(ctx, ev.ID)
			require.NoError(t, err)
			assert.Equal(t, 3, got.FireCount)
			assert.Equal(t, types.StatusActive, got.Status)
			assert.Nil(t, got.CompletedAt)
			assert.True(t, got.LastFiredAt.Equal(c.t))
		})
	}
}

func TestCancelAllForOwnerAndProjections(t *testing.T) {
	c := &clock{t: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	for name, l := range backends(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a1, err := l.Create(ctx, onceDraft("alice"))
			require.NoError(t, err)
			_, err = l.Create(ctx, recurringDraft("alice"))
			require.NoError(t, err)
			_, err = l.Create(ctx, recurringDraft("bob"))
			require.NoError(t, err)
			require.NoError(t, l.MarkFired(ctx, a1.ID))

			active, err := l.ListActiveForOwner(ctx, "alice")
			require.NoError(t, err)
			assert.Len(t, active, 1)

			n, err := l.CancelAllForOwner(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			n, err = l.CancelAllForOwner(ctx, "alice")
			require.NoError(t, err)
			assert.Zero(t, n)

			mine, err := l.ListForOwner(ctx, "alice")
			require.NoError(t, err)
			assert.Len(t, mine, 2)

			all, err := l.ListActive(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "bob", all[0].OwnerID)
		})
	}
}

func TestRecordCountOnlyGrows(t *testing.T) {
	c := &clock{t: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	for name, l := range backends(t, c) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			count := func() int {
				all, err := l.All(ctx)
				require.NoError(t, err)
				return len(all)
			}

			prev := 0
			var ids []string
			steps := []func(){
				func() { ev, _ := l.Create(ctx, onceDraft("alice")); ids = append(ids, ev.ID) },
				func() { ev, _ := l.Create(ctx, recurringDraft("alice")); ids = append(ids, ev.ID) },
				func() { _, _ = l.Cancel(ctx, ids[0]) },
				func() { _ = l.MarkFired(ctx, ids[1]) },
				func() { ev, _ := l.Create(ctx, onceDraft("bob")); ids = append(ids, ev.ID) },
				func() { _, _ = l.CancelAllForOwner(ctx, "alice") },
				func() { _ = l.MarkFired(ctx, ids[2]) },
				func() { _, _ = l.Cancel(ctx, ids[2]) },
			}
			for i, step := range steps {
				step()
				n := count()
				assert.GreaterOrEqual(t, n, prev, "step %d", i)
				prev = n
			}
			assert.Equal(t, 3, prev)
		})
	}
}

func TestFileBackend_MissingAndPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	fb, err := OpenFile(path)
	require.NoError(t, err)

	evs, err := fb.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, evs)

	c := &clock{t: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	l := New(fb, WithNow(c.now))
	ev, err := l.Create(context.Background(), onceDraft("alice"))
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"version": 1`)
	assert.Contains(t, string(raw), ev.ID)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	// A second handle over the same file sees the event.
	fb2, err := OpenFile(path)
	require.NoError(t, err)
	got, ok, err := New(fb2).Get(context.Background(), ev.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stretch", got.Description)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	b, err := Open("file", filepath.Join(dir, "e.json"), nil)
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)

	_, err = Open("sqlite", "", nil)
	assert.Error(t, err)

	_, err = Open("redis", "", nil)
	assert.Error(t, err)
}
