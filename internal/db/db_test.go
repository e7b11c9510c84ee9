package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/linkerlin/laterclaw/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestTurns_ChronologicalAndLimited(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, c := range []string{"one", "two", "three", "four"} {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		require.NoError(t, d.SaveTurn(ctx, "chat-1", role, c, base.Add(time.Duration(i)*time.Second)))
	}
	require.NoError(t, d.SaveTurn(ctx, "chat-2", "user", "elsewhere", base))

	turns, err := d.RecentTurns(ctx, "chat-1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "two", turns[0].Content)
	assert.Equal(t, "assistant", turns[0].Role)
	assert.Equal(t, "four", turns[2].Content)
	assert.True(t, turns[2].CreatedAt.Equal(base.Add(3*time.Second)))

	n, err := d.ClearTurns(ctx, "chat-1")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	turns, err = d.RecentTurns(ctx, "chat-1", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)

	other, err := d.RecentTurns(ctx, "chat-2", 10)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestUsage_Accumulates(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	u, err := d.GetUsage(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, u.TotalTokens)

	require.NoError(t, d.AddUsage(ctx, "alice", 100, 20, 120, 2))
	require.NoError(t, d.AddUsage(ctx, "alice", 10, 5, 15, 1))

	u, err = d.GetUsage(ctx, "alice")
	require.NoError(t, err)
	assert.EqualValues(t, 110, u.PromptTokens)
	assert.EqualValues(t, 25, u.CompletionTokens)
	assert.EqualValues(t, 135, u.TotalTokens)
	assert.EqualValues(t, 3, u.Calls)
	assert.False(t, u.UpdatedAt.IsZero())
}

func TestListItems(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	added, err := d.AddListItem(ctx, "alice", "groceries", "milk")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = d.AddListItem(ctx, "alice", "groceries", "milk")
	require.NoError(t, err)
	assert.False(t, added)
	_, err = d.AddListItem(ctx, "alice", "groceries", "eggs")
	require.NoError(t, err)
	_, err = d.AddListItem(ctx, "alice", "books", "Dune")
	require.NoError(t, err)

	items, err := d.ListItems(ctx, "alice", "groceries")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "milk", items[0].Item)
	assert.Equal(t, "eggs", items[1].Item)

	names, err := d.ListNames(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"books", "groceries"}, names)

	removed, err := d.RemoveListItem(ctx, "alice", "groceries", "milk")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = d.RemoveListItem(ctx, "alice", "groceries", "milk")
	require.NoError(t, err)
	assert.False(t, removed)

	n, err := d.ClearList(ctx, "alice", "books")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestEvents_UpsertNeverPrunes(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	created := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	a := types.ScheduledEvent{
		ID: "a", OwnerID: "u1", ChannelID: "c1", Kind: types.KindOnce,
		Schedule: "2025-05-01T10:00:00Z", Action: "ping", Description: "ping",
		Status: types.StatusActive, CreatedAt: created,
	}
	b := types.ScheduledEvent{
		ID: "b", OwnerID: "u1", OriginGroupID: "g1", ChannelID: "c1", Kind: types.KindRecurring,
		Schedule: "0 9 * * *", Action: "news", Mention: "@u1", Description: "news",
		Status: types.StatusActive, CreatedAt: created.Add(time.Second),
	}
	require.NoError(t, d.SaveEvents(ctx, []types.ScheduledEvent{a, b}))

	fired := created.Add(time.Hour)
	a.Status = types.StatusCompleted
	a.FireCount = 1
	a.LastFiredAt = &fired
	a.CompletedAt = &fired
	// Saving a subset must not drop b.
	require.NoError(t, d.SaveEvents(ctx, []types.ScheduledEvent{a}))

	evs, err := d.LoadEvents(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	assert.Equal(t, "a", evs[0].ID)
	assert.Equal(t, types.StatusCompleted, evs[0].Status)
	assert.Equal(t, 1, evs[0].FireCount)
	require.NotNil(t, evs[0].CompletedAt)
	assert.True(t, evs[0].CompletedAt.Equal(fired))
	assert.Empty(t, evs[0].OriginGroupID)

	assert.Equal(t, "b", evs[1].ID)
	assert.Equal(t, "g1", evs[1].OriginGroupID)
	assert.Equal(t, "@u1", evs[1].Mention)
	assert.Nil(t, evs[1].LastFiredAt)
	assert.True(t, evs[1].CreatedAt.Equal(created.Add(time.Second)))
}
