package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/linkerlin/laterclaw/internal/types"
	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB with laterclaw-specific operations.
type DB struct {
	db *sql.DB
}

// Turn is one stored conversation message of a channel.
type Turn struct {
	ID        string
	ChannelID string
	Role      string
	Content   string
	CreatedAt time.Time
}

// Usage is the accumulated token consumption of one user.
type Usage struct {
	UserID           string
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	Calls            int64
	UpdatedAt        time.Time
}

// ListItem is one entry of a user's named list.
type ListItem struct {
	OwnerID   string
	List      string
	Item      string
	CreatedAt time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
  id TEXT PRIMARY KEY,
  channel_id TEXT NOT NULL,
  role TEXT NOT NULL,
  content TEXT NOT NULL,
  timestamp TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages (channel_id, timestamp);

CREATE TABLE IF NOT EXISTS token_usage (
  user_id TEXT PRIMARY KEY,
  prompt_tokens INTEGER NOT NULL DEFAULT 0,
  completion_tokens INTEGER NOT NULL DEFAULT 0,
  total_tokens INTEGER NOT NULL DEFAULT 0,
  calls INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS list_items (
  owner_id TEXT NOT NULL,
  list_name TEXT NOT NULL,
  item TEXT NOT NULL,
  created_at TEXT NOT NULL,
  PRIMARY KEY (owner_id, list_name, item)
);

CREATE TABLE IF NOT EXISTS scheduled_events (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  origin_group_id TEXT,
  channel_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  schedule TEXT NOT NULL,
  action TEXT NOT NULL,
  mention TEXT,
  description TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  created_at TEXT NOT NULL,
  last_fired_at TEXT,
  completed_at TEXT,
  fire_count INTEGER NOT NULL DEFAULT 0
);
`

// Open opens (or creates) the SQLite database at the given path.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps writes serialized and lets ":memory:" work.
	sqldb.SetMaxOpenConns(1)
	if _, err := sqldb.Exec(schema); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: sqldb}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// SaveTurn appends a message to the channel history.
func (d *DB) SaveTurn(ctx context.Context, channelID, role, content string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, role, content, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), channelID, role, content, formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// RecentTurns returns the last limit turns of a channel in chronological order.
func (d *DB) RecentTurns(ctx context.Context, channelID string, limit int) ([]Turn, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, channel_id, role, content, timestamp
		FROM messages
		WHERE channel_id = ?
		ORDER BY rowid DESC
		LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var ts string
		if err := rows.Scan(&t.ID, &t.ChannelID, &t.Role, &t.Content, &ts); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// ClearTurns deletes the stored history of a channel and returns how many
// turns were removed.
func (d *DB) ClearTurns(ctx context.Context, channelID string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM messages WHERE channel_id = ?`, channelID)
	if err != nil {
		return 0, fmt.Errorf("clear turns: %w", err)
	}
	return res.RowsAffected()
}

// AddUsage adds one turn's token counters to the user's running totals.
func (d *DB) AddUsage(ctx context.Context, userID string, prompt, completion, total, calls int64) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO token_usage (user_id, prompt_tokens, completion_tokens, total_tokens, calls, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		  prompt_tokens = prompt_tokens + excluded.prompt_tokens,
		  completion_tokens = completion_tokens + excluded.completion_tokens,
		  total_tokens = total_tokens + excluded.total_tokens,
		  calls = calls + excluded.calls,
		  updated_at = excluded.updated_at`,
		userID, prompt, completion, total, calls, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

// GetUsage returns the user's totals; a user without records gets zeros.
func (d *DB) GetUsage(ctx context.Context, userID string) (Usage, error) {
	u := Usage{UserID: userID}
	var ts string
	err := d.db.QueryRowContext(ctx, `
		SELECT prompt_tokens, completion_tokens, total_tokens, calls, updated_at
		FROM token_usage WHERE user_id = ?`, userID,
	).Scan(&u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.Calls, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return u, fmt.Errorf("get usage: %w", err)
	}
	u.UpdatedAt, err = parseTime(ts)
	return u, err
}

// AddListItem inserts item into the owner's list. It reports false when the
// item was already there.
func (d *DB) AddListItem(ctx context.Context, ownerID, list, item string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO list_items (owner_id, list_name, item, created_at)
		VALUES (?, ?, ?, ?)`,
		ownerID, list, item, formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("add list item: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemoveListItem deletes item from the owner's list.
func (d *DB) RemoveListItem(ctx context.Context, ownerID, list, item string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM list_items WHERE owner_id = ? AND list_name = ? AND item = ?`,
		ownerID, list, item,
	)
	if err != nil {
		return false, fmt.Errorf("remove list item: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListItems returns the items of one list in insertion order.
func (d *DB) ListItems(ctx context.Context, ownerID, list string) ([]ListItem, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT owner_id, list_name, item, created_at
		FROM list_items WHERE owner_id = ? AND list_name = ?
		ORDER BY rowid`, ownerID, list)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanListItems(rows)
}

// ClearList removes every item of one list.
func (d *DB) ClearList(ctx context.Context, ownerID, list string) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM list_items WHERE owner_id = ? AND list_name = ?`, ownerID, list)
	if err != nil {
		return 0, fmt.Errorf("clear list: %w", err)
	}
	return res.RowsAffected()
}

// ListNames returns the names of the owner's non-empty lists.
func (d *DB) ListNames(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT DISTINCT list_name FROM list_items WHERE owner_id = ? ORDER BY list_name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// LoadEvents returns every scheduled event in insertion order.
func (d *DB) LoadEvents(ctx context.Context) ([]types.ScheduledEvent, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, owner_id, origin_group_id, channel_id, kind, schedule, action, mention,
		       description, status, created_at, last_fired_at, completed_at, fire_count
		FROM scheduled_events ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// SaveEvents upserts every event in one transaction. Rows missing from evs
// are left untouched; the table is never pruned.
func (d *DB) SaveEvents(ctx context.Context, evs []types.ScheduledEvent) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO scheduled_events (id, owner_id, origin_group_id, channel_id, kind, schedule, action,
		  mention, description, status, created_at, last_fired_at, completed_at, fire_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  status = excluded.status,
		  last_fired_at = excluded.last_fired_at,
		  completed_at = excluded.completed_at,
		  fire_count = excluded.fire_count,
		  mention = excluded.mention,
		  description = excluded.description`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range evs {
		if _, err = stmt.ExecContext(ctx,
			e.ID, e.OwnerID, nullString(e.OriginGroupID), e.ChannelID, string(e.Kind), e.Schedule, e.Action,
			nullString(e.Mention), e.Description, string(e.Status), formatTime(e.CreatedAt),
			nullTime(e.LastFiredAt), nullTime(e.CompletedAt), e.FireCount,
		); err != nil {
			return fmt.Errorf("upsert event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func scanEvents(rows *sql.Rows) ([]types.ScheduledEvent, error) {
	var evs []types.ScheduledEvent
	for rows.Next() {
		var e types.ScheduledEvent
		var group, mention, lastFired, completed sql.NullString
		var kind, status, created string
		if err := rows.Scan(&e.ID, &e.OwnerID, &group, &e.ChannelID, &kind, &e.Schedule, &e.Action,
			&mention, &e.Description, &status, &created, &lastFired, &completed, &e.FireCount); err != nil {
			return nil, err
		}
		e.OriginGroupID = group.String
		e.Mention = mention.String
		e.Kind = types.Kind(kind)
		e.Status = types.Status(status)
		var err error
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if e.LastFiredAt, err = parseNullTime(lastFired); err != nil {
			return nil, err
		}
		if e.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, err
		}
		evs = append(evs, e)
	}
	return evs, rows.Err()
}

func scanListItems(rows *sql.Rows) ([]ListItem, error) {
	var items []ListItem
	for rows.Next() {
		var it ListItem
		var ts string
		if err := rows.Scan(&it.OwnerID, &it.List, &it.Item, &ts); err != nil {
			return nil, err
		}
		var err error
		if it.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
