package types

import (
	"fmt"
	"time"
)

// Kind distinguishes one-time events from recurring ones.
type Kind string

const (
	KindOnce      Kind = "once"
	KindRecurring Kind = "recurring"
)

// Status is the lifecycle state of a ScheduledEvent.
// Only active events can transition; completed and cancelled are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ScheduledEvent is a unit of deferred work kept in the event ledger.
// Records are never removed; cancellation and completion are status changes.
type ScheduledEvent struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	OriginGroupID string     `json:"origin_group_id,omitempty"`
	ChannelID     string     `json:"channel_id"`
	Kind          Kind       `json:"kind"`
	Schedule      string     `json:"schedule"` // RFC 3339 UTC instant (once) | 5-field expression (recurring)
	Action        string     `json:"action"`
	Mention       string     `json:"mention,omitempty"`
	Description   string     `json:"description"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	LastFiredAt   *time.Time `json:"last_fired_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FireCount     int        `json:"fire_count"`
}

// At returns the instant of a one-time event.
func (e ScheduledEvent) At() (time.Time, error) {
	if e.Kind != KindOnce {
		return time.Time{}, fmt.Errorf("event %s is %s, not %s", e.ID, e.Kind, KindOnce)
	}
	t, err := time.Parse(time.RFC3339, e.Schedule)
	if err != nil {
		return time.Time{}, fmt.Errorf("event %s: bad instant %q: %w", e.ID, e.Schedule, err)
	}
	return t.UTC(), nil
}

// IsActive reports whether the event can still fire.
func (e ScheduledEvent) IsActive() bool {
	return e.Status == StatusActive
}

// EventDraft carries the creator-supplied fields of a new event.
type EventDraft struct {
	OwnerID       string
	OriginGroupID string
	ChannelID     string
	Kind          Kind
	Schedule      string
	Action        string
	Mention       string
	Description   string
}

// ExecContext identifies who a turn acts for and where its output goes.
type ExecContext struct {
	UserID    string
	UserName  string
	GroupID   string // empty for private chats
	ChannelID string
}
