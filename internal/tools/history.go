package tools

import (
	"context"
	"fmt"

	"github.com/linkerlin/laterclaw/internal/llm"
	"github.com/linkerlin/laterclaw/internal/types"
)

// HistoryStore clears stored conversation turns.
type HistoryStore interface {
	ClearTurns(ctx context.Context, channelID string) (int64, error)
}

// ResetHistory forgets the conversation of the current channel.
type ResetHistory struct {
	store HistoryStore
}

func NewResetHistory(store HistoryStore) *ResetHistory { return &ResetHistory{store: store} }

func (r *ResetHistory) Name() string { return "reset_history" }

func (r *ResetHistory) Description() string {
	return "Forget the conversation history of this chat. Use only when the user asks to start over."
}

func (r *ResetHistory) Parameters() *llm.Schema {
	return &llm.Schema{Type: "object", Properties: map[string]*llm.Schema{}}
}

func (r *ResetHistory) Call(ctx context.Context, ec types.ExecContext, _ map[string]any) (string, error) {
	n, err := r.store.ClearTurns(ctx, ec.ChannelID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Conversation history cleared (%d message(s) forgotten).", n), nil
}
