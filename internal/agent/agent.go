// Package agent runs the tool-orchestration loop shared by live messages and
// fired scheduled tasks.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linkerlin/laterclaw/internal/db"
	"github.com/linkerlin/laterclaw/internal/llm"
	"github.com/linkerlin/laterclaw/internal/metrics"
	"github.com/linkerlin/laterclaw/internal/timeexpr"
	"github.com/linkerlin/laterclaw/internal/tools"
	"github.com/linkerlin/laterclaw/internal/types"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxToolRounds = 4
	DefaultHistoryLimit  = 20

	DefaultSystemPrompt = "You are a helpful personal assistant in a chat. Answer concisely. " +
		"You can schedule tasks for later with the schedule tool and keep lists with the lists tool. " +
		"When the user asks for something at a later time or repeatedly, schedule it instead of doing it now."

	emptyAnswer = "I have nothing to add."
)

// HistoryStore keeps per-channel conversation turns.
type HistoryStore interface {
	RecentTurns(ctx context.Context, channelID string, limit int) ([]db.Turn, error)
	SaveTurn(ctx context.Context, channelID, role, content string, at time.Time) error
}

// UsageStore accumulates token counters per user.
type UsageStore interface {
	AddUsage(ctx context.Context, userID string, prompt, completion, total, calls int64) error
}

// Options restrict a single Run.
type Options struct {
	// ExcludeScheduling removes the scheduling tool from the catalog.
	ExcludeScheduling bool
	// SkipHistory neither loads nor stores conversation turns.
	SkipHistory bool
	// SystemPrompt replaces the configured prompt when non-empty.
	SystemPrompt string
}

// Config tunes the loop.
type Config struct {
	SystemPrompt  string
	MaxToolRounds int
	HistoryLimit  int
}

// Deps are the collaborators of an Agent.
type Deps struct {
	Model   llm.Model
	Tools   *tools.Registry
	History HistoryStore
	Usage   UsageStore
	Clock   *timeexpr.Parser
	Metrics metrics.Sink
	Log     zerolog.Logger
}

// Agent runs turns against one model with one tool registry.
type Agent struct {
	model   llm.Model
	tools   *tools.Registry
	history HistoryStore
	usage   UsageStore
	clock   *timeexpr.Parser
	metrics metrics.Sink
	log     zerolog.Logger
	cfg     Config
}

func New(deps Deps, cfg Config) *Agent {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoopSink()
	}
	if deps.Clock == nil {
		deps.Clock = timeexpr.New(time.UTC)
	}
	return &Agent{
		model:   deps.Model,
		tools:   deps.Tools,
		history: deps.History,
		usage:   deps.Usage,
		clock:   deps.Clock,
		metrics: deps.Metrics,
		log:     deps.Log,
		cfg:     cfg,
	}
}

// Run answers input for ec. Model failures come back as *AdvisoryError;
// failing tool calls never abort the turn.
func (a *Agent) Run(ctx context.Context, ec types.ExecContext, input string, opts Options) (string, error) {
	log := a.log.With().Str("channel", ec.ChannelID).Str("user", ec.UserID).Logger()
	catalog := a.tools.Catalog(opts.ExcludeScheduling)

	var msgs []llm.Message
	if !opts.SkipHistory && a.history != nil {
		turns, err := a.history.RecentTurns(ctx, ec.ChannelID, a.cfg.HistoryLimit)
		if err != nil {
			log.Warn().Err(err).Msg("load history failed; continuing without it")
		}
		for _, t := range turns {
			role := llm.RoleUser
			if t.Role == string(llm.RoleAssistant) {
				role = llm.RoleAssistant
			}
			msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: input})

	req := llm.Request{
		System:   a.systemPrompt(ec, opts),
		Messages: msgs,
		Tools:    catalog.Defs(),
	}

	var usage llm.Usage
	calls := 0
	defer func() { a.recordUsage(ec, usage, calls, log) }()

	resp, err := a.generate(ctx, req)
	if err != nil {
		return "", a.fail(err, log)
	}
	calls++
	usage.Add(resp.Usage)

	for rounds := 0; len(resp.ToolCalls) > 0; rounds++ {
		if rounds >= a.cfg.MaxToolRounds {
			return "", a.fail(fmt.Errorf("%w after %d rounds", ErrToolRoundsExhausted, rounds), log)
		}
		req.Messages = append(req.Messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			req.Messages = append(req.Messages, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: tc.ID,
				Name:       tc.Name,
				Content:    a.invoke(ctx, catalog, ec, tc, log),
			})
		}
		// The follow-up is asked without tools so the model converges on an answer.
		req.Tools = nil
		if resp, err = a.generate(ctx, req); err != nil {
			return "", a.fail(err, log)
		}
		calls++
		usage.Add(resp.Usage)
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		answer = emptyAnswer
	}

	if !opts.SkipHistory && a.history != nil {
		now := a.clock.Now()
		if err := a.history.SaveTurn(ctx, ec.ChannelID, string(llm.RoleUser), input, now); err != nil {
			log.Warn().Err(err).Msg("save user turn failed")
		}
		if err := a.history.SaveTurn(ctx, ec.ChannelID, string(llm.RoleAssistant), answer, now); err != nil {
			log.Warn().Err(err).Msg("save assistant turn failed")
		}
	}
	return answer, nil
}

func (a *Agent) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	start := time.Now()
	resp, err := a.model.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		resp = &llm.Response{}
	}
	a.metrics.ModelCall(time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

// invoke runs one tool call and always returns text for the model.
func (a *Agent) invoke(ctx context.Context, catalog *tools.Catalog, ec types.ExecContext, tc llm.ToolCall, log zerolog.Logger) string {
	t, ok := catalog.Lookup(tc.Name)
	if !ok {
		a.metrics.ToolCall(tc.Name, false)
		log.Warn().Str("tool", tc.Name).Msg("model requested a tool outside the catalog")
		return fmt.Sprintf("error: tool %q is not available", tc.Name)
	}
	args := tc.Args
	if args == nil {
		args = map[string]any{}
	}
	out, err := t.Call(ctx, ec, args)
	if err != nil {
		a.metrics.ToolCall(tc.Name, false)
		log.Warn().Err(err).Str("tool", tc.Name).Msg("tool call failed")
		return "error: " + err.Error()
	}
	a.metrics.ToolCall(tc.Name, true)
	log.Debug().Str("tool", tc.Name).Msg("tool call ok")
	return out
}

func (a *Agent) fail(err error, log zerolog.Logger) error {
	ae := Classify(err)
	a.metrics.Advisory(ae.Class)
	log.Error().Err(ae.Err).Str("class", ae.Class).Msg("turn failed")
	return ae
}

func (a *Agent) recordUsage(ec types.ExecContext, u llm.Usage, calls int, log zerolog.Logger) {
	if calls == 0 || a.usage == nil || ec.UserID == "" {
		return
	}
	// Usage is stored even when the caller's context is already done.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.usage.AddUsage(ctx, ec.UserID,
		int64(u.PromptTokens), int64(u.CompletionTokens), int64(u.TotalTokens), int64(calls)); err != nil {
		log.Warn().Err(err).Msg("persist token usage failed")
	}
}

func (a *Agent) systemPrompt(ec types.ExecContext, opts Options) string {
	base := a.cfg.SystemPrompt
	if strings.TrimSpace(opts.SystemPrompt) != "" {
		base = opts.SystemPrompt
	}
	now := a.clock.Now()
	var b strings.Builder
	b.WriteString(base)
	fmt.Fprintf(&b, "\n\nCurrent date and time: %s, %s (%s).", now.Weekday(), a.clock.Format(now), a.clock.Location())
	if ec.UserName != "" {
		fmt.Fprintf(&b, "\nYou are talking to %s.", ec.UserName)
	}
	if ec.GroupID != "" {
		b.WriteString("\nThis is a group chat.")
	}
	return b.String()
}
