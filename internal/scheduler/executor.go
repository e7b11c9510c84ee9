package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/linkerlin/laterclaw/internal/agent"
	"github.com/linkerlin/laterclaw/internal/router"
	"github.com/linkerlin/laterclaw/internal/types"
)

const (
	noticeTimeout  = 30 * time.Second
	markTimeout    = 10 * time.Second
	maxSummaryLen  = 200
	instructionFmt = "This is a task scheduled earlier that is due now: %s\n\n" +
		"Do not create, change or cancel any schedule because of this message. " +
		"Carry out the task right away, as if it had just been asked, and reply with the result only."
)

// Runner runs one agent turn.
type Runner interface {
	Run(ctx context.Context, ec types.ExecContext, input string, opts agent.Options) (string, error)
}

// Marker records successful firings.
type Marker interface {
	MarkFired(ctx context.Context, id string) error
}

// Executor runs a due event through the agent and delivers the result.
type Executor struct {
	runner Runner
	marker Marker
	out    *router.Deliverer
	log    zerolog.Logger
}

func NewExecutor(runner Runner, marker Marker, out *router.Deliverer, log zerolog.Logger) *Executor {
	return &Executor{runner: runner, marker: marker, out: out, log: log}
}

// Instruction is the agent input for a fired event.
func Instruction(ev types.ScheduledEvent) string {
	return fmt.Sprintf(instructionFmt, ev.Action)
}

// Execute runs ev once. The agent gets no scheduling tool and no history.
// The event is marked fired only after its output was delivered; on failure
// a notice goes to the event's channel and the event stays due.
func (e *Executor) Execute(ctx context.Context, ev types.ScheduledEvent) error {
	ec := types.ExecContext{
		UserID:    ev.OwnerID,
		GroupID:   ev.OriginGroupID,
		ChannelID: ev.ChannelID,
	}
	answer, err := e.runner.Run(ctx, ec, Instruction(ev), agent.Options{
		ExcludeScheduling: true,
		SkipHistory:       true,
	})
	if err == nil {
		err = e.out.Deliver(ctx, ev.ChannelID, answer, ev.Mention)
	}
	if err != nil {
		e.notifyFailure(ctx, ev, err)
		return fmt.Errorf("execute event %s: %w", ev.ID, err)
	}
	// Delivered output must be recorded even if the task ran out of time.
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	if err := e.marker.MarkFired(mctx, ev.ID); err != nil {
		return fmt.Errorf("mark event %s fired: %w", ev.ID, err)
	}
	return nil
}

func (e *Executor) notifyFailure(ctx context.Context, ev types.ScheduledEvent, cause error) {
	// The task context may already be past its deadline.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()
	if err := e.out.Deliver(nctx, ev.ChannelID, FailureNotice(ev, cause), ev.Mention); err != nil {
		e.log.Error().Err(err).Str("event", ev.ID).Msg("failure notice not delivered")
	}
}

// FailureNotice is the chat text reporting a failed firing.
func FailureNotice(ev types.ScheduledEvent, err error) string {
	desc := ev.Description
	if desc == "" {
		desc = ev.Action
	}
	return fmt.Sprintf("⚠️ Scheduled task %q failed: %s", desc, summarize(err))
}

func summarize(err error) string {
	var ae *agent.AdvisoryError
	if errors.As(err, &ae) {
		return ae.Advisory
	}
	s := []rune(err.Error())
	if len(s) > maxSummaryLen {
		return string(s[:maxSummaryLen]) + "…"
	}
	return string(s)
}
