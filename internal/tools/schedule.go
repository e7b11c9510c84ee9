package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linkerlin/laterclaw/internal/llm"
	"github.com/linkerlin/laterclaw/internal/recurrence"
	"github.com/linkerlin/laterclaw/internal/timeexpr"
	"github.com/linkerlin/laterclaw/internal/types"
)

// ScheduleToolName is the name of the scheduling capability.
const ScheduleToolName = "schedule"

const (
	actCreateOnce      = "create_once"
	actCreateRecurring = "create_recurring"
	actListActive      = "list_active"
	actListAll         = "list_all"
	actCancel          = "cancel"
	actCancelAll       = "cancel_all"
)

const (
	onceHint       = `Try "in 10 minutes", "in 2 hours", "today at 18:30", "tomorrow at 9" or "2025-12-24 at 20:00".`
	recurrenceHint = `Try "every day at 9:00", "every weekday at 8:30", "every monday at 10", "every 15 minutes" or a 5-field expression like "30 9 * * 1-5".`
)

// EventStore is the part of the event ledger the scheduling tool uses.
type EventStore interface {
	Create(ctx context.Context, d types.EventDraft) (types.ScheduledEvent, error)
	ListForOwner(ctx context.Context, ownerID string) ([]types.ScheduledEvent, error)
	ListActiveForOwner(ctx context.Context, ownerID string) ([]types.ScheduledEvent, error)
	Get(ctx context.Context, id string) (types.ScheduledEvent, bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	CancelAllForOwner(ctx context.Context, ownerID string) (int, error)
}

// Schedule creates, lists and cancels scheduled events for the acting user.
type Schedule struct {
	store EventStore
	clock *timeexpr.Parser
}

func NewSchedule(store EventStore, clock *timeexpr.Parser) *Schedule {
	return &Schedule{store: store, clock: clock}
}

func (s *Schedule) Name() string { return ScheduleToolName }

func (s *Schedule) Description() string {
	return "Schedule tasks to run later or repeatedly, list them and cancel them. " +
		"create_once needs `when` (e.g. \"in 10 minutes\", \"tomorrow at 9\"); " +
		"create_recurring needs `recurrence` (e.g. \"every weekday at 8:30\"). " +
		"`task` is the instruction to carry out when the time comes. " +
		"cancel needs the `id` returned at creation."
}

func (s *Schedule) Parameters() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"action": stringProp("Operation to perform.",
				actCreateOnce, actCreateRecurring, actListActive, actListAll, actCancel, actCancelAll),
			"when":        stringProp("Time phrase for create_once."),
			"recurrence":  stringProp("Recurrence phrase or 5-field expression for create_recurring."),
			"task":        stringProp("Instruction to execute when the event fires."),
			"description": stringProp("Short human-readable label."),
			"mention":     stringProp("Optional text prepended to the delivered result, e.g. @name."),
			"id":          stringProp("Event id for cancel."),
		},
		Required: []string{"action"},
	}
}

func (s *Schedule) Call(ctx context.Context, ec types.ExecContext, args map[string]any) (string, error) {
	switch action := argString(args, "action"); action {
	case actCreateOnce:
		return s.createOnce(ctx, ec, args)
	case actCreateRecurring:
		return s.createRecurring(ctx, ec, args)
	case actListActive:
		evs, err := s.store.ListActiveForOwner(ctx, ec.UserID)
		if err != nil {
			return "", err
		}
		if len(evs) == 0 {
			return "You have no active scheduled tasks.", nil
		}
		return s.render("Active scheduled tasks:", evs, false), nil
	case actListAll:
		evs, err := s.store.ListForOwner(ctx, ec.UserID)
		if err != nil {
			return "", err
		}
		if len(evs) == 0 {
			return "You have never scheduled a task.", nil
		}
		return s.render("All scheduled tasks:", evs, true), nil
	case actCancel:
		return s.cancel(ctx, ec, argString(args, "id"))
	case actCancelAll:
		n, err := s.store.CancelAllForOwner(ctx, ec.UserID)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "You had no active scheduled tasks to cancel.", nil
		}
		return fmt.Sprintf("Cancelled %d scheduled task(s).", n), nil
	case "":
		return "Missing action. Use one of: create_once, create_recurring, list_active, list_all, cancel, cancel_all.", nil
	default:
		return fmt.Sprintf("Unknown action %q. Use one of: create_once, create_recurring, list_active, list_all, cancel, cancel_all.", action), nil
	}
}

func (s *Schedule) createOnce(ctx context.Context, ec types.ExecContext, args map[string]any) (string, error) {
	task := argString(args, "task")
	if task == "" {
		return "Missing task: tell me what should be done at that time.", nil
	}
	when := argString(args, "when")
	at, ok := s.clock.Parse(when)
	if !ok {
		return fmt.Sprintf("I could not understand the time %q. %s", when, onceHint), nil
	}
	if s.clock.IsPast(at) && !s.clock.IsNow(at) {
		return fmt.Sprintf("%s is already in the past. Pick a future time.", s.clock.Format(at)), nil
	}

	ev, err := s.store.Create(ctx, s.draft(ec, args, types.KindOnce, at.UTC().Format(time.RFC3339), task))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Scheduled %q for %s (id: %s).", ev.Description, s.clock.Format(at), ev.ID), nil
}

func (s *Schedule) createRecurring(ctx context.Context, ec types.ExecContext, args map[string]any) (string, error) {
	task := argString(args, "task")
	if task == "" {
		return "Missing task: tell me what should be done each time.", nil
	}
	phrase := argString(args, "recurrence")
	expr, ok := recurrence.Translate(phrase)
	if !ok {
		return fmt.Sprintf("I could not understand the recurrence %q. %s", phrase, recurrenceHint), nil
	}
	if !recurrence.IsValid(expr) {
		return fmt.Sprintf("Invalid recurrence expression %q. %s", expr, recurrenceHint), nil
	}

	ev, err := s.store.Create(ctx, s.draft(ec, args, types.KindRecurring, expr, task))
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Scheduled recurring %q %s (id: %s).", ev.Description, recurrence.Describe(expr), ev.ID)
	if next, ok := recurrence.Next(expr, s.clock.Now(), s.clock.Location()); ok {
		msg += " Next run: " + s.clock.Format(next) + "."
	}
	return msg, nil
}

func (s *Schedule) draft(ec types.ExecContext, args map[string]any, kind types.Kind, schedule, task string) types.EventDraft {
	mention := argString(args, "mention")
	if mention == "" && ec.GroupID != "" && ec.UserName != "" {
		mention = "@" + strings.TrimPrefix(ec.UserName, "@")
	}
	return types.EventDraft{
		OwnerID:       ec.UserID,
		OriginGroupID: ec.GroupID,
		ChannelID:     ec.ChannelID,
		Kind:          kind,
		Schedule:      schedule,
		Action:        task,
		Mention:       mention,
		Description:   argString(args, "description"),
	}
}

func (s *Schedule) cancel(ctx context.Context, ec types.ExecContext, id string) (string, error) {
	if id == "" {
		return "Missing id. List your tasks to find the id to cancel.", nil
	}
	ev, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	// Other users' events are reported the same way as unknown ids.
	if !ok || ev.OwnerID != ec.UserID {
		return fmt.Sprintf("No active scheduled task with id %s.", id), nil
	}
	cancelled, err := s.store.Cancel(ctx, id)
	if err != nil {
		return "", err
	}
	if !cancelled {
		return fmt.Sprintf("Task %s is already %s.", id, ev.Status), nil
	}
	return fmt.Sprintf("Cancelled %q (id: %s).", ev.Description, id), nil
}

func (s *Schedule) render(title string, evs []types.ScheduledEvent, withStatus bool) string {
	var b strings.Builder
	b.WriteString(title)
	for _, e := range evs {
		b.WriteString("\n- ")
		b.WriteString(e.Description)
		b.WriteString(": ")
		b.WriteString(s.when(e))
		if withStatus {
			fmt.Fprintf(&b, " [%s, fired %d×]", e.Status, e.FireCount)
		}
		fmt.Fprintf(&b, " (id: %s)", e.ID)
	}
	return b.String()
}

func (s *Schedule) when(e types.ScheduledEvent) string {
	if e.Kind == types.KindOnce {
		at, err := e.At()
		if err != nil {
			return e.Schedule
		}
		return "once at " + s.clock.Format(at)
	}
	return recurrence.Describe(e.Schedule)
}
