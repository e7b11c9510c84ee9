// Package orchestrator turns inbound chat messages into agent turns.
package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/linkerlin/laterclaw/internal/agent"
	"github.com/linkerlin/laterclaw/internal/db"
	"github.com/linkerlin/laterclaw/internal/queue"
	"github.com/linkerlin/laterclaw/internal/router"
	"github.com/linkerlin/laterclaw/internal/transport"
	"github.com/linkerlin/laterclaw/internal/types"
)

const defaultTurnTimeout = 2 * time.Minute

// Runner runs one agent turn.
type Runner interface {
	Run(ctx context.Context, ec types.ExecContext, input string, opts agent.Options) (string, error)
}

// UsageReader reads persisted token counters.
type UsageReader interface {
	GetUsage(ctx context.Context, userID string) (db.Usage, error)
}

// Config holds the live-path settings.
type Config struct {
	// Name is the assistant name; "@Name" triggers it in group chats.
	Name string
	// TurnTimeout bounds one live turn, model calls included.
	TurnTimeout time.Duration
}

// Orchestrator ties together the agent, the per-channel queue and delivery.
type Orchestrator struct {
	name     string
	trigger  *regexp.Regexp
	timeout  time.Duration
	agent    Runner
	usage    UsageReader
	queue    *queue.GroupQueue
	out      *router.Deliverer
	log      zerolog.Logger
	thinking func(channelID string, busy bool)
}

// New creates an Orchestrator.
func New(cfg Config, runner Runner, usage UsageReader, q *queue.GroupQueue, out *router.Deliverer, log zerolog.Logger) *Orchestrator {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	return &Orchestrator{
		name:    cfg.Name,
		trigger: TriggerPattern(cfg.Name),
		timeout: cfg.TurnTimeout,
		agent:   runner,
		usage:   usage,
		queue:   q,
		out:     out,
		log:     log,
	}
}

// TriggerPattern matches "@name" at the start of a message, any case.
func TriggerPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^@` + regexp.QuoteMeta(name) + `\b`)
}

// SetThinkingFunc registers a callback told when a channel's turn starts and ends.
func (o *Orchestrator) SetThinkingFunc(fn func(channelID string, busy bool)) {
	o.thinking = fn
}

// Handle is the transport.Handler of the live path. Private messages are
// always turns; group messages only when they start with the trigger.
func (o *Orchestrator) Handle(ctx context.Context, msg transport.Inbound) {
	text := strings.TrimSpace(msg.Text)
	if msg.IsGroup {
		loc := o.trigger.FindStringIndex(text)
		if loc == nil {
			return
		}
		text = strings.TrimLeft(text[loc[1]:], " \t\n,:;")
	}
	if text == "" {
		return
	}
	log := o.log.With().Str("channel", msg.ChannelID).Str("user", msg.UserID).Logger()

	if reply, ok := o.command(ctx, msg, text); ok {
		if err := o.out.Deliver(ctx, msg.ChannelID, reply, ""); err != nil {
			log.Error().Err(err).Msg("command reply not delivered")
		}
		return
	}

	// Raised inside the job; jobs dropped by the queue never run.
	o.queue.Enqueue(ctx, msg.ChannelID, func(ctx context.Context) {
		o.setThinking(msg.ChannelID, true)
		defer o.setThinking(msg.ChannelID, false)
		o.runTurn(ctx, msg, text, log)
	})
}

func (o *Orchestrator) runTurn(ctx context.Context, msg transport.Inbound, text string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ec := types.ExecContext{
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		ChannelID: msg.ChannelID,
	}
	if msg.IsGroup {
		ec.GroupID = msg.ChannelID
	}

	answer, err := o.agent.Run(ctx, ec, text, agent.Options{})
	if err != nil {
		answer = agent.Advisory(err)
	}
	// The reply is sent even if the turn ran out of time.
	dctx, dcancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer dcancel()
	if err := o.out.Deliver(dctx, msg.ChannelID, answer, ""); err != nil {
		log.Error().Err(err).Msg("reply not delivered")
		return
	}
	log.Debug().Int("len", len(answer)).Msg("reply delivered")
}

// command answers the built-in slash commands without the model.
func (o *Orchestrator) command(ctx context.Context, msg transport.Inbound, text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0]
	// Telegram appends "@botname" to commands in groups.
	if i := strings.IndexByte(name, '@'); i > 0 {
		name = name[:i]
	}
	switch strings.ToLower(name) {
	case "/start":
		return fmt.Sprintf("Hi, I'm %s. Ask me anything, or ask me to remind you of something later.", o.name), true
	case "/help":
		return o.help(), true
	case "/usage":
		u, err := o.usage.GetUsage(ctx, msg.UserID)
		if err != nil {
			o.log.Error().Err(err).Str("user", msg.UserID).Msg("read usage failed")
			return "I could not read your usage right now.", true
		}
		return fmt.Sprintf("Your usage: %d model call(s), %d prompt + %d completion = %d tokens.",
			u.Calls, u.PromptTokens, u.CompletionTokens, u.TotalTokens), true
	default:
		return "", false
	}
}

func (o *Orchestrator) help() string {
	return fmt.Sprintf(`%s can answer questions, keep lists and run tasks later.
Examples:
- remind me in 20 minutes to take the pizza out
- every weekday at 8:30 send me a motivational quote
- what have I scheduled?
- cancel task <id>
- add milk to my groceries list
In groups, start your message with @%s.
Commands: /help, /usage`, o.name, o.name)
}

func (o *Orchestrator) setThinking(channelID string, busy bool) {
	if o.thinking != nil {
		o.thinking(channelID, busy)
	}
}
