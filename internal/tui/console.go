package tui

import (
	"context"
	"errors"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/linkerlin/laterclaw/internal/transport"
	"github.com/linkerlin/laterclaw/internal/types"
)

const (
	// ChannelID is the only channel of the console.
	ChannelID = "console"
	// UserID is the identity of whoever types into the console.
	UserID = "console"

	MaxMessageLen  = 4000
	agendaInterval = 30 * time.Second
)

var errNotRunning = errors.New("console is not running")

// EventLister lists the active scheduled events of one owner.
type EventLister interface {
	ListActiveForOwner(ctx context.Context, ownerID string) ([]types.ScheduledEvent, error)
}

// Console is a local terminal transport.
type Console struct {
	botName  string
	userName string
	format   func(time.Time) string
	events   EventLister
	log      zerolog.Logger

	mu      sync.Mutex
	program *tea.Program
}

var _ transport.Transport = (*Console)(nil)

func NewConsole(botName, userName string, format func(time.Time) string, events EventLister, log zerolog.Logger) *Console {
	return &Console{botName: botName, userName: userName, format: format, events: events, log: log}
}

// Run shows the UI until the user quits or ctx is done.
func (c *Console) Run(ctx context.Context, h transport.Handler) error {
	m := NewModel(c.botName, c.userName, c.format, func(text string) {
		go h(ctx, transport.Inbound{
			ChannelID: ChannelID,
			UserID:    UserID,
			UserName:  c.userName,
			Text:      text,
		})
	})
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	c.mu.Lock()
	c.program = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.program = nil
		c.mu.Unlock()
	}()

	go c.pollAgenda(ctx)

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Send shows text as an assistant message.
func (c *Console) Send(_ context.Context, _ string, text string) error {
	if !c.send(BotMsg{Text: text, At: time.Now()}) {
		return errNotRunning
	}
	c.refreshAgenda(context.Background())
	return nil
}

func (c *Console) MaxMessageLen() int { return MaxMessageLen }

// SetThinking toggles the thinking indicator.
func (c *Console) SetThinking(_ string, busy bool) {
	c.send(ThinkingMsg{Thinking: busy})
	if !busy {
		c.refreshAgenda(context.Background())
	}
}

func (c *Console) send(msg tea.Msg) bool {
	c.mu.Lock()
	p := c.program
	c.mu.Unlock()
	if p == nil {
		return false
	}
	p.Send(msg)
	return true
}

func (c *Console) pollAgenda(ctx context.Context) {
	t := time.NewTicker(agendaInterval)
	defer t.Stop()
	c.refreshAgenda(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.refreshAgenda(ctx)
		}
	}
}

func (c *Console) refreshAgenda(ctx context.Context) {
	if c.events == nil {
		return
	}
	evs, err := c.events.ListActiveForOwner(ctx, UserID)
	if err != nil {
		c.log.Warn().Err(err).Msg("load agenda failed")
		return
	}
	c.send(AgendaMsg{Events: evs})
}
