package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/linkerlin/laterclaw/internal/recurrence"
	"github.com/linkerlin/laterclaw/internal/types"
)

// ---- Styles ----------------------------------------------------------------

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(0, 1)
	sidebarStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	mainStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Padding(0, 1)
	thinkingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	userMsgStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	agentMsgStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	senderStyle   = lipgloss.NewStyle().Bold(true)
)

const sidebarWidth = 30

// ---- Messages --------------------------------------------------------------

// BotMsg carries one assistant message into the UI.
type BotMsg struct {
	Text string
	At   time.Time
}

// ThinkingMsg toggles the "thinking…" indicator.
type ThinkingMsg struct{ Thinking bool }

// AgendaMsg replaces the list of active scheduled tasks.
type AgendaMsg struct{ Events []types.ScheduledEvent }

// ---- Agenda list item ------------------------------------------------------

type eventItem struct {
	ev   types.ScheduledEvent
	when string
}

func (e eventItem) Title() string       { return e.ev.Description }
func (e eventItem) Description() string { return e.when }
func (e eventItem) FilterValue() string { return e.ev.Description }

// ---- Focus panels ----------------------------------------------------------

type panel int

const (
	panelInput panel = iota
	panelMain
	panelSidebar
)

type line struct {
	sender string
	text   string
	at     time.Time
	bot    bool
}

// ---- Model -----------------------------------------------------------------

// Model is the bubbletea model of the console chat.
type Model struct {
	width, height int

	title    string
	userName string
	botName  string
	format   func(time.Time) string

	lines    []line
	thinking bool
	viewport viewport.Model
	ready    bool

	agenda list.Model
	input  textarea.Model
	active panel

	// OnSend is invoked when the user submits a message.
	OnSend func(text string)
}

// NewModel initialises the UI. format renders instants in the civil timezone.
func NewModel(botName, userName string, format func(time.Time) string, onSend func(text string)) Model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Scheduled"
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetStatusBarItemName("task", "tasks")

	ta := textarea.New()
	ta.Placeholder = "Type a message… (Enter to send, Ctrl+C to quit)"
	ta.Focus()
	ta.CharLimit = 2000
	ta.SetWidth(60)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	if format == nil {
		format = func(t time.Time) string { return t.Format("02/01/2006 15:04") }
	}
	return Model{
		title:    "laterclaw",
		userName: userName,
		botName:  botName,
		format:   format,
		agenda:   l,
		input:    ta,
		OnSend:   onSend,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.active = (m.active + 1) % 3
			if m.active == panelInput {
				m.input.Focus()
				cmds = append(cmds, textarea.Blink)
			} else {
				m.input.Blur()
			}
			return m, tea.Batch(cmds...)
		case "enter":
			if m.active == panelInput {
				text := strings.TrimSpace(m.input.Value())
				if text != "" {
					m.lines = append(m.lines, line{sender: m.userName, text: text, at: time.Now()})
					m.refresh()
					if m.OnSend != nil {
						m.OnSend(text)
					}
				}
				m.input.Reset()
				return m, nil
			}
		}

	case BotMsg:
		m.lines = append(m.lines, line{sender: m.botName, text: msg.Text, at: msg.At, bot: true})
		m.refresh()

	case ThinkingMsg:
		m.thinking = msg.Thinking
		m.refresh()

	case AgendaMsg:
		items := make([]list.Item, 0, len(msg.Events))
		for _, ev := range msg.Events {
			items = append(items, eventItem{ev: ev, when: m.when(ev)})
		}
		cmds = append(cmds, m.agenda.SetItems(items))
	}

	switch m.active {
	case panelSidebar:
		var cmd tea.Cmd
		m.agenda, cmd = m.agenda.Update(msg)
		cmds = append(cmds, cmd)
	case panelMain:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	case panelInput:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing…"
	}
	mainW := m.width - sidebarWidth - 4

	m.agenda.SetWidth(sidebarWidth - 2)
	m.agenda.SetHeight(m.height - 4)
	sidebar := sidebarStyle.Width(sidebarWidth).Height(m.height - 2).Render(m.agenda.View())

	header := headerStyle.Render(m.title + "  ›  " + m.botName)
	vpView := mainStyle.Width(mainW).Height(m.viewport.Height + 2).Render(m.viewport.View())

	m.input.SetWidth(mainW - 2)
	inputView := mainStyle.Width(mainW).Render(m.input.View())

	statusText := "Tab: switch panel  Enter: send  Ctrl+C: quit"
	if m.thinking {
		statusText = thinkingStyle.Render("⟳ thinking…") + "  " + statusText
	}
	status := statusStyle.Render(statusText)

	right := lipgloss.JoinVertical(lipgloss.Left, header, vpView, inputView, status)
	return lipgloss.JoinHorizontal(lipgloss.Top, sidebar, right)
}

// ---- Helpers ---------------------------------------------------------------

func (m *Model) recalcLayout() {
	w := m.width - sidebarWidth - 6
	h := m.height - 8 // header, borders, input, status
	if w < 10 {
		w = 10
	}
	if h < 3 {
		h = 3
	}
	if !m.ready {
		m.viewport = viewport.New(w, h)
		m.ready = true
	} else {
		m.viewport.Width = w
		m.viewport.Height = h
	}
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderLines())
	m.viewport.GotoBottom()
}

func (m *Model) renderLines() string {
	if len(m.lines) == 0 && !m.thinking {
		return statusStyle.Render("No messages yet. Type something below!")
	}
	var sb strings.Builder
	for _, l := range m.lines {
		prefix := fmt.Sprintf("[%s] %s: ", l.at.Format("15:04"), senderStyle.Render(l.sender))
		if l.bot {
			sb.WriteString(agentMsgStyle.Render(prefix + l.text))
		} else {
			sb.WriteString(userMsgStyle.Render(prefix + l.text))
		}
		sb.WriteString("\n")
	}
	if m.thinking {
		sb.WriteString(thinkingStyle.Render("⟳ thinking…") + "\n")
	}
	return sb.String()
}

func (m Model) when(ev types.ScheduledEvent) string {
	if ev.Kind == types.KindRecurring {
		return recurrence.Describe(ev.Schedule)
	}
	at, err := ev.At()
	if err != nil {
		return ev.Schedule
	}
	return "at " + m.format(at)
}
