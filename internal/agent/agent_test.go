package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/linkerlin/laterclaw/internal/db"
	"github.com/linkerlin/laterclaw/internal/llm"
	"github.com/linkerlin/laterclaw/internal/llm/llmtest"
	"github.com/linkerlin/laterclaw/internal/timeexpr"
	"github.com/linkerlin/laterclaw/internal/tools"
	"github.com/linkerlin/laterclaw/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoTool returns its "text" argument, or fails when asked to.
type echoTool struct {
	name  string
	calls int
}

func (e *echoTool) Name() string            { return e.name }
func (e *echoTool) Description() string     { return "echo" }
func (e *echoTool) Parameters() *llm.Schema { return &llm.Schema{Type: "object"} }
func (e *echoTool) Call(_ context.Context, _ types.ExecContext, args map[string]any) (string, error) {
	e.calls++
	if args["fail"] == true {
		return "", errors.New("boom")
	}
	s, _ := args["text"].(string)
	return "echo:" + s, nil
}

type harness struct {
	db       *db.DB
	schedule *echoTool
	echo     *echoTool
	reg      *tools.Registry
	clock    *timeexpr.Parser
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	loc, err := time.LoadLocation("Europe/Lisbon")
	require.NoError(t, err)
	h := &harness{
		db:       d,
		schedule: &echoTool{name: tools.ScheduleToolName},
		echo:     &echoTool{name: "echo"},
		clock: timeexpr.New(loc, timeexpr.WithNow(func() time.Time {
			return time.Date(2025, 6, 13, 10, 0, 0, 0, loc)
		})),
	}
	h.reg = tools.NewRegistry(h.schedule, h.echo)
	return h
}

func (h *harness) agent(m llm.Model, cfg Config) *Agent {
	return New(Deps{
		Model:   m,
		Tools:   h.reg,
		History: h.db,
		Usage:   h.db,
		Clock:   h.clock,
		Log:     zerolog.Nop(),
	}, cfg)
}

var ec = types.ExecContext{UserID: "u1", UserName: "alice", ChannelID: "c1"}

func toolNames(req llm.Request) []string {
	var out []string
	for _, t := range req.Tools {
		out = append(out, t.Name)
	}
	return out
}

func TestRun_DirectAnswerStoresHistoryAndUsage(t *testing.T) {
	h := newHarness(t)
	m := llmtest.New(llmtest.Text("  Hello there!  ", llm.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}))
	a := h.agent(m, Config{})
	ctx := context.Background()

	out, err := a.Run(ctx, ec, "hi", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", out)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.ElementsMatch(t, []string{"echo", "schedule"}, toolNames(reqs[0]))
	assert.Contains(t, reqs[0].System, DefaultSystemPrompt)
	assert.Contains(t, reqs[0].System, "13/06/2025 10:00")
	assert.Contains(t, reqs[0].System, "alice")

	turns, err := h.db.RecentTurns(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "hi", turns[0].Content)
	assert.Equal(t, "assistant", turns[1].Role)

	u, err := h.db.GetUsage(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 10, u.TotalTokens)
	assert.EqualValues(t, 1, u.Calls)
}

func TestRun_HistoryIsSentOnNextTurn(t *testing.T) {
	h := newHarness(t)
	m := llmtest.New(llmtest.Text("first", llm.Usage{}), llmtest.Text("second", llm.Usage{}))
	a := h.agent(m, Config{})

	_, err := a.Run(context.Background(), ec, "one", Options{})
	require.NoError(t, err)
	_, err = a.Run(context.Background(), ec, "two", Options{})
	require.NoError(t, err)

	msgs := m.Requests()[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "first", msgs[1].Content)
	assert.Equal(t, "two", msgs[2].Content)
}

func TestRun_ToolRoundThenRequeryWithoutTools(t *testing.T) {
	h := newHarness(t)
	m := llmtest.New(
		llmtest.Calls(
			llm.ToolCall{ID: "a", Name: "echo", Args: map[string]any{"text": "x"}},
			llm.ToolCall{ID: "b", Name: "echo", Args: map[string]any{"fail": true}},
			llm.ToolCall{ID: "c", Name: "nonexistent"},
		),
		llmtest.Text("done", llm.Usage{PromptTokens: 20, CompletionTokens: 4, TotalTokens: 24}),
	)
	a := h.agent(m, Config{})

	out, err := a.Run(context.Background(), ec, "go", Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 2, h.echo.calls)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[1].Tools)

	msgs := reqs[1].Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Len(t, msgs[1].ToolCalls, 3)
	assert.Equal(t, "echo:x", msgs[2].Content)
	assert.Equal(t, "error: boom", msgs[3].Content)
	assert.True(t, strings.HasPrefix(msgs[4].Content, "error: tool \"nonexistent\""))
	assert.Equal(t, "c", msgs[4].ToolCallID)

	u, err := h.db.GetUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 36, u.TotalTokens)
	assert.EqualValues(t, 2, u.Calls)
}

func TestRun_ExcludeSchedulingAndSkipHistory(t *testing.T) {
	h := newHarness(t)
	m := llmtest.New(
		llmtest.Calls(llm.ToolCall{ID: "s", Name: tools.ScheduleToolName, Args: map[string]any{"action": "create_once"}}),
		llmtest.Text("ok", llm.Usage{}),
	)
	a := h.agent(m, Config{})
	ctx := context.Background()

	out, err := a.Run(ctx, ec, "fired task", Options{ExcludeScheduling: true, SkipHistory: true, SystemPrompt: "custom prompt"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	reqs := m.Requests()
	assert.Equal(t, []string{"echo"}, toolNames(reqs[0]))
	assert.True(t, strings.HasPrefix(reqs[0].System, "custom prompt"))
	assert.Zero(t, h.schedule.calls, "scheduling tool must be unreachable")
	assert.Contains(t, reqs[1].Messages[2].Content, "not available")

	turns, err := h.db.RecentTurns(ctx, "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRun_ToolRoundCapFailsClosed(t *testing.T) {
	h := newHarness(t)
	loop := llmtest.Calls(llm.ToolCall{ID: "a", Name: "echo", Args: map[string]any{"text": "again"}})
	m := llmtest.New(loop, loop, loop)
	a := h.agent(m, Config{MaxToolRounds: 2})

	_, err := a.Run(context.Background(), ec, "loop", Options{})
	require.Error(t, err)

	var ae *AdvisoryError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ClassExhausted, ae.Class)
	assert.ErrorIs(t, err, ErrToolRoundsExhausted)
	assert.Equal(t, 2, h.echo.calls)

	u, err := h.db.GetUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, u.Calls)
}

func TestRun_UpstreamFailureIsAdvisory(t *testing.T) {
	h := newHarness(t)
	m := llmtest.New(llmtest.Fail(errors.New("openai: error, status code: 429, message: Rate limit reached")))
	a := h.agent(m, Config{})

	out, err := a.Run(context.Background(), ec, "hi", Options{})
	assert.Empty(t, out)
	var ae *AdvisoryError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ClassRateLimit, ae.Class)
	assert.Equal(t, advisories[ClassRateLimit], Advisory(err))

	turns, err := h.db.RecentTurns(context.Background(), "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRun_EmptyAnswerFallback(t *testing.T) {
	h := newHarness(t)
	a := h.agent(llmtest.New(llmtest.Text("   ", llm.Usage{})), Config{})
	out, err := a.Run(context.Background(), ec, "hi", Options{SkipHistory: true})
	require.NoError(t, err)
	assert.Equal(t, emptyAnswer, out)
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(t)
	a := h.agent(llmtest.New(llmtest.Text("never", llm.Usage{})), Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := a.Run(ctx, ec, "hi", Options{SkipHistory: true})
	var ae *AdvisoryError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, ClassTimeout, ae.Class)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{context.DeadlineExceeded, ClassTimeout},
		{errors.New("Post https://x: net/http: request canceled (Client.Timeout exceeded)"), ClassTimeout},
		{errors.New("Error 429, Message: quota, Status: RESOURCE_EXHAUSTED"), ClassRateLimit},
		{errors.New("status code: 401, message: Incorrect API key provided"), ClassAuth},
		{errors.New("Error 403, Status: PERMISSION_DENIED"), ClassAuth},
		{errors.New("Error 503, Message: The model is overloaded"), ClassUpstream},
		{errors.New("dial tcp: lookup api.openai.com: no such host"), ClassNetwork},
		{errors.New("unexpected EOF"), ClassNetwork},
		{errors.New("something odd"), ClassUnknown},
		{errors.New("status code: 400, message: maximum context length is 4500 tokens"), ClassUnknown},
		{errors.New("request 14290 rejected: invalid argument"), ClassUnknown},
		{errors.New("status code: 502, message: upstream connect error"), ClassUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ae := Classify(tt.err)
			assert.Equal(t, tt.want, ae.Class)
			assert.NotEmpty(t, ae.Advisory)
			assert.ErrorIs(t, ae, tt.err)
		})
	}

	wrapped := Classify(newAdvisory(ClassAuth, errors.New("x")))
	assert.Equal(t, ClassAuth, wrapped.Class)
	assert.Equal(t, advisories[ClassUnknown], Advisory(errors.New("plain")))
}
