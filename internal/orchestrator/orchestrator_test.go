package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkerlin/laterclaw/internal/agent"
	"github.com/linkerlin/laterclaw/internal/db"
	"github.com/linkerlin/laterclaw/internal/llm"
	"github.com/linkerlin/laterclaw/internal/llm/llmtest"
	"github.com/linkerlin/laterclaw/internal/queue"
	"github.com/linkerlin/laterclaw/internal/router"
	"github.com/linkerlin/laterclaw/internal/timeexpr"
	"github.com/linkerlin/laterclaw/internal/tools"
	"github.com/linkerlin/laterclaw/internal/transport"
	"github.com/linkerlin/laterclaw/internal/transport/transporttest"
)

type fixture struct {
	db    *db.DB
	model *llmtest.Model
	out   *transporttest.Recorder
	queue *queue.GroupQueue
	orch  *Orchestrator
}

func newFixture(t *testing.T, steps ...llmtest.Step) *fixture {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	f := &fixture{
		db:    d,
		model: llmtest.New(steps...),
		out:   transporttest.New(4096),
		queue: queue.New(2),
	}
	a := agent.New(agent.Deps{
		Model:   f.model,
		Tools:   tools.NewRegistry(tools.NewLists(d), tools.NewResetHistory(d)),
		History: d,
		Usage:   d,
		Clock:   timeexpr.New(time.UTC),
		Log:     zerolog.Nop(),
	}, agent.Config{})
	out := router.NewDeliverer(f.out, router.WithBackOff(func() backoff.BackOff { return &backoff.StopBackOff{} }))
	f.orch = New(Config{Name: "Andy"}, a, d, f.queue, out, zerolog.Nop())
	return f
}

func (f *fixture) handle(msg transport.Inbound) {
	f.orch.Handle(context.Background(), msg)
	f.queue.Wait()
}

func private(text string) transport.Inbound {
	return transport.Inbound{ChannelID: "c1", UserID: "u1", UserName: "amy", Text: text}
}

func group(text string) transport.Inbound {
	return transport.Inbound{ChannelID: "g1", UserID: "u2", UserName: "bob", Text: text, IsGroup: true}
}

func TestTriggerPattern(t *testing.T) {
	re := TriggerPattern("Andy")
	assert.True(t, re.MatchString("@Andy hello"))
	assert.True(t, re.MatchString("@andy, hello"))
	assert.False(t, re.MatchString("@Andyman hello"))
	assert.False(t, re.MatchString("hello @Andy"))
}

func TestHandle_PrivateMessageIsATurn(t *testing.T) {
	f := newFixture(t, llmtest.Text("Hi Amy!", llm.Usage{TotalTokens: 5}))
	f.handle(private("  hello  "))

	assert.Equal(t, []string{"Hi Amy!"}, f.out.Texts())
	reqs := f.model.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "hello", reqs[0].Messages[0].Content)
	assert.Contains(t, reqs[0].System, "amy")
	assert.NotContains(t, reqs[0].System, "group chat")
}

func TestHandle_GroupNeedsTrigger(t *testing.T) {
	f := newFixture(t, llmtest.Text("On it.", llm.Usage{}))

	f.handle(group("just chatting"))
	assert.Empty(t, f.model.Requests())
	assert.Empty(t, f.out.Texts())

	f.handle(group("@andy: what's up?"))
	reqs := f.model.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "what's up?", reqs[0].Messages[0].Content)
	assert.Contains(t, reqs[0].System, "group chat")
	assert.Equal(t, []transporttest.Sent{{ChannelID: "g1", Text: "On it."}}, f.out.Sent())
}

func TestHandle_AdvisoryOnModelFailure(t *testing.T) {
	f := newFixture(t, llmtest.Fail(errors.New("status code: 429, rate limit reached")))
	f.handle(private("hi"))

	texts := f.out.Texts()
	require.Len(t, texts, 1)
	assert.Equal(t, agent.Advisory(agent.Classify(errors.New("429"))), texts[0])
}

func TestHandle_Commands(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.AddUsage(context.Background(), "u1", 10, 5, 15, 2))

	f.handle(private("/start"))
	f.handle(private("/help"))
	f.handle(private("/usage"))
	f.handle(group("@Andy /usage@AndyBot"))

	texts := f.out.Texts()
	require.Len(t, texts, 4)
	assert.Contains(t, texts[0], "I'm Andy")
	assert.Contains(t, texts[1], "@Andy")
	assert.Equal(t, "Your usage: 2 model call(s), 10 prompt + 5 completion = 15 tokens.", texts[2])
	assert.Contains(t, texts[3], "0 model call(s)")
	assert.Empty(t, f.model.Requests())
}

func TestHandle_ThinkingCallback(t *testing.T) {
	f := newFixture(t, llmtest.Text("ok", llm.Usage{}))
	var (
		mu     sync.Mutex
		events []bool
	)
	f.orch.SetThinkingFunc(func(channelID string, busy bool) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "c1", channelID)
		events = append(events, busy)
	})
	f.handle(private("hi"))
	assert.Equal(t, []bool{true, false}, events)
}

func TestHandle_DroppedTurnLeavesNoThinking(t *testing.T) {
	f := newFixture(t, llmtest.Text("ok", llm.Usage{}))
	var (
		mu     sync.Mutex
		events []bool
	)
	f.orch.SetThinkingFunc(func(_ string, busy bool) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, busy)
	})

	// Hold both global slots so the turn has to wait.
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	for _, key := range []string{"x", "y"} {
		f.queue.Enqueue(context.Background(), key, func(context.Context) {
			started.Done()
			<-release
		})
	}
	started.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	f.orch.Handle(ctx, private("hi"))
	cancel()
	require.Eventually(t, func() bool { return !f.queue.IsRunning("c1") }, time.Second, 5*time.Millisecond)
	close(release)
	f.queue.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, events)
	assert.Empty(t, f.model.Requests())
}

func TestHandle_TurnsOfOneChannelKeepOrder(t *testing.T) {
	f := newFixture(t, llmtest.Text("one", llm.Usage{}), llmtest.Text("two", llm.Usage{}))
	f.orch.Handle(context.Background(), private("first"))
	f.orch.Handle(context.Background(), private("second"))
	f.queue.Wait()

	assert.Equal(t, []string{"one", "two"}, f.out.Texts())
	reqs := f.model.Requests()
	require.Len(t, reqs, 2)
	// The second turn sees the first one as history.
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, "first", reqs[1].Messages[0].Content)
}
