// Package transporttest provides a recording transport for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/linkerlin/laterclaw/internal/transport"
)

// Sent is one delivered message.
type Sent struct {
	ChannelID string
	Text      string
}

// Recorder records every Send. The first FailNext sends fail with Err.
type Recorder struct {
	MaxLen int

	mu       sync.Mutex
	sent     []Sent
	attempts int
	failNext int
	err      error
	inbound  []transport.Inbound
}

var _ transport.Transport = (*Recorder)(nil)

func New(maxLen int) *Recorder {
	return &Recorder{MaxLen: maxLen}
}

// FailNext makes the next n sends return err.
func (r *Recorder) FailNext(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext, r.err = n, err
}

// Push queues messages that Run hands to its handler.
func (r *Recorder) Push(msgs ...transport.Inbound) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbound = append(r.inbound, msgs...)
}

func (r *Recorder) Send(_ context.Context, channelID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts++
	if r.failNext > 0 {
		r.failNext--
		return r.err
	}
	r.sent = append(r.sent, Sent{ChannelID: channelID, Text: text})
	return nil
}

func (r *Recorder) MaxMessageLen() int { return r.MaxLen }

// Run hands every pushed message to h, then waits for ctx.
func (r *Recorder) Run(ctx context.Context, h transport.Handler) error {
	r.mu.Lock()
	msgs := r.inbound
	r.inbound = nil
	r.mu.Unlock()
	for _, m := range msgs {
		h(ctx, m)
	}
	<-ctx.Done()
	return nil
}

// Sent returns a copy of the successful sends.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// Texts returns the text of every successful send.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, s := range r.sent {
		out = append(out, s.Text)
	}
	return out
}

// Attempts counts every Send call, failed ones included.
func (r *Recorder) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}
