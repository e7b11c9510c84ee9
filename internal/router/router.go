package router

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cenkalti/backoff/v4"

	"github.com/linkerlin/laterclaw/internal/transport"
)

// MaxDeliveryRetries bounds the retries of one chunk.
const MaxDeliveryRetries = 3

// FormatOutbound cleans up the raw agent response for display.
func FormatOutbound(rawText string) string {
	return strings.TrimSpace(rawText)
}

// WithMention prefixes text with mention, if any.
func WithMention(mention, text string) string {
	mention = strings.TrimSpace(mention)
	if mention == "" {
		return text
	}
	return mention + " " + text
}

// Chunk splits text into pieces of at most max runes. Splits prefer a
// newline, then any whitespace, so words and URLs stay whole; a single
// token longer than max is cut hard.
func Chunk(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 {
		return []string{text}
	}
	var out []string
	rest := []rune(text)
	for len(rest) > max {
		cut := breakPoint(rest, max)
		piece := strings.TrimRightFunc(string(rest[:cut]), unicode.IsSpace)
		if piece != "" {
			out = append(out, piece)
		}
		rest = []rune(strings.TrimLeftFunc(string(rest[cut:]), unicode.IsSpace))
	}
	if len(rest) > 0 {
		out = append(out, string(rest))
	}
	return out
}

// breakPoint returns the index to cut rs at, never above max.
func breakPoint(rs []rune, max int) int {
	// The rune right after the window may itself be the separator.
	window := rs[:max+1]
	for i := max; i > 0; i-- {
		if window[i] == '\n' {
			return i
		}
	}
	for i := max; i > 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i
		}
	}
	return max
}

// Option configures a Deliverer.
type Option func(*Deliverer)

// WithBackOff replaces the per-chunk retry policy.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(d *Deliverer) { d.newBackOff = fn }
}

// Deliverer sends assistant output through a transport.
type Deliverer struct {
	sender     transport.Sender
	newBackOff func() backoff.BackOff
}

func NewDeliverer(s transport.Sender, opts ...Option) *Deliverer {
	d := &Deliverer{
		sender: s,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxDeliveryRetries)
		},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Deliver formats text, prefixes mention, and sends it to channelID in
// sender-sized chunks. Each chunk is retried with the backoff policy.
func (d *Deliverer) Deliver(ctx context.Context, channelID, text, mention string) error {
	body := WithMention(mention, FormatOutbound(text))
	for i, chunk := range Chunk(body, d.sender.MaxMessageLen()) {
		op := func() error {
			return d.sender.Send(ctx, channelID, chunk)
		}
		if err := backoff.Retry(op, backoff.WithContext(d.newBackOff(), ctx)); err != nil {
			return fmt.Errorf("deliver chunk %d to %s: %w", i+1, channelID, err)
		}
	}
	return nil
}
