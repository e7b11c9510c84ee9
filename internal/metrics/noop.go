package metrics

import "time"

// NoopSink is used when metrics are disabled so callers never nil-check.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (NoopSink) TickStarted()                            {}
func (NoopSink) TickCompleted(time.Duration, int, error) {}
func (NoopSink) EventFired(string)                       {}
func (NoopSink) EventFailed(string)                      {}
func (NoopSink) ToolCall(string, bool)                   {}
func (NoopSink) ModelCall(time.Duration, int, int)       {}
func (NoopSink) Advisory(string)                         {}
