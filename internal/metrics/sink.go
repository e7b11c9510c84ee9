// Package metrics records scheduler, agent and delivery counters.
package metrics

import "time"

// Sink records metrics. Methods are fire-and-forget: they never block and
// never return errors.
type Sink interface {
	// Firing loop
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
	EventFired(kind string)
	EventFailed(kind string)

	// Agent loop
	ToolCall(name string, ok bool)
	ModelCall(duration time.Duration, promptTokens, completionTokens int)
	Advisory(class string)
}
