// Package scheduler fires due events from the ledger once per minute.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/linkerlin/laterclaw/internal/metrics"
	"github.com/linkerlin/laterclaw/internal/recurrence"
	"github.com/linkerlin/laterclaw/internal/types"
)

// DefaultTaskTimeout bounds one fired task when none is configured.
const DefaultTaskTimeout = 2 * time.Minute

// EventSource lists the events that may fire.
type EventSource interface {
	ListActive(ctx context.Context) ([]types.ScheduledEvent, error)
}

// Scheduler evaluates active events every minute and dispatches the due ones
// to an Executor, one after another.
type Scheduler struct {
	events      EventSource
	exec        *Executor
	loc         *time.Location
	taskTimeout time.Duration
	now         func() time.Time
	metrics     metrics.Sink
	log         zerolog.Logger
	cron        *cron.Cron
}

type Option func(*Scheduler)

func WithNow(now func() time.Time) Option    { return func(s *Scheduler) { s.now = now } }
func WithMetrics(m metrics.Sink) Option      { return func(s *Scheduler) { s.metrics = m } }
func WithLogger(log zerolog.Logger) Option   { return func(s *Scheduler) { s.log = log } }
func WithTaskTimeout(d time.Duration) Option { return func(s *Scheduler) { s.taskTimeout = d } }

// New creates a Scheduler ticking in loc.
func New(events EventSource, exec *Executor, loc *time.Location, opts ...Option) *Scheduler {
	s := &Scheduler{
		events:      events,
		exec:        exec,
		loc:         loc,
		taskTimeout: DefaultTaskTimeout,
		now:         time.Now,
		metrics:     metrics.NewNoopSink(),
		log:         zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return s
}

// Start begins ticking at the top of every minute until ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("* * * * *", func() {
		if _, err := s.Tick(ctx); err != nil {
			s.log.Error().Err(err).Msg("tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register tick: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("tz", s.loc.String()).Msg("scheduler started")
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts ticking and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Tick fires every due event once, in listing order, and returns how many
// were dispatched. A failing event does not stop the others.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	start := time.Now()
	s.metrics.TickStarted()

	now := s.now().In(s.loc).Truncate(time.Minute)
	evs, err := s.events.ListActive(ctx)
	if err != nil {
		err = fmt.Errorf("list active events: %w", err)
		s.metrics.TickCompleted(time.Since(start), 0, err)
		return 0, err
	}

	fired := 0
	for _, ev := range evs {
		if ctx.Err() != nil {
			break
		}
		if !ShouldFire(ev, now, s.loc) {
			continue
		}
		fired++
		s.dispatch(ctx, ev)
	}
	s.metrics.TickCompleted(time.Since(start), fired, nil)
	if fired > 0 {
		s.log.Info().Int("fired", fired).Time("minute", now).Msg("tick")
	}
	return fired, nil
}

func (s *Scheduler) dispatch(ctx context.Context, ev types.ScheduledEvent) {
	tctx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()

	log := s.log.With().Str("event", ev.ID).Str("kind", string(ev.Kind)).Logger()
	if err := s.exec.Execute(tctx, ev); err != nil {
		s.metrics.EventFailed(string(ev.Kind))
		log.Warn().Err(err).Int("fire_count", ev.FireCount).Msg("event failed; it stays active")
		return
	}
	s.metrics.EventFired(string(ev.Kind))
	log.Info().Msg("event fired")
}

// ShouldFire reports whether ev is due in the minute of now. A once event
// is due in its own minute, and also on any later tick while it has never
// fired. A recurring event is due when its expression matches now in loc.
func ShouldFire(ev types.ScheduledEvent, now time.Time, loc *time.Location) bool {
	if !ev.IsActive() {
		return false
	}
	minute := now.Truncate(time.Minute)
	switch ev.Kind {
	case types.KindOnce:
		at, err := ev.At()
		if err != nil {
			return false
		}
		if at.Truncate(time.Minute).Equal(minute) {
			return true
		}
		return at.Before(minute) && ev.FireCount == 0
	case types.KindRecurring:
		return recurrence.MatchesIn(ev.Schedule, minute, loc)
	default:
		return false
	}
}

// cronLogger routes cron's logging into zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
