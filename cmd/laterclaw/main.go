package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/linkerlin/laterclaw/internal/agent"
	"github.com/linkerlin/laterclaw/internal/config"
	"github.com/linkerlin/laterclaw/internal/db"
	"github.com/linkerlin/laterclaw/internal/ledger"
	"github.com/linkerlin/laterclaw/internal/llm"
	"github.com/linkerlin/laterclaw/internal/metrics"
	"github.com/linkerlin/laterclaw/internal/orchestrator"
	"github.com/linkerlin/laterclaw/internal/queue"
	"github.com/linkerlin/laterclaw/internal/router"
	"github.com/linkerlin/laterclaw/internal/scheduler"
	"github.com/linkerlin/laterclaw/internal/timeexpr"
	"github.com/linkerlin/laterclaw/internal/tools"
	"github.com/linkerlin/laterclaw/internal/transport"
	"github.com/linkerlin/laterclaw/internal/transport/telegram"
	"github.com/linkerlin/laterclaw/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "laterclaw:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.App.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer database.Close()

	loc := cfg.Location()
	clock := timeexpr.New(loc)

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, log)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	backend, err := ledger.Open(cfg.Ledger.Driver, cfg.LedgerPath(), database)
	if err != nil {
		return err
	}
	events := ledger.New(backend, ledger.WithLogger(component(log, "ledger")))

	model, err := newModel(ctx, cfg.LLM)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(
		tools.NewSchedule(events, clock),
		tools.NewLists(database),
		tools.NewResetHistory(database),
	)
	assistant := agent.New(agent.Deps{
		Model:   model,
		Tools:   registry,
		History: database,
		Usage:   database,
		Clock:   clock,
		Metrics: sink,
		Log:     component(log, "agent"),
	}, agent.Config{
		SystemPrompt:  cfg.LLM.SystemPrompt,
		MaxToolRounds: cfg.LLM.MaxToolRounds,
		HistoryLimit:  cfg.App.HistoryLimit,
	})

	var (
		tr      transport.Transport
		console *tui.Console
	)
	switch strings.ToLower(cfg.Transport.Kind) {
	case "telegram":
		tr, err = telegram.New(telegram.Config{
			Token:       cfg.Transport.Token,
			PollTimeout: cfg.Transport.PollTimeout,
			RatePerSec:  cfg.Transport.RatePerSec,
		}, component(log, "telegram"))
		if err != nil {
			return err
		}
	default:
		console = tui.NewConsole(cfg.App.Name, "you", clock.Format, events, component(log, "tui"))
		tr = console
	}
	out := router.NewDeliverer(tr)

	q := queue.New(cfg.App.MaxConcurrent)
	orch := orchestrator.New(orchestrator.Config{
		Name:        cfg.App.Name,
		TurnTimeout: cfg.LLM.RequestTimeout,
	}, assistant, database, q, out, component(log, "orchestrator"))
	if console != nil {
		orch.SetThinkingFunc(console.SetThinking)
	}

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		exec := scheduler.NewExecutor(assistant, events, out, component(log, "executor"))
		sched = scheduler.New(events, exec, loc,
			scheduler.WithMetrics(sink),
			scheduler.WithLogger(component(log, "scheduler")),
			scheduler.WithTaskTimeout(cfg.Scheduler.TaskTimeout),
		)
		if err := sched.Start(ctx); err != nil {
			return err
		}
	}

	log.Info().Str("name", cfg.App.Name).Str("transport", cfg.Transport.Kind).
		Str("tz", loc.String()).Str("provider", cfg.LLM.Provider).Msg("laterclaw started")
	runErr := tr.Run(ctx, orch.Handle)

	log.Info().Msg("shutting down")
	stop()
	if sched != nil {
		sched.Stop()
	}
	q.Wait()
	if metricsServer != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown")
		}
	}
	return runErr
}

func newModel(ctx context.Context, cfg config.LLMConfig) (llm.Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return llm.NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model)
	default:
		return llm.NewGemini(ctx, cfg.APIKey, cfg.Model)
	}
}

// newLogger builds the root logger. While the console UI owns the terminal,
// logs go to a file in the data dir.
func newLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if strings.ToLower(cfg.Transport.Kind) != "telegram" {
		f, err := os.OpenFile(cfg.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Logger{}, nil, fmt.Errorf("open log file %s: %w", filepath.Base(cfg.LogPath()), err)
		}
		w = f
		closeFn = func() { f.Close() }
	}
	if cfg.Log.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: w != io.Writer(os.Stderr)}
	}
	log := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return log, closeFn, nil
}

func component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("comp", name).Logger()
}
