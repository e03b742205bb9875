package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope         = "straysync/sync"
	spanSync          = "straysync.sync"
	metricPushed      = "straysync.reports.pushed"
	metricPushFailed  = "straysync.reports.push_failed"
	metricPulled      = "straysync.reports.pulled"
	metricPullErrors  = "straysync.reports.pull_errors"
	attributeKindName = "report.kind"
)

// Stats aggregates one sync pass over every repository.
type Stats struct {
	Pushed     int
	PushFailed int
	Pulled     int
	Skipped    int
	PullErrors int
}

func (s *Stats) addPush(p PushStats) {
	s.Pushed += p.Pushed
	s.PushFailed += p.Failed
}

func (s *Stats) addPull(p PullStats) {
	s.Pulled += p.Pulled
	s.Skipped += p.Skipped
	s.PullErrors += p.Errors
}

// Engine periodically flushes pending reports and pulls remote changes for
// every repository. Create one with [NewEngine] and start it with [Engine.Run].
type Engine struct {
	repos        []*Repository
	pollInterval time.Duration
	log          *slog.Logger

	// OTel instruments are always non-nil (no-op when telemetry is disabled).
	tracer        trace.Tracer
	cntPushed     metric.Int64Counter
	cntPushFailed metric.Int64Counter
	cntPulled     metric.Int64Counter
	cntPullErrors metric.Int64Counter
}

// NewEngine creates an Engine over the given repositories.
func NewEngine(repos []*Repository, pollInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		repos:        repos,
		pollInterval: pollInterval,
		log:          logger,

		tracer:        tracer,
		cntPushed:     mustCounter(metricPushed, "Number of reports confirmed by the remote stores"),
		cntPushFailed: mustCounter(metricPushFailed, "Number of report pushes that failed and stay pending"),
		cntPulled:     mustCounter(metricPulled, "Number of remote reports applied locally"),
		cntPullErrors: mustCounter(metricPullErrors, "Number of remote documents that could not be applied"),
	}
}

// sync runs one flush-then-pull pass per repository, recording a trace span
// and metrics. A failing repository does not stop the others.
func (e *Engine) sync(ctx context.Context) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanSync)
	defer span.End()

	var (
		total Stats
		errs  []error
	)
	for _, repo := range e.repos {
		kind := metric.WithAttributes(attribute.String(attributeKindName, repo.Kind().String()))

		push, err := repo.FlushPending(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("flushing %s: %w", repo.Kind(), err))
		}
		pull, err := repo.Pull(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("pulling %s: %w", repo.Kind(), err))
		}

		if push.Pushed > 0 {
			e.cntPushed.Add(ctx, int64(push.Pushed), kind)
		}
		if push.Failed > 0 {
			e.cntPushFailed.Add(ctx, int64(push.Failed), kind)
		}
		if pull.Pulled > 0 {
			e.cntPulled.Add(ctx, int64(pull.Pulled), kind)
		}
		if pull.Errors > 0 {
			e.cntPullErrors.Add(ctx, int64(pull.Errors), kind)
		}

		total.addPush(push)
		total.addPull(pull)
	}

	span.SetAttributes(
		attribute.Int("sync.pushed", total.Pushed),
		attribute.Int("sync.push_failed", total.PushFailed),
		attribute.Int("sync.pulled", total.Pulled),
		attribute.Int("sync.pull_errors", total.PullErrors),
	)
	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
	}
	return total, err
}

// RunOnce performs a single sync pass and returns.
func (e *Engine) RunOnce(ctx context.Context) (Stats, error) {
	return e.sync(ctx)
}

// Run starts the polling loop. It blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Run an immediate first pass.
	if _, err := e.sync(ctx); err != nil {
		e.log.Error("initial sync failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			stats, err := e.sync(ctx)
			if err != nil {
				e.log.Error("sync failed", "error", err)
				continue
			}
			e.log.Debug("sync pass complete", "pushed", stats.Pushed, "pulled", stats.Pulled)
		}
	}
}
