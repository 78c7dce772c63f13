// Package worker scores ingested timelines asynchronously off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Worker subscribes to timeline ingest events and runs each through the pipeline.
type Worker struct {
	bus      domain.EventBus
	pipeline *Pipeline

	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount bounds concurrently processed timelines.
	WorkerCount int
}

// NewWorker creates a worker publishing results on b.
func NewWorker(b domain.EventBus, pipeline *Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      b,
		pipeline: pipeline,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingest topic.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	w.sem = make(chan struct{}, cfg.WorkerCount)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTimelineIngested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicTimelineIngested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicTimelineIngested,
		"workers", cfg.WorkerCount,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var ev domain.TimelineIngested
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse ingest message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if ev.UserID == "" {
		return fmt.Errorf("%w: ingest message %s has no user id", domain.ErrInvalidInput, msg.ID)
	}
	if ev.TraceID == "" {
		ev.TraceID = msg.ID
	}

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		_ = w.Process(w.ctx, ev)
	}()
	return nil
}

// Process scores one ingested timeline and publishes the assessment, plus an
// alert when it is ALRT.
func (w *Worker) Process(ctx context.Context, ev domain.TimelineIngested) error {
	start := time.Now()

	if w.pipeline.Velocity != nil {
		if n, err := w.pipeline.Velocity.RecordIngest(ctx, ev.UserID, ingestWindow); err == nil {
			slog.Debug("ingest rate", "user_id", ev.UserID, "per_minute", n)
		}
	}

	res, err := w.pipeline.Assess(ctx, ev.UserID, ev.AsOf, ev.TraceID)
	if err != nil {
		slog.Error("timeline processing failed",
			"user_id", ev.UserID,
			"trace_id", ev.TraceID,
			"error", err,
		)
		return err
	}
	w.pipeline.Metrics.ObserveIngest()
	a := res.Assessment

	if err := bus.PublishJSON(ctx, w.bus, domain.TopicAssessment, a); err != nil {
		slog.Error("failed to publish assessment",
			"user_id", ev.UserID,
			"error", err,
		)
	}
	if decision.ShouldAlert(a) {
		if err := bus.PublishJSON(ctx, w.bus, domain.TopicAlert, a); err != nil {
			slog.Error("failed to publish alert",
				"user_id", ev.UserID,
				"error", err,
			)
		}
	}

	slog.Info("timeline processed",
		"user_id", ev.UserID,
		"events", ev.Events,
		"status", a.Status,
		"score", a.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop unsubscribes and waits for in-flight timelines.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped")
	return nil
}

// Stats describes the worker's subscriptions.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
