// Package worker runs analyses requested over the event bus.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Runner executes analyses. Implemented by analytics.Service.
type Runner interface {
	RunAnalysis(ctx context.Context, req domain.AnalysisRequest) ([]byte, error)
	InvalidateDataset(ctx context.Context, dataset string) error
}

// Worker consumes analysis requests and ledger refreshes from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	runner Runner

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	succeeded atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Datasets to consume. Empty means the default dataset only.
	Datasets []string

	// WorkerCount bounds the analyses running at once.
	WorkerCount int
}

// DefaultDataset is consumed when no datasets are configured.
const DefaultDataset = "default"

// Completion is published on TopicAnalysisCompleted, and returned to
// callers that used a bus request.
type Completion struct {
	ID         string              `json:"id"`
	Dataset    string              `json:"dataset"`
	Kind       domain.AnalysisKind `json:"kind"`
	Status     string              `json:"status"`
	Error      string              `json:"error,omitempty"`
	DurationMs int64               `json:"durationMs"`
	Result     json.RawMessage     `json:"result,omitempty"`
}

// NewWorker creates a new async worker. repo may be nil, in which case
// runs are only published.
func NewWorker(b domain.EventBus, repo domain.Repository, runner Runner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    b,
		repo:   repo,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the analysis and ledger topics of every dataset.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if len(cfg.Datasets) == 0 {
		cfg.Datasets = []string{DefaultDataset}
	}
	w.sem = make(chan struct{}, cfg.WorkerCount)

	for _, dataset := range cfg.Datasets {
		if err := w.startDatasetWorker(dataset); err != nil {
			slog.Error("failed to start worker for dataset",
				"dataset", dataset,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"dataset_count", len(cfg.Datasets),
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

func (w *Worker) startDatasetWorker(dataset string) error {
	sub, err := w.bus.Subscribe(w.ctx, dataset, domain.TopicAnalysisRequested, w.handleAnalysis)
	if err != nil {
		return err
	}
	refresh, err := w.bus.Subscribe(w.ctx, dataset, domain.TopicLedgerRefreshed, w.handleRefresh)
	if err != nil {
		sub.Unsubscribe()
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub, refresh)
	w.mu.Unlock()

	slog.Info("dataset worker started",
		"dataset", dataset,
		"topic", domain.TopicAnalysisRequested,
	)
	return nil
}

// handleAnalysis queues one request. It blocks while WorkerCount analyses
// are already running.
func (w *Worker) handleAnalysis(ctx context.Context, msg *domain.Message) error {
	var req domain.AnalysisRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse analysis request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.Dataset == "" {
		req.Dataset = msg.Dataset
	}
	if req.ID == "" {
		req.ID = msg.ID
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
		w.process(w.ctx, msg, req)
	}()
	return nil
}

// process runs an analysis, stores the run and publishes its completion.
func (w *Worker) process(ctx context.Context, msg *domain.Message, req domain.AnalysisRequest) {
	start := time.Now()

	slog.Debug("processing analysis",
		"run_id", req.ID,
		"dataset", req.Dataset,
		"kind", req.Kind,
		"trace_id", req.TraceID,
	)

	result, err := w.runner.RunAnalysis(ctx, req)
	done := Completion{
		ID:         req.ID,
		Dataset:    req.Dataset,
		Kind:       req.Kind,
		Status:     domain.RunSucceeded,
		DurationMs: time.Since(start).Milliseconds(),
		Result:     result,
	}
	if err != nil {
		result = nil
		done.Status = domain.RunFailed
		done.Error = err.Error()
		done.Result = nil
		w.failed.Add(1)
	} else {
		w.succeeded.Add(1)
	}
	metrics.WorkerJobs.WithLabelValues(string(req.Kind), done.Status).Inc()

	// The outcome is recorded even when Stop canceled the analysis.
	ctx = context.WithoutCancel(ctx)

	if w.repo != nil {
		run := &domain.AnalysisRun{
			ID:         req.ID,
			Dataset:    req.Dataset,
			Kind:       req.Kind,
			Status:     done.Status,
			Params:     req.Params,
			Result:     result,
			Error:      done.Error,
			DurationMs: done.DurationMs,
		}
		if err := w.repo.SaveAnalysisRun(ctx, run); err != nil {
			slog.Error("failed to save analysis run",
				"run_id", req.ID,
				"error", err,
			)
		}
	}

	payload, _ := json.Marshal(done)
	if err := bus.Reply(ctx, w.bus, msg, payload); err != nil {
		slog.Error("failed to reply to analysis request",
			"run_id", req.ID,
			"error", err,
		)
	}

	// Subscribers to completions only need the status; the result is in
	// the repository.
	done.Result = nil
	note, _ := json.Marshal(done)
	if err := w.bus.Publish(ctx, req.Dataset, domain.TopicAnalysisCompleted, note); err != nil {
		slog.Error("failed to publish completion",
			"run_id", req.ID,
			"error", err,
		)
	}

	slog.Info("analysis processed",
		"run_id", req.ID,
		"dataset", req.Dataset,
		"kind", req.Kind,
		"status", done.Status,
		"duration_ms", done.DurationMs,
	)
}

func (w *Worker) handleRefresh(ctx context.Context, msg *domain.Message) error {
	if err := w.runner.InvalidateDataset(ctx, msg.Dataset); err != nil {
		slog.Error("failed to invalidate dataset",
			"dataset", msg.Dataset,
			"error", err,
		)
		return err
	}
	return nil
}

// Stop cancels running analyses, unsubscribes and waits for the
// analyses to record their outcome.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Succeeded         int64    `json:"succeeded"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Succeeded:         w.succeeded.Load(),
		Failed:            w.failed.Load(),
	}
}
