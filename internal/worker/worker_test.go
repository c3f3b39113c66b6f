package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

type fakeRunner struct {
	mu          sync.Mutex
	fail        error
	invalidated []string
}

func (f *fakeRunner) RunAnalysis(_ context.Context, req domain.AnalysisRequest) ([]byte, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return json.Marshal(map[string]string{"kind": string(req.Kind)})
}

func (f *fakeRunner) InvalidateDataset(_ context.Context, dataset string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, dataset)
	return nil
}

func (f *fakeRunner) invalidations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.invalidated...)
}

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "runs.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func publishRequest(t *testing.T, b domain.EventBus, req domain.AnalysisRequest) {
	t.Helper()
	payload, _ := json.Marshal(req)
	if err := b.Publish(context.Background(), req.Dataset, domain.TopicAnalysisRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func awaitCompletion(t *testing.T, b domain.EventBus, dataset string) <-chan Completion {
	t.Helper()
	ch := make(chan Completion, 1)
	sub, err := b.Subscribe(context.Background(), dataset, domain.TopicAnalysisCompleted, func(_ context.Context, msg *domain.Message) error {
		var c Completion
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			return err
		}
		ch <- c
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })
	return ch
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, nil, &fakeRunner{})
		if err := w.Start(Config{Datasets: []string{"retail-uk"}, WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("DefaultDataset", func(t *testing.T) {
		w := NewWorker(eventBus, nil, &fakeRunner{})
		w.Start(Config{})
		defer w.Stop()

		for _, topic := range w.GetStats().Topics {
			if topic != domain.TopicAnalysisRequested && topic != domain.TopicLedgerRefreshed {
				t.Errorf("unexpected topic %s", topic)
			}
		}
	})

	t.Run("ProcessAnalysis", func(t *testing.T) {
		repo := newTestRepo(t)
		w := NewWorker(eventBus, repo, &fakeRunner{})
		w.Start(Config{Datasets: []string{"retail-ok"}})
		defer w.Stop()

		completed := awaitCompletion(t, eventBus, "retail-ok")
		publishRequest(t, eventBus, domain.AnalysisRequest{
			ID:      "run-001",
			Dataset: "retail-ok",
			Kind:    domain.AnalysisRFM,
			Params:  []byte(`{"startDate":"2011-01-01"}`),
		})

		select {
		case c := <-completed:
			if c.ID != "run-001" || c.Status != domain.RunSucceeded {
				t.Errorf("unexpected completion %+v", c)
			}
			if len(c.Result) != 0 {
				t.Error("completion notice should not carry the result")
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for completion")
		}

		run, err := repo.GetAnalysisRun(context.Background(), "retail-ok", "run-001")
		if err != nil {
			t.Fatalf("GetAnalysisRun failed: %v", err)
		}
		if run.Status != domain.RunSucceeded || string(run.Result) != `{"kind":"rfm"}` {
			t.Errorf("unexpected stored run %+v", run)
		}
		if string(run.Params) != `{"startDate":"2011-01-01"}` {
			t.Errorf("expected params to be stored, got %s", run.Params)
		}
		if w.GetStats().Succeeded != 1 {
			t.Errorf("expected 1 succeeded job, got %d", w.GetStats().Succeeded)
		}
	})

	t.Run("FailedAnalysis", func(t *testing.T) {
		repo := newTestRepo(t)
		w := NewWorker(eventBus, repo, &fakeRunner{fail: domain.ErrInsufficientData})
		w.Start(Config{Datasets: []string{"retail-bad"}})
		defer w.Stop()

		completed := awaitCompletion(t, eventBus, "retail-bad")
		publishRequest(t, eventBus, domain.AnalysisRequest{ID: "run-002", Dataset: "retail-bad", Kind: domain.AnalysisSegments})

		select {
		case c := <-completed:
			if c.Status != domain.RunFailed || c.Error == "" {
				t.Errorf("unexpected completion %+v", c)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for completion")
		}

		run, err := repo.GetAnalysisRun(context.Background(), "retail-bad", "run-002")
		if err != nil {
			t.Fatalf("GetAnalysisRun failed: %v", err)
		}
		if run.Status != domain.RunFailed || run.Error != domain.ErrInsufficientData.Error() {
			t.Errorf("unexpected stored run %+v", run)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		w := NewWorker(eventBus, nil, &fakeRunner{})
		w.Start(Config{Datasets: []string{"retail-sync"}})
		defer w.Stop()

		payload, _ := json.Marshal(domain.AnalysisRequest{ID: "run-003", Kind: domain.AnalysisRules})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, "retail-sync", domain.TopicAnalysisRequested, payload)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		var c Completion
		if err := json.Unmarshal(reply, &c); err != nil {
			t.Fatalf("failed to parse reply: %v", err)
		}
		if c.Dataset != "retail-sync" || c.Status != domain.RunSucceeded {
			t.Errorf("unexpected reply %+v", c)
		}
		if string(c.Result) != `{"kind":"rules"}` {
			t.Errorf("expected result in reply, got %s", c.Result)
		}
	})

	t.Run("LedgerRefresh", func(t *testing.T) {
		runner := &fakeRunner{}
		w := NewWorker(eventBus, nil, runner)
		w.Start(Config{Datasets: []string{"retail-refresh"}})
		defer w.Stop()

		if err := eventBus.Publish(context.Background(), "retail-refresh", domain.TopicLedgerRefreshed, nil); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		deadline := time.Now().Add(2 * time.Second)
		for len(runner.invalidations()) == 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if got := runner.invalidations(); len(got) != 1 || got[0] != "retail-refresh" {
			t.Errorf("expected retail-refresh invalidated, got %v", got)
		}
	})

	t.Run("MultiDataset", func(t *testing.T) {
		w := NewWorker(eventBus, nil, &fakeRunner{})
		w.Start(Config{Datasets: []string{"retail-a", "retail-b"}})
		defer w.Stop()

		if stats := w.GetStats(); stats.SubscriptionCount != 4 {
			t.Errorf("expected 4 subscriptions for 2 datasets, got %d", stats.SubscriptionCount)
		}
	})
}

func TestMalformedRequest(t *testing.T) {
	w := NewWorker(bus.NewChannelBus(1), nil, &fakeRunner{})
	err := w.handleAnalysis(context.Background(), &domain.Message{ID: "m1", Payload: []byte("{")})
	if err == nil {
		t.Error("expected parse error")
	}
}
