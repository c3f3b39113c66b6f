package ledger

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Clock returns the current time. Injected so expiry can be tested.
type Clock func() time.Time

// SnapshotConfig configures a Snapshots cache.
type SnapshotConfig struct {
	// TTL is how long a loaded table is served as fresh. Zero disables expiry.
	TTL time.Duration

	// ServeStale returns an expired table while a single background refresh
	// runs. When false, callers wait for the refresh.
	ServeStale bool

	Clock Clock
}

// Snapshots is a pull-through cache of immutable tables keyed by dataset.
// At most one load per dataset runs at a time and a new table replaces the
// old one only after it is fully built. Every Invalidate or Refresh starts a
// new generation; a load begun in an earlier generation never replaces the
// table of a later one.
type Snapshots struct {
	loader     Loader
	ttl        time.Duration
	serveStale bool
	now        Clock

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]*Table
	gens    map[string]uint64
	loading map[string]*sync.Mutex
}

// NewSnapshots creates a snapshot cache over a loader.
func NewSnapshots(loader Loader, cfg SnapshotConfig) *Snapshots {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Snapshots{
		loader:     loader,
		ttl:        cfg.TTL,
		serveStale: cfg.ServeStale,
		now:        cfg.Clock,
		entries:    make(map[string]*Table),
		gens:       make(map[string]uint64),
		loading:    make(map[string]*sync.Mutex),
	}
}

// Get returns the current table of a dataset, loading it when absent or
// expired.
func (s *Snapshots) Get(ctx context.Context, dataset string) (*Table, error) {
	s.mu.RLock()
	t := s.entries[dataset]
	gen := s.gens[dataset]
	s.mu.RUnlock()

	if t != nil && s.fresh(t) {
		metrics.SnapshotRequests.WithLabelValues(dataset, "fresh").Inc()
		return t, nil
	}
	if t != nil && s.serveStale {
		metrics.SnapshotRequests.WithLabelValues(dataset, "stale").Inc()
		s.group.DoChan(flightKey(dataset, gen), func() (any, error) {
			return s.build(context.WithoutCancel(ctx), dataset, gen)
		})
		return t, nil
	}

	metrics.SnapshotRequests.WithLabelValues(dataset, "miss").Inc()
	return s.load(ctx, dataset, gen)
}

// Refresh reloads a dataset regardless of expiry. The current table keeps
// being served until the new one is swapped in; a load already in flight
// finishes first and its result is discarded.
func (s *Snapshots) Refresh(ctx context.Context, dataset string) (*Table, error) {
	s.mu.Lock()
	s.gens[dataset]++
	gen := s.gens[dataset]
	s.mu.Unlock()

	metrics.SnapshotRequests.WithLabelValues(dataset, "refresh").Inc()
	return s.load(ctx, dataset, gen)
}

// Invalidate drops the cached table of a dataset. Loads still in flight
// will not bring it back.
func (s *Snapshots) Invalidate(dataset string) {
	s.mu.Lock()
	delete(s.entries, dataset)
	s.gens[dataset]++
	s.mu.Unlock()
}

// Datasets returns the datasets currently cached.
func (s *Snapshots) Datasets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for d := range s.entries {
		out = append(out, d)
	}
	return out
}

func (s *Snapshots) fresh(t *Table) bool {
	if s.ttl <= 0 {
		return true
	}
	return s.now().Sub(t.LoadedAt()) < s.ttl
}

func flightKey(dataset string, gen uint64) string {
	return dataset + "#" + strconv.FormatUint(gen, 10)
}

// load joins the in-flight build for dataset in generation gen, or starts
// one. The build does not inherit the caller's cancellation so other
// waiters are unaffected.
func (s *Snapshots) load(ctx context.Context, dataset string, gen uint64) (*Table, error) {
	ch := s.group.DoChan(flightKey(dataset, gen), func() (any, error) {
		return s.build(context.WithoutCancel(ctx), dataset, gen)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Table), nil
	}
}

func (s *Snapshots) loadLock(dataset string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.loading[dataset]
	if !ok {
		l = &sync.Mutex{}
		s.loading[dataset] = l
	}
	return l
}

func (s *Snapshots) build(ctx context.Context, dataset string, gen uint64) (*Table, error) {
	lock := s.loadLock(dataset)
	lock.Lock()
	defer lock.Unlock()

	// A newer generation may have finished while this build waited.
	s.mu.RLock()
	current, cur := s.entries[dataset], s.gens[dataset]
	s.mu.RUnlock()
	if cur != gen && current != nil {
		return current, nil
	}

	start := time.Now()
	lines, err := s.loader.Load(ctx, dataset)
	metrics.RecordSnapshotLoad(dataset, len(lines), time.Since(start), err)
	if err != nil {
		slog.Error("ledger snapshot load failed",
			"dataset", dataset,
			"loader", s.loader.Name(),
			"error", err,
		)
		return nil, err
	}

	t := NewTable(lines, uuid.NewString(), s.loader.Name(), s.now())

	s.mu.Lock()
	superseded := s.gens[dataset] != gen
	if !superseded {
		s.entries[dataset] = t
	}
	s.mu.Unlock()

	if superseded {
		slog.Info("ledger snapshot superseded, not swapped",
			"dataset", dataset,
			"rows", t.Len(),
		)
		return t, nil
	}

	slog.Info("ledger snapshot swapped",
		"dataset", dataset,
		"version", t.Version(),
		"rows", t.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return t, nil
}
