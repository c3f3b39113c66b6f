// Package analytics exposes the analytic engines over cached ledger
// snapshots. Results are cached per dataset and snapshot version.
package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/rfm"
	"github.com/opensource-finance/kestrel/internal/risk"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/segment"
)

var (
	// ErrInvalidRequest is returned for malformed analysis parameters.
	ErrInvalidRequest = errors.New("invalid analysis request")

	// ErrUnknownProduct is returned when a cross-sell source cannot be found.
	ErrUnknownProduct = errors.New("product not found")
)

var tracer = otel.Tracer("kestrel-analytics")

// Service runs analyses against ledger snapshots.
type Service struct {
	snapshots *ledger.Snapshots
	cache     domain.Cache
	screener  *rules.Screener
	cfg       domain.AnalyticsConfig
	resultTTL time.Duration

	mu      sync.Mutex
	scorers map[string]scorerEntry
}

type scorerEntry struct {
	version string
	scorer  *risk.Scorer
}

// NewService creates an analytics service. cache may be nil, in which case
// every call recomputes.
func NewService(snapshots *ledger.Snapshots, cache domain.Cache, cfg domain.AnalyticsConfig, resultTTL time.Duration) (*Service, error) {
	screener, err := rules.NewScreener(cfg.Policy.Workers)
	if err != nil {
		return nil, err
	}
	return &Service{
		snapshots: snapshots,
		cache:     cache,
		screener:  screener,
		cfg:       cfg,
		resultTTL: resultTTL,
		scorers:   make(map[string]scorerEntry),
	}, nil
}

// Config returns the analytic constants in use.
func (s *Service) Config() domain.AnalyticsConfig {
	return s.cfg
}

// Table returns the current snapshot of a dataset.
func (s *Service) Table(ctx context.Context, dataset string) (*ledger.Table, error) {
	return s.snapshots.Get(ctx, dataset)
}

// InvalidateDataset drops the snapshot, the scorer and every cached result
// of a dataset.
func (s *Service) InvalidateDataset(ctx context.Context, dataset string) error {
	s.snapshots.Invalidate(dataset)

	s.mu.Lock()
	delete(s.scorers, dataset)
	s.mu.Unlock()

	if s.cache == nil {
		return nil
	}
	if err := s.cache.Purge(ctx, dataset); err != nil {
		return fmt.Errorf("purge result cache: %w", err)
	}
	slog.Info("dataset invalidated", "dataset", dataset)
	return nil
}

// RefreshDataset reloads a dataset's ledger and drops its cached results.
// The previous snapshot keeps serving other requests until the new one is
// swapped in.
func (s *Service) RefreshDataset(ctx context.Context, dataset string) (*ledger.Table, error) {
	s.mu.Lock()
	delete(s.scorers, dataset)
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Purge(ctx, dataset); err != nil {
			slog.Warn("failed to purge cached results", "dataset", dataset, "error", err)
		}
	}

	t, err := s.snapshots.Refresh(ctx, dataset)
	if err != nil {
		return nil, err
	}
	slog.Info("dataset refreshed", "dataset", dataset, "version", t.Version(), "rows", t.Len())
	return t, nil
}

// ComputeRFM scores every customer of the dataset inside the window.
func (s *Service) ComputeRFM(ctx context.Context, dataset string, window domain.Window) ([]domain.CustomerRFM, error) {
	ctx, span := startSpan(ctx, "analytics.rfm", dataset)
	defer span.End()

	t, err := s.Table(ctx, dataset)
	if err != nil {
		return nil, spanError(span, err)
	}
	rows, err := cached(ctx, s, "rfm", dataset, t.Version(), window, func(context.Context) ([]domain.CustomerRFM, error) {
		return rfm.Compute(t.Lines(), window, rfm.Options{MinCustomers: s.cfg.MinCustomers})
	})
	if err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(attribute.Int("customers", len(rows)))
	return rows, nil
}

// ClassifySegments assigns RFM rows to segments.
func (s *Service) ClassifySegments(rows []domain.CustomerRFM) segment.Result {
	return segment.Classify(rows)
}

// Segments computes RFM rows for the window and classifies them.
func (s *Service) Segments(ctx context.Context, dataset string, window domain.Window) ([]domain.CustomerRFM, segment.Result, error) {
	rows, err := s.ComputeRFM(ctx, dataset, window)
	if err != nil {
		return nil, segment.Result{}, err
	}
	return rows, s.ClassifySegments(rows), nil
}

// CustomerProfile summarizes one customer's purchases.
func (s *Service) CustomerProfile(ctx context.Context, dataset, customerID string) (domain.CustomerProfile, bool, error) {
	t, err := s.Table(ctx, dataset)
	if err != nil {
		return domain.CustomerProfile{}, false, err
	}
	p, ok := t.CustomerProfile(customerID)
	return p, ok, nil
}

// SearchProducts finds catalog entries by stock code or description.
func (s *Service) SearchProducts(ctx context.Context, dataset, query string, limit int) ([]domain.Product, error) {
	t, err := s.Table(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return t.SearchProducts(query, limit), nil
}

// cached returns the cached result of kind for params on a snapshot
// version, computing and storing it on a miss. Cache failures degrade to
// recomputation.
func cached[T any](ctx context.Context, s *Service, kind, dataset, version string, params any, compute func(context.Context) (T, error)) (T, error) {
	var zero T

	key, err := resultKey(kind, version, params)
	if err != nil {
		return zero, err
	}

	if s.cache != nil {
		b, err := s.cache.Get(ctx, dataset, key)
		if err != nil {
			slog.Warn("result cache read failed", "kind", kind, "dataset", dataset, "error", err)
		}
		if b != nil {
			var v T
			if err := json.Unmarshal(b, &v); err == nil {
				metrics.ResultCacheLookups.WithLabelValues(kind, "hit").Inc()
				return v, nil
			}
		}
		metrics.ResultCacheLookups.WithLabelValues(kind, "miss").Inc()
	}

	start := time.Now()
	v, err := compute(ctx)
	metrics.RecordAnalysis(kind, time.Since(start), err)
	if err != nil {
		return zero, err
	}

	if s.cache != nil {
		b, err := json.Marshal(v)
		if err == nil {
			err = s.cache.Set(ctx, dataset, key, b, s.resultTTL)
		}
		if err != nil {
			slog.Warn("result cache write failed", "kind", kind, "dataset", dataset, "error", err)
		}
	}
	return v, nil
}

// resultKey derives a cache key from the analysis kind, the snapshot
// version and a digest of the parameters.
func resultKey(kind, version string, params any) (string, error) {
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode %s params: %w", kind, err)
	}
	sum := sha256.Sum256(b)
	return kind + ":" + version + ":" + hex.EncodeToString(sum[:12]), nil
}

func startSpan(ctx context.Context, name, dataset string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attribute.String("dataset", dataset)))
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
