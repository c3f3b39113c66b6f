package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// ErrDatasetNotFound is returned by a loader that has no data for a dataset.
var ErrDatasetNotFound = errors.New("dataset not found")

// Loader produces the cleaned transaction lines of a dataset.
type Loader interface {
	// Name identifies the strategy in logs and errors.
	Name() string

	// Load returns every line of the dataset, returns included.
	Load(ctx context.Context, dataset string) ([]domain.TransactionLine, error)
}

// Chain tries loaders in order and returns the first success.
type Chain struct {
	loaders []Loader
}

// NewChain creates a chain over loaders in fallback order.
func NewChain(loaders ...Loader) *Chain {
	return &Chain{loaders: loaders}
}

// Name returns the ordered strategy names.
func (c *Chain) Name() string {
	names := make([]string, len(c.loaders))
	for i, l := range c.loaders {
		names[i] = l.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Load returns the lines from the first loader that succeeds. When every
// loader fails the joined errors are returned.
func (c *Chain) Load(ctx context.Context, dataset string) ([]domain.TransactionLine, error) {
	if len(c.loaders) == 0 {
		return nil, fmt.Errorf("no loaders configured: %w", ErrDatasetNotFound)
	}

	var errs []error
	for _, l := range c.loaders {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines, err := l.Load(ctx, dataset)
		if err == nil {
			slog.Debug("ledger loaded",
				"dataset", dataset,
				"loader", l.Name(),
				"rows", len(lines),
			)
			return lines, nil
		}
		metrics.LoaderFailures.WithLabelValues(l.Name()).Inc()
		slog.Warn("ledger loader failed, trying next",
			"dataset", dataset,
			"loader", l.Name(),
			"error", err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
	}
	return nil, errors.Join(errs...)
}

// StaticLoader serves a fixed set of lines per dataset.
type StaticLoader struct {
	datasets map[string][]domain.TransactionLine
}

// NewStaticLoader creates a loader over in-memory datasets.
func NewStaticLoader(datasets map[string][]domain.TransactionLine) *StaticLoader {
	return &StaticLoader{datasets: datasets}
}

// Name implements Loader.
func (s *StaticLoader) Name() string { return "static" }

// Load implements Loader.
func (s *StaticLoader) Load(_ context.Context, dataset string) ([]domain.TransactionLine, error) {
	lines, ok := s.datasets[dataset]
	if !ok {
		return nil, ErrDatasetNotFound
	}
	return lines, nil
}

// FromConfig builds the loader chain named by cfg.Sources. repo may be nil
// when no "repository" source is configured.
func FromConfig(cfg domain.LedgerConfig, repo domain.Repository) (Loader, error) {
	sources := cfg.Sources
	if len(sources) == 0 {
		sources = []string{"csv"}
	}

	loaders := make([]Loader, 0, len(sources))
	for _, src := range sources {
		switch src {
		case "csv":
			loaders = append(loaders, NewCSVLoader(cfg.CSVDir))
		case "repository":
			if repo == nil {
				return nil, fmt.Errorf("ledger source %q needs a repository", src)
			}
			loaders = append(loaders, NewRepositoryLoader(repo, BreakerConfig{
				FailureThreshold: cfg.BreakerFailures,
				Timeout:          cfg.BreakerTimeout,
			}))
		default:
			return nil, fmt.Errorf("unknown ledger source %q", src)
		}
	}
	if len(loaders) == 1 {
		return loaders[0], nil
	}
	return NewChain(loaders...), nil
}
