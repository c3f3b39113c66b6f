package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RepositoryLoader reads lines from the SQL repository behind a circuit
// breaker so an unavailable database fails fast to the next strategy.
type RepositoryLoader struct {
	repo    domain.Repository
	breaker *gobreaker.CircuitBreaker[[]domain.TransactionLine]
}

// BreakerConfig tunes the repository loader breaker.
type BreakerConfig struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

// NewRepositoryLoader creates a repository-backed loader.
func NewRepositoryLoader(repo domain.Repository, cfg BreakerConfig) *RepositoryLoader {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "ledger-repository",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A missing dataset is an answer, not a database failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrDatasetNotFound) || errors.Is(err, context.Canceled)
		},
	}

	return &RepositoryLoader{
		repo:    repo,
		breaker: gobreaker.NewCircuitBreaker[[]domain.TransactionLine](settings),
	}
}

// Name implements Loader.
func (r *RepositoryLoader) Name() string { return "repository" }

// State returns the breaker state for health reporting.
func (r *RepositoryLoader) State() string {
	return r.breaker.State().String()
}

// Load implements Loader.
func (r *RepositoryLoader) Load(ctx context.Context, dataset string) ([]domain.TransactionLine, error) {
	return r.breaker.Execute(func() ([]domain.TransactionLine, error) {
		lines, err := r.repo.ListLines(ctx, dataset)
		if err != nil {
			return nil, err
		}
		if len(lines) == 0 {
			return nil, ErrDatasetNotFound
		}
		return lines, nil
	})
}
