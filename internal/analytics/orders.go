package analytics

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/risk"
)

// scorer returns the risk scorer of a dataset's current snapshot, building
// it on first use after each snapshot swap.
func (s *Service) scorer(ctx context.Context, dataset string) (*risk.Scorer, *ledger.Table, error) {
	t, err := s.Table(ctx, dataset)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	e, ok := s.scorers[dataset]
	s.mu.Unlock()
	if ok && e.version == t.Version() {
		return e.scorer, t, nil
	}

	sc := risk.NewScorer(risk.NewHistory(t.Lines()), s.cfg.Risk)
	s.mu.Lock()
	s.scorers[dataset] = scorerEntry{version: t.Version(), scorer: sc}
	s.mu.Unlock()

	slog.Debug("risk history built", "dataset", dataset, "version", t.Version(), "rows", t.Len())
	return sc, t, nil
}

// ScoreRisk scores one prospective order against the dataset's return
// history. Only a snapshot load failure is reported as an error.
func (s *Service) ScoreRisk(ctx context.Context, dataset string, order domain.Order) (domain.RiskScore, error) {
	ctx, span := startSpan(ctx, "analytics.risk", dataset)
	defer span.End()

	sc, _, err := s.scorer(ctx, dataset)
	if err != nil {
		return domain.RiskScore{}, spanError(span, err)
	}
	score := sc.Score(order)
	span.SetAttributes(
		attribute.Float64("score", score.Score),
		attribute.String("level", string(score.Level)),
	)
	return score, nil
}

// OrderSample draws the scored order sample a policy is evaluated on:
// historical lines scored by the risk scorer, or their revenues paired
// with modeled risks.
func (s *Service) OrderSample(ctx context.Context, dataset string, p SampleParams) ([]domain.ScoredOrder, error) {
	size := p.Size
	if size == 0 {
		size = s.cfg.Policy.SampleSize
	}
	if s.cfg.Policy.MaxSampleSize > 0 && size > s.cfg.Policy.MaxSampleSize {
		return nil, fmt.Errorf("%w: sample size %d exceeds limit %d",
			domain.ErrCapacityExceeded, size, s.cfg.Policy.MaxSampleSize)
	}
	seed := s.cfg.Policy.SampleSeed
	if p.Seed != nil {
		seed = *p.Seed
	}

	sc, t, err := s.scorer(ctx, dataset)
	if err != nil {
		return nil, err
	}
	orders := risk.Sample(t.Lines(), sc, size, seed)
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: dataset %s has no sale lines", domain.ErrEmptySample, dataset)
	}
	if p.Source == SampleModeled {
		orders = policy.ModeledSample(policy.Revenues(orders), seed)
	}
	return orders, nil
}

// RiskDistribution buckets the risk scores of an order sample.
func (s *Service) RiskDistribution(ctx context.Context, dataset string, p SampleParams) (domain.RiskDistribution, error) {
	ctx, span := startSpan(ctx, "analytics.risk_distribution", dataset)
	defer span.End()

	t, err := s.Table(ctx, dataset)
	if err != nil {
		return domain.RiskDistribution{}, spanError(span, err)
	}
	dist, err := cached(ctx, s, "risk_distribution", dataset, t.Version(), p, func(ctx context.Context) (domain.RiskDistribution, error) {
		orders, err := s.OrderSample(ctx, dataset, p)
		if err != nil {
			return domain.RiskDistribution{}, err
		}
		return risk.Distribute(risk.Scores(orders))
	})
	if err != nil {
		return domain.RiskDistribution{}, spanError(span, err)
	}
	return dist, nil
}

// OptimizePolicy searches the blocking threshold that maximizes expected
// profit over orders.
func (s *Service) OptimizePolicy(ctx context.Context, orders []domain.ScoredOrder, p policy.Params) (*domain.OptimalPolicy, error) {
	ctx, span := tracer.Start(ctx, "analytics.policy")
	defer span.End()

	best, err := policy.Optimize(ctx, orders, p)
	if err != nil {
		return nil, spanError(span, err)
	}
	span.SetAttributes(
		attribute.Float64("tau", best.Tau),
		attribute.Int("samples", best.Samples),
		attribute.Bool("refined", best.Refined),
	)
	return best, nil
}

// OptimizeDataset draws the requested sample from a dataset and optimizes
// the policy over it.
func (s *Service) OptimizeDataset(ctx context.Context, dataset string, p PolicyParams) (*domain.OptimalPolicy, error) {
	t, err := s.Table(ctx, dataset)
	if err != nil {
		return nil, err
	}
	params := s.PolicyParams(p)
	key := p
	key.Tau = nil
	return cached(ctx, s, "policy", dataset, t.Version(), key, func(ctx context.Context) (*domain.OptimalPolicy, error) {
		orders, err := s.OrderSample(ctx, dataset, p.SampleParams)
		if err != nil {
			return nil, err
		}
		return s.OptimizePolicy(ctx, orders, params)
	})
}

// SimulatePolicy applies one threshold to a dataset's order sample.
func (s *Service) SimulatePolicy(ctx context.Context, dataset string, p PolicyParams) (*domain.PolicySimulation, error) {
	ctx, span := startSpan(ctx, "analytics.policy_simulate", dataset)
	defer span.End()

	if p.Tau == nil {
		return nil, spanError(span, fmt.Errorf("%w: tau is required", ErrInvalidRequest))
	}
	orders, err := s.OrderSample(ctx, dataset, p.SampleParams)
	if err != nil {
		return nil, spanError(span, err)
	}
	sim, err := policy.Simulate(orders, *p.Tau, s.PolicyParams(p))
	if err != nil {
		return nil, spanError(span, err)
	}
	return sim, nil
}

// PolicyParams merges per-request overrides into the configured cost model.
func (s *Service) PolicyParams(p PolicyParams) policy.Params {
	params := policy.ParamsFromConfig(s.cfg.Policy)
	if p.ReturnCost != nil {
		params.ReturnCost = *p.ReturnCost
	}
	if p.ConversionImpact != nil {
		params.ConversionImpact = *p.ConversionImpact
	}
	if p.CostRatio != nil {
		params.CostRatio = *p.CostRatio
	}
	return params
}
