// Package policy searches for the risk threshold that maximizes expected
// profit when orders at or above it are blocked.
package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrInvalidParams is returned when Params are out of range.
var ErrInvalidParams = errors.New("invalid policy parameters")

// refineDivisions is the number of sub-steps each refinement round splits
// the previous step into.
const refineDivisions = 10

// Params is the cost model and search budget.
type Params struct {
	ReturnCost       float64
	ConversionImpact float64
	CostRatio        float64

	GridStep       float64
	Workers        int
	RefineLevels   int
	MaxEvaluations int

	// OnEvaluate, if set, is called once per evaluated threshold from the
	// worker goroutines. It must be safe for concurrent use.
	OnEvaluate func(domain.PolicyCandidate)
}

// ParamsFromConfig returns Params populated from configuration.
func ParamsFromConfig(cfg domain.PolicyConfig) Params {
	return Params{
		ReturnCost:       cfg.ReturnCost,
		ConversionImpact: cfg.ConversionImpact,
		CostRatio:        cfg.CostRatio,
		GridStep:         cfg.GridStep,
		Workers:          cfg.Workers,
		RefineLevels:     cfg.RefineLevels,
		MaxEvaluations:   cfg.MaxEvaluations,
	}
}

func (p Params) validate() error {
	switch {
	case p.ConversionImpact < 0 || p.ConversionImpact > 1:
		return fmt.Errorf("%w: conversion impact %v not in [0,1]", ErrInvalidParams, p.ConversionImpact)
	case p.CostRatio < 0 || p.CostRatio >= 1:
		return fmt.Errorf("%w: cost ratio %v not in [0,1)", ErrInvalidParams, p.CostRatio)
	case p.ReturnCost < 0:
		return fmt.Errorf("%w: negative return cost", ErrInvalidParams)
	case p.GridStep <= 0 || p.GridStep > 100:
		return fmt.Errorf("%w: grid step %v not in (0,100]", ErrInvalidParams, p.GridStep)
	}
	return nil
}

// Grid returns 0, step, 2·step, … below 100, followed by 100.
func Grid(step float64) []float64 {
	return grid(0, 100, step)
}

func grid(lo, hi, step float64) []float64 {
	var out []float64
	for i := 0; ; i++ {
		t := lo + float64(i)*step
		if t >= hi-1e-9 {
			break
		}
		out = append(out, t)
	}
	return append(out, hi)
}

// Valid keeps orders with positive finite revenue and a finite risk in
// [0,100].
func Valid(orders []domain.ScoredOrder) []domain.ScoredOrder {
	out := make([]domain.ScoredOrder, 0, len(orders))
	for _, o := range orders {
		if o.Revenue > 0 && !math.IsInf(o.Revenue, 0) &&
			!math.IsNaN(o.Risk) && o.Risk >= 0 && o.Risk <= 100 {
			out = append(out, o)
		}
	}
	return out
}

// Evaluate computes the expected profit of blocking every order with risk
// at or above tau.
func Evaluate(orders []domain.ScoredOrder, tau float64, p Params) domain.PolicyCandidate {
	c := domain.PolicyCandidate{Tau: tau}
	for _, o := range orders {
		base := o.Revenue * (1 - p.CostRatio)
		if o.Risk >= tau {
			c.OrdersBlocked++
			c.ExpectedProfit += base * (1 - p.ConversionImpact)
		} else {
			c.OrdersAllowed++
			c.ExpectedProfit += base - o.Risk/100*p.ReturnCost
		}
	}
	return c
}

// better reports whether a beats b: more profit, or equal profit at a
// smaller threshold.
func better(a, b domain.PolicyCandidate) bool {
	if a.ExpectedProfit != b.ExpectedProfit {
		return a.ExpectedProfit > b.ExpectedProfit
	}
	return a.Tau < b.Tau
}

// Optimize evaluates the threshold grid in parallel and returns the
// profit-maximizing candidate, ties going to the smallest threshold. When
// RefineLevels is positive, each round re-searches one step either side
// of the incumbent at a tenth of the step.
func Optimize(ctx context.Context, orders []domain.ScoredOrder, p Params) (*domain.OptimalPolicy, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	valid := Valid(orders)
	if len(valid) == 0 {
		return nil, domain.ErrEmptySample
	}

	coarse := Grid(p.GridStep)
	planned := len(coarse) + p.RefineLevels*(2*refineDivisions+1)
	if p.MaxEvaluations > 0 && planned > p.MaxEvaluations {
		return nil, fmt.Errorf("%w: %d threshold evaluations exceed limit %d",
			domain.ErrCapacityExceeded, planned, p.MaxEvaluations)
	}

	candidates, err := evaluateAll(ctx, valid, coarse, p)
	if err != nil {
		return nil, err
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}

	refined := false
	step := p.GridStep
	for level := 0; level < p.RefineLevels; level++ {
		lo := math.Max(0, best.Tau-step)
		hi := math.Min(100, best.Tau+step)
		step /= refineDivisions
		if hi <= lo {
			break
		}

		local, err := evaluateAll(ctx, valid, grid(lo, hi, step), p)
		if err != nil {
			return nil, err
		}
		for _, c := range local {
			if better(c, best) {
				best = c
				refined = true
			}
		}
	}

	return &domain.OptimalPolicy{
		PolicyCandidate: best,
		Candidates:      candidates,
		Refined:         refined,
		Samples:         len(valid),
	}, nil
}

func evaluateAll(ctx context.Context, orders []domain.ScoredOrder, taus []float64, p Params) ([]domain.PolicyCandidate, error) {
	workers := p.Workers
	if workers <= 0 {
		workers = 1
	}

	out := make([]domain.PolicyCandidate, len(taus))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, tau := range taus {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c := Evaluate(orders, tau, p)
			out[i] = c
			if p.OnEvaluate != nil {
				mu.Lock()
				p.OnEvaluate(c)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Tau < out[j].Tau })
	return out, nil
}

// Simulate applies a single threshold and describes its outcome.
func Simulate(orders []domain.ScoredOrder, tau float64, p Params) (*domain.PolicySimulation, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if tau < 0 || tau > 100 || math.IsNaN(tau) {
		return nil, fmt.Errorf("%w: threshold %v not in [0,100]", ErrInvalidParams, tau)
	}
	valid := Valid(orders)
	if len(valid) == 0 {
		return nil, domain.ErrEmptySample
	}

	sim := &domain.PolicySimulation{
		PolicyCandidate: Evaluate(valid, tau, p),
		TotalOrders:     len(valid),
		Recommendation:  Recommendation(tau),
	}

	var blocked, allowed float64
	for _, o := range valid {
		if o.Risk >= tau {
			blocked += o.Risk
		} else {
			allowed += o.Risk
		}
	}
	if sim.OrdersBlocked > 0 {
		sim.AvgRiskBlocked = blocked / float64(sim.OrdersBlocked)
	}
	if sim.OrdersAllowed > 0 {
		sim.AvgRiskAllowed = allowed / float64(sim.OrdersAllowed)
	}
	sim.BlockedPercent = 100 * float64(sim.OrdersBlocked) / float64(sim.TotalOrders)
	return sim, nil
}

// Recommendation describes how strict a threshold is.
func Recommendation(tau float64) string {
	switch {
	case tau < 20:
		return "Very lenient policy - Low protection against returns"
	case tau < 40:
		return "Balanced policy - Moderate risk management"
	case tau < 60:
		return "Strict policy - Good protection but may impact conversion"
	default:
		return "Very strict policy - High protection but significant conversion impact"
	}
}
