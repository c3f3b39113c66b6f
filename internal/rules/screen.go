package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Screener filters association rules with CEL expressions such as
// "lift > 2.0 && consequent_size == 1". Compiled programs are cached by
// expression text.
type Screener struct {
	mu         sync.RWMutex
	env        *cel.Env
	programs   map[string]cel.Program
	maxWorkers int
}

// NewScreener creates a screener evaluating with at most maxWorkers
// goroutines.
func NewScreener(maxWorkers int) (*Screener, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("support", cel.DoubleType),
		cel.Variable("confidence", cel.DoubleType),
		cel.Variable("lift", cel.DoubleType),
		cel.Variable("leverage", cel.DoubleType),
		cel.Variable("score", cel.DoubleType),
		cel.Variable("antecedent_support", cel.DoubleType),
		cel.Variable("consequent_support", cel.DoubleType),
		cel.Variable("antecedent", cel.ListType(cel.StringType)),
		cel.Variable("consequent", cel.ListType(cel.StringType)),
		cel.Variable("antecedent_size", cel.IntType),
		cel.Variable("consequent_size", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Screener{
		env:        env,
		programs:   make(map[string]cel.Program),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles expr without caching it.
func (s *Screener) Validate(expr string) error {
	_, err := s.compile(expr)
	return err
}

// Filter returns the rules for which expr evaluates to true, in their
// original order. An empty expression keeps every rule.
func (s *Screener) Filter(ctx context.Context, expr string, rules []domain.AssociationRule) ([]domain.AssociationRule, error) {
	if expr == "" || len(rules) == 0 {
		return rules, nil
	}

	program, err := s.program(expr)
	if err != nil {
		return nil, err
	}

	keep := make([]bool, len(rules))
	errs := make([]error, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, s.maxWorkers)

	for i := range rules {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			out, _, err := program.Eval(activation(rules[idx]))
			if err != nil {
				errs[idx] = err
				return
			}
			keep[idx] = out == types.True
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.AssociationRule, 0, len(rules))
	for i, r := range rules {
		if errs[i] != nil {
			return nil, fmt.Errorf("failed to evaluate %q: %w", expr, errs[i])
		}
		if keep[i] {
			out = append(out, r)
		}
	}
	return out, nil
}

// Cached returns the number of compiled expressions held.
func (s *Screener) Cached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.programs)
}

func (s *Screener) program(expr string) (cel.Program, error) {
	s.mu.RLock()
	p, ok := s.programs[expr]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := s.compile(expr)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.programs[expr] = p
	s.mu.Unlock()
	return p, nil
}

func (s *Screener) compile(expr string) (cel.Program, error) {
	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	program, err := s.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

func activation(r domain.AssociationRule) map[string]any {
	return map[string]any{
		"support":            r.Support,
		"confidence":         r.Confidence,
		"lift":               r.Lift,
		"leverage":           r.Leverage,
		"score":              r.Score(),
		"antecedent_support": r.AntecedentSupport,
		"consequent_support": r.ConsequentSupport,
		"antecedent":         r.Antecedent,
		"consequent":         r.Consequent,
		"antecedent_size":    int64(len(r.Antecedent)),
		"consequent_size":    int64(len(r.Consequent)),
	}
}
