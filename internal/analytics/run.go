package analytics

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RunAnalysis executes an asynchronous analysis request and returns its
// rendered result.
func (s *Service) RunAnalysis(ctx context.Context, req domain.AnalysisRequest) ([]byte, error) {
	var result any

	switch req.Kind {
	case domain.AnalysisRFM, domain.AnalysisSegments:
		var p WindowParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		w, err := p.Window()
		if err != nil {
			return nil, err
		}
		if req.Kind == domain.AnalysisRFM {
			rows, err := s.ComputeRFM(ctx, req.Dataset, w)
			if err != nil {
				return nil, err
			}
			result = NewRFMReport(rows)
		} else {
			_, seg, err := s.Segments(ctx, req.Dataset, w)
			if err != nil {
				return nil, err
			}
			result = NewSegmentReport(seg)
		}

	case domain.AnalysisRules:
		var p RuleParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		mr, err := p.Request()
		if err != nil {
			return nil, err
		}
		report, err := s.MineRules(ctx, req.Dataset, mr)
		if err != nil {
			return nil, err
		}
		result = NewRuleReportView(report)

	case domain.AnalysisPolicy:
		var p PolicyParams
		if err := decodeParams(req.Params, &p); err != nil {
			return nil, err
		}
		best, err := s.OptimizeDataset(ctx, req.Dataset, p)
		if err != nil {
			return nil, err
		}
		result = NewPolicyView(best)

	default:
		return nil, fmt.Errorf("%w: unknown analysis kind %q", ErrInvalidRequest, req.Kind)
	}

	return json.Marshal(result)
}

func decodeParams(raw []byte, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
