package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/analytics"
	"github.com/opensource-finance/kestrel/internal/apriori"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ledger"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	svc      *analytics.Service
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	validate *validator.Validate
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(svc *analytics.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:      svc,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		version:  version,
	}
}

// ScoreRequest is the request body for POST /risk/score.
type ScoreRequest struct {
	CustomerID string  `json:"customerId"`
	StockCode  string  `json:"stockCode" validate:"required"`
	Quantity   int     `json:"quantity" validate:"min=1"`
	UnitPrice  float64 `json:"unitPrice" validate:"gte=0"`
}

// AnalysisSubmission is the request body for POST /analyses.
type AnalysisSubmission struct {
	Kind   domain.AnalysisKind `json:"kind" validate:"required,oneof=rfm segments rules policy"`
	Params json.RawMessage     `json:"params,omitempty"`
}

// AnalysisAccepted is the response for POST /analyses.
type AnalysisAccepted struct {
	ID      string              `json:"id"`
	Dataset string              `json:"dataset"`
	Kind    domain.AnalysisKind `json:"kind"`
	Status  string              `json:"status"`
	TraceID string              `json:"traceId,omitempty"`
}

// RefreshResponse is the response for POST /ledger/refresh.
type RefreshResponse struct {
	Dataset  string    `json:"dataset"`
	Version  string    `json:"version"`
	Source   string    `json:"source"`
	Lines    int       `json:"lines"`
	LoadedAt time.Time `json:"loadedAt"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// RFM handles POST /rfm.
func (h *Handler) RFM(w http.ResponseWriter, r *http.Request) {
	var p analytics.WindowParams
	if !h.decode(w, r, &p) {
		return
	}
	window, err := p.Window()
	if err != nil {
		writeError(w, err)
		return
	}

	rows, err := h.svc.ComputeRFM(r.Context(), GetDataset(r.Context()), window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.NewRFMReport(rows))
}

// Segments handles POST /segments.
func (h *Handler) Segments(w http.ResponseWriter, r *http.Request) {
	var p analytics.WindowParams
	if !h.decode(w, r, &p) {
		return
	}
	window, err := p.Window()
	if err != nil {
		writeError(w, err)
		return
	}

	_, res, err := h.svc.Segments(r.Context(), GetDataset(r.Context()), window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.NewSegmentReport(res))
}

// GetCustomer handles GET /customers/{id}.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, ok, err := h.svc.CustomerProfile(r.Context(), GetDataset(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("customer not found"))
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// SearchProducts handles GET /products?q=&limit=.
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intQuery(q.Get("limit"), 20)
	if err != nil || limit < 1 || limit > 100 {
		writeJSON(w, http.StatusBadRequest, errorBody("limit must be between 1 and 100"))
		return
	}

	products, err := h.svc.SearchProducts(r.Context(), GetDataset(r.Context()), q.Get("q"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"products": products,
		"count":    len(products),
	})
}

// MineRules handles POST /basket/rules.
func (h *Handler) MineRules(w http.ResponseWriter, r *http.Request) {
	var p analytics.RuleParams
	if !h.decode(w, r, &p) {
		return
	}
	req, err := p.Request()
	if err != nil {
		writeError(w, err)
		return
	}

	report, err := h.svc.MineRules(r.Context(), GetDataset(r.Context()), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.NewRuleReportView(report))
}

// Recommend handles POST /basket/recommendations.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var p analytics.RecommendParams
	if !h.decode(w, r, &p) {
		return
	}

	report, err := h.svc.Recommend(r.Context(), GetDataset(r.Context()), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.NewRecommendationReportView(report))
}

// TopBundles handles GET /basket/bundles.
func (h *Handler) TopBundles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var p analytics.BundleParams
	var err error
	if p.MinSupport, err = floatQuery(q.Get("minSupport")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid minSupport"))
		return
	}
	if p.MinConfidence, err = floatQuery(q.Get("minConfidence")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid minConfidence"))
		return
	}
	if p.TopN, err = intQuery(q.Get("topN"), 0); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid topN"))
		return
	}
	if !h.check(w, p) {
		return
	}

	bundles, err := h.svc.TopBundles(r.Context(), GetDataset(r.Context()), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bundles": analytics.NewBundleViews(bundles),
		"count":   len(bundles),
	})
}

// ScoreRisk handles POST /risk/score.
func (h *Handler) ScoreRisk(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if !h.decode(w, r, &req) {
		return
	}

	score, err := h.svc.ScoreRisk(r.Context(), GetDataset(r.Context()), domain.Order{
		CustomerID: req.CustomerID,
		StockCode:  req.StockCode,
		Quantity:   req.Quantity,
		UnitPrice:  req.UnitPrice,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.NewRiskScoreView(score))
}

// RiskDistribution handles GET /risk/distribution?source=&size=&seed=.
func (h *Handler) RiskDistribution(w http.ResponseWriter, r *http.Request) {
	p, ok := h.sampleQuery(w, r)
	if !ok {
		return
	}

	dist, err := h.svc.RiskDistribution(r.Context(), GetDataset(r.Context()), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.NewDistributionView(dist))
}

// SimulatePolicy handles POST /policy/simulate.
func (h *Handler) SimulatePolicy(w http.ResponseWriter, r *http.Request) {
	var p analytics.PolicyParams
	if !h.decode(w, r, &p) {
		return
	}

	sim, err := h.svc.SimulatePolicy(r.Context(), GetDataset(r.Context()), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.NewSimulationView(sim))
}

// OptimizePolicy handles POST /policy/optimize.
func (h *Handler) OptimizePolicy(w http.ResponseWriter, r *http.Request) {
	var p analytics.PolicyParams
	if !h.decode(w, r, &p) {
		return
	}

	best, err := h.svc.OptimizeDataset(r.Context(), GetDataset(r.Context()), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics.NewPolicyView(best))
}

// RefreshLedger handles POST /ledger/refresh. The ledger is reloaded,
// cached results are dropped and the refresh is announced on the bus.
func (h *Handler) RefreshLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dataset := GetDataset(ctx)

	t, err := h.svc.RefreshDataset(ctx, dataset)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := RefreshResponse{
		Dataset:  dataset,
		Version:  t.Version(),
		Source:   t.Source(),
		Lines:    t.Len(),
		LoadedAt: t.LoadedAt(),
	}

	if h.bus != nil {
		if payload, err := json.Marshal(resp); err != nil {
			slog.Error("failed to encode ledger refresh", "dataset", dataset, "error", err)
		} else if err := h.bus.Publish(ctx, dataset, domain.TopicLedgerRefreshed, payload); err != nil {
			slog.Error("failed to publish ledger refresh", "dataset", dataset, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// SubmitAnalysis handles POST /analyses. The run is stored as PENDING and
// queued for the worker.
func (h *Handler) SubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	dataset := GetDataset(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("event bus not available"))
		return
	}

	var sub AnalysisSubmission
	if !h.decode(w, r, &sub) {
		return
	}

	req := domain.AnalysisRequest{
		ID:      uuid.New().String(),
		Dataset: dataset,
		Kind:    sub.Kind,
		Params:  []byte(sub.Params),
		TraceID: GetTraceID(ctx),
	}

	if h.repo != nil {
		run := &domain.AnalysisRun{
			ID:      req.ID,
			Dataset: dataset,
			Kind:    req.Kind,
			Status:  domain.RunPending,
			Params:  req.Params,
		}
		if err := h.repo.SaveAnalysisRun(ctx, run); err != nil {
			slog.Error("failed to save analysis run", "run_id", req.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody("failed to store analysis run"))
			return
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.bus.Publish(ctx, dataset, domain.TopicAnalysisRequested, payload); err != nil {
		slog.Error("failed to publish analysis request", "run_id", req.ID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody("failed to queue analysis"))
		return
	}

	writeJSON(w, http.StatusAccepted, AnalysisAccepted{
		ID:      req.ID,
		Dataset: dataset,
		Kind:    req.Kind,
		Status:  domain.RunPending,
		TraceID: req.TraceID,
	})
}

// GetAnalysis handles GET /analyses/{id}.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	run, err := h.repo.GetAnalysisRun(ctx, GetDataset(ctx), id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get analysis run", "id", id, "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// decode reads an optional JSON body into v and validates it. An empty
// body leaves v at its zero value. It writes the error response itself
// and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
		return false
	}
	return h.check(w, v)
}

func (h *Handler) check(w http.ResponseWriter, v any) bool {
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return false
	}
	return true
}

func (h *Handler) sampleQuery(w http.ResponseWriter, r *http.Request) (analytics.SampleParams, bool) {
	q := r.URL.Query()
	p := analytics.SampleParams{Source: q.Get("source")}

	size, err := intQuery(q.Get("size"), 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid size"))
		return p, false
	}
	p.Size = size

	if s := q.Get("seed"); s != "" {
		seed, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("invalid seed"))
			return p, false
		}
		p.Seed = &seed
	}
	return p, h.check(w, p)
}

// statusFor maps analytic and storage errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, analytics.ErrInvalidRequest),
		errors.Is(err, policy.ErrInvalidParams),
		errors.Is(err, apriori.ErrInvalidSupport),
		errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, analytics.ErrUnknownProduct),
		errors.Is(err, ledger.ErrDatasetNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientData),
		errors.Is(err, domain.ErrEmptyBasket),
		errors.Is(err, domain.ErrEmptySample):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrCapacityExceeded):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeJSON(w, status, errorBody("internal server error"))
		return
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQuery(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func floatQuery(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
