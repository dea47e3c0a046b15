// Package handlers implements the JSON endpoints of the optionflow API.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/optionflow/internal/metrics"
	"github.com/sawpanic/optionflow/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type ctxKey struct{}

// RequestIDKey is the context key under which the request id is stored
var RequestIDKey = ctxKey{}

// Analyzer analyzes one symbol
type Analyzer interface {
	AnalyzeSymbol(ctx context.Context, symbol string, expiration time.Time) (*models.SymbolResult, error)
}

// Scanner runs a multi-symbol scan
type Scanner interface {
	Run(ctx context.Context, symbols []string, filters models.ScanFilters) (*models.ScanRun, error)
}

// History answers per-symbol history lookups
type History interface {
	Recent(ctx context.Context, symbol string, limit int) ([]models.HistoryEntry, error)
}

// Deps are the collaborators behind the endpoints. Metrics may be nil.
type Deps struct {
	Analyzer       Analyzer
	Scanner        Scanner
	History        History
	Metrics        *metrics.Registry
	DefaultSymbols []string
	HistoryLimit   int
	ScanTimeout    time.Duration
	Version        string
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	deps      Deps
	startTime time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps) *Handlers {
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 10
	}
	if deps.ScanTimeout <= 0 {
		deps.ScanTimeout = 2 * time.Minute
	}
	return &Handlers{deps: deps, startTime: time.Now()}
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
	Metrics   *metrics.Snapshot `json:"metrics,omitempty"`
}

// ScanRequest is the body of POST /scan
type ScanRequest struct {
	Symbols       []string `json:"symbols"`
	MinVolume     int64    `json:"min_volume"`
	MinConfidence *int     `json:"min_confidence"`
	Concurrency   int      `json:"concurrency"`
	Expiration    string   `json:"expiration"`
}

// HistoryResponse is the body of GET /history/{symbol}
type HistoryResponse struct {
	Symbol  string                `json:"symbol"`
	Entries []models.HistoryEntry `json:"entries"`
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	b, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"json_encoding_failed"}`))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(RequestIDKey).(string)
	if requestID == "" {
		requestID = "unknown"
	}

	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

// WriteError is writeError for middleware outside this package
func (h *Handlers) WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeError(w, r, status, code, message)
}

// analysisStatus maps the error taxonomy to HTTP status codes
func analysisStatus(err error) (int, string) {
	var dq *models.DataQualityError
	var pe *models.ProviderError
	switch {
	case errors.As(err, &dq):
		return http.StatusUnprocessableEntity, "data_quality"
	case errors.As(err, &pe):
		return http.StatusBadGateway, "provider_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// Health handles GET /health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.deps.Version,
	}
	if h.deps.Metrics != nil {
		snap := h.deps.Metrics.Snapshot()
		resp.Metrics = &snap
		for _, state := range snap.Breakers {
			if state != "closed" {
				resp.Status = "degraded"
			}
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Analyze handles GET /analyze/{symbol}?expiration=YYYY-MM-DD
func (h *Handlers) Analyze(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["symbol"]))
	if symbol == "" {
		h.writeError(w, r, http.StatusBadRequest, "missing_symbol", "symbol is required")
		return
	}

	var expiration time.Time
	if raw := r.URL.Query().Get("expiration"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid_expiration", "expiration must be YYYY-MM-DD")
			return
		}
		expiration = t
	}

	result, err := h.deps.Analyzer.AnalyzeSymbol(r.Context(), symbol, expiration)
	if err != nil {
		status, code := analysisStatus(err)
		log.Warn().Err(err).Str("symbol", symbol).Int("status", status).Msg("Analyze request failed")
		h.writeError(w, r, status, code, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// Scan handles POST /scan
func (h *Handlers) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid_body", "request body must be a JSON scan request")
			return
		}
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = h.deps.DefaultSymbols
	}
	if len(symbols) == 0 {
		h.writeError(w, r, http.StatusBadRequest, "missing_symbols", "no symbols given and no default watch list configured")
		return
	}
	minConfidence := models.ConfidenceFromConfig
	if req.MinConfidence != nil {
		minConfidence = *req.MinConfidence
	}
	if req.MinVolume < 0 || req.Concurrency < 0 || req.MinConfidence != nil && (minConfidence < 0 || minConfidence > 100) {
		h.writeError(w, r, http.StatusBadRequest, "invalid_filters", "filters must be non-negative and min_confidence at most 100")
		return
	}

	filters := models.ScanFilters{
		MinVolume:     req.MinVolume,
		MinConfidence: minConfidence,
		Concurrency:   req.Concurrency,
	}
	if req.Expiration != "" {
		t, err := time.Parse("2006-01-02", req.Expiration)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid_expiration", "expiration must be YYYY-MM-DD")
			return
		}
		filters.Expiration = t
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.deps.ScanTimeout)
	defer cancel()

	run, err := h.deps.Scanner.Run(ctx, symbols, filters)
	if err != nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "scan_interrupted", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, run)
}

// History handles GET /history/{symbol}?limit=n
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(mux.Vars(r)["symbol"]))

	limit := h.deps.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			h.writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	entries, err := h.deps.History.Recent(r.Context(), symbol, limit)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("History lookup failed")
		h.writeError(w, r, http.StatusInternalServerError, "history_unavailable", "history lookup failed")
		return
	}
	h.writeJSON(w, http.StatusOK, HistoryResponse{Symbol: symbol, Entries: entries})
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// MethodNotAllowed handles 405 responses
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed",
		"The requested method is not supported on this endpoint")
}
