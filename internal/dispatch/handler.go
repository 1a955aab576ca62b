package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hvngo/llm-dispatch/internal/provider"
	"github.com/hvngo/llm-dispatch/internal/routing"
	"github.com/hvngo/llm-dispatch/pkg/ratelimit"
)

type Handler struct {
	service  *Service
	registry *routing.Registry
	limiter  *ratelimit.Limiter // nil when rate limiting is disabled
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(service *Service, registry *routing.Registry, limiter *ratelimit.Limiter, logger *zap.Logger) *Handler {
	return &Handler{
		service:  service,
		registry: registry,
		limiter:  limiter,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *Handler) HandleRunTask(w http.ResponseWriter, r *http.Request) {
	var req provider.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.limiter != nil {
		estimated := estimateTokens(req.Messages)
		allowed, err := h.limiter.Allow(r.Context(), r.RemoteAddr, estimated)
		if err != nil {
			h.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		} else if !allowed {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	result, err := h.service.RunTask(r.Context(), &req)
	if err != nil {
		status := http.StatusBadGateway
		if isRoutingError(err) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	if result.ID == "" {
		result.ID = uuid.New().String()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"id":          result.ID,
		"provider_id": result.ProviderID,
		"model":       result.Model,
		"output":      result.Output,
		"usage":       result.Usage,
		"latency_ms":  result.LatencyMs,
	})
}

func (h *Handler) HandleSpendCurrent(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.CurrentSpend(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	providers := make([]map[string]any, 0, len(summary.Providers))
	ids := make([]string, 0, len(summary.Providers))
	for id := range summary.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		providers = append(providers, map[string]any{
			"id":    id,
			"label": h.registry.Label(id),
			"usd":   summary.Providers[id],
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"month":     summary.Month,
		"total_usd": summary.TotalUSD,
		"providers": providers,
	})
}

func (h *Handler) HandleSpendHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.service.SpendHistory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ids := make([]string, 0, len(history))
	for month := range history {
		ids = append(ids, month)
	}
	// Newest first; YYYY-MM sorts lexicographically.
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	months := make([]map[string]any, 0, len(ids))
	for _, month := range ids {
		snap := history[month]
		months = append(months, map[string]any{
			"month":     month,
			"total_usd": snap.TotalUSD,
			"providers": snap.Providers,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"months": months,
	})
}

func isRoutingError(err error) bool {
	return errors.Is(err, routing.ErrNoRule) ||
		errors.Is(err, routing.ErrUnknownProvider) ||
		errors.Is(err, routing.ErrPrivacyRejected)
}

// estimateTokens is a crude pre-invocation size guess for rate limiting only;
// billing always uses the provider-reported usage.
func estimateTokens(messages []provider.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	tokens := chars / 4
	if tokens < 100 {
		tokens = 100
	}
	return tokens
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
