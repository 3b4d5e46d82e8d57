// Package server exposes the core's contract (select_account, mark_*,
// record_error) over HTTP, in a handler-struct-plus-typed-request style.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ssh352/codex-lb-sub001/internal/balancer"
	"github.com/ssh352/codex-lb-sub001/internal/domain"
	infraerrors "github.com/ssh352/codex-lb-sub001/internal/pkg/errors"
	"github.com/ssh352/codex-lb-sub001/internal/service"
)

// Handler wires the Load Balancer Facade to HTTP, one endpoint per core
// operation. Proxy is optional: the core contract works standalone, the
// streaming route is only mounted when a Proxy is wired in (cmd/server
// wires both against the same Facade).
type Handler struct {
	facade *service.Facade
	proxy  *Proxy
	log    *zap.Logger
}

func NewHandler(facade *service.Facade, log *zap.Logger) *Handler {
	return &Handler{facade: facade, log: log}
}

// WithProxy attaches a streaming Proxy, enabling the /v1/responses route.
func (h *Handler) WithProxy(p *Proxy) *Handler {
	h.proxy = p
	return h
}

// Routes mounts the core contract under /internal, the shape a proxy layer
// running in front of the single upstream service would call, plus the
// streaming responses route itself when a Proxy is attached.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/internal/select_account", h.selectAccount)
	r.Post("/internal/accounts/{id}/mark_rate_limit", h.markRateLimit)
	r.Post("/internal/accounts/{id}/mark_usage_limit_reached", h.markUsageLimitReached)
	r.Post("/internal/accounts/{id}/mark_quota_exceeded", h.markQuotaExceeded)
	r.Post("/internal/accounts/{id}/mark_permanent_failure", h.markPermanentFailure)
	r.Post("/internal/accounts/{id}/record_error", h.recordError)
	r.Get("/internal/metrics/balancer", h.balancerMetrics)

	if h.proxy != nil {
		r.Post("/v1/responses", h.proxyResponses)
	}
}

// proxyResponses forwards the request body to the upstream responses
// endpoint, using the client-supplied session id as the sticky key that
// routes related requests to the same account when possible.
func (h *Handler) proxyResponses(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, infraerrors.New(http.StatusBadRequest, "invalid_request", "failed to read request body"))
		return
	}
	stickyKey := r.Header.Get("X-Session-Id")
	h.proxy.Responses(w, r, body, stickyKey)
}

type selectAccountRequest struct {
	StickyKey        string `json:"sticky_key"`
	ReallocateSticky bool   `json:"reallocate_sticky"`
}

type accountResponse struct {
	ID               int64  `json:"id"`
	Email            string `json:"email"`
	ChatGPTAccountID string `json:"chatgpt_account_id"`
	PlanType         string `json:"plan_type"`
}

type selectAccountResponse struct {
	Account *accountResponse `json:"account,omitempty"`
	Message string           `json:"message,omitempty"`
}

func (h *Handler) selectAccount(w http.ResponseWriter, r *http.Request) {
	var req selectAccountRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, infraerrors.New(http.StatusBadRequest, "invalid_request", "invalid request body"))
			return
		}
	}

	outcome, err := h.facade.SelectAccount(r.Context(), req.StickyKey, req.ReallocateSticky)
	if err != nil {
		h.log.Warn("select_account failed", zap.Error(err))
		writeError(w, infraerrors.New(http.StatusInternalServerError, "select_account_failed", "failed to select an account"))
		return
	}

	resp := selectAccountResponse{Message: outcome.Message}
	if outcome.Account != nil {
		resp.Account = toAccountResponse(outcome.Account)
	}
	writeJSON(w, http.StatusOK, resp)
}

type upstreamErrorRequest struct {
	Message         string   `json:"message"`
	ResetsAt        *int64   `json:"resets_at"`
	ResetsInSeconds *float64 `json:"resets_in_seconds"`
}

func (r upstreamErrorRequest) toUpstreamError() balancer.UpstreamError {
	return balancer.UpstreamError{Message: r.Message, ResetsAt: r.ResetsAt, ResetsInSeconds: r.ResetsInSeconds}
}

func (h *Handler) markRateLimit(w http.ResponseWriter, r *http.Request) {
	h.handleMarkOp(w, r, func(id int64, upErr balancer.UpstreamError) error {
		return h.facade.MarkRateLimit(r.Context(), id, upErr)
	})
}

func (h *Handler) markUsageLimitReached(w http.ResponseWriter, r *http.Request) {
	h.handleMarkOp(w, r, func(id int64, upErr balancer.UpstreamError) error {
		return h.facade.MarkUsageLimitReached(r.Context(), id, upErr)
	})
}

func (h *Handler) markQuotaExceeded(w http.ResponseWriter, r *http.Request) {
	h.handleMarkOp(w, r, func(id int64, upErr balancer.UpstreamError) error {
		return h.facade.MarkQuotaExceeded(r.Context(), id, upErr)
	})
}

func (h *Handler) handleMarkOp(w http.ResponseWriter, r *http.Request, op func(id int64, upErr balancer.UpstreamError) error) {
	id, ok := parseAccountID(w, r)
	if !ok {
		return
	}
	var req upstreamErrorRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, infraerrors.New(http.StatusBadRequest, "invalid_request", "invalid request body"))
			return
		}
	}
	if err := op(id, req.toUpstreamError()); err != nil {
		h.log.Warn("mark operation failed", zap.Int64("account_id", id), zap.Error(err))
		writeError(w, infraerrors.New(http.StatusInternalServerError, "mark_failed", "failed to record account event"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type markPermanentFailureRequest struct {
	Code string `json:"code"`
}

func (h *Handler) markPermanentFailure(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAccountID(w, r)
	if !ok {
		return
	}
	var req markPermanentFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, infraerrors.New(http.StatusBadRequest, "invalid_request", "invalid request body"))
		return
	}
	if err := h.facade.MarkPermanentFailure(r.Context(), id, domain.RefreshFailureCode(req.Code)); err != nil {
		h.log.Warn("mark_permanent_failure failed", zap.Int64("account_id", id), zap.Error(err))
		writeError(w, infraerrors.New(http.StatusInternalServerError, "mark_failed", "failed to deactivate account"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recordError(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAccountID(w, r)
	if !ok {
		return
	}
	if err := h.facade.RecordError(r.Context(), id); err != nil {
		writeError(w, infraerrors.New(http.StatusInternalServerError, "record_error_failed", "failed to record error"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// balancerMetrics exposes the facade's point-in-time select/sticky-hit/
// switch counters for an external dashboard to poll.
func (h *Handler) balancerMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.facade.SnapshotMetrics())
}

func parseAccountID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, infraerrors.New(http.StatusBadRequest, "invalid_account_id", "invalid account id"))
		return 0, false
	}
	return id, true
}

func toAccountResponse(a *domain.Account) *accountResponse {
	return &accountResponse{
		ID:               a.ID,
		Email:            a.Email,
		ChatGPTAccountID: a.ChatGPTAccountID,
		PlanType:         string(a.PlanType),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := infraerrors.ToHTTP(err)
	writeJSON(w, status, body)
}
