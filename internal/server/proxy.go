package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ssh352/codex-lb-sub001/internal/balancer"
	"github.com/ssh352/codex-lb-sub001/internal/domain"
	"github.com/ssh352/codex-lb-sub001/internal/pkg/cryptor"
	infraerrors "github.com/ssh352/codex-lb-sub001/internal/pkg/errors"
	"github.com/ssh352/codex-lb-sub001/internal/service"
)

// maxAccountSwitches bounds the failover retry loop so a run of uniformly
// broken accounts can't spin forever.
const maxAccountSwitches = 3

// Proxy forwards a Codex responses request to the account the facade picks,
// retrying on a different account when the upstream fails before any byte
// reaches the client, and failing terminally once streaming has begun.
// Outside the core itself, but driven entirely by its select/mark contract.
type Proxy struct {
	facade     *service.Facade
	cryptor    *cryptor.Cryptor
	upstream   string
	httpClient *http.Client
	log        *zap.Logger
}

func NewProxy(facade *service.Facade, c *cryptor.Cryptor, upstreamBaseURL string, connectTimeout, readTimeout time.Duration, log *zap.Logger) *Proxy {
	return &Proxy{
		facade:     facade,
		cryptor:    c,
		upstream:   upstreamBaseURL,
		httpClient: &http.Client{Timeout: connectTimeout + readTimeout},
		log:        log,
	}
}

// upstreamErrorBody is the error shape the upstream responses endpoint
// returns on non-200, carrying the signal that decides which balancer event
// fires: rate_limit_exceeded, usage_limit_reached, or quota_exceeded.
type upstreamErrorBody struct {
	Error struct {
		Type            string   `json:"type"`
		Message         string   `json:"message"`
		ResetsAt        *int64   `json:"resets_at"`
		ResetsInSeconds *float64 `json:"resets_in_seconds"`
	} `json:"error"`
}

func (b upstreamErrorBody) toUpstreamError() balancer.UpstreamError {
	return balancer.UpstreamError{
		Message:         b.Error.Message,
		ResetsAt:        b.Error.ResetsAt,
		ResetsInSeconds: b.Error.ResetsInSeconds,
	}
}

// Responses streams an SSE response from the upstream, forwarding it
// byte-for-byte to w once it starts. On failure before any byte is written,
// it records the appropriate balancer event, reallocates the sticky
// binding, and retries on a different account; once bytes have been sent,
// a failure emits a terminal `event: error` frame and stops instead.
func (p *Proxy) Responses(w http.ResponseWriter, r *http.Request, body []byte, stickyKey string) {
	ctx := r.Context()
	reallocate := false
	failedAccounts := make(map[int64]struct{})

	for attempt := 0; attempt <= maxAccountSwitches; attempt++ {
		outcome, err := p.facade.SelectAccount(ctx, stickyKey, reallocate)
		if err != nil {
			writeError(w, infraerrors.New(http.StatusInternalServerError, "select_account_failed", "failed to select an account"))
			return
		}
		if outcome.Account == nil {
			writeError(w, infraerrors.New(http.StatusServiceUnavailable, "no_account_available", outcome.Message))
			return
		}
		account := outcome.Account
		if _, seen := failedAccounts[account.ID]; seen {
			reallocate = true
			continue
		}

		streamStarted, upErr := p.forward(ctx, w, account, body)
		if upErr == nil {
			return
		}

		p.log.Warn("upstream forward failed", zap.Int64("account_id", account.ID), zap.Bool("stream_started", streamStarted), zap.Error(upErr.err))

		if streamStarted {
			writeSSEError(w, "upstream_error", "Upstream stream failed")
			return
		}

		p.recordFailure(ctx, account.ID, upErr)
		failedAccounts[account.ID] = struct{}{}
		reallocate = true
	}

	writeError(w, infraerrors.New(http.StatusBadGateway, "upstream_exhausted", "all candidate accounts failed"))
}

// recordFailure maps a failed attempt onto the core's mark_* contract so the
// next select_account call reflects it.
func (p *Proxy) recordFailure(ctx context.Context, accountID int64, upErr *forwardError) {
	var err error
	switch upErr.errorType {
	case "rate_limit_exceeded":
		err = p.facade.MarkRateLimit(ctx, accountID, upErr.upstreamError)
	case "usage_limit_reached":
		err = p.facade.MarkUsageLimitReached(ctx, accountID, upErr.upstreamError)
	case "quota_exceeded":
		err = p.facade.MarkQuotaExceeded(ctx, accountID, upErr.upstreamError)
	default:
		err = p.facade.RecordError(ctx, accountID)
	}
	if err != nil {
		p.log.Warn("failed to record upstream failure", zap.Int64("account_id", accountID), zap.String("error_type", upErr.errorType), zap.Error(err))
	}
}

// forwardError carries enough of a failed attempt to both log it and decide
// which mark_* operation the facade should apply.
type forwardError struct {
	err           error
	errorType     string
	upstreamError balancer.UpstreamError
}

// forward does a single upstream attempt. The returned bool reports whether
// any response byte reached w, which decides failover vs terminal error.
func (p *Proxy) forward(ctx context.Context, w http.ResponseWriter, account *domain.Account, body []byte) (streamStarted bool, ferr *forwardError) {
	accessToken, err := p.accessToken(account)
	if err != nil {
		return false, &forwardError{err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.upstream+"/backend-api/codex/responses", bytes.NewReader(body))
	if err != nil {
		return false, &forwardError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if account.ChatGPTAccountID != "" {
		req.Header.Set("chatgpt-account-id", account.ChatGPTAccountID)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, &forwardError{err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, p.classifyUpstreamError(resp)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	reader := bufio.NewReader(resp.Body)
	buf := make([]byte, 4096)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return streamStarted, &forwardError{err: writeErr}
			}
			streamStarted = true
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr == io.EOF {
			return streamStarted, nil
		}
		if readErr != nil {
			return streamStarted, &forwardError{err: readErr}
		}
	}
}

func (p *Proxy) classifyUpstreamError(resp *http.Response) *forwardError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body upstreamErrorBody
	_ = json.Unmarshal(raw, &body)
	return &forwardError{
		err:           fmt.Errorf("upstream returned HTTP %d", resp.StatusCode),
		errorType:     body.Error.Type,
		upstreamError: body.toUpstreamError(),
	}
}

func (p *Proxy) accessToken(account *domain.Account) (string, error) {
	return p.cryptor.Decrypt(account.EncAccessToken)
}

func writeSSEError(w http.ResponseWriter, errType, message string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	frame := "event: error\ndata: " + `{"error":{"type":` + strconv.Quote(errType) + `,"message":` + strconv.Quote(message) + `}}` + "\n\n"
	_, _ = fmt.Fprint(w, frame)
	flusher.Flush()
}
