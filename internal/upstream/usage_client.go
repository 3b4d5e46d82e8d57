package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ssh352/codex-lb-sub001/internal/service"
)

// UsageHTTPClient implements service.UpstreamUsageClient against the
// upstream usage endpoint.
type UsageHTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewUsageHTTPClient(baseURL string, connectTimeout, readTimeout time.Duration) *UsageHTTPClient {
	return &UsageHTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: connectTimeout + readTimeout},
	}
}

type usageWindowResponse struct {
	UsedPercent        *float64 `json:"used_percent"`
	ResetAt            *int64   `json:"reset_at"`
	ResetAfterSeconds  *int64   `json:"reset_after_seconds"`
	LimitWindowSeconds *int64   `json:"limit_window_seconds"`
}

type usageResponse struct {
	PlanType  string `json:"plan_type"`
	RateLimit struct {
		PrimaryWindow   *usageWindowResponse `json:"primary_window"`
		SecondaryWindow *usageWindowResponse `json:"secondary_window"`
	} `json:"rate_limit"`
}

func (c *UsageHTTPClient) FetchUsage(ctx context.Context, accessToken, chatgptAccountID string) (service.UsagePayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/backend-api/codex/usage", nil)
	if err != nil {
		return service.UsagePayload{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if chatgptAccountID != "" {
		req.Header.Set("chatgpt-account-id", chatgptAccountID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return service.UsagePayload{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return service.UsagePayload{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return service.UsagePayload{}, &service.UsageFetchError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("usage fetch failed: %s", strings.TrimSpace(string(raw))),
		}
	}

	var body usageResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return service.UsagePayload{}, err
	}

	return service.UsagePayload{
		Primary:   toWindowPayload(body.RateLimit.PrimaryWindow),
		Secondary: toWindowPayload(body.RateLimit.SecondaryWindow),
	}, nil
}

func toWindowPayload(w *usageWindowResponse) *service.UsageWindowPayload {
	if w == nil {
		return nil
	}
	return &service.UsageWindowPayload{
		UsedPercent:        w.UsedPercent,
		ResetAt:            w.ResetAt,
		ResetAfterSeconds:  w.ResetAfterSeconds,
		LimitWindowSeconds: w.LimitWindowSeconds,
	}
}
