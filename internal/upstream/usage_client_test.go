package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ssh352/codex-lb-sub001/internal/service"
)

func TestFetchUsage_ParsesBothWindows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-123", r.Header.Get("Authorization"))
		require.Equal(t, "acct-1", r.Header.Get("chatgpt-account-id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"plan_type": "pro",
			"rate_limit": {
				"primary_window": {"used_percent": 12.5, "reset_after_seconds": 300, "limit_window_seconds": 300},
				"secondary_window": {"used_percent": 50, "reset_at": 1700000000, "limit_window_seconds": 604800}
			}
		}`))
	}))
	defer srv.Close()

	client := NewUsageHTTPClient(srv.URL, time.Second, 5*time.Second)
	payload, err := client.FetchUsage(context.Background(), "token-123", "acct-1")
	require.NoError(t, err)
	require.NotNil(t, payload.Primary)
	require.Equal(t, 12.5, *payload.Primary.UsedPercent)
	require.NotNil(t, payload.Secondary)
	require.Equal(t, int64(1700000000), *payload.Secondary.ResetAt)
}

func TestFetchUsage_NonOKStatusYieldsUsageFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	}))
	defer srv.Close()

	client := NewUsageHTTPClient(srv.URL, time.Second, 5*time.Second)
	_, err := client.FetchUsage(context.Background(), "token-123", "")
	require.Error(t, err)

	fetchErr, ok := err.(*service.UsageFetchError)
	require.True(t, ok)
	require.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
	require.Contains(t, err.Error(), "forbidden")
}
