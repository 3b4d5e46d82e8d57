package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }
func int64Ptr(v int64) *int64     { return &v }

func TestRefreshAll_SkipsFreshAccounts(t *testing.T) {
	c := testCryptor(t)
	access, err := c.Encrypt("access-token")
	require.NoError(t, err)
	account := &domain.Account{ID: 1, Status: domain.StatusActive, EncAccessToken: access}
	accounts := newStubAccountStore(account)

	usage := newStubUsageHistoryStore()
	require.NoError(t, usage.AddEntry(context.Background(), domain.UsageSnapshot{
		AccountID: 1, Window: domain.WindowPrimary, UsedPercent: 10, RecordedAt: time.Now(),
	}))

	client := &stubUsageClient{}
	refresher := NewUsageRefresher(accounts, usage, client, nil, c, UsageRefresherConfig{Enabled: true, IntervalSeconds: 300}, zap.NewNop())

	require.NoError(t, refresher.RefreshAll(context.Background()))
	require.Equal(t, 0, client.calls)
}

func TestRefreshAll_FetchesStaleAccountAndRecordsSnapshot(t *testing.T) {
	c := testCryptor(t)
	access, err := c.Encrypt("access-token")
	require.NoError(t, err)
	account := &domain.Account{ID: 1, Status: domain.StatusActive, EncAccessToken: access}
	accounts := newStubAccountStore(account)
	usage := newStubUsageHistoryStore()

	client := &stubUsageClient{payload: UsagePayload{
		Primary: &UsageWindowPayload{UsedPercent: floatPtr(42), ResetAfterSeconds: int64Ptr(120)},
	}}
	refresher := NewUsageRefresher(accounts, usage, client, nil, c, UsageRefresherConfig{Enabled: true, IntervalSeconds: 300}, zap.NewNop())

	require.NoError(t, refresher.RefreshAll(context.Background()))
	require.Equal(t, 1, client.calls)

	latest, err := usage.LatestByAccount(context.Background(), domain.WindowPrimary)
	require.NoError(t, err)
	require.Equal(t, 42.0, latest[1].UsedPercent)
}

func TestRefreshOne_DeactivatesOnClientError(t *testing.T) {
	c := testCryptor(t)
	access, err := c.Encrypt("access-token")
	require.NoError(t, err)
	account := &domain.Account{ID: 1, Status: domain.StatusActive, EncAccessToken: access}
	accounts := newStubAccountStore(account)
	usage := newStubUsageHistoryStore()

	client := &stubUsageClient{err: &UsageFetchError{StatusCode: 403, Message: "forbidden"}}
	refresher := NewUsageRefresher(accounts, usage, client, nil, c, UsageRefresherConfig{Enabled: true, IntervalSeconds: 300}, zap.NewNop())

	require.NoError(t, refresher.RefreshAll(context.Background()))

	persisted, _ := accounts.GetAccount(context.Background(), 1)
	require.Equal(t, domain.StatusDeactivated, persisted.Status)
	require.Contains(t, persisted.DeactivationReason, "HTTP 403")
}

func TestRefreshOne_RetriesOnceAfter401ViaAuthManager(t *testing.T) {
	c := testCryptor(t)
	access, err := c.Encrypt("stale-access")
	require.NoError(t, err)
	refreshTok, err := c.Encrypt("refresh-token")
	require.NoError(t, err)
	idTok, err := c.Encrypt("id-token")
	require.NoError(t, err)
	account := &domain.Account{
		ID: 1, Status: domain.StatusActive,
		EncAccessToken: access, EncRefreshToken: refreshTok, EncIDToken: idTok,
		LastRefresh: time.Now().Add(-2 * time.Hour),
	}
	accounts := newStubAccountStore(account)
	usage := newStubUsageHistoryStore()

	tokenClient := &stubTokenRefreshClient{result: TokenRefreshResult{
		AccessToken: "fresh-access", RefreshToken: "fresh-refresh", IDToken: "fresh-id",
	}}
	authMgr := NewAuthManager(accounts, tokenClient, c, zap.NewNop())

	usageClient := &sequencedUsageClient{
		responses: []usageCallResult{
			{err: &UsageFetchError{StatusCode: 401, Message: "unauthorized"}},
			{payload: UsagePayload{Primary: &UsageWindowPayload{UsedPercent: floatPtr(5)}}},
		},
	}
	refresher := NewUsageRefresher(accounts, usage, usageClient, authMgr, c, UsageRefresherConfig{Enabled: true, IntervalSeconds: 300}, zap.NewNop())

	require.NoError(t, refresher.RefreshAll(context.Background()))
	require.Equal(t, 2, usageClient.calls)
	require.Equal(t, 1, tokenClient.calls)

	latest, err := usage.LatestByAccount(context.Background(), domain.WindowPrimary)
	require.NoError(t, err)
	require.Equal(t, 5.0, latest[1].UsedPercent)
}

func TestWindowMinutes(t *testing.T) {
	require.Equal(t, 0, windowMinutes(nil))
	require.Equal(t, 1, windowMinutes(int64Ptr(30)))
	require.Equal(t, 3, windowMinutes(int64Ptr(150)))
}

func TestResolveResetAt_AbsoluteWinsOverRelative(t *testing.T) {
	now := int64(1_000_000)
	w := &UsageWindowPayload{ResetAt: int64Ptr(now + 500), ResetAfterSeconds: int64Ptr(10)}
	reset := resolveResetAt(w, now)
	require.Equal(t, now+500, *reset)
}

type usageCallResult struct {
	payload UsagePayload
	err     error
}

type sequencedUsageClient struct {
	responses []usageCallResult
	calls     int
}

func (c *sequencedUsageClient) FetchUsage(ctx context.Context, accessToken, chatgptAccountID string) (UsagePayload, error) {
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	r := c.responses[idx]
	return r.payload, r.err
}
