package service

import (
	"context"
	"time"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
)

// stubAccountStore is an in-memory AccountStore for facade/auth-manager
// tests, keyed by account id.
type stubAccountStore struct {
	accounts map[int64]*domain.Account
}

func newStubAccountStore(accounts ...*domain.Account) *stubAccountStore {
	s := &stubAccountStore{accounts: make(map[int64]*domain.Account)}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
	return s
}

func (s *stubAccountStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	out := make([]domain.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (s *stubAccountStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *stubAccountStore) UpsertAccount(ctx context.Context, account *domain.Account) error {
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func (s *stubAccountStore) UpdateStatus(ctx context.Context, id int64, status domain.AccountStatus, deactivationReason string) error {
	if a, ok := s.accounts[id]; ok {
		a.Status = status
		a.DeactivationReason = deactivationReason
	}
	return nil
}

func (s *stubAccountStore) UpdateTokens(ctx context.Context, id int64, encAccess, encRefresh, encID []byte, lastRefresh time.Time, planType domain.PlanType, email, chatgptAccountID string) error {
	if a, ok := s.accounts[id]; ok {
		a.EncAccessToken = encAccess
		a.EncRefreshToken = encRefresh
		a.EncIDToken = encID
		a.LastRefresh = lastRefresh
		a.PlanType = planType
		a.Email = email
		a.ChatGPTAccountID = chatgptAccountID
	}
	return nil
}

func (s *stubAccountStore) UpdateResetAt(ctx context.Context, id int64, resetAt *int64) error {
	if a, ok := s.accounts[id]; ok {
		a.ResetAt = resetAt
	}
	return nil
}

// stubUsageHistoryStore is an in-memory UsageHistoryStore, keeping only the
// latest entry per (account, window) since that's all the facade/refresher
// ever read.
type stubUsageHistoryStore struct {
	latest map[domain.Window]map[int64]domain.UsageSnapshot
}

func newStubUsageHistoryStore() *stubUsageHistoryStore {
	return &stubUsageHistoryStore{latest: map[domain.Window]map[int64]domain.UsageSnapshot{
		domain.WindowPrimary:   {},
		domain.WindowSecondary: {},
	}}
}

func (s *stubUsageHistoryStore) AddEntry(ctx context.Context, snap domain.UsageSnapshot) error {
	s.latest[snap.Window][snap.AccountID] = snap
	return nil
}

func (s *stubUsageHistoryStore) LatestByAccount(ctx context.Context, window domain.Window) (map[int64]domain.UsageSnapshot, error) {
	out := make(map[int64]domain.UsageSnapshot, len(s.latest[window]))
	for k, v := range s.latest[window] {
		out[k] = v
	}
	return out, nil
}

// stubBalancerCache is an in-memory BalancerCache.
type stubBalancerCache struct {
	m map[string]int64
}

func newStubBalancerCache() *stubBalancerCache {
	return &stubBalancerCache{m: make(map[string]int64)}
}

func (c *stubBalancerCache) GetStickyAccountID(ctx context.Context, stickyKey string) (int64, bool) {
	v, ok := c.m[stickyKey]
	return v, ok
}

func (c *stubBalancerCache) SetStickyAccountID(ctx context.Context, stickyKey string, accountID int64, ttl time.Duration) {
	c.m[stickyKey] = accountID
}

func (c *stubBalancerCache) DeleteStickyAccountID(ctx context.Context, stickyKey string) {
	delete(c.m, stickyKey)
}

// stubTokenRefreshClient returns a scripted result or error per call.
type stubTokenRefreshClient struct {
	result TokenRefreshResult
	err    error
	calls  int
}

func (c *stubTokenRefreshClient) RefreshAccessToken(ctx context.Context, refreshToken string) (TokenRefreshResult, error) {
	c.calls++
	if c.err != nil {
		return TokenRefreshResult{}, c.err
	}
	return c.result, nil
}

// stubUsageClient returns a scripted payload or error per call.
type stubUsageClient struct {
	payload UsagePayload
	err     error
	calls   int
}

func (c *stubUsageClient) FetchUsage(ctx context.Context, accessToken, chatgptAccountID string) (UsagePayload, error) {
	c.calls++
	if c.err != nil {
		return UsagePayload{}, c.err
	}
	return c.payload, nil
}
