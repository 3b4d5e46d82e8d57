// Package service hosts the stateful components that sit around the pure
// balancer core: the facade that turns domain records into balancer.Select
// calls, the usage refresher, and the token refresh manager. Port
// interfaces are declared here, next to their consumers; internal/repository
// supplies the concrete implementations.
package service

import (
	"context"
	"time"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
)

// AccountStore is the durable account repository port.
type AccountStore interface {
	ListAccounts(ctx context.Context) ([]domain.Account, error)
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	UpsertAccount(ctx context.Context, account *domain.Account) error
	UpdateStatus(ctx context.Context, id int64, status domain.AccountStatus, deactivationReason string) error
	UpdateTokens(ctx context.Context, id int64, encAccess, encRefresh, encID []byte, lastRefresh time.Time, planType domain.PlanType, email, chatgptAccountID string) error
	UpdateResetAt(ctx context.Context, id int64, resetAt *int64) error
}

// UsageHistoryStore is the append-only usage snapshot repository port.
type UsageHistoryStore interface {
	AddEntry(ctx context.Context, snap domain.UsageSnapshot) error
	LatestByAccount(ctx context.Context, window domain.Window) (map[int64]domain.UsageSnapshot, error)
}

// DashboardSettings is the operator-controlled persisted singleton: which
// accounts are pinned, and whether selection prefers the account with the
// earlier reset boundary.
type DashboardSettings struct {
	PinnedAccountIDs   []int64
	PreferEarlierReset bool
}

// DashboardSettingsStore reads/writes the dashboard_settings singleton row.
type DashboardSettingsStore interface {
	Get(ctx context.Context) (DashboardSettings, error)
	Update(ctx context.Context, settings DashboardSettings) error
}

// BalancerCache is the sticky-session cache port, backed by Redis in
// production. It holds sticky keys only; the selection snapshot and the
// bounded in-process sticky LRU live in the Facade.
type BalancerCache interface {
	GetStickyAccountID(ctx context.Context, stickyKey string) (int64, bool)
	SetStickyAccountID(ctx context.Context, stickyKey string, accountID int64, ttl time.Duration)
	DeleteStickyAccountID(ctx context.Context, stickyKey string)
}

// UpstreamUsageClient fetches the live usage payload for an account from the
// single upstream HTTP service.
type UpstreamUsageClient interface {
	FetchUsage(ctx context.Context, accessToken, chatgptAccountID string) (UsagePayload, error)
}

// UsagePayload is the parsed shape of the upstream usage response.
type UsagePayload struct {
	Primary   *UsageWindowPayload
	Secondary *UsageWindowPayload
}

// UsageWindowPayload is one rate-limit window inside a usage payload.
type UsageWindowPayload struct {
	UsedPercent        *float64
	ResetAt            *int64
	ResetAfterSeconds  *int64
	LimitWindowSeconds *int64
}

// UsageFetchError is a tagged error carrying the upstream HTTP status,
// instead of relying on string-matching a generic error.
type UsageFetchError struct {
	StatusCode int
	Message    string
}

func (e *UsageFetchError) Error() string { return e.Message }

// TokenRefreshClient exchanges a refresh token for a fresh access/refresh/id
// token triple against the single upstream HTTP service.
type TokenRefreshClient interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (TokenRefreshResult, error)
}

// TokenRefreshResult is what a successful refresh yields.
type TokenRefreshResult struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	AccountID    string
	PlanType     domain.PlanType
	Email        string
}

// RefreshError is the tagged error a refresh attempt can fail with.
// IsPermanent distinguishes a transient network/5xx failure from one of the
// closed-set permanent failure codes.
type RefreshError struct {
	Code        domain.RefreshFailureCode
	Message     string
	IsPermanent bool
	StatusCode  int
}

func (e *RefreshError) Error() string { return e.Message }
