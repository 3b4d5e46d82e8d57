package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
	"github.com/ssh352/codex-lb-sub001/internal/pkg/cryptor"
)

// deactivatingUsageStatusCodes are the upstream usage-endpoint HTTP statuses
// that mean the account itself is gone or blocked, not merely rate limited.
var deactivatingUsageStatusCodes = map[int]struct{}{402: {}, 403: {}, 404: {}}

// UsageRefresherConfig bundles the refresher's tunables, sourced from
// config.BalancerConfig.
type UsageRefresherConfig struct {
	Enabled         bool
	IntervalSeconds int
}

// UsageRefresher periodically re-fetches live usage for every account whose
// latest snapshot is older than the configured interval, running one
// account at a time, so its account-store updates never overlap.
type UsageRefresher struct {
	accounts AccountStore
	usage    UsageHistoryStore
	upstream UpstreamUsageClient
	auth     *AuthManager
	cryptor  *cryptor.Cryptor
	cfg      UsageRefresherConfig
	log      *zap.Logger

	cronRunner *cron.Cron
}

func NewUsageRefresher(accounts AccountStore, usage UsageHistoryStore, upstream UpstreamUsageClient, auth *AuthManager, c *cryptor.Cryptor, cfg UsageRefresherConfig, log *zap.Logger) *UsageRefresher {
	return &UsageRefresher{
		accounts: accounts,
		usage:    usage,
		upstream: upstream,
		auth:     auth,
		cryptor:  c,
		cfg:      cfg,
		log:      log,
	}
}

// Start schedules RefreshAll to run on the configured interval using a
// cron.Cron with a seconds field. Call Stop to shut it down.
func (r *UsageRefresher) Start(ctx context.Context) error {
	if !r.cfg.Enabled {
		return nil
	}
	interval := r.cfg.IntervalSeconds
	if interval <= 0 {
		interval = 300
	}
	r.cronRunner = cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %ds", interval)
	_, err := r.cronRunner.AddFunc(spec, func() {
		if err := r.RefreshAll(ctx); err != nil {
			r.log.Warn("usage refresh pass failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	r.cronRunner.Start()
	return nil
}

func (r *UsageRefresher) Stop() {
	if r.cronRunner != nil {
		r.cronRunner.Stop()
	}
}

// RefreshAll walks every non-deactivated account and refreshes its usage
// snapshot if stale, sequentially, swallowing and logging per-account
// failures so one bad account never blocks the rest.
func (r *UsageRefresher) RefreshAll(ctx context.Context) error {
	if !r.cfg.Enabled {
		return nil
	}
	accounts, err := r.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}
	latest, err := r.usage.LatestByAccount(ctx, domain.WindowPrimary)
	if err != nil {
		return err
	}

	interval := time.Duration(r.cfg.IntervalSeconds) * time.Second
	now := time.Now()
	for i := range accounts {
		account := &accounts[i]
		if account.Status == domain.StatusDeactivated {
			continue
		}
		if snap, ok := latest[account.ID]; ok && now.Sub(snap.RecordedAt) < interval {
			continue
		}
		if err := r.refreshOne(ctx, account); err != nil {
			r.log.Warn("usage refresh failed for account", zap.Int64("account_id", account.ID), zap.Error(err))
		}
	}
	return nil
}

func (r *UsageRefresher) refreshOne(ctx context.Context, account *domain.Account) error {
	accessToken, err := r.cryptor.Decrypt(account.EncAccessToken)
	if err != nil {
		return err
	}

	payload, err := r.upstream.FetchUsage(ctx, accessToken, account.ChatGPTAccountID)
	if err != nil {
		fetchErr, ok := err.(*UsageFetchError)
		if !ok {
			return err
		}
		if _, deactivate := deactivatingUsageStatusCodes[fetchErr.StatusCode]; deactivate {
			return r.deactivateForClientError(ctx, account, fetchErr)
		}
		if fetchErr.StatusCode != 401 || r.auth == nil {
			return fetchErr
		}

		refreshed, refreshErr := r.auth.EnsureFresh(ctx, account, true)
		if refreshErr != nil {
			return refreshErr
		}
		account = refreshed
		accessToken, err = r.cryptor.Decrypt(account.EncAccessToken)
		if err != nil {
			return err
		}
		payload, err = r.upstream.FetchUsage(ctx, accessToken, account.ChatGPTAccountID)
		if err != nil {
			if retryErr, ok := err.(*UsageFetchError); ok {
				if _, deactivate := deactivatingUsageStatusCodes[retryErr.StatusCode]; deactivate {
					return r.deactivateForClientError(ctx, account, retryErr)
				}
			}
			return err
		}
	}

	nowEpoch := time.Now().Unix()
	if payload.Primary != nil && payload.Primary.UsedPercent != nil {
		if err := r.usage.AddEntry(ctx, domain.UsageSnapshot{
			AccountID:     account.ID,
			Window:        domain.WindowPrimary,
			UsedPercent:   *payload.Primary.UsedPercent,
			ResetAt:       resolveResetAt(payload.Primary, nowEpoch),
			WindowMinutes: windowMinutes(payload.Primary.LimitWindowSeconds),
			RecordedAt:    time.Now(),
		}); err != nil {
			return err
		}
	}
	if payload.Secondary != nil && payload.Secondary.UsedPercent != nil {
		if err := r.usage.AddEntry(ctx, domain.UsageSnapshot{
			AccountID:     account.ID,
			Window:        domain.WindowSecondary,
			UsedPercent:   *payload.Secondary.UsedPercent,
			ResetAt:       resolveResetAt(payload.Secondary, nowEpoch),
			WindowMinutes: windowMinutes(payload.Secondary.LimitWindowSeconds),
			RecordedAt:    time.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (r *UsageRefresher) deactivateForClientError(ctx context.Context, account *domain.Account, fetchErr *UsageFetchError) error {
	reason := fmt.Sprintf("Usage API error: HTTP %d - %s", fetchErr.StatusCode, fetchErr.Message)
	r.log.Warn("deactivating account due to usage API client error", zap.Int64("account_id", account.ID), zap.Int("status", fetchErr.StatusCode))
	return r.accounts.UpdateStatus(ctx, account.ID, domain.StatusDeactivated, reason)
}

func resolveResetAt(w *UsageWindowPayload, nowEpoch int64) *int64 {
	if w.ResetAt != nil {
		v := *w.ResetAt
		return &v
	}
	if w.ResetAfterSeconds == nil {
		return nil
	}
	delay := *w.ResetAfterSeconds
	if delay < 0 {
		delay = 0
	}
	v := nowEpoch + delay
	return &v
}

func windowMinutes(limitSeconds *int64) int {
	if limitSeconds == nil || *limitSeconds <= 0 {
		return 0
	}
	return int(math.Max(1, math.Ceil(float64(*limitSeconds)/60)))
}
