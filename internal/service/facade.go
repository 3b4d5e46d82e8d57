package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/ssh352/codex-lb-sub001/internal/balancer"
	"github.com/ssh352/codex-lb-sub001/internal/domain"
)

// FacadeConfig bundles the facade's tunables. The cmd/server wiring fills it
// from config.BalancerConfig, the upstream read timeout (StickyTTL) and the
// dashboard settings (PinnedAccountIDs, PreferEarlierReset).
type FacadeConfig struct {
	SnapshotTTL        time.Duration
	StickyTTL          time.Duration
	PreferEarlierReset bool
	PinnedAccountIDs   []int64
	StickyCacheSize    int
	Balancer           balancer.Config
}

// snapshot is the facade's cached read model.
type snapshot struct {
	accounts        []domain.Account
	latestPrimary   map[int64]domain.UsageSnapshot
	latestSecondary map[int64]domain.UsageSnapshot
	accountMap      map[int64]*domain.Account
	updatedAt       time.Time
}

func (s *snapshot) stale(ttl time.Time) bool {
	return s == nil || s.updatedAt.Before(ttl)
}

// Facade is the stateful load balancer facade: it rebuilds a read-mostly
// snapshot from the account store and usage history, reconciles runtime vs
// durable reset_at, and delegates the actual pick to the pure balancer core.
type Facade struct {
	accounts AccountStore
	usage    UsageHistoryStore
	refresh  *UsageRefresher
	cache    BalancerCache
	cfg      FacadeConfig
	log      *zap.Logger

	mu       sync.Mutex
	snap     *snapshot
	runtime  map[int64]*domain.RuntimeState
	stickyLRU *lru.Cache[string, int64]

	metrics facadeMetrics
}

// facadeMetrics backs BalancerMetricsSnapshot with lock-free counters,
// tallying select/sticky-hit/switch counts as they happen.
type facadeMetrics struct {
	selectTotal     atomic.Int64
	stickyHitTotal  atomic.Int64
	switchTotal     atomic.Int64
	latencyMsTotal  atomic.Int64
}

func NewFacade(accounts AccountStore, usage UsageHistoryStore, refresh *UsageRefresher, cache BalancerCache, cfg FacadeConfig, log *zap.Logger) (*Facade, error) {
	size := cfg.StickyCacheSize
	if size <= 0 {
		size = 10_000
	}
	stickyLRU, err := lru.New[string, int64](size)
	if err != nil {
		return nil, err
	}
	return &Facade{
		accounts: accounts,
		usage:    usage,
		refresh:  refresh,
		cache:    cache,
		cfg:      cfg,
		log:      log,
		runtime:  make(map[int64]*domain.RuntimeState),
		stickyLRU: stickyLRU,
	}, nil
}

// InvalidateSnapshot forces the next SelectAccount call to rebuild.
func (f *Facade) InvalidateSnapshot() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = nil
}

func (f *Facade) runtimeFor(accountID int64) *domain.RuntimeState {
	rs, ok := f.runtime[accountID]
	if !ok {
		rs = &domain.RuntimeState{}
		f.runtime[accountID] = rs
	}
	return rs
}

// rebuildLocked refreshes the snapshot; caller must hold f.mu.
func (f *Facade) rebuildLocked(ctx context.Context) error {
	if f.refresh != nil {
		if err := f.refresh.RefreshAll(ctx); err != nil {
			f.log.Warn("usage refresh pass before selection failed", zap.Error(err))
		}
	}

	accounts, err := f.accounts.ListAccounts(ctx)
	if err != nil {
		return err
	}
	primary, err := f.usage.LatestByAccount(ctx, domain.WindowPrimary)
	if err != nil {
		return err
	}
	secondary, err := f.usage.LatestByAccount(ctx, domain.WindowSecondary)
	if err != nil {
		return err
	}

	accountMap := make(map[int64]*domain.Account, len(accounts))
	for i := range accounts {
		accountMap[accounts[i].ID] = &accounts[i]
	}

	f.snap = &snapshot{
		accounts:        accounts,
		latestPrimary:   primary,
		latestSecondary: secondary,
		accountMap:      accountMap,
		updatedAt:       time.Now(),
	}
	return nil
}

// buildStates derives AccountState for every account from the snapshot and
// runtime map, applying secondary-quota folding and reset_at precedence. It
// mutates durable reset_at when the effective value differs, and returns the
// states plus a map back to the durable Account.
func (f *Facade) buildStates(ctx context.Context, now int64) ([]*domain.AccountState, map[int64]*domain.Account) {
	states := make([]*domain.AccountState, 0, len(f.snap.accounts))

	for i := range f.snap.accounts {
		account := &f.snap.accounts[i]
		runtime := f.runtimeFor(account.ID)

		primaryUsed := 0.0
		if snap, ok := f.snap.latestPrimary[account.ID]; ok {
			primaryUsed = snap.UsedPercent
		}

		var secondaryUsed *float64
		var secondaryReset *int64
		if snap, ok := f.snap.latestSecondary[account.ID]; ok {
			v := snap.UsedPercent
			secondaryUsed = &v
			if snap.ResetAt != nil {
				r := *snap.ResetAt
				secondaryReset = &r
			}
		}

		status := account.Status
		usedPercent := primaryUsed
		durableReset := account.ResetAt

		status, usedPercent, durableReset = foldSecondaryQuota(status, usedPercent, durableReset, secondaryUsed, secondaryReset)

		effectiveReset := reconcileResetAt(runtime.ResetAt, durableReset, now)
		if !equalResetAt(effectiveReset, account.ResetAt) {
			if err := f.accounts.UpdateResetAt(ctx, account.ID, effectiveReset); err != nil {
				f.log.Warn("failed to persist reconciled reset_at", zap.Int64("account_id", account.ID), zap.Error(err))
			}
			account.ResetAt = effectiveReset
		}

		state := &domain.AccountState{
			AccountID:            account.ID,
			Email:                account.Email,
			PlanType:             account.PlanType,
			Status:               status,
			ResetAt:              effectiveReset,
			UsedPercent:          usedPercent,
			SecondaryUsedPercent: secondaryUsed,
			SecondaryResetAt:     secondaryReset,
			LastErrorAt:          runtime.LastErrorAt,
			LastSelectedAt:       runtime.LastSelectedAt,
			ErrorCount:           runtime.ErrorCount,
			CooldownUntil:        runtime.CooldownUntil,
		}
		states = append(states, state)
	}
	return states, f.snap.accountMap
}

// foldSecondaryQuota folds in the secondary usage window: an exhausted
// secondary window overrides the effective status to QUOTA_EXCEEDED even if
// the durable status says otherwise, and recovers once the secondary window
// drops back below 100%.
func foldSecondaryQuota(status domain.AccountStatus, primaryUsed float64, durableReset *int64, secondaryUsed *float64, secondaryReset *int64) (domain.AccountStatus, float64, *int64) {
	if status == domain.StatusDeactivated || status == domain.StatusPaused {
		return status, primaryUsed, durableReset
	}
	if secondaryUsed == nil {
		if status == domain.StatusQuotaExceeded && secondaryReset != nil {
			durableReset = secondaryReset
		}
		return status, primaryUsed, durableReset
	}
	if *secondaryUsed >= 100 {
		if secondaryReset != nil {
			durableReset = secondaryReset
		}
		return domain.StatusQuotaExceeded, 100, durableReset
	}
	if status == domain.StatusQuotaExceeded {
		return domain.StatusActive, primaryUsed, nil
	}
	return status, primaryUsed, durableReset
}

// reconcileResetAt reconciles runtime vs durable reset_at: expired runtime
// values are dropped, and when both survive the larger (farther-future) one
// wins.
func reconcileResetAt(runtimeReset, durableReset *int64, now int64) *int64 {
	if runtimeReset != nil && *runtimeReset <= now {
		runtimeReset = nil
	}
	switch {
	case runtimeReset == nil:
		return durableReset
	case durableReset == nil:
		return runtimeReset
	case *runtimeReset > *durableReset:
		return runtimeReset
	default:
		return durableReset
	}
}

func equalResetAt(a, b *int64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// SelectionOutcome is what SelectAccount returns to the HTTP surface.
type SelectionOutcome struct {
	Account *domain.Account
	Message string
}

// SelectAccount picks the next account to use, honoring sticky routing and
// pinned-account preference.
func (f *Facade) SelectAccount(ctx context.Context, stickyKey string, reallocateSticky bool) (SelectionOutcome, error) {
	start := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() {
		f.metrics.selectTotal.Add(1)
		f.metrics.latencyMsTotal.Add(time.Since(start).Milliseconds())
	}()

	ttlCutoff := time.Now().Add(-f.cfg.SnapshotTTL)
	if f.snap.stale(ttlCutoff) {
		if err := f.rebuildLocked(ctx); err != nil {
			return SelectionOutcome{}, err
		}
	}

	now := time.Now().Unix()
	states, accountMap := f.buildStates(ctx, now)

	if stickyKey != "" && !reallocateSticky {
		if accountID, ok := f.stickyLRU.Get(stickyKey); ok {
			if state := findState(states, accountID); state != nil && isSelectable(state, now) {
				f.markSelected(accountID, now)
				f.metrics.stickyHitTotal.Add(1)
				return SelectionOutcome{Account: accountMap[accountID]}, nil
			}
			f.stickyLRU.Remove(stickyKey)
			if f.cache != nil {
				f.cache.DeleteStickyAccountID(ctx, stickyKey)
			}
		}
	}
	if reallocateSticky {
		f.metrics.switchTotal.Add(1)
	}

	result := f.pick(states, now, accountMap)
	f.syncStatuses(ctx, states, accountMap)

	if !result.Selected() {
		return SelectionOutcome{Message: result.Message}, nil
	}

	f.markSelected(result.Account.AccountID, now)
	if stickyKey != "" {
		f.stickyLRU.Add(stickyKey, result.Account.AccountID)
		if f.cache != nil {
			f.cache.SetStickyAccountID(ctx, stickyKey, result.Account.AccountID, f.stickyTTL())
		}
	}
	return SelectionOutcome{Account: accountMap[result.Account.AccountID]}, nil
}

// BalancerMetricsSnapshot is the facade's point-in-time counters, exposed
// for an external dashboard to poll.
type BalancerMetricsSnapshot struct {
	SelectTotal           int64
	StickyHitTotal         int64
	AccountSwitchTotal     int64
	SchedulerLatencyMsAvg  float64
	StickyHitRatio         float64
	AccountSwitchRate      float64
}

// SnapshotMetrics returns the current counters. Safe for concurrent use.
func (f *Facade) SnapshotMetrics() BalancerMetricsSnapshot {
	selectTotal := f.metrics.selectTotal.Load()
	stickyHit := f.metrics.stickyHitTotal.Load()
	switchTotal := f.metrics.switchTotal.Load()
	latencyTotal := f.metrics.latencyMsTotal.Load()

	snap := BalancerMetricsSnapshot{
		SelectTotal:       selectTotal,
		StickyHitTotal:    stickyHit,
		AccountSwitchTotal: switchTotal,
	}
	if selectTotal > 0 {
		snap.SchedulerLatencyMsAvg = float64(latencyTotal) / float64(selectTotal)
		snap.StickyHitRatio = float64(stickyHit) / float64(selectTotal)
		snap.AccountSwitchRate = float64(switchTotal) / float64(selectTotal)
	}
	return snap
}

// pick tries pinned accounts first, falling back to the whole pool and
// logging an observability line when the pinned set can't serve the
// request.
func (f *Facade) pick(states []*domain.AccountState, now int64, accountMap map[int64]*domain.Account) balancer.SelectionResult {
	if len(f.cfg.PinnedAccountIDs) > 0 {
		pinned := make(map[int64]struct{}, len(f.cfg.PinnedAccountIDs))
		for _, id := range f.cfg.PinnedAccountIDs {
			pinned[id] = struct{}{}
		}
		pinnedStates := make([]*domain.AccountState, 0, len(pinned))
		for _, s := range states {
			if _, ok := pinned[s.AccountID]; ok {
				pinnedStates = append(pinnedStates, s)
			}
		}
		if len(pinnedStates) > 0 {
			result := balancer.Select(pinnedStates, now, f.cfg.Balancer)
			if result.Selected() {
				return result
			}
			fullResult := balancer.Select(states, now, f.cfg.Balancer)
			if fullResult.Selected() {
				account := accountMap[fullResult.Account.AccountID]
				shortID := fullResult.Account.AccountID
				f.log.Info(fmt.Sprintf("lb_fallback pinned_failed reason=%q full_selected=%s[%d]", result.Message, account.Email, shortID))
			}
			return fullResult
		}
	}
	return balancer.Select(states, now, f.cfg.Balancer)
}

func (f *Facade) stickyTTL() time.Duration {
	if f.cfg.StickyTTL > 0 {
		return f.cfg.StickyTTL
	}
	return time.Hour
}

func (f *Facade) markSelected(accountID int64, now int64) {
	rt := f.runtimeFor(accountID)
	rt.LastSelectedAt = &now
}

// syncStatuses copies the reset/error/cooldown fields the pure eligibility
// pass may have changed in place back to runtime state, and persists any
// status change to the account store.
func (f *Facade) syncStatuses(ctx context.Context, states []*domain.AccountState, accountMap map[int64]*domain.Account) {
	for _, state := range states {
		rt := f.runtimeFor(state.AccountID)
		rt.ResetAt = state.ResetAt
		rt.LastErrorAt = state.LastErrorAt
		rt.ErrorCount = state.ErrorCount
		rt.CooldownUntil = state.CooldownUntil

		account := accountMap[state.AccountID]
		if account == nil {
			continue
		}
		if account.Status != state.Status {
			reason := account.DeactivationReason
			if err := f.accounts.UpdateStatus(ctx, state.AccountID, state.Status, reason); err != nil {
				f.log.Warn("failed to persist status transition", zap.Int64("account_id", state.AccountID), zap.Error(err))
			}
			account.Status = state.Status
		}
	}
}

func findState(states []*domain.AccountState, accountID int64) *domain.AccountState {
	for _, s := range states {
		if s.AccountID == accountID {
			return s
		}
	}
	return nil
}

func isSelectable(state *domain.AccountState, now int64) bool {
	if state.Status == domain.StatusDeactivated || state.Status == domain.StatusPaused {
		return false
	}
	if state.Status.IsTimedStatus() && (state.ResetAt == nil || now < *state.ResetAt) {
		return false
	}
	if state.CooldownUntil != nil && now < *state.CooldownUntil {
		return false
	}
	return true
}

// applyMutation runs a pure balancer.AccountState mutator against the
// account's current runtime state and persists the result.
func (f *Facade) applyMutation(ctx context.Context, accountID int64, mutate func(*domain.AccountState)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rt := f.runtimeFor(accountID)
	state := &domain.AccountState{
		AccountID:      accountID,
		ResetAt:        rt.ResetAt,
		LastErrorAt:    rt.LastErrorAt,
		LastSelectedAt: rt.LastSelectedAt,
		ErrorCount:     rt.ErrorCount,
		CooldownUntil:  rt.CooldownUntil,
	}
	if f.snap != nil {
		if account := f.snap.accountMap[accountID]; account != nil {
			state.Status = account.Status
		}
	}

	mutate(state)

	rt.ResetAt = state.ResetAt
	rt.LastErrorAt = state.LastErrorAt
	rt.ErrorCount = state.ErrorCount
	rt.CooldownUntil = state.CooldownUntil

	if f.snap != nil {
		if account := f.snap.accountMap[accountID]; account != nil {
			if account.Status != state.Status {
				if err := f.accounts.UpdateStatus(ctx, accountID, state.Status, ""); err != nil {
					return err
				}
				account.Status = state.Status
			}
		}
	}
	return nil
}

// MarkRateLimit records an upstream rate_limit_exceeded signal.
func (f *Facade) MarkRateLimit(ctx context.Context, accountID int64, err balancer.UpstreamError) error {
	now := time.Now().Unix()
	return f.applyMutation(ctx, accountID, func(s *domain.AccountState) {
		balancer.HandleRateLimit(s, err, now)
	})
}

// MarkUsageLimitReached records an upstream usage_limit_reached signal.
func (f *Facade) MarkUsageLimitReached(ctx context.Context, accountID int64, err balancer.UpstreamError) error {
	now := time.Now().Unix()
	return f.applyMutation(ctx, accountID, func(s *domain.AccountState) {
		balancer.HandleUsageLimitReached(s, err, now, f.cfg.Balancer)
	})
}

// MarkQuotaExceeded records an upstream quota_exceeded signal.
func (f *Facade) MarkQuotaExceeded(ctx context.Context, accountID int64, err balancer.UpstreamError) error {
	now := time.Now().Unix()
	return f.applyMutation(ctx, accountID, func(s *domain.AccountState) {
		balancer.HandleQuotaExceeded(s, err, now)
	})
}

// MarkPermanentFailure deactivates an account after a permanent refresh
// failure is discovered mid-request.
func (f *Facade) MarkPermanentFailure(ctx context.Context, accountID int64, code domain.RefreshFailureCode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rt := f.runtimeFor(accountID)
	state := &domain.AccountState{AccountID: accountID, ResetAt: rt.ResetAt, ErrorCount: rt.ErrorCount}
	message := balancer.HandlePermanentFailure(state, code)

	if f.snap != nil {
		if account := f.snap.accountMap[accountID]; account != nil {
			if err := f.accounts.UpdateStatus(ctx, accountID, domain.StatusDeactivated, message); err != nil {
				return err
			}
			account.Status = domain.StatusDeactivated
			account.DeactivationReason = message
		}
	}
	return nil
}

// RecordError increments the runtime error bookkeeping without changing
// status, for transport failures the facade doesn't otherwise classify.
func (f *Facade) RecordError(ctx context.Context, accountID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().Unix()
	rt := f.runtimeFor(accountID)
	rt.ErrorCount++
	rt.LastErrorAt = &now
	return nil
}
