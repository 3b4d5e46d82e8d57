package balancer

import "github.com/ssh352/codex-lb-sub001/internal/domain"

// Select runs the full pure selection pipeline: eligibility filtering with
// in-place recovery, tier-weighted scoring, and tie-broken pick. states is
// mutated in place for recovered accounts; callers own persisting those
// mutations back to durable/runtime storage.
func Select(states []*domain.AccountState, now int64, cfg Config) SelectionResult {
	survivors, dropped := eligible(states, now)

	if len(survivors) == 0 {
		return refusalFromDrops(dropped)
	}

	aggs := aggregateByTier(survivors, cfg, now)
	tier := selectTier(aggs)
	if tier == nil {
		picked := fallbackPick(survivors)
		return SelectionResult{Account: picked}
	}

	picked := pickInTier(tier)
	return SelectionResult{Account: picked}
}
