package balancer

import (
	"math"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
)

// scoredState is one eligible account plus the derived values scoring needs,
// computed once per selection pass.
type scoredState struct {
	state *domain.AccountState
	tier  domain.Tier

	secondaryUsedPercent    float64
	secondaryRemainingCredits float64
	secondaryResetAt        *int64
	hasResetBoundary        bool
}

// tierAggregate accumulates the per-tier totals scoring needs for tier
// selection.
type tierAggregate struct {
	tier             domain.Tier
	urgency          float64
	remainingCredits float64
	minResetAt       *int64
	count            int
	score            float64
	members          []scoredState
}

// deriveScoredState computes secondary_used_percent and
// secondary_remaining_credits and records the secondary reset boundary;
// time_to_reset itself is computed in requiredRate.
func deriveScoredState(s *domain.AccountState, cfg Config, now int64) scoredState {
	tier := domain.NormalizeTier(s.PlanType)
	capacity := cfg.TierCapacityCredits.ForTier(tier)

	usedPercent := s.UsedPercent
	if s.SecondaryUsedPercent != nil {
		usedPercent = *s.SecondaryUsedPercent
	}

	remaining := capacity * math.Max(0, 100-usedPercent) / 100

	ss := scoredState{
		state:                     s,
		tier:                      tier,
		secondaryUsedPercent:      usedPercent,
		secondaryRemainingCredits: remaining,
		secondaryResetAt:          s.SecondaryResetAt,
	}
	if s.SecondaryResetAt != nil {
		ss.hasResetBoundary = true
	}
	return ss
}

// requiredRate computes required_rate = remaining_credits / time_to_reset,
// or 0 when no secondary reset boundary is known.
func (ss scoredState) requiredRate(now int64) float64 {
	if !ss.hasResetBoundary {
		return 0
	}
	timeToReset := float64(*ss.secondaryResetAt - now)
	if timeToReset < domain.MinTimeToResetSeconds {
		timeToReset = domain.MinTimeToResetSeconds
	}
	return ss.secondaryRemainingCredits / timeToReset
}

// aggregateByTier groups scored states by tier and sums urgency, remaining
// credits and count, tracking the earliest reset per tier.
func aggregateByTier(states []*domain.AccountState, cfg Config, now int64) map[domain.Tier]*tierAggregate {
	aggs := make(map[domain.Tier]*tierAggregate)
	for _, s := range states {
		ss := deriveScoredState(s, cfg, now)
		agg, ok := aggs[ss.tier]
		if !ok {
			agg = &tierAggregate{tier: ss.tier}
			aggs[ss.tier] = agg
		}
		agg.urgency += ss.requiredRate(now)
		if ss.secondaryResetAt != nil {
			agg.remainingCredits += ss.secondaryRemainingCredits
		}
		agg.count++
		agg.members = append(agg.members, ss)
		if ss.secondaryResetAt != nil {
			if agg.minResetAt == nil || *ss.secondaryResetAt < *agg.minResetAt {
				agg.minResetAt = ss.secondaryResetAt
			}
		}
	}
	for _, agg := range aggs {
		agg.score = agg.urgency * cfg.TierWeights.ForTier(agg.tier)
	}
	return aggs
}

// selectTier picks the tier with the highest score, breaking ties by
// (reset_at_or_inf, -remaining_credits, tier_name). Returns nil if no tier
// has a positive score.
func selectTier(aggs map[domain.Tier]*tierAggregate) *tierAggregate {
	var best *tierAggregate
	anyPositive := false
	for _, agg := range aggs {
		if agg.score > 0 {
			anyPositive = true
		}
	}
	if !anyPositive {
		return nil
	}
	for _, agg := range aggs {
		if best == nil || tierKeyLess(agg, best) {
			best = agg
		}
	}
	return best
}

// tierKeyLess orders tiers by the key:
// (-score, reset_at_or_inf, -remaining_credits, tier_name).
func tierKeyLess(a, b *tierAggregate) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	ar, br := resetAtOrInf(a.minResetAt), resetAtOrInf(b.minResetAt)
	if ar != br {
		return ar < br
	}
	if a.remainingCredits != b.remainingCredits {
		return a.remainingCredits > b.remainingCredits
	}
	return a.tier < b.tier
}

// pickInTier selects the single account within a tier by the key:
// (secondary_reset_at_or_inf, secondary_used_percent, last_selected_at_or_0, account_id).
func pickInTier(agg *tierAggregate) *domain.AccountState {
	var best *scoredState
	for i := range agg.members {
		m := &agg.members[i]
		if best == nil || intraTierKeyLess(*m, *best) {
			best = m
		}
	}
	if best == nil {
		return nil
	}
	return best.state
}

func intraTierKeyLess(a, b scoredState) bool {
	ar, br := resetAtOrInf(a.secondaryResetAt), resetAtOrInf(b.secondaryResetAt)
	if ar != br {
		return ar < br
	}
	if a.secondaryUsedPercent != b.secondaryUsedPercent {
		return a.secondaryUsedPercent < b.secondaryUsedPercent
	}
	aLast, bLast := lastSelectedOrZero(a.state), lastSelectedOrZero(b.state)
	if aLast != bLast {
		return aLast < bLast
	}
	return a.state.AccountID < b.state.AccountID
}

// fallbackPick implements the usage sort key used when no tier has positive
// score:
// (secondary_used_or_primary_used, primary_used, last_selected_at_or_0, account_id).
func fallbackPick(states []*domain.AccountState) *domain.AccountState {
	var best *domain.AccountState
	for _, s := range states {
		if best == nil || fallbackKeyLess(s, best) {
			best = s
		}
	}
	return best
}

func fallbackKeyLess(a, b *domain.AccountState) bool {
	aUsed, bUsed := secondaryOrPrimaryUsed(a), secondaryOrPrimaryUsed(b)
	if aUsed != bUsed {
		return aUsed < bUsed
	}
	if a.UsedPercent != b.UsedPercent {
		return a.UsedPercent < b.UsedPercent
	}
	aLast, bLast := lastSelectedOrZero(a), lastSelectedOrZero(b)
	if aLast != bLast {
		return aLast < bLast
	}
	return a.AccountID < b.AccountID
}

func secondaryOrPrimaryUsed(s *domain.AccountState) float64 {
	if s.SecondaryUsedPercent != nil {
		return *s.SecondaryUsedPercent
	}
	return s.UsedPercent
}

func lastSelectedOrZero(s *domain.AccountState) int64 {
	if s.LastSelectedAt != nil {
		return *s.LastSelectedAt
	}
	return 0
}

func resetAtOrInf(resetAt *int64) int64 {
	if resetAt == nil {
		return math.MaxInt64
	}
	return *resetAt
}
