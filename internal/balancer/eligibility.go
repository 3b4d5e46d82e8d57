package balancer

import (
	"fmt"
	"math"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
)

// dropCategory records why a candidate was removed from the eligible set,
// so refuseReason can pick the right closed-set reason afterwards.
type dropCategory int

const (
	dropNone dropCategory = iota
	dropPaused
	dropAuth // DEACTIVATED
	dropRateLimited
	dropQuotaExceeded
	dropCooldown
)

type droppedCandidate struct {
	category dropCategory
	waitSecs float64 // seconds until the relevant boundary passes, for message formatting
}

// eligible filters states down to the ones selection may consider, mutating
// states that have recovered in place. It returns the surviving states plus
// the dropped ones (for refusal-reason computation).
func eligible(states []*domain.AccountState, now int64) ([]*domain.AccountState, []droppedCandidate) {
	survivors := make([]*domain.AccountState, 0, len(states))
	dropped := make([]droppedCandidate, 0)

	for _, s := range states {
		if s.Status == domain.StatusDeactivated {
			dropped = append(dropped, droppedCandidate{category: dropAuth})
			continue
		}
		if s.Status == domain.StatusPaused {
			dropped = append(dropped, droppedCandidate{category: dropPaused})
			continue
		}

		if s.Status == domain.StatusRateLimited {
			if s.ResetAt != nil && now >= *s.ResetAt {
				s.Status = domain.StatusActive
				s.ResetAt = nil
				s.ErrorCount = 0
			} else {
				wait := 0.0
				if s.ResetAt != nil {
					wait = float64(*s.ResetAt - now)
				}
				dropped = append(dropped, droppedCandidate{category: dropRateLimited, waitSecs: wait})
				continue
			}
		}

		if s.Status == domain.StatusQuotaExceeded {
			if s.ResetAt != nil && now >= *s.ResetAt {
				s.Status = domain.StatusActive
				s.ResetAt = nil
				s.ErrorCount = 0
				s.UsedPercent = 0
			} else {
				wait := 0.0
				if s.ResetAt != nil {
					wait = float64(*s.ResetAt - now)
				}
				dropped = append(dropped, droppedCandidate{category: dropQuotaExceeded, waitSecs: wait})
				continue
			}
		}

		if s.CooldownUntil != nil {
			if now >= *s.CooldownUntil {
				s.CooldownUntil = nil
				s.LastErrorAt = nil
				s.ErrorCount = 0
			} else {
				wait := float64(*s.CooldownUntil - now)
				dropped = append(dropped, droppedCandidate{category: dropCooldown, waitSecs: wait})
				continue
			}
		}

		if s.ErrorCount >= domain.MinBackoffErrorCount {
			backoff := backoffSeconds(s.ErrorCount)
			lastErr := int64(0)
			if s.LastErrorAt != nil {
				lastErr = *s.LastErrorAt
			}
			elapsed := float64(now - lastErr)
			if elapsed < backoff {
				dropped = append(dropped, droppedCandidate{category: dropCooldown, waitSecs: backoff - elapsed})
				continue
			}
		}

		survivors = append(survivors, s)
	}

	return survivors, dropped
}

// backoffSeconds is the exponential backoff curve: 30*2^(n-3) capped at 300s
// once error_count reaches 3; below that the gate doesn't apply, but callers
// of handle_rate_limit still want a baseline delay, so we return the
// uncapped base for n < 3.
func backoffSeconds(errorCount int) float64 {
	if errorCount < domain.MinBackoffErrorCount {
		return domain.BaseBackoffSeconds
	}
	raw := domain.BaseBackoffSeconds * math.Pow(2, float64(errorCount-domain.MinBackoffErrorCount))
	return math.Min(domain.MaxBackoffSeconds, raw)
}

// refusalFromDrops picks the closed-set reason + message from the
// candidates the eligibility pass rejected. Timed refusals (rate_limited,
// quota_exceeded) take priority over paused/auth: if any account in the
// pool is merely waiting out a timer, "all accounts are paused/need
// re-auth" would be a false claim.
func refusalFromDrops(dropped []droppedCandidate) SelectionResult {
	var hasPaused, hasAuth, hasRateLimited, hasQuotaExceeded, hasCooldown bool
	minWait := map[dropCategory]float64{}

	for _, d := range dropped {
		switch d.category {
		case dropPaused:
			hasPaused = true
		case dropAuth:
			hasAuth = true
		case dropRateLimited:
			hasRateLimited = true
			recordMinWait(minWait, dropRateLimited, d.waitSecs)
		case dropQuotaExceeded:
			hasQuotaExceeded = true
			recordMinWait(minWait, dropQuotaExceeded, d.waitSecs)
		case dropCooldown:
			hasCooldown = true
			recordMinWait(minWait, dropCooldown, d.waitSecs)
		}
	}

	switch {
	case hasRateLimited:
		return SelectionResult{Reason: domain.RefusalRateLimited, Message: rateLimitMessage(minWait[dropRateLimited])}
	case hasQuotaExceeded:
		return SelectionResult{Reason: domain.RefusalQuotaExceeded, Message: rateLimitMessage(minWait[dropQuotaExceeded])}
	case hasPaused && hasAuth:
		return SelectionResult{Reason: domain.RefusalPausedOrAuth, Message: "No account available: some accounts are paused, others need re-authentication"}
	case hasPaused:
		return SelectionResult{Reason: domain.RefusalPaused, Message: "No account available: all candidate accounts are paused"}
	case hasAuth:
		return SelectionResult{Reason: domain.RefusalAuth, Message: "No account available: all candidate accounts need re-authentication"}
	case hasCooldown:
		return SelectionResult{Reason: domain.RefusalCooldown, Message: rateLimitMessage(minWait[dropCooldown])}
	default:
		return SelectionResult{Reason: domain.RefusalNoneAvailable, Message: "No account available"}
	}
}

func recordMinWait(m map[dropCategory]float64, category dropCategory, wait float64) {
	current, ok := m[category]
	if !ok || wait < current {
		m[category] = wait
	}
}

// rateLimitMessage renders the single user-visible message shape used for
// all timed refusals.
func rateLimitMessage(waitSecs float64) string {
	if waitSecs < 0 {
		waitSecs = 0
	}
	return fmt.Sprintf("Rate limit exceeded. Try again in %ds", int64(math.Ceil(waitSecs)))
}
