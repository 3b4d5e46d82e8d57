package balancer

import (
	"math"
	"regexp"
	"strconv"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
)

// retryAfterPattern extracts the numeric delay out of messages shaped like
// "Try again in 1.5s".
var retryAfterPattern = regexp.MustCompile(`(?i)try again in\s+([0-9]+(?:\.[0-9]+)?)\s*s`)

// parseRetryAfter returns the delay in seconds encoded in an upstream error
// message, if any.
func parseRetryAfter(message string) (float64, bool) {
	m := retryAfterPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// HandleRateLimit applies a rate_limited upstream signal to state in place.
func HandleRateLimit(state *domain.AccountState, err UpstreamError, now int64) {
	state.Status = domain.StatusRateLimited
	state.ErrorCount++
	state.LastErrorAt = &now

	if err.ResetsAt != nil {
		resetAt := *err.ResetsAt
		state.ResetAt = &resetAt
	}

	delay, ok := parseRetryAfter(err.Message)
	if !ok {
		delay = backoffSeconds(state.ErrorCount)
	}
	cooldownUntil := now + int64(math.Ceil(delay))
	state.CooldownUntil = &cooldownUntil

	if state.ResetAt == nil {
		resetAt := cooldownUntil
		state.ResetAt = &resetAt
	}
}

// HandleUsageLimitReached applies a usage_limit_reached upstream signal with
// an escalation policy: a near-term (or unknown) reset keeps the cooldown
// short; a distant reset escalates the account straight to its
// upstream-reported boundary only when the secondary quota is exhausted or
// the account has hit the limit repeatedly (error_count >= 3). A distant
// reset with neither also keeps the short cooldown.
func HandleUsageLimitReached(state *domain.AccountState, err UpstreamError, nowTime int64, cfg Config) {
	state.ErrorCount++
	state.LastErrorAt = &nowTime
	state.Status = domain.StatusRateLimited

	boundary := err.ResetBoundaryEpoch(nowTime)

	escalationThreshold := int64(cfg.UsageLimitEscalationThreshold.Seconds())
	cooldownCap := int64(cfg.UsageLimitInitialCooldownCap.Seconds())

	var delayToReset int64
	hasBoundary := boundary != nil
	if hasBoundary {
		delayToReset = *boundary - nowTime
	}

	capped := delayToReset
	if !hasBoundary {
		capped = int64(math.Ceil(backoffSeconds(state.ErrorCount)))
	}
	if capped > cooldownCap {
		capped = cooldownCap
	}
	if capped < 0 {
		capped = 0
	}
	cooldownUntil := nowTime + capped
	state.CooldownUntil = &cooldownUntil

	secondaryExhausted := state.SecondaryUsedPercent != nil && *state.SecondaryUsedPercent >= 100 && state.SecondaryResetAt != nil

	switch {
	case !hasBoundary || delayToReset < escalationThreshold:
		resetAt := cooldownUntil
		state.ResetAt = &resetAt
	case delayToReset >= escalationThreshold && (secondaryExhausted || state.ErrorCount >= domain.MinBackoffErrorCount):
		resetAt := *boundary
		state.ResetAt = &resetAt
	default:
		resetAt := cooldownUntil
		state.ResetAt = &resetAt
	}
}

// HandleQuotaExceeded applies a quota_exceeded upstream signal.
func HandleQuotaExceeded(state *domain.AccountState, err UpstreamError, now int64) {
	state.Status = domain.StatusQuotaExceeded
	state.UsedPercent = 100

	if boundary := err.ResetBoundaryEpoch(now); boundary != nil {
		resetAt := *boundary
		state.ResetAt = &resetAt
	} else {
		resetAt := now + domain.QuotaExceededDefaultWindowSeconds
		state.ResetAt = &resetAt
	}
}

// HandlePermanentFailure deactivates state and returns the human message
// from the code->message table.
func HandlePermanentFailure(state *domain.AccountState, code domain.RefreshFailureCode) string {
	state.Status = domain.StatusDeactivated
	return domain.DeactivationMessages[code]
}
