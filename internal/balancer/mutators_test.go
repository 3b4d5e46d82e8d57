package balancer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
)

// Scenario 2: Retry-After parsing with fail-safe reset_at.
func TestHandleRateLimit_ParsesRetryAfterMessage(t *testing.T) {
	now := int64(1_700_000_000)
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive}

	HandleRateLimit(s, UpstreamError{Message: "Try again in 1.5s"}, now)

	require.Equal(t, domain.StatusRateLimited, s.Status)
	require.Equal(t, 1, s.ErrorCount)
	require.NotNil(t, s.CooldownUntil)
	// Epoch-second granularity rounds the fractional delay up, so the account
	// is never considered recovered before the upstream-intended instant.
	require.Equal(t, now+2, *s.CooldownUntil)
	require.Equal(t, now+2, *s.ResetAt)
}

func TestHandleRateLimit_ExplicitResetAtWins(t *testing.T) {
	now := int64(1_700_000_000)
	resetAt := now + 120
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive}

	HandleRateLimit(s, UpstreamError{ResetsAt: &resetAt}, now)

	require.Equal(t, resetAt, *s.ResetAt)
}

func TestHandleRateLimit_FallsBackToBackoffWithoutRetryAfter(t *testing.T) {
	now := int64(1_700_000_000)
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive, ErrorCount: 3}

	HandleRateLimit(s, UpstreamError{}, now)

	require.Equal(t, now+60, *s.CooldownUntil)
}

func TestHandleQuotaExceeded_DefaultsToOneHourWindow(t *testing.T) {
	now := int64(1_700_000_000)
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive}

	HandleQuotaExceeded(s, UpstreamError{}, now)

	require.Equal(t, domain.StatusQuotaExceeded, s.Status)
	require.Equal(t, 100.0, s.UsedPercent)
	require.Equal(t, now+3600, *s.ResetAt)
}

func TestHandlePermanentFailure_SetsDeactivatedAndMessage(t *testing.T) {
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive}

	msg := HandlePermanentFailure(s, domain.RefreshTokenExpired)

	require.Equal(t, domain.StatusDeactivated, s.Status)
	require.Equal(t, "Refresh token expired - re-login required", msg)
}

// Scenario 5: short hint, no escalation.
func TestHandleUsageLimitReached_ShortHintNoEscalation(t *testing.T) {
	now := int64(1_700_000_000)
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive, SecondaryUsedPercent: pctPtr(40)}

	resetsIn := 30.0
	HandleUsageLimitReached(s, UpstreamError{ResetsInSeconds: &resetsIn}, now, DefaultConfig())

	require.Equal(t, domain.StatusRateLimited, s.Status)
	require.Equal(t, now+30, *s.CooldownUntil)
	require.Equal(t, *s.CooldownUntil, *s.ResetAt)
}

// Scenario 6: corroborated exhaustion escalates reset_at to the upstream boundary.
func TestHandleUsageLimitReached_EscalatesOnCorroboratedExhaustion(t *testing.T) {
	now := int64(1_700_000_000)
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive, SecondaryUsedPercent: pctPtr(100), SecondaryResetAt: func() *int64 { v := now + 6*3600; return &v }()}

	resetsIn := 6.0 * 3600
	HandleUsageLimitReached(s, UpstreamError{ResetsInSeconds: &resetsIn}, now, DefaultConfig())

	require.Equal(t, now+5*60, *s.CooldownUntil)
	require.Equal(t, now+6*3600, *s.ResetAt)
}

func TestHandleUsageLimitReached_LongHintWithoutCorroborationStaysShortLock(t *testing.T) {
	now := int64(1_700_000_000)
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive, SecondaryUsedPercent: pctPtr(40)}

	resetsIn := 6.0 * 3600
	HandleUsageLimitReached(s, UpstreamError{ResetsInSeconds: &resetsIn}, now, DefaultConfig())

	require.Equal(t, now+5*60, *s.CooldownUntil)
	require.Equal(t, *s.CooldownUntil, *s.ResetAt)
}

func TestHandleUsageLimitReached_EscalatesOnRepeatedErrors(t *testing.T) {
	now := int64(1_700_000_000)
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive, SecondaryUsedPercent: pctPtr(40), ErrorCount: 3}

	resetsIn := 6.0 * 3600
	HandleUsageLimitReached(s, UpstreamError{ResetsInSeconds: &resetsIn}, now, DefaultConfig())

	require.Equal(t, now+6*3600, *s.ResetAt)
}

// No resets_at/resets_in_seconds hint: the first hit backs off from the
// error-count curve (30s) rather than jumping straight to the 5-min cap.
func TestHandleUsageLimitReached_NoBoundaryUsesBackoffCurve(t *testing.T) {
	now := int64(1_700_000_000)
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive}

	HandleUsageLimitReached(s, UpstreamError{}, now, DefaultConfig())

	require.Equal(t, now+30, *s.CooldownUntil)
	require.Equal(t, *s.CooldownUntil, *s.ResetAt)
}

func TestHandleUsageLimitReached_NoBoundaryBackoffStillCapped(t *testing.T) {
	now := int64(1_700_000_000)
	s := &domain.AccountState{AccountID: 1, Status: domain.StatusActive, ErrorCount: 10}

	HandleUsageLimitReached(s, UpstreamError{}, now, DefaultConfig())

	require.Equal(t, now+5*60, *s.CooldownUntil)
}

func TestParseRetryAfter_ExtractsFractionalSeconds(t *testing.T) {
	v, ok := parseRetryAfter("Try again in 1.5s")
	require.True(t, ok)
	require.InDelta(t, 1.5, v, 1e-9)

	_, ok = parseRetryAfter("no hint here")
	require.False(t, ok)
}
