// Package balancer is the pure core of the load balancer: given a snapshot
// of domain.AccountState and "now", it decides which account to use next and
// how upstream error signals mutate account state. Nothing here performs
// I/O, reads the wall clock internally, or touches shared state — every
// input is a parameter, and every result is a plain record the caller owns.
package balancer

import (
	"time"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
)

// Config bundles the tunables the pure logic needs, built from
// config.BalancerConfig by the cmd/server wiring so this package stays import-free of
// the config package (and therefore trivially unit-testable).
type Config struct {
	TierWeights         domain.TierWeights
	TierCapacityCredits domain.TierCapacityCredits
	PreferEarlierReset  bool

	UsageLimitEscalationThreshold time.Duration
	UsageLimitInitialCooldownCap time.Duration
}

// DefaultConfig mirrors the package's hardcoded defaults.
func DefaultConfig() Config {
	return Config{
		TierWeights:                   domain.DefaultTierWeights,
		TierCapacityCredits:           domain.DefaultTierCapacityCredits,
		PreferEarlierReset:            true,
		UsageLimitEscalationThreshold: domain.UsageLimitEscalationThresholdSeconds * time.Second,
		UsageLimitInitialCooldownCap:  domain.UsageLimitInitialCooldownCapSeconds * time.Second,
	}
}

// UpstreamError is the dictionary-shaped upstream error value: optional
// message, an absolute reset epoch, or a relative reset delay.
type UpstreamError struct {
	Message         string
	ResetsAt        *int64
	ResetsInSeconds *float64
}

// ResetBoundaryEpoch resolves the upstream error's reset hint to an absolute
// epoch second, preferring the absolute field over the relative one: an
// absolute resets_at wins if present, else now + resets_in_seconds.
func (e UpstreamError) ResetBoundaryEpoch(now int64) *int64 {
	if e.ResetsAt != nil {
		return e.ResetsAt
	}
	if e.ResetsInSeconds != nil {
		boundary := now + int64(*e.ResetsInSeconds)
		return &boundary
	}
	return nil
}

// SelectionResult is what Select returns: either a chosen account, or a
// structured refusal from a closed set of reasons.
type SelectionResult struct {
	Account *domain.AccountState
	Reason  domain.RefusalReason
	Message string
}

// Selected reports whether the selection succeeded.
func (r SelectionResult) Selected() bool {
	return r.Account != nil
}
