package domain

// RefusalReason is the closed set of reasons SelectionResult can carry when
// no account is returned. When several apply, refusalFromDrops in the
// balancer package reports rate_limited, then quota_exceeded, then
// paused_or_auth/paused/auth, then cooldown, then no_available.
type RefusalReason string

const (
	RefusalPausedOrAuth   RefusalReason = "paused_or_auth"
	RefusalPaused         RefusalReason = "paused"
	RefusalAuth           RefusalReason = "auth"
	RefusalRateLimited    RefusalReason = "rate_limited"
	RefusalQuotaExceeded  RefusalReason = "quota_exceeded"
	RefusalCooldown       RefusalReason = "cooldown"
	RefusalNoneAvailable  RefusalReason = "no_available"
)

// RefreshFailureCode is the closed set of permanent token-refresh failure
// codes.
type RefreshFailureCode string

const (
	RefreshTokenExpired     RefreshFailureCode = "refresh_token_expired"
	RefreshTokenReused      RefreshFailureCode = "refresh_token_reused"
	RefreshTokenInvalidated RefreshFailureCode = "refresh_token_invalidated"
	AccountSuspended        RefreshFailureCode = "account_suspended"
	AccountDeleted          RefreshFailureCode = "account_deleted"
)

// DeactivationMessages maps each permanent-failure code to the human message
// stored as Account.DeactivationReason.
var DeactivationMessages = map[RefreshFailureCode]string{
	RefreshTokenExpired:     "Refresh token expired - re-login required",
	RefreshTokenReused:      "Refresh token was reused - re-login required",
	RefreshTokenInvalidated: "Refresh token was revoked - re-login required",
	AccountSuspended:        "Account has been suspended",
	AccountDeleted:          "Account has been deleted",
}

// TierWeights holds the per-tier urgency multipliers used by scoring.
// Externalised via Config so operators can retune without a rebuild.
type TierWeights struct {
	Pro  float64
	Plus float64
	Free float64
}

// DefaultTierWeights are the baseline tier-weight defaults.
var DefaultTierWeights = TierWeights{Pro: 1.00, Plus: 0.95, Free: 0.90}

func (w TierWeights) ForTier(tier Tier) float64 {
	switch tier {
	case TierPro:
		return w.Pro
	case TierFree:
		return w.Free
	case TierPlus:
		return w.Plus
	default:
		return 1.0
	}
}

// TierCapacityCredits holds the per-tier secondary-window credit capacity
// used to derive remaining-credit urgency. Externalised via Config since
// tier capacities aren't reported by the upstream service itself.
type TierCapacityCredits struct {
	Pro  float64
	Plus float64
	Free float64
}

var DefaultTierCapacityCredits = TierCapacityCredits{Pro: 1000, Plus: 400, Free: 100}

func (c TierCapacityCredits) ForTier(tier Tier) float64 {
	switch tier {
	case TierPro:
		return c.Pro
	case TierFree:
		return c.Free
	case TierPlus:
		return c.Plus
	default:
		return c.Plus
	}
}

const (
	// MinBackoffErrorCount is the error_count threshold at which exponential
	// backoff gating kicks in.
	MinBackoffErrorCount = 3
	// MaxBackoffSeconds caps the exponential backoff.
	MaxBackoffSeconds = 300
	// BaseBackoffSeconds is the multiplier in 30*2^(n-3).
	BaseBackoffSeconds = 30

	// QuotaExceededDefaultWindowSeconds is the fallback reset delay when the
	// upstream error carries no explicit reset.
	QuotaExceededDefaultWindowSeconds = 3600

	// UsageLimitEscalationThresholdSeconds is the minimum delay-to-reset
	// before a usage_limit_reached signal is treated as corroborated rather
	// than transient. Configurable; this is the default.
	UsageLimitEscalationThresholdSeconds = 5 * 60
	// UsageLimitInitialCooldownCapSeconds caps the first cooldown applied on
	// a usage_limit_reached signal.
	UsageLimitInitialCooldownCapSeconds = 5 * 60

	// MinTimeToResetSeconds is the floor applied to time-to-reset when
	// computing required_rate, so a reset landing "now" doesn't divide by
	// zero.
	MinTimeToResetSeconds = 60
)
