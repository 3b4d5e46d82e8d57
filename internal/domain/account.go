// Package domain holds the plain data model shared by the account store,
// the usage refresher and the balancer. None of these types perform I/O.
package domain

import "time"

// AccountStatus is the closed set of lifecycle states an Account can be in.
type AccountStatus string

const (
	StatusActive        AccountStatus = "ACTIVE"
	StatusPaused         AccountStatus = "PAUSED"
	StatusRateLimited     AccountStatus = "RATE_LIMITED"
	StatusQuotaExceeded   AccountStatus = "QUOTA_EXCEEDED"
	StatusDeactivated     AccountStatus = "DEACTIVATED"
)

// PlanType is the closed set of upstream subscription tiers.
type PlanType string

const (
	PlanPro      PlanType = "pro"
	PlanPlus     PlanType = "plus"
	PlanTeam     PlanType = "team"
	PlanBusiness PlanType = "business"
	PlanFree     PlanType = "free"
	PlanUnknown  PlanType = "unknown"
)

// Tier is the normalised scheduling tier derived from PlanType.
type Tier string

const (
	TierPro  Tier = "pro"
	TierPlus Tier = "plus"
	TierFree Tier = "free"
)

// NormalizeTier maps a plan type onto one of the three scheduling tiers.
// Anything not explicitly pro/free collapses onto plus, including unknown
// plan types.
func NormalizeTier(plan PlanType) Tier {
	switch plan {
	case PlanPro:
		return TierPro
	case PlanFree:
		return TierFree
	case PlanPlus, PlanTeam, PlanBusiness:
		return TierPlus
	default:
		return TierPlus
	}
}

// Window identifies which upstream rate-limit window a UsageSnapshot belongs to.
type Window string

const (
	WindowPrimary   Window = "primary"
	WindowSecondary Window = "secondary"
)

// Account is the durable record for a single upstream credential.
//
// EncAccessToken, EncRefreshToken and EncIDToken are ciphertext produced by
// the Token Cryptor; callers never see plaintext tokens outside of the
// auth-refresh and proxy-forwarding paths.
type Account struct {
	ID                int64
	ChatGPTAccountID  string
	Email             string
	PlanType          PlanType
	EncAccessToken    []byte
	EncRefreshToken   []byte
	EncIDToken        []byte
	LastRefresh       time.Time
	Status            AccountStatus
	DeactivationReason string
	ResetAt           *int64 // epoch seconds, non-nil only while RATE_LIMITED/QUOTA_EXCEEDED
}

// UsageSnapshot is one append-only row per account per window.
type UsageSnapshot struct {
	AccountID        int64
	Window           Window
	UsedPercent      float64
	ResetAt          *int64
	WindowMinutes    int
	CreditsHas       bool
	CreditsUnlimited bool
	CreditsBalance   float64
	RecordedAt       time.Time
}

// RuntimeState is the in-memory-only bookkeeping the facade keeps per account.
type RuntimeState struct {
	ResetAt        *int64
	LastErrorAt    *int64
	LastSelectedAt *int64
	ErrorCount     int
	CooldownUntil  *int64
}

// AccountState is the record fed into the pure balancer logic, built per
// selection pass from Account + latest Primary/Secondary UsageSnapshot +
// RuntimeState.
type AccountState struct {
	AccountID     int64
	Email         string
	PlanType      PlanType
	Status        AccountStatus
	ResetAt       *int64
	UsedPercent   float64

	SecondaryUsedPercent *float64
	SecondaryResetAt     *int64

	LastErrorAt    *int64
	LastSelectedAt *int64
	ErrorCount     int
	CooldownUntil  *int64
}

// IsTimedStatus reports whether status is one of the two states that carry
// a non-null ResetAt.
func (s AccountStatus) IsTimedStatus() bool {
	return s == StatusRateLimited || s == StatusQuotaExceeded
}
