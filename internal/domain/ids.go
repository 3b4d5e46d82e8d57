package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// GenerateUniqueAccountID derives a stable id for an upstream credential from
// its upstream account id plus a hash of the owning email, so two logins
// sharing an upstream id but using different mailboxes never collide.
func GenerateUniqueAccountID(upstreamAccountID, email string) string {
	normalizedEmail := strings.ToLower(strings.TrimSpace(email))
	sum := sha256.Sum256([]byte(normalizedEmail))
	emailHash := hex.EncodeToString(sum[:])[:16]
	return strings.TrimSpace(upstreamAccountID) + ":" + emailHash
}
