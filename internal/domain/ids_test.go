package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateUniqueAccountID_Deterministic(t *testing.T) {
	a := GenerateUniqueAccountID("org-abc123", "User@Example.com")
	b := GenerateUniqueAccountID("org-abc123", "  user@example.com  ")
	require.Equal(t, a, b)
}

func TestGenerateUniqueAccountID_SameUpstreamIDDifferentEmailsDiffer(t *testing.T) {
	a := GenerateUniqueAccountID("org-abc123", "alice@example.com")
	b := GenerateUniqueAccountID("org-abc123", "bob@example.com")
	require.NotEqual(t, a, b)
}

func TestGenerateUniqueAccountID_DifferentUpstreamIDsDiffer(t *testing.T) {
	a := GenerateUniqueAccountID("org-abc123", "alice@example.com")
	b := GenerateUniqueAccountID("org-xyz789", "alice@example.com")
	require.NotEqual(t, a, b)
}
