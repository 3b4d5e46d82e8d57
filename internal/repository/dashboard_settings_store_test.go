package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ssh352/codex-lb-sub001/internal/service"
)

func newTestDashboardSettingsStore(t *testing.T, defaultPreferEarly bool) service.DashboardSettingsStore {
	t.Helper()
	db := openTestDB(t)
	require.NoError(t, ApplyMigrations(context.Background(), db, "sqlite"))
	return NewDashboardSettingsStore(db, "sqlite", defaultPreferEarly)
}

func TestDashboardSettingsStore_GetReturnsMigrationSeededDefault(t *testing.T) {
	store := newTestDashboardSettingsStore(t, false)

	settings, err := store.Get(context.Background())
	require.NoError(t, err)
	require.Empty(t, settings.PinnedAccountIDs)
	require.True(t, settings.PreferEarlierReset)
}

func TestDashboardSettingsStore_UpdateRoundTripsPinnedIDs(t *testing.T) {
	store := newTestDashboardSettingsStore(t, true)

	err := store.Update(context.Background(), service.DashboardSettings{
		PinnedAccountIDs:   []int64{3, 7, 11},
		PreferEarlierReset: false,
	})
	require.NoError(t, err)

	settings, err := store.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{3, 7, 11}, settings.PinnedAccountIDs)
	require.False(t, settings.PreferEarlierReset)
}
