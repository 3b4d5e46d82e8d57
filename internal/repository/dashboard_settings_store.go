package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/ssh352/codex-lb-sub001/internal/service"
)

type dashboardSettingsStore struct {
	db                 sqlExecutor
	driver             string
	defaultPreferEarly bool
}

// NewDashboardSettingsStore builds the operator-settings singleton
// repository: pinned account ids plus the prefer-earlier-reset flag.
// defaultPreferEarlierReset seeds Get's fallback when no row exists yet,
// from config.BalancerConfig.PreferEarlierReset.
func NewDashboardSettingsStore(db *sql.DB, driver string, defaultPreferEarlierReset bool) service.DashboardSettingsStore {
	return &dashboardSettingsStore{db: db, driver: driver, defaultPreferEarly: defaultPreferEarlierReset}
}

func (s *dashboardSettingsStore) Get(ctx context.Context) (service.DashboardSettings, error) {
	row := s.db.QueryRowContext(ctx, `SELECT pinned_account_ids, prefer_earlier_reset FROM dashboard_settings WHERE id = 1`)
	var pinnedCSV string
	var preferEarlier bool
	if err := row.Scan(&pinnedCSV, &preferEarlier); err != nil {
		if err == sql.ErrNoRows {
			return service.DashboardSettings{PreferEarlierReset: s.defaultPreferEarly}, nil
		}
		return service.DashboardSettings{}, err
	}
	return service.DashboardSettings{
		PinnedAccountIDs:   parsePinnedIDs(pinnedCSV),
		PreferEarlierReset: preferEarlier,
	}, nil
}

func (s *dashboardSettingsStore) Update(ctx context.Context, settings service.DashboardSettings) error {
	query := `UPDATE dashboard_settings SET pinned_account_ids = ` + s.placeholder(1) + `, prefer_earlier_reset = ` + s.placeholder(2) + ` WHERE id = 1`
	_, err := s.db.ExecContext(ctx, query, formatPinnedIDs(settings.PinnedAccountIDs), settings.PreferEarlierReset)
	return err
}

func (s *dashboardSettingsStore) placeholder(n int) string {
	if s.driver == "postgres" {
		return "$" + itoa(n)
	}
	return "?"
}

func parsePinnedIDs(csv string) []int64 {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func formatPinnedIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
