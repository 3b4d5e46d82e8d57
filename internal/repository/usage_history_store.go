package repository

import (
	"context"
	"database/sql"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
	"github.com/ssh352/codex-lb-sub001/internal/service"
)

type usageHistoryStore struct {
	db     sqlExecutor
	driver string
}

// NewUsageHistoryStore builds the append-only usage history repository:
// one row per account per window per refresh.
func NewUsageHistoryStore(db *sql.DB, driver string) service.UsageHistoryStore {
	return &usageHistoryStore{db: db, driver: driver}
}

func (s *usageHistoryStore) AddEntry(ctx context.Context, snap domain.UsageSnapshot) error {
	query := `INSERT INTO usage_history
		(account_id, window, used_percent, reset_at, window_minutes, credits_has, credits_unlimited, credits_balance, recorded_at)
		VALUES (` + s.placeholders(9) + `)`
	_, err := s.db.ExecContext(ctx, query,
		snap.AccountID, string(snap.Window), snap.UsedPercent, snap.ResetAt, snap.WindowMinutes,
		snap.CreditsHas, snap.CreditsUnlimited, snap.CreditsBalance, snap.RecordedAt)
	return err
}

// LatestByAccount returns, for each account, the most recent row in the
// given window. Both the facade and the refresher's staleness check key
// off this latest-snapshot-per-account-per-window view.
func (s *usageHistoryStore) LatestByAccount(ctx context.Context, window domain.Window) (map[int64]domain.UsageSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uh.account_id, uh.window, uh.used_percent, uh.reset_at, uh.window_minutes,
		       uh.credits_has, uh.credits_unlimited, uh.credits_balance, uh.recorded_at
		FROM usage_history uh
		INNER JOIN (
			SELECT account_id, MAX(recorded_at) AS max_recorded
			FROM usage_history
			WHERE window = `+s.placeholder(1)+`
			GROUP BY account_id
		) latest ON latest.account_id = uh.account_id AND latest.max_recorded = uh.recorded_at
		WHERE uh.window = `+s.placeholder(2), string(window), string(window))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make(map[int64]domain.UsageSnapshot)
	for rows.Next() {
		var snap domain.UsageSnapshot
		var w string
		var resetAt sql.NullInt64
		if err := rows.Scan(&snap.AccountID, &w, &snap.UsedPercent, &resetAt, &snap.WindowMinutes,
			&snap.CreditsHas, &snap.CreditsUnlimited, &snap.CreditsBalance, &snap.RecordedAt); err != nil {
			return nil, err
		}
		snap.Window = domain.Window(w)
		if resetAt.Valid {
			v := resetAt.Int64
			snap.ResetAt = &v
		}
		result[snap.AccountID] = snap
	}
	return result, rows.Err()
}

func (s *usageHistoryStore) placeholder(n int) string {
	if s.driver == "postgres" {
		return "$" + itoa(n)
	}
	return "?"
}

func (s *usageHistoryStore) placeholders(count int) string {
	out := ""
	for i := 1; i <= count; i++ {
		if i > 1 {
			out += ", "
		}
		out += s.placeholder(i)
	}
	return out
}
