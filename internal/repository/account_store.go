// Package repository implements the durable ports the service layer
// declares (internal/service.AccountStore, UsageHistoryStore,
// BalancerCache) against a SQL database and Redis, using raw
// database/sql rather than an ORM.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
	"github.com/ssh352/codex-lb-sub001/internal/service"
)

// sqlExecutor is satisfied by both *sql.DB and *sql.Tx.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type accountStore struct {
	db     sqlExecutor
	driver string
}

// NewAccountStore builds the account store over a *sql.DB. driver selects
// the placeholder/upsert dialect ("postgres" or "sqlite").
func NewAccountStore(db *sql.DB, driver string) service.AccountStore {
	return &accountStore{db: db, driver: driver}
}

func (s *accountStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chatgpt_account_id, email, plan_type, access_token_enc, refresh_token_enc,
		       id_token_enc, last_refresh, status, deactivation_reason, reset_at
		FROM accounts
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var accounts []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *accountStore) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, chatgpt_account_id, email, plan_type, access_token_enc, refresh_token_enc,
		       id_token_enc, last_refresh, status, deactivation_reason, reset_at
		FROM accounts WHERE id = `+s.placeholder(1), id)
	a, err := scanAccountRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *accountStore) UpsertAccount(ctx context.Context, account *domain.Account) error {
	if s.driver == "postgres" {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO accounts (id, chatgpt_account_id, email, plan_type, access_token_enc, refresh_token_enc,
			                       id_token_enc, last_refresh, status, deactivation_reason, reset_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (id) DO UPDATE SET
				chatgpt_account_id = EXCLUDED.chatgpt_account_id,
				email = EXCLUDED.email,
				plan_type = EXCLUDED.plan_type,
				access_token_enc = EXCLUDED.access_token_enc,
				refresh_token_enc = EXCLUDED.refresh_token_enc,
				id_token_enc = EXCLUDED.id_token_enc,
				last_refresh = EXCLUDED.last_refresh,
				status = EXCLUDED.status,
				deactivation_reason = EXCLUDED.deactivation_reason,
				reset_at = EXCLUDED.reset_at
		`, account.ID, account.ChatGPTAccountID, account.Email, string(account.PlanType),
			account.EncAccessToken, account.EncRefreshToken, account.EncIDToken,
			account.LastRefresh, string(account.Status), account.DeactivationReason, account.ResetAt)
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, chatgpt_account_id, email, plan_type, access_token_enc, refresh_token_enc,
		                       id_token_enc, last_refresh, status, deactivation_reason, reset_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			chatgpt_account_id = excluded.chatgpt_account_id,
			email = excluded.email,
			plan_type = excluded.plan_type,
			access_token_enc = excluded.access_token_enc,
			refresh_token_enc = excluded.refresh_token_enc,
			id_token_enc = excluded.id_token_enc,
			last_refresh = excluded.last_refresh,
			status = excluded.status,
			deactivation_reason = excluded.deactivation_reason,
			reset_at = excluded.reset_at
	`, account.ID, account.ChatGPTAccountID, account.Email, string(account.PlanType),
		account.EncAccessToken, account.EncRefreshToken, account.EncIDToken,
		account.LastRefresh, string(account.Status), account.DeactivationReason, account.ResetAt)
	return err
}

func (s *accountStore) UpdateStatus(ctx context.Context, id int64, status domain.AccountStatus, deactivationReason string) error {
	query := "UPDATE accounts SET status = " + s.placeholder(1) + ", deactivation_reason = " + s.placeholder(2) + " WHERE id = " + s.placeholder(3)
	_, err := s.db.ExecContext(ctx, query, string(status), nullableString(deactivationReason), id)
	return err
}

func (s *accountStore) UpdateTokens(ctx context.Context, id int64, encAccess, encRefresh, encID []byte, lastRefresh time.Time, planType domain.PlanType, email, chatgptAccountID string) error {
	query := `UPDATE accounts SET access_token_enc = ` + s.placeholder(1) + `, refresh_token_enc = ` + s.placeholder(2) +
		`, id_token_enc = ` + s.placeholder(3) + `, last_refresh = ` + s.placeholder(4) +
		`, plan_type = ` + s.placeholder(5) + `, email = ` + s.placeholder(6) +
		`, chatgpt_account_id = ` + s.placeholder(7) + ` WHERE id = ` + s.placeholder(8)
	_, err := s.db.ExecContext(ctx, query, encAccess, encRefresh, encID, lastRefresh, string(planType), email, nullableString(chatgptAccountID), id)
	return err
}

func (s *accountStore) UpdateResetAt(ctx context.Context, id int64, resetAt *int64) error {
	query := "UPDATE accounts SET reset_at = " + s.placeholder(1) + " WHERE id = " + s.placeholder(2)
	_, err := s.db.ExecContext(ctx, query, resetAt, id)
	return err
}

// placeholder renders the dialect-appropriate bind placeholder for
// positional argument n (1-indexed).
func (s *accountStore) placeholder(n int) string {
	if s.driver == "postgres" {
		return "$" + itoa(n)
	}
	return "?"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := [20]byte{}
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[i:])
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(rows *sql.Rows) (domain.Account, error) {
	return scanAccountRow(rows)
}

func scanAccountRow(row rowScanner) (domain.Account, error) {
	var a domain.Account
	var planType, status string
	var chatgptAccountID, deactivationReason sql.NullString
	var lastRefresh sql.NullTime
	var resetAt sql.NullInt64

	if err := row.Scan(&a.ID, &chatgptAccountID, &a.Email, &planType, &a.EncAccessToken, &a.EncRefreshToken,
		&a.EncIDToken, &lastRefresh, &status, &deactivationReason, &resetAt); err != nil {
		return domain.Account{}, err
	}

	a.ChatGPTAccountID = chatgptAccountID.String
	a.PlanType = domain.PlanType(planType)
	a.Status = domain.AccountStatus(status)
	a.DeactivationReason = deactivationReason.String
	if lastRefresh.Valid {
		a.LastRefresh = lastRefresh.Time
	}
	if resetAt.Valid {
		v := resetAt.Int64
		a.ResetAt = &v
	}
	return a, nil
}
