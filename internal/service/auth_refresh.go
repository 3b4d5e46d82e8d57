package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
	"github.com/ssh352/codex-lb-sub001/internal/pkg/cryptor"
	"github.com/ssh352/codex-lb-sub001/internal/pkg/idtoken"
)

// refreshStaleAfter mirrors should_refresh's threshold: an access token is
// presumed expired 55 minutes after it was last minted.
const refreshStaleAfter = 55 * time.Minute

// AuthManager keeps one Account's tokens fresh and backfills its
// chatgpt_account_id lazily from id_token claims.
type AuthManager struct {
	store   AccountStore
	client  TokenRefreshClient
	cryptor *cryptor.Cryptor
	log     *zap.Logger
}

func NewAuthManager(store AccountStore, client TokenRefreshClient, c *cryptor.Cryptor, log *zap.Logger) *AuthManager {
	return &AuthManager{store: store, client: client, cryptor: c, log: log}
}

// EnsureFresh refreshes the account's tokens if stale (or if force is set),
// then backfills chatgpt_account_id if still missing.
func (m *AuthManager) EnsureFresh(ctx context.Context, account *domain.Account, force bool) (*domain.Account, error) {
	if force || shouldRefresh(account.LastRefresh) {
		refreshed, err := m.RefreshAccount(ctx, account)
		if err != nil {
			return account, err
		}
		account = refreshed
	}
	return m.ensureChatGPTAccountID(ctx, account), nil
}

func shouldRefresh(lastRefresh time.Time) bool {
	if lastRefresh.IsZero() {
		return true
	}
	return time.Since(lastRefresh) >= refreshStaleAfter
}

// RefreshAccount exchanges the account's refresh token for a fresh triple.
// On a permanent failure (one of the closed-set failure codes), the account
// is immediately transitioned to DEACTIVATED with the keyed message.
func (m *AuthManager) RefreshAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	refreshToken, err := m.cryptor.Decrypt(account.EncRefreshToken)
	if err != nil {
		return account, err
	}

	result, err := m.client.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		if refreshErr, ok := err.(*RefreshError); ok && refreshErr.IsPermanent {
			reason := domain.DeactivationMessages[refreshErr.Code]
			if reason == "" {
				reason = refreshErr.Message
			}
			if updateErr := m.store.UpdateStatus(ctx, account.ID, domain.StatusDeactivated, reason); updateErr != nil {
				m.log.Warn("persist deactivation after permanent refresh failure failed", zap.Int64("account_id", account.ID), zap.Error(updateErr))
			}
			account.Status = domain.StatusDeactivated
			account.DeactivationReason = reason
		}
		return account, err
	}

	encAccess, err := m.cryptor.Encrypt(result.AccessToken)
	if err != nil {
		return account, err
	}
	encRefresh, err := m.cryptor.Encrypt(result.RefreshToken)
	if err != nil {
		return account, err
	}
	encID, err := m.cryptor.Encrypt(result.IDToken)
	if err != nil {
		return account, err
	}

	account.EncAccessToken = encAccess
	account.EncRefreshToken = encRefresh
	account.EncIDToken = encID
	account.LastRefresh = time.Now().UTC()
	if result.AccountID != "" {
		account.ChatGPTAccountID = result.AccountID
	}
	if result.PlanType != "" {
		account.PlanType = result.PlanType
	} else if account.PlanType == "" {
		account.PlanType = domain.PlanUnknown
	}
	if result.Email != "" {
		account.Email = result.Email
	}

	if err := m.store.UpdateTokens(ctx, account.ID, account.EncAccessToken, account.EncRefreshToken, account.EncIDToken, account.LastRefresh, account.PlanType, account.Email, account.ChatGPTAccountID); err != nil {
		return account, err
	}
	return account, nil
}

func (m *AuthManager) ensureChatGPTAccountID(ctx context.Context, account *domain.Account) *domain.Account {
	if account.ChatGPTAccountID != "" {
		return account
	}
	idToken, err := m.cryptor.Decrypt(account.EncIDToken)
	if err != nil {
		return account
	}
	info := idtoken.Decode(idToken)
	rawID := info.ChatGPTAccountID
	if rawID == "" {
		return account
	}

	account.ChatGPTAccountID = rawID
	if err := m.store.UpdateTokens(ctx, account.ID, account.EncAccessToken, account.EncRefreshToken, account.EncIDToken, account.LastRefresh, account.PlanType, account.Email, rawID); err != nil {
		m.log.Warn("failed to persist backfilled chatgpt_account_id", zap.Int64("account_id", account.ID), zap.Error(err))
	}
	return account
}
