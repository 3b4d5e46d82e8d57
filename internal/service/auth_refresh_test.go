package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
	"github.com/ssh352/codex-lb-sub001/internal/pkg/cryptor"
	"github.com/ssh352/codex-lb-sub001/internal/pkg/idtoken"
)

func sampleIDToken(t *testing.T, chatgptAccountID string) string {
	t.Helper()
	claims := idtoken.Claims{
		Email: "user@example.com",
		OpenAIAuth: &idtoken.OpenAIAuthClaims{
			ChatGPTAccountID: chatgptAccountID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("irrelevant-test-key"))
	require.NoError(t, err)
	return signed
}

func testCryptor(t *testing.T) *cryptor.Cryptor {
	t.Helper()
	c, err := cryptor.New(filepath.Join(t.TempDir(), "key"))
	require.NoError(t, err)
	return c
}

func encryptedAccount(t *testing.T, c *cryptor.Cryptor, id int64, lastRefresh time.Time) *domain.Account {
	t.Helper()
	access, err := c.Encrypt("access-" + time.Now().String())
	require.NoError(t, err)
	refresh, err := c.Encrypt("refresh-token")
	require.NoError(t, err)
	idTok, err := c.Encrypt("id-token")
	require.NoError(t, err)
	return &domain.Account{
		ID:              id,
		Email:           "user@example.com",
		PlanType:        domain.PlanPro,
		Status:          domain.StatusActive,
		EncAccessToken:  access,
		EncRefreshToken: refresh,
		EncIDToken:      idTok,
		LastRefresh:     lastRefresh,
	}
}

func TestShouldRefresh(t *testing.T) {
	require.True(t, shouldRefresh(time.Time{}))
	require.True(t, shouldRefresh(time.Now().Add(-56*time.Minute)))
	require.False(t, shouldRefresh(time.Now().Add(-10*time.Minute)))
}

func TestEnsureFresh_SkipsRefreshWhenFresh(t *testing.T) {
	c := testCryptor(t)
	account := encryptedAccount(t, c, 1, time.Now())
	store := newStubAccountStore(account)
	client := &stubTokenRefreshClient{}
	mgr := NewAuthManager(store, client, c, zap.NewNop())

	_, err := mgr.EnsureFresh(context.Background(), account, false)
	require.NoError(t, err)
	require.Equal(t, 0, client.calls)
}

func TestEnsureFresh_RefreshesWhenStale(t *testing.T) {
	c := testCryptor(t)
	account := encryptedAccount(t, c, 1, time.Now().Add(-time.Hour))
	store := newStubAccountStore(account)
	client := &stubTokenRefreshClient{result: TokenRefreshResult{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		IDToken:      "new-id",
		Email:        "user@example.com",
		PlanType:     domain.PlanPro,
	}}
	mgr := NewAuthManager(store, client, c, zap.NewNop())

	refreshed, err := mgr.EnsureFresh(context.Background(), account, false)
	require.NoError(t, err)
	require.Equal(t, 1, client.calls)

	plain, err := c.Decrypt(refreshed.EncAccessToken)
	require.NoError(t, err)
	require.Equal(t, "new-access", plain)
}

func TestRefreshAccount_PermanentFailureDeactivates(t *testing.T) {
	c := testCryptor(t)
	account := encryptedAccount(t, c, 1, time.Now().Add(-2*time.Hour))
	store := newStubAccountStore(account)
	client := &stubTokenRefreshClient{err: &RefreshError{
		Code:        domain.RefreshTokenReused,
		Message:     "refresh token reused",
		IsPermanent: true,
		StatusCode:  400,
	}}
	mgr := NewAuthManager(store, client, c, zap.NewNop())

	result, err := mgr.RefreshAccount(context.Background(), account)
	require.Error(t, err)
	require.Equal(t, domain.StatusDeactivated, result.Status)
	require.Equal(t, domain.DeactivationMessages[domain.RefreshTokenReused], result.DeactivationReason)

	persisted, _ := store.GetAccount(context.Background(), 1)
	require.Equal(t, domain.StatusDeactivated, persisted.Status)
}

func TestRefreshAccount_TransientFailureLeavesAccountActive(t *testing.T) {
	c := testCryptor(t)
	account := encryptedAccount(t, c, 1, time.Now().Add(-2*time.Hour))
	store := newStubAccountStore(account)
	client := &stubTokenRefreshClient{err: &RefreshError{
		Message:     "upstream timeout",
		IsPermanent: false,
		StatusCode:  503,
	}}
	mgr := NewAuthManager(store, client, c, zap.NewNop())

	result, err := mgr.RefreshAccount(context.Background(), account)
	require.Error(t, err)
	require.Equal(t, domain.StatusActive, result.Status)
}

func TestEnsureChatGPTAccountID_BackfillsFromIDToken(t *testing.T) {
	c := testCryptor(t)
	account := encryptedAccount(t, c, 1, time.Now())
	account.ChatGPTAccountID = ""
	idTok, err := c.Encrypt(sampleIDToken(t, "acct-123"))
	require.NoError(t, err)
	account.EncIDToken = idTok
	store := newStubAccountStore(account)
	mgr := NewAuthManager(store, &stubTokenRefreshClient{}, c, zap.NewNop())

	refreshed := mgr.ensureChatGPTAccountID(context.Background(), account)
	require.Equal(t, "acct-123", refreshed.ChatGPTAccountID)
}
