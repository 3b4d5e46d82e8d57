// Package upstream implements the HTTP clients the core talks to: token
// refresh and usage fetch against the single upstream ChatGPT-compatible
// service.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ssh352/codex-lb-sub001/internal/domain"
	"github.com/ssh352/codex-lb-sub001/internal/pkg/idtoken"
	"github.com/ssh352/codex-lb-sub001/internal/service"
)

const (
	oauthClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
	tokenURL      = "https://auth.openai.com/oauth/token"
	refreshScopes = "openid profile email"
)

// OAuthTokenClient implements service.TokenRefreshClient against OpenAI's
// OAuth token endpoint, refresh_token grant only.
type OAuthTokenClient struct {
	httpClient *http.Client
	tokenURL   string
}

func NewOAuthTokenClient(connectTimeout, readTimeout time.Duration) *OAuthTokenClient {
	return &OAuthTokenClient{
		httpClient: &http.Client{Timeout: connectTimeout + readTimeout},
		tokenURL:   tokenURL,
	}
}

type refreshTokenRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
	Scope        string `json:"scope"`
}

func (r refreshTokenRequest) toFormData() string {
	v := url.Values{}
	v.Set("grant_type", r.GrantType)
	v.Set("client_id", r.ClientID)
	v.Set("refresh_token", r.RefreshToken)
	v.Set("scope", r.Scope)
	return v.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// permanentOAuthErrors maps OAuth error codes that mean the credential
// itself is dead onto the closed-set permanent failure codes.
var permanentOAuthErrors = map[string]domain.RefreshFailureCode{
	"invalid_grant": domain.RefreshTokenInvalidated,
}

func (c *OAuthTokenClient) RefreshAccessToken(ctx context.Context, refreshToken string) (service.TokenRefreshResult, error) {
	body := refreshTokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     oauthClientID,
		Scope:        refreshScopes,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(body.toFormData()))
	if err != nil {
		return service.TokenRefreshResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return service.TokenRefreshResult{}, &service.RefreshError{Message: err.Error(), IsPermanent: false}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return service.TokenRefreshResult{}, &service.RefreshError{Message: err.Error(), IsPermanent: false}
	}

	if resp.StatusCode != http.StatusOK {
		var errBody oauthErrorBody
		_ = json.Unmarshal(raw, &errBody)
		code, permanent := permanentOAuthErrors[errBody.Error]
		message := errBody.ErrorDescription
		if message == "" {
			message = fmt.Sprintf("token refresh failed with HTTP %d", resp.StatusCode)
		}
		return service.TokenRefreshResult{}, &service.RefreshError{
			Code:        code,
			Message:     message,
			IsPermanent: permanent,
			StatusCode:  resp.StatusCode,
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return service.TokenRefreshResult{}, &service.RefreshError{Message: err.Error(), IsPermanent: false}
	}

	result := service.TokenRefreshResult{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		IDToken:      tr.IDToken,
	}
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	if tr.IDToken != "" {
		info := idtoken.Decode(tr.IDToken)
		result.AccountID = info.ChatGPTAccountID
		result.Email = info.Email
	}
	return result, nil
}
