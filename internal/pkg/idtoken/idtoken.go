// Package idtoken decodes the claims carried by a ChatGPT id_token (a
// JWT-shaped string) without verifying its signature — the core only reads
// identity hints (chatgpt_account_id, email, user id, organization) out of a token it
// already trusts because it came back from a successful OAuth exchange or
// refresh.
package idtoken

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// OpenAIAuthClaims is the nested "https://api.openai.com/auth" claim block.
type OpenAIAuthClaims struct {
	ChatGPTAccountID string              `json:"chatgpt_account_id"`
	ChatGPTUserID    string              `json:"chatgpt_user_id"`
	UserID           string              `json:"user_id"`
	Organizations    []OrganizationClaim `json:"organizations"`
}

// OrganizationClaim describes one organization membership in the id_token.
type OrganizationClaim struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Title     string `json:"title"`
	IsDefault bool   `json:"is_default"`
}

// Claims mirrors the ChatGPT id_token payload. No plan-type claim is
// decoded: neither Claims nor Info carries one.
type Claims struct {
	jwt.RegisteredClaims
	Email         string             `json:"email"`
	EmailVerified bool               `json:"email_verified"`
	OpenAIAuth    *OpenAIAuthClaims  `json:"https://api.openai.com/auth,omitempty"`
}

// Info is the flattened identity info a caller actually needs.
type Info struct {
	Email            string
	ChatGPTAccountID string
	ChatGPTUserID    string
	OrganizationID   string
}

// Decode base64url-decodes the middle segment of a JWT-shaped string and
// extracts identity claims. Decoding failures — malformed JWT, bad base64,
// bad JSON — yield an empty Info, never an error: this is deliberately
// best-effort, never raising for a claims block the caller treats as
// optional enrichment.
func Decode(idToken string) Info {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return Info{}
	}

	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims Claims
	if _, _, err := parser.ParseUnverified(idToken, &claims); err != nil {
		return Info{}
	}

	info := Info{Email: claims.Email}
	if claims.OpenAIAuth == nil {
		return info
	}

	info.ChatGPTAccountID = claims.OpenAIAuth.ChatGPTAccountID
	info.ChatGPTUserID = claims.OpenAIAuth.UserID

	for _, org := range claims.OpenAIAuth.Organizations {
		if org.IsDefault {
			info.OrganizationID = org.ID
			break
		}
	}
	if info.OrganizationID == "" && len(claims.OpenAIAuth.Organizations) > 0 {
		info.OrganizationID = claims.OpenAIAuth.Organizations[0].ID
	}
	return info
}
