package session

import (
	"context"
	"fmt"
	"net/url"

	"rallyPoint/services/alliance"

	"github.com/go-resty/resty/v2"
	"github.com/lestrrat-go/jwx/jwt"
)

const tokenEndpoint = "https://securetoken.googleapis.com/v1/token"

// AuthClient refreshes ID tokens against the identity provider's REST
// endpoint.
type AuthClient struct {
	http   *resty.Client
	apiKey string
}

func NewAuthClient(client *resty.Client, apiKey string) *AuthClient {
	return &AuthClient{http: client, apiKey: apiKey}
}

type TokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type tokenError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// RefreshIDToken exchanges a refresh token for a fresh ID token.
func (a *AuthClient) RefreshIDToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	response := &TokenResponse{}
	responseError := &tokenError{}

	values := url.Values{
		"grant_type":    []string{"refresh_token"},
		"refresh_token": []string{refreshToken},
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("key", a.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetResult(&response).
		SetError(&responseError).
		SetFormDataFromValues(values).
		Post(tokenEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("token refresh rejected: %s", responseError.Error.Message)
	}
	return response, nil
}

// PrincipalFromIDToken extracts the uid and email claims from an ID token.
// The token is not verified locally: the store enforces auth server-side on
// every operation, the claims only seed the session identity.
func PrincipalFromIDToken(idToken string) (alliance.Principal, error) {
	tok, err := jwt.ParseString(idToken)
	if err != nil {
		return alliance.Principal{}, fmt.Errorf("failed to parse id token: %w", err)
	}
	p := alliance.Principal{UID: tok.Subject()}
	if email, ok := tok.Get("email"); ok {
		p.Email, _ = email.(string)
	}
	if p.UID == "" {
		return alliance.Principal{}, fmt.Errorf("id token missing subject")
	}
	return p, nil
}

// SignInWithToken parses the ID token and signs the principal in.
func (s *Session) SignInWithToken(ctx context.Context, idToken string) error {
	principal, err := PrincipalFromIDToken(idToken)
	if err != nil {
		return err
	}
	return s.SignIn(ctx, principal)
}
