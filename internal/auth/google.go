package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// Provider is an OAuth2 identity provider using the authorization code flow.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*User, error)
}

// OAuthError is a provider-reported failure; Code is the OAuth2 error code.
type OAuthError struct {
	Code string
	Err  error
}

func (e *OAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("oauth error %s: %v", e.Code, e.Err)
	}
	return "oauth error " + e.Code
}

func (e *OAuthError) Unwrap() error { return e.Err }

type GoogleProvider struct {
	conf *oauth2.Config
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
	}
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades the callback code for a token and reads the OIDC userinfo claims.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*User, error) {
	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
			return nil, &OAuthError{Code: retrieveErr.ErrorCode, Err: err}
		}
		return nil, &OAuthError{Code: "token_exchange_failed", Err: err}
	}

	svc, err := oauth2api.NewService(ctx, option.WithTokenSource(p.conf.TokenSource(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo client: %w", err)
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("could not fetch user info: %w", err)
	}
	if info.Id == "" {
		return nil, errors.New("could not fetch user info: empty subject")
	}

	user := &User{
		ID:              info.Id,
		Email:           info.Email,
		Name:            info.Name,
		IsAuthenticated: true,
	}
	if info.Picture != "" {
		picture := info.Picture
		user.Picture = &picture
	}
	return user, nil
}

// NewState returns a random value for the OAuth state parameter.
func NewState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
