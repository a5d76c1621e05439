package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	SessionCookieName = "session"
	StateCookieName   = "oauth_state"
)

var ErrNoSession = errors.New("not authenticated")

// User is the identity carried in the session cookie. It is never persisted.
type User struct {
	ID              string  `json:"id"`
	Email           string  `json:"email"`
	Name            string  `json:"name"`
	Picture         *string `json:"picture"`
	IsAuthenticated bool    `json:"is_authenticated"`
}

type sessionClaims struct {
	Email   string  `json:"email"`
	Name    string  `json:"name"`
	Picture *string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager signs and verifies the session cookie.
type SessionManager struct {
	secret []byte
	maxAge time.Duration
	secure bool
	now    func() time.Time
}

func NewSessionManager(secret string, maxAge time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		secret: []byte(secret),
		maxAge: maxAge,
		secure: secure,
		now:    time.Now,
	}
}

func (m *SessionManager) Sign(user User) (string, error) {
	now := m.now()
	claims := sessionClaims{
		Email:   user.Email,
		Name:    user.Name,
		Picture: user.Picture,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.maxAge)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *SessionManager) Verify(tokenString string) (*User, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return &User{
		ID:              claims.Subject,
		Email:           claims.Email,
		Name:            claims.Name,
		Picture:         claims.Picture,
		IsAuthenticated: true,
	}, nil
}

// SetCookie writes a signed session cookie for user.
func (m *SessionManager) SetCookie(w http.ResponseWriter, user User) error {
	token, err := m.Sign(user)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromRequest resolves the identity from the session cookie, falling back to a Bearer token.
func (m *SessionManager) FromRequest(r *http.Request) (*User, error) {
	var token string
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		token = c.Value
	} else if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	if token == "" {
		return nil, ErrNoSession
	}
	user, err := m.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return user, nil
}

type contextKey struct{}

func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// UserFromContext returns the identity placed by the auth guard, or nil.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(contextKey{}).(*User)
	return user
}
