package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testUser() User {
	pic := "https://example.com/a.png"
	return User{ID: "sub-1", Email: "a@example.com", Name: "Ann", Picture: &pic}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, false)

	token, err := m.Sign(testUser())
	require.NoError(t, err)

	user, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", user.ID)
	assert.Equal(t, "Ann", user.Name)
	require.NotNil(t, user.Picture)
	assert.Equal(t, "https://example.com/a.png", *user.Picture)
	assert.True(t, user.IsAuthenticated)
}

func TestVerifyRejectsForeignSecretAndExpiry(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, false)
	token, err := m.Sign(testUser())
	require.NoError(t, err)

	_, err = NewSessionManager("other", time.Hour, false).Verify(token)
	assert.Error(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Verify(token)
	assert.Error(t, err)
}

func TestFromRequest(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, false)

	_, err := m.FromRequest(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.ErrorIs(t, err, ErrNoSession)

	rec := httptest.NewRecorder()
	require.NoError(t, m.SetCookie(rec, testUser()))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	user, err := m.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", user.Email)

	token, _ := m.Sign(testUser())
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	user, err = m.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "sub-1", user.ID)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "garbage"})
	_, err = m.FromRequest(req)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestClearCookie(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, true)
	rec := httptest.NewRecorder()
	m.ClearCookie(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].MaxAge < 0)
	assert.True(t, cookies[0].Secure)
}

func TestGoogleAuthCodeURL(t *testing.T) {
	p := NewGoogleProvider("cid", "csecret", "http://localhost:8080/api/auth/callback")
	u := p.AuthCodeURL("xyz")
	assert.Contains(t, u, "client_id=cid")
	assert.Contains(t, u, "state=xyz")
	assert.Contains(t, u, "prompt=select_account")
	assert.Contains(t, u, "openid")
}
