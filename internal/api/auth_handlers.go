package api

import (
	"errors"
	"net/http"
	"net/url"

	log "github.com/sirupsen/logrus"

	"autogenius.dev/car-diagnostics/internal/apierr"
	"autogenius.dev/car-diagnostics/internal/auth"
)

const stateMaxAge = 600

func redirectWithError(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, "/?error="+url.QueryEscape(code), http.StatusFound)
}

func (h *APIHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookieName,
		Value:    "",
		Path:     "/api/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// LoginHandler redirects to the identity provider.
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state, err := auth.NewState()
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookieName,
		Value:    state,
		Path:     "/api/auth",
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// CallbackHandler exchanges the provider code for identity claims and sets the session cookie.
func (h *APIHandler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		redirectWithError(w, r, providerErr)
		return
	}

	stateCookie, err := r.Cookie(auth.StateCookieName)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != q.Get("state") {
		redirectWithError(w, r, "mismatching_state")
		return
	}
	h.clearStateCookie(w)

	user, err := h.provider.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		var oauthErr *auth.OAuthError
		if errors.As(err, &oauthErr) {
			log.Warnf("OAuth callback failed: %v", err)
			redirectWithError(w, r, oauthErr.Code)
			return
		}
		log.Errorf("Could not fetch user info: %v", err)
		writeError(w, r, apierr.BadRequest(errors.New("Could not fetch user info")))
		return
	}

	if err := h.sessions.SetCookie(w, *user); err != nil {
		writeError(w, r, err)
		return
	}
	log.WithField("user_id", user.ID).Info("User logged in")
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *APIHandler) UserHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}
