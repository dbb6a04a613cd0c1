package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/gorilla/securecookie"
)

const (
	sessionCookieName = "session"
	sessionMaxAge     = 86400 * 7 // 7 days
)

// newSessionCodec builds the signed-cookie codec. The hash key is
// derived from the encryption key so sessions survive restarts without
// extra configuration; no block key means signed-but-readable cookies,
// which is fine for a boolean flag.
func newSessionCodec(encryptionKey string) *securecookie.SecureCookie {
	hashKey := sha256.Sum256([]byte("session:" + encryptionKey))
	sc := securecookie.New(hashKey[:], nil)
	sc.MaxAge(sessionMaxAge)
	return sc
}

type sessionClaims struct {
	Authenticated bool `json:"authenticated"`
}

// Login handles POST /login. A wrong password gets 401; a correct one
// sets the signed session cookie.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.adminPassword)) != 1 {
		s.errorResponse(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	encoded, err := s.sessions.Encode(sessionCookieName, sessionClaims{Authenticated: true})
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Logout handles POST /logout and clears the session cookie.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// requireAuth rejects requests without a valid session cookie.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			s.errorResponse(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		var claims sessionClaims
		if err := s.sessions.Decode(sessionCookieName, cookie.Value, &claims); err != nil || !claims.Authenticated {
			s.errorResponse(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		next.ServeHTTP(w, r)
	})
}
