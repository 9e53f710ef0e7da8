package apiServer

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errAdminDisabled = errors.New("no admin token configured")
	errUnauthorized  = errors.New("missing or invalid bearer token")
)

// AuthFunc decides whether a request may use the privileged routes.
type AuthFunc func(r *http.Request) error

// BearerToken accepts requests carrying "Authorization: Bearer <token>".
// With an empty token every privileged request is refused.
func BearerToken(token string) AuthFunc {
	want := []byte(token)
	return func(r *http.Request) error {
		if len(want) == 0 {
			return errAdminDisabled
		}
		header := r.Header.Get("Authorization")
		scheme, got, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return errUnauthorized
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			return errUnauthorized
		}
		return nil
	}
}

func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc { // A
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth(r); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errAdminDisabled) {
				status = http.StatusForbidden
			}
			s.log.Warn("authentication failed", "error", err, "path", r.URL.Path)
			writeError(w, status, err.Error())
			return
		}
		next(w, r)
	}
}

func actorFrom(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
		return actor
	}
	return "admin"
}
