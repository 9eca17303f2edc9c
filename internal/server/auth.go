package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/comigor/healthchat-go/internal/config"
	"github.com/comigor/healthchat-go/internal/history"
)

type userKey struct{}

// requireAuth resolves the bearer token to a configured user. A bare token
// without the Bearer scheme is accepted too.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("Authorization"))
		if t, ok := strings.CutPrefix(token, "Bearer "); ok {
			token = strings.TrimSpace(t)
		}
		user, ok := s.users[token]
		if token == "" || !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	}
}

func userFrom(ctx context.Context) config.UserConfig {
	u, _ := ctx.Value(userKey{}).(config.UserConfig)
	return u
}

func (s *Server) store(r *http.Request) history.Store {
	return s.db.ForUser(userFrom(r.Context()).UserID)
}
