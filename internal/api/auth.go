// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/backhaul/backhaul/internal/auth"
	"github.com/backhaul/backhaul/internal/log"
)

// authMiddleware enforces bearer-token authentication on /api routes.
// With no token configured the API fails closed and rejects every request.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "auth")

		if s.cfg.APIToken == "" {
			logger.Error().
				Str(log.FieldEvent, "auth.fail_closed").
				Msg("BACKHAUL_API_TOKEN not set, denying access")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		token := auth.ExtractToken(r)
		if token == "" {
			logger.Warn().
				Str(log.FieldEvent, "auth.missing_header").
				Str("remote_addr", r.RemoteAddr).
				Msg("authorization header missing")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if !auth.AuthorizeToken(token, s.cfg.APIToken) {
			logger.Warn().
				Str(log.FieldEvent, "auth.invalid_token").
				Str("remote_addr", r.RemoteAddr).
				Msg("invalid api token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}
