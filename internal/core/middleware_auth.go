package core

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"adoptnotify/internal/types"
)

// AdminKeyMiddleware compares the X-Admin-Key header against the bcrypt hash
// in Security.AdminKeyHash.
//
//   - Missing header: 401 auth_token_missing.
//   - Wrong key, or no hash configured: 401 auth_token_invalid.
//
// An unconfigured hash locks the admin API rather than opening it.
func (s *Server) AdminKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderAdminKey)
		if key == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "admin key is required", nil))
			return
		}

		hash := s.adminKeyHash()
		if hash == "" {
			s.Logger.ErrorContext(r.Context(), "admin request rejected: ADMIN_KEY_HASH is not configured")
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin key", nil))
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
			s.Logger.WarnContext(r.Context(), "admin key mismatch",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid admin key", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) adminKeyHash() string {
	if s.Config == nil {
		return ""
	}
	return s.Config.Security.AdminKeyHash.Unmask()
}
