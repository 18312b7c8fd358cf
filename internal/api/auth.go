package api

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// requireAdmin checks HTTP basic credentials against the configured bcrypt
// hash. With no hash configured the admin routes are open.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCfg := s.cfg.Get().API
		if apiCfg.AdminPasswordHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(user), []byte(apiCfg.AdminUser)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(apiCfg.AdminPasswordHash), []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="drowsyguard"`)
			writeJSON(w, http.StatusUnauthorized, map[string]any{"status": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
