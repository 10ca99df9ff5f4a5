package middleware

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"vidsniff/work/logger"
)

// BasicAuth guards admin routes with a user name and a bcrypt password hash.
// With an empty hash the admin API is disabled and every request gets 404.
func BasicAuth(user, passwordHash string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if passwordHash == "" {
			http.NotFound(w, r)
			return
		}

		gotUser, gotPass, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(gotUser), []byte(user)) != 1 ||
			bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(gotPass)) != nil {
			if ok {
				logger.Warn("{middleware/auth - BasicAuth} rejected admin credentials for %s from %s", r.URL.Path, r.RemoteAddr)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="vidsniff admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}
