package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/prize-distributor/internal/logging"
	"github.com/prize-distributor/internal/types"
)

// LoggingMiddleware logs HTTP requests through the structured logger.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		logging.Global().WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.statusCode,
			"duration": time.Since(start).String(),
			"remote":   r.RemoteAddr,
		}).Info("http request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecoveryMiddleware recovers from panics and returns 500 error.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logging.Global().WithField("panic", err).Error("handler panicked")
				respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal server error occurred", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware adds CORS headers to responses.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Address")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type adminAddressKey struct{}

// AdminAddressFromContext returns the authenticated admin's wallet address
func AdminAddressFromContext(ctx context.Context) string {
	addr, _ := ctx.Value(adminAddressKey{}).(string)
	return addr
}

// AdminAuthMiddleware guards the privileged endpoints. Requests must carry
// the bearer API token and a well-formed X-Admin-Address identifying the
// operator for the audit trail. An empty configured token denies everything:
// a misconfigured deployment must fail closed.
func AdminAuthMiddleware(apiToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiToken == "" {
				respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "admin API is not configured", nil)
				return
			}

			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(apiToken)) != 1 {
				respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or missing admin token", nil)
				return
			}

			adminAddress := r.Header.Get("X-Admin-Address")
			if err := types.ValidateWalletAddress(adminAddress); err != nil {
				respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "X-Admin-Address header must be a valid wallet address", nil)
				return
			}

			ctx := context.WithValue(r.Context(), adminAddressKey{}, adminAddress)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
