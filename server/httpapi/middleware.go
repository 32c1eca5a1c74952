package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sakganji/datasetd/pkg/apperr"
)

type contextKey string

const ctxKeyUserID contextKey = "user_id"

// UserIDFromContext returns the authenticated caller's user id, or "" if
// the request reached a handler without passing through AuthMiddleware.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(ctxKeyUserID).(string)
	return userID
}

// RecoveryMiddleware recovers from panics and returns a 500, the same
// shape as the teacher's server/httpapi/middleware.go.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[HTTP] panic recovered: %v", err)
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{
					Kind:    string(apperr.KindInternal),
					Message: "internal server error",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware adds permissive CORS headers.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		userID := UserIDFromContext(r.Context())
		if userID == "" {
			userID = "-"
		}
		log.Printf("[HTTP] %s %s %s %d %s", userID, r.Method, r.URL.Path, wrapped.statusCode, time.Since(start))
	})
}

// AuthMiddleware validates the bearer token and binds its user id to the
// request context. Health is the only route mounted outside this
// middleware (see server.go).
func AuthMiddleware(tokenSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{
					Kind:    string(apperr.KindForbidden),
					Message: "missing bearer token",
				})
				return
			}

			userID, err := ParseToken(tokenSecret, token)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{
					Kind:    string(apperr.KindForbidden),
					Message: "invalid or expired token",
				})
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code for
// LoggingMiddleware.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError translates a domain error into the §7 status-code mapping and
// writes its {kind, message, details?} body. Forbidden and unknown-entity
// NotFound intentionally carry the same generic message.
func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := statusForKind(kind)
	message := err.Error()
	var details map[string]any
	if ae, ok := err.(*apperr.Error); ok {
		details = ae.Details
		if kind == apperr.KindNotFound || kind == apperr.KindForbidden {
			message = "not found"
		} else {
			message = ae.Message
		}
	} else {
		message = "internal server error"
	}
	writeJSON(w, status, ErrorResponse{Kind: string(kind), Message: message, Details: details})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindBusinessRule, apperr.KindInvalidFileFormat:
		return http.StatusUnprocessableEntity
	case apperr.KindQuotaExceeded:
		return http.StatusRequestEntityTooLarge
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
