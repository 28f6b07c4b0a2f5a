package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/xelth-com/propcount/internal/utils"
)

type contextKey string

const OperatorContextKey contextKey = "operator"

// AuthMiddleware verifies JWT tokens. Browsers cannot set headers on a
// websocket handshake, so a token query parameter is accepted as well.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.URL.Query().Get("token")
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				// Bearer token
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					unauthorized(w, "Invalid authorization header format")
					return
				}
				tokenString = parts[1]
			}
			if tokenString == "" {
				unauthorized(w, "Authorization header required")
				return
			}

			claims, err := utils.ValidateToken(tokenString, secret)
			if err != nil {
				unauthorized(w, "Invalid or expired token")
				return
			}
			op, err := utils.OperatorFromClaims(claims)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), OperatorContextKey, op)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorFromContext returns the operator set by AuthMiddleware.
func OperatorFromContext(ctx context.Context) (utils.Operator, bool) {
	op, ok := ctx.Value(OperatorContextKey).(utils.Operator)
	return op, ok
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
