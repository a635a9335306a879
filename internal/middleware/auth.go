// Package middleware provides HTTP middleware for authentication,
// request identification, and rate limiting.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"opsgate/internal/domain"
)

// Auth validates an HS256 Bearer token, resolves the sub claim against
// the principal directory, and stores the identity on the request
// context. Unknown subjects are rejected: possessing a signed token is
// not enough, the principal must exist in the directory.
func Auth(secret []byte, principals domain.PrincipalRepository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeUnauthorized(w, "missing Bearer token")
				return
			}
			tokenStr := strings.TrimPrefix(auth, "Bearer ")

			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				writeUnauthorized(w, "invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				writeUnauthorized(w, "invalid token claims")
				return
			}
			sub, _ := claims["sub"].(string)
			if sub == "" {
				writeUnauthorized(w, "token has no subject")
				return
			}

			p, err := principals.GetByName(r.Context(), sub)
			if err != nil {
				writeUnauthorized(w, "unknown principal")
				return
			}

			ctx := domain.WithPrincipal(r.Context(), domain.ContextPrincipal{
				Name: p.Name,
				Role: p.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    401,
		"message": "unauthorized: " + msg,
	})
}
