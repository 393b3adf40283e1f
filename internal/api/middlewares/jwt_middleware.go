package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/markdave123-py/contexta-ingest/internal/models"
)

type contextKey string

const tenantKey contextKey = "tenant_id"

// JWTMiddleware validates the Authorization header and attaches the tenant_id
// claim to the request context.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing or invalid token", http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(auth, "Bearer ")
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			tenant, ok := claims["tenant_id"].(string)
			if !ok || tenant == "" {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), models.TenantID(tenant))))
		})
	}
}

func WithTenant(ctx context.Context, tenant models.TenantID) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// TenantFromContext returns the tenant set by JWTMiddleware.
func TenantFromContext(ctx context.Context) (models.TenantID, bool) {
	tenant, ok := ctx.Value(tenantKey).(models.TenantID)
	return tenant, ok && tenant != ""
}
