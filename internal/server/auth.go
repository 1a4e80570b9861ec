package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"agenthub/internal/credentials"
	"agenthub/internal/domain"
)

type claimsKey struct{}

// newAuthMiddleware extracts bearer claims into the request context.
// It never rejects; handlers that need auth check with requireUser.
func newAuthMiddleware(signer *credentials.Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if token, ok := bearerToken(req.Header.Get("Authorization")); ok {
				if claims := signer.Verify(token); claims != nil {
					ctx := context.WithValue(req.Context(), claimsKey{}, claims)
					req = req.WithContext(ctx)
				}
			}
			next.ServeHTTP(w, req)
		})
	}
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(strings.TrimSpace(authz))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func claimsFromContext(ctx context.Context) *credentials.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*credentials.Claims)
	return claims
}

func requireUser(ctx context.Context) (*credentials.Claims, huma.StatusError) {
	claims := claimsFromContext(ctx)
	if claims == nil {
		return nil, newAPIError(http.StatusUnauthorized, "Authentication required")
	}
	return claims, nil
}

func requireAdmin(ctx context.Context) (*credentials.Claims, huma.StatusError) {
	claims, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if credentials.RequireRole(claims, domain.RoleAdmin) != nil {
		return nil, newAPIError(http.StatusForbidden, "Admin access required")
	}
	return claims, nil
}
