package auth

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/chartpilot/analysis-engine/internal/models"
	"github.com/chartpilot/analysis-engine/internal/quota"
)

// Middleware rejects HTTP requests without a valid token when auth is enabled.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	if !v.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.verifyHeader(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="chartpilot"`)
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// UnaryServerInterceptor verifies the authorization metadata on every call
// except the health service.
func (v *Verifier) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !v.Enabled() || isPublicMethod(info.FullMethod) {
			return handler(ctx, req)
		}
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				header = values[0]
			}
		}
		claims, err := v.verifyHeader(header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(WithClaims(ctx, claims), req)
	}
}

func isPublicMethod(method string) bool {
	return method == "/grpc.health.v1.Health/Check" || method == "/grpc.health.v1.Health/Watch"
}

// ClaimsTiers prefers the tier carried by a verified token and falls back
// to another resolver otherwise.
type ClaimsTiers struct {
	Fallback quota.TierResolver
}

// ResolveTier implements quota.TierResolver.
func (c ClaimsTiers) ResolveTier(ctx context.Context, subjectID string) (models.Tier, error) {
	if claims, ok := ClaimsFromContext(ctx); ok && claims.Subject == subjectID && claims.Tier.Valid() {
		return claims.Tier, nil
	}
	if c.Fallback == nil {
		return models.TierFree, nil
	}
	return c.Fallback.ResolveTier(ctx, subjectID)
}
