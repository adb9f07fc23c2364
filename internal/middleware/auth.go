package middleware

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/mmynk/rentrecon/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// LandlordIDKey is the context key for the authenticated landlord ID.
const LandlordIDKey contextKey = "landlord_id"

// GetLandlordID extracts the landlord ID from the context.
// Returns empty string if not found.
func GetLandlordID(ctx context.Context) string {
	landlordID, _ := ctx.Value(LandlordIDKey).(string)
	return landlordID
}

// WithLandlordID returns a copy of ctx carrying the landlord ID.
func WithLandlordID(ctx context.Context, landlordID string) context.Context {
	return context.WithValue(ctx, LandlordIDKey, landlordID)
}

// RequireAuth returns an interceptor that validates the bearer token and adds
// the landlord ID to the request context.
func RequireAuth(jwtManager *auth.JWTManager) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			authHeader := req.Header().Get("Authorization")
			if authHeader == "" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return nil, connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidToken)
			}

			claims, err := jwtManager.Validate(parts[1])
			if err != nil {
				return nil, connect.NewError(connect.CodeUnauthenticated, err)
			}

			return next(WithLandlordID(ctx, claims.LandlordID), req)
		}
	}
}
