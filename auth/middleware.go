package auth

import (
	"context"
	"dm-relay/domain/chat"
	"dm-relay/errors"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RolesKey  contextKey = "roles"
)

// ITokenValidator is satisfied by TokenIssuer.
type ITokenValidator interface {
	Validate(tokenString string) (*CustomClaims, error)
}

// BearerToken extracts the token from a standard "Bearer <token>" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// WithIdentity injects the authenticated user into ctx for downstream layers.
func WithIdentity(ctx context.Context, claims *CustomClaims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, chat.UserID(claims.UserID))
	return context.WithValue(ctx, RolesKey, claims.Roles)
}

func UserIDFromContext(ctx context.Context) (chat.UserID, bool) {
	userID, ok := ctx.Value(UserIDKey).(chat.UserID)
	return userID, ok && userID != ""
}

// Authenticate resolves the caller of an HTTP request, ErrUnauthorized otherwise.
func Authenticate(validator ITokenValidator, r *http.Request) (*CustomClaims, error) {
	token := BearerToken(r)
	if token == "" {
		return nil, errors.ErrUnauthorized
	}
	return validator.Validate(token)
}

// Middleware rejects requests without a valid bearer token and forwards the
// identity through the request context.
func Middleware(validator ITokenValidator, onError func(w http.ResponseWriter, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := Authenticate(validator, r)
			if err != nil {
				onError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims)))
		})
	}
}
