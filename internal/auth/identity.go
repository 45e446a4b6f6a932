package auth

import (
	"context"
	"net/http"

	"clipflow/internal/apperr"
	"clipflow/internal/response"
)

type ctxKey string

const callerIDKey ctxKey = "callerID"

// JWTIdentity resolves the caller from a bearer JWT. Requests without a
// token pass through anonymous; handlers that need a caller ask CallerID.
// A token that is present but invalid is rejected here.
func JWTIdentity(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := GetUserIDFromToken(token, secret)
			if err != nil {
				hint := "Obtain a fresh token"
				if err != ErrTokenExpired {
					hint = "Provide a caller token via Authorization: Bearer <jwt>"
				}
				response.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid caller token", hint)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCallerID(r.Context(), userID)))
		})
	}
}

func WithCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerIDKey, id)
}

// CallerID returns the authenticated caller, or an auth error when the
// request carried none.
func CallerID(ctx context.Context) (string, error) {
	id, _ := ctx.Value(callerIDKey).(string)
	if id == "" {
		return "", apperr.Auth("identify caller", "caller identity required")
	}
	return id, nil
}
