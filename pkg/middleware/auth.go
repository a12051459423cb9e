package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKeyType string

const (
	instanceIDKey   contextKeyType = "instance_id"
	instanceNameKey contextKeyType = "instance_name"
)

// Claims represents the JWT claims extracted by the auth middleware.
type Claims struct {
	InstanceID   string `json:"instanceId"`
	InstanceName string `json:"instanceName"`
}

// TokenValidator is a function that validates a bearer token and returns claims.
// This allows the server to inject its own validation logic.
type TokenValidator func(ctx context.Context, token string) (*Claims, error)

// Auth middleware validates bearer tokens and injects instance claims into context.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeAuthError(w, "invalid authorization header format")
				return
			}

			claims, err := validate(r.Context(), parts[1])
			if err != nil {
				writeAuthError(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), instanceIDKey, claims.InstanceID)
			ctx = context.WithValue(ctx, instanceNameKey, claims.InstanceName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InstanceIDFromContext extracts the calling instance's ID from the request context.
func InstanceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(instanceIDKey).(string); ok {
		return id
	}
	return ""
}

// InstanceNameFromContext extracts the calling instance's name from the request context.
func InstanceNameFromContext(ctx context.Context) string {
	if name, ok := ctx.Value(instanceNameKey).(string); ok {
		return name
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}
