package middleware

import (
	"context"

	"github.com/google/uuid"
	"github.com/opsdeck/workstream/models"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// ActorKey is the context key for the authenticated actor
	ActorKey contextKey = "actor"
)

// Claims represents JWT claims extracted from the token
type Claims struct {
	Sub         string   `json:"sub"` // Subject (actor ID)
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Iss         string   `json:"iss"` // Issuer
	Exp         int64    `json:"exp"` // Expiration
	Iat         int64    `json:"iat"` // Issued at
}

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetActorFromContext retrieves the authenticated actor from context. The
// second return is false when no actor was attached, i.e. the route did not
// pass through RequireAuth.
func GetActorFromContext(ctx context.Context) (models.Actor, bool) {
	if val := ctx.Value(ActorKey); val != nil {
		if actor, ok := val.(models.Actor); ok {
			return actor, true
		}
	}
	return models.Actor{}, false
}

// WithActor adds the authenticated actor to the context
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// ActorFromClaims builds the domain actor from validated token claims.
func ActorFromClaims(claims *Claims) (models.Actor, error) {
	id, err := uuid.Parse(claims.Sub)
	if err != nil {
		return models.Actor{}, err
	}
	return models.Actor{
		ID:          id,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, nil
}
