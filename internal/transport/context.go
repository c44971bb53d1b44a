package transport

import (
	"context"

	"github.com/mcpcore/go-mcp/internal/oauth"
	"github.com/mcpcore/go-mcp/internal/transport/transportcore"
)

// Re-export context key and helpers from transportcore for backward compatibility.
// This allows external packages to import transport without creating cycles.

// ClaimsContextKey is the context key for OAuth token claims.
const ClaimsContextKey = transportcore.ClaimsContextKey

// ClaimsFromContext extracts OAuth claims from the request context.
// Returns nil and false if the claims are not present in the context.
//
// This is used by handlers that need to access authenticated user information.
func ClaimsFromContext(ctx context.Context) (*oauth.TokenClaims, bool) {
	return transportcore.ClaimsFromContext(ctx)
}

// ContextWithClaims adds OAuth claims to the request context.
// Returns a new context containing the claims.
//
// This is used by authentication middleware to store validated claims.
func ContextWithClaims(ctx context.Context, claims *oauth.TokenClaims) context.Context {
	return transportcore.ContextWithClaims(ctx, claims)
}

// sessionIDContextKey is the context key carrying the MCP session id
// a server-initiated Send should be routed to, for transports (like
// Streamable-HTTP) that multiplex many sessions over one Transport value.
type sessionIDContextKey struct{}

// ContextWithSessionID attaches a session id to ctx for a subsequent Send
// call to route to.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, sessionID)
}

// SessionIDFromContext extracts a session id previously attached with
// ContextWithSessionID.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDContextKey{}).(string)
	return id, ok
}

// headersContextKey is the context key carrying a snapshot of the inbound
// HTTP request's headers, for transports that have them (Streamable-HTTP).
type headersContextKey struct{}

// ContextWithHeaders attaches a header snapshot to ctx.
func ContextWithHeaders(ctx context.Context, headers map[string][]string) context.Context {
	return context.WithValue(ctx, headersContextKey{}, headers)
}

// HeadersFromContext extracts a header snapshot previously attached with
// ContextWithHeaders.
func HeadersFromContext(ctx context.Context) (map[string][]string, bool) {
	h, ok := ctx.Value(headersContextKey{}).(map[string][]string)
	return h, ok
}
