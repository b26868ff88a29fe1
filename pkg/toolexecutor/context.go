package toolexecutor

import "context"

type sessionContextKey struct{}
type scopeContextKey struct{}

// ContextWithSession attaches the calling session for tool handlers.
func ContextWithSession(ctx context.Context, session *Session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, sessionContextKey{}, session)
}

// SessionFromContext extracts the calling session, or nil.
func SessionFromContext(ctx context.Context) *Session {
	if ctx == nil {
		return nil
	}
	if s, ok := ctx.Value(sessionContextKey{}).(*Session); ok {
		return s
	}
	return nil
}

// ContextWithDocumentScope restricts document-aware tools to the given document ids.
func ContextWithDocumentScope(ctx context.Context, scope []string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(scope) == 0 {
		return ctx
	}
	return context.WithValue(ctx, scopeContextKey{}, append([]string(nil), scope...))
}

// DocumentScopeFromContext returns the document scope, nil meaning unrestricted.
func DocumentScopeFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if scope, ok := ctx.Value(scopeContextKey{}).([]string); ok {
		return scope
	}
	return nil
}
