package transaction

import "context"

type scopeKeyType struct{}

var scopeKey scopeKeyType

// WithScope stores the execution unit's scope in ctx so that code deep in a
// call chain can ask "am I already inside a transaction" without holding a
// reference to the context object itself.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey, s)
}

// ScopeFromContext returns the scope stored in ctx, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	if s, ok := ctx.Value(scopeKey).(*Scope); ok {
		return s
	}
	return nil
}

// IsEmbedded reports whether the execution unit behind ctx currently has a
// context with a registered transaction that nested operations could join.
// False when ctx carries no scope.
func IsEmbedded(ctx context.Context) bool {
	s := ScopeFromContext(ctx)
	if s == nil {
		return false
	}
	return s.IsEmbedded()
}
