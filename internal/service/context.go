package service

import "context"

type contextKey string

const sessionKey contextKey = "session"

// Session is the signed-in identity attached to a request, if any.
type Session struct {
	UserID string
	Phone  string
	Role   string
}

// WithSession injects the session into the context
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// GetSession retrieves the session from the context, nil when anonymous
func GetSession(ctx context.Context) *Session {
	val, ok := ctx.Value(sessionKey).(*Session)
	if !ok {
		return nil
	}
	return val
}

// GetOperator names the caller for audit rows.
func GetOperator(ctx context.Context) string {
	s := GetSession(ctx)
	if s == nil {
		return "system"
	}
	return s.Phone
}
