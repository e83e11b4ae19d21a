package context

import (
	"context"
)

const contextKeyAccountID = contextKey("accountID")

// AccountIDFromContext extracts the uid of the authenticated account from the context.
// Returns the uid and true if present, or empty string and false if not present.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(contextKeyAccountID).(string)

	return uid, ok && uid != ""
}

// WithAccountID creates a new context carrying the uid of the authenticated account.
func WithAccountID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, contextKeyAccountID, uid)
}
