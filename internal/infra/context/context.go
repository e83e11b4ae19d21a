// Package context holds request-scoped values shared between transports and logging.
package context

type contextKey string
