// Package correlation issues and propagates correlation IDs so an operator can
// trace one logical operation across gateway queries, webhook captures and
// dead-letter retries.
package correlation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const idKey contextKey = "correlationId"

// New returns a correlation ID with a sortable time prefix and a random
// suffix, e.g. "20260829T141502-3f9a1c2b".
func New() string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return time.Now().UTC().Format("20060102T150405") + "-" + suffix
}

// WithID injects a correlation ID into the context.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey, id)
}

// FromContext retrieves the correlation ID, minting a fresh one when the
// context carries none so log lines are never unattributable.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(idKey).(string); ok && id != "" {
		return id
	}
	return New()
}

// Ensure returns a context guaranteed to carry a correlation ID, plus the ID.
func Ensure(ctx context.Context) (context.Context, string) {
	if id, ok := ctx.Value(idKey).(string); ok && id != "" {
		return ctx, id
	}
	id := New()
	return WithID(ctx, id), id
}
