// Package correlation threads one identifier through every log line and
// audit row produced by a single unit of billing work: an API request, a
// processor delivery or a sweep run.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Header carries the correlation id on inbound and outbound HTTP.
const Header = "X-Correlation-Id"

const maxInboundLen = 64

// Origin names what started the work.
type Origin string

const (
	OriginHTTP    Origin = "http"
	OriginWebhook Origin = "webhook"
	OriginSweep   Origin = "sweep"
)

type trailKey struct{}

type trail struct {
	id     string
	origin Origin
}

// ID returns the correlation id on ctx, or "".
func ID(ctx context.Context) string {
	t, _ := fromContext(ctx)
	return t.id
}

// OriginOf returns the origin recorded with the correlation id.
func OriginOf(ctx context.Context) Origin {
	t, _ := fromContext(ctx)
	return t.origin
}

// WithID stores id and origin on ctx. An empty id leaves ctx unchanged.
func WithID(ctx context.Context, origin Origin, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, trailKey{}, trail{id: id, origin: origin})
}

// Ensure keeps an existing id or mints a ULID for origin.
func Ensure(ctx context.Context, origin Origin) (context.Context, string) {
	if t, ok := fromContext(ctx); ok {
		return ctx, t.id
	}
	id := ulid.Make().String()
	return WithID(ctx, origin, id), id
}

// FromInbound accepts a caller supplied id only when it is short and made of
// id-safe characters; anything else is dropped so it cannot forge log lines.
func FromInbound(ctx context.Context, raw string) (context.Context, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxInboundLen || strings.IndexFunc(raw, unsafeRune) >= 0 {
		return Ensure(ctx, OriginHTTP)
	}
	return WithID(ctx, OriginHTTP, raw), raw
}

// ForEvent correlates a processor delivery by its event id, so the redelivery
// of an event shares the id of the first attempt.
func ForEvent(ctx context.Context, eventID string) context.Context {
	if strings.TrimSpace(eventID) == "" {
		ctx, _ = Ensure(ctx, OriginWebhook)
		return ctx
	}
	return WithID(ctx, OriginWebhook, eventID)
}

// ForSweep correlates one run of a sweep job.
func ForSweep(ctx context.Context, job, runID string) context.Context {
	return WithID(ctx, OriginSweep, job+":"+runID)
}

func fromContext(ctx context.Context) (trail, bool) {
	if ctx == nil {
		return trail{}, false
	}
	t, ok := ctx.Value(trailKey{}).(trail)
	return t, ok
}

func unsafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case r == '-', r == '_', r == '.', r == ':':
		return false
	}
	return true
}
