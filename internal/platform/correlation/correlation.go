// Package correlation tags contexts with request and connection identifiers
// and surfaces them on every log record written with that context.
package correlation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

type fieldsKey struct{}

// fields is stored by value; each With* call copies it so parent contexts
// never observe a child's ids.
type fields struct {
	requestID string
	connID    string
}

func fromContext(ctx context.Context) fields {
	f, _ := ctx.Value(fieldsKey{}).(fields)
	return f
}

// NewID returns a short random id (the first group of a v4 UUID).
func NewID() string {
	return uuid.NewString()[:8]
}

func WithID(ctx context.Context, id string) context.Context {
	f := fromContext(ctx)
	f.requestID = id
	return context.WithValue(ctx, fieldsKey{}, f)
}

func ID(ctx context.Context) (string, bool) {
	id := fromContext(ctx).requestID
	return id, id != ""
}

// WithConnID tags ctx with the WebSocket connection it belongs to.
func WithConnID(ctx context.Context, id string) context.Context {
	f := fromContext(ctx)
	f.connID = id
	return context.WithValue(ctx, fieldsKey{}, f)
}

func ConnID(ctx context.Context) (string, bool) {
	id := fromContext(ctx).connID
	return id, id != ""
}

// Attrs returns the ids carried by ctx as log attributes.
func Attrs(ctx context.Context) []slog.Attr {
	f := fromContext(ctx)
	attrs := make([]slog.Attr, 0, 2)
	if f.requestID != "" {
		attrs = append(attrs, slog.String("correlation_id", f.requestID))
	}
	if f.connID != "" {
		attrs = append(attrs, slog.String("conn_id", f.connID))
	}
	return attrs
}

// Handler decorates an slog.Handler with the attributes from Attrs.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(Attrs(ctx)...)
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
