// Package observe bundles structured logging and tracing behind one
// Observer handle that the rest of the service shares.
package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("cofounder")

// Observer handles logging and tracing for the service.
type Observer struct {
	log *bolt.Logger
}

// New creates an Observer with console output. If verbose is false,
// only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	return configure(bolt.New(bolt.NewConsoleHandler(out)), verbose)
}

// NewJSON creates an Observer with JSON output, intended for
// deployments where logs are shipped to an aggregator.
func NewJSON(out io.Writer, verbose bool) *Observer {
	return configure(bolt.New(bolt.NewJSONHandler(out)), verbose)
}

func configure(l *bolt.Logger, verbose bool) *Observer {
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{log: l}
}

// Log returns the underlying logger
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// StartSpan starts a new OTel span
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// StartTurnSpan starts a span for one conversation turn, tagged with
// the chat and user so traces can be sliced per conversation.
func (o *Observer) StartTurnSpan(ctx context.Context, name, chatID, userID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("chat.id", chatID),
		attribute.String("user.id", userID),
	))
}

// Close ensures any buffered logs or traces are flushed (placeholder)
func (o *Observer) Close() error {
	return nil
}
