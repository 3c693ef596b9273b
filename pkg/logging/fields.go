package logging

import (
	"context"

	"golang.org/x/exp/slog"
)

// Structured field keys threaded through a pipeline stage's context so
// every log line it emits (and everything FromContext derives from it)
// carries the identity of the interface, exporter, or worker that
// produced it.
const (
	FieldInterface = "iface"
	FieldExporter  = "exporter"
	FieldWorker    = "worker"
)

// WithInterface tags ctx with the name of the capture source (an
// interface name, or a capture file path) a capture/storage worker
// pair is reading from.
func WithInterface(ctx context.Context, iface string) context.Context {
	return WithFields(ctx, slog.String(FieldInterface, iface))
}

// WithExporter tags ctx with the collector address an export worker is
// sending to.
func WithExporter(ctx context.Context, addr string) context.Context {
	return WithFields(ctx, slog.String(FieldExporter, addr))
}

// WithWorker tags ctx with a pipeline stage name (e.g. "capture",
// "storage", "export"), for logs emitted by code shared across stages.
func WithWorker(ctx context.Context, worker string) context.Context {
	return WithFields(ctx, slog.String(FieldWorker, worker))
}
