// Package tracing provides a shared OTel tracer for the turn driver. It is
// off by default: constructing a real exporter pipeline is out of scope for
// a single-process bridge, so enabling ACPLB_TRACING requires only the OTel
// SDK itself, not a collector — spans are created and timed but never
// exported anywhere, which is enough to observe turn shape with a debugger
// or a future in-process span processor without forcing every deployment to
// run a collector.
package tracing

import (
	"context"
	"os"
	"sync"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "acplb-codex"

var (
	initOnce sync.Once
	provider trace.TracerProvider = noop.NewTracerProvider()
	sdk      *sdktrace.TracerProvider
)

func initProvider() {
	if !enabled() {
		provider = noop.NewTracerProvider()
		return
	}
	sdk = sdktrace.NewTracerProvider()
	provider = sdk
}

func enabled() bool {
	v := os.Getenv("ACPLB_TRACING")
	return v == "1" || v == "true"
}

// Tracer returns the bridge's tracer. It is a no-op tracer unless
// ACPLB_TRACING is set, so the common case pays nothing beyond the env
// lookup done once at first use.
func Tracer() trace.Tracer {
	initOnce.Do(initProvider)
	return provider.Tracer(tracerName)
}

// Shutdown flushes and releases the tracer provider, if tracing was enabled.
func Shutdown(ctx context.Context) error {
	if sdk == nil {
		return nil
	}
	return sdk.Shutdown(ctx)
}
