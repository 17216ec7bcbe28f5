package tracing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracerIsNoopByDefault(t *testing.T) {
	t.Setenv("ACPLB_TRACING", "")
	initOnce = sync.Once{}
	sdk = nil

	tracer := Tracer()
	_, span := tracer.Start(context.Background(), "test")
	assert.False(t, span.IsRecording())
}

func TestTracerRecordsWhenEnabled(t *testing.T) {
	t.Setenv("ACPLB_TRACING", "true")
	initOnce = sync.Once{}
	sdk = nil

	tracer := Tracer()
	_, span := tracer.Start(context.Background(), "test")
	assert.True(t, span.IsRecording())

	assert.NoError(t, Shutdown(context.Background()))
}
