// Package tracing provides OpenTelemetry span helpers for the tiling
// engine. The library only creates spans; exporters and providers are the
// embedding application's concern, and with none installed the global
// no-op provider makes every call free.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gigatile/gigatile"

// Attribute keys used across the engine.
const (
	AttrSource   = "gigatile.source"
	AttrBackend  = "gigatile.backend"
	AttrLevel    = "gigatile.level"
	AttrEncoding = "gigatile.encoding"
)

// StartSpan begins a span on the library tracer.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// TileAttributes describes a tile address for span annotation.
func TileAttributes(level, x, y int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrLevel, level),
		attribute.Int("gigatile.tile_x", x),
		attribute.Int("gigatile.tile_y", y),
	}
}
