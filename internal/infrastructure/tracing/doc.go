/*
Package tracing provides lightweight spans for broker operations.

# Overview

Every REST request and every message channel call gets a span. Spans are
collected on a buffered channel and written to the structured log, so a
forward that waited on a consent prompt can be followed end to end by its
trace id. Trace context travels in the X-Trace-ID and X-Span-ID headers.

# Usage

	tracer := tracing.New("broker", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "rpc.request")
	span.SetTag("origin", origin)
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
