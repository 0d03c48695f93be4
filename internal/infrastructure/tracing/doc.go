/*
Package tracing follows requests through the agent with lightweight
in-process spans.

A trace starts at the gateway (or at a background cycle like a state
sync) and its spans are logged through zap with trace and span ids,
so one UI action can be matched to the daemon calls and downloads it
caused. Identifiers travel in the X-Trace-ID and X-Span-ID headers;
a UI that echoes them back gets its follow-up requests stitched into
the same trace.

	tracer := tracing.New("gateway", logger)
	router.Use(tracing.HTTPMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "sync")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

Span submission never blocks; when the buffer is full the span is
dropped rather than stalling the caller.
*/
package tracing
