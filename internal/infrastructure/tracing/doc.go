/*
Package tracing provides lightweight request and launch tracing.

A span covers one operation: a control API request, a launch, or one of
the launch phases (resolve, initialize). Spans started from a context that
already carries a span become its children, so a launch requested over the
API shows up as one trace. Jar downloads carry the trace in X-Trace-ID and
X-Span-ID headers so codebase server logs can be correlated.

Finished spans are logged and the most recent ones are kept in memory for
the /traces endpoint.

# Usage

	tracer := tracing.New("netlaunch", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "launch")
	defer span.End()
	span.SetTag("title", d.Title())

A nil *Tracer is valid: its spans are never reported.
*/
package tracing
