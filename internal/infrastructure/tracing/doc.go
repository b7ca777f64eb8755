/*
Package tracing gives every HTTP request served by tracehub a request id and
a span.

# Overview

The middleware honours an incoming X-Request-ID when it is well formed and
otherwise generates one, echoes it in the response, and stores it in the
request context. When the handler returns, a Span with method, route, status
and duration is submitted to the Tracer.

# Usage

	tracer := tracing.New("tracehub", logger, tracing.DefaultBufferSize)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	requestID := tracing.RequestIDFromContext(c.Request.Context())

# Performance

Spans are collected through a buffered channel drained by one goroutine.
Submit never blocks the request path; a full buffer drops the span and
counts it.
*/
package tracing
