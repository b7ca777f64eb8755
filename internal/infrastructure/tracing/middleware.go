package tracing

import (
	"github.com/gin-gonic/gin"
)

// maxRequestIDLen bounds ids accepted from callers
const maxRequestIDLen = 64

// HTTPMiddleware creates Gin middleware that assigns every request an id,
// echoes it in the response, and submits a span when the handler returns.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if !validRequestID(requestID) {
			requestID = ""
		}

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}

		span, ctx := tracer.StartSpan(c.Request.Context(), name, requestID)
		span.Method = c.Request.Method
		span.Path = c.Request.URL.Path
		span.ClientIP = c.ClientIP()

		c.Request = c.Request.WithContext(ctx)
		c.Set(string(requestIDKey), span.RequestID)
		c.Header(HeaderRequestID, span.RequestID)

		c.Next()

		span.StatusCode = c.Writer.Status()
		span.Size = c.Writer.Size()
		if len(c.Errors) > 0 {
			span.Error = c.Errors.Last()
		}

		span.Finish()
		tracer.Submit(span)
	}
}

// validRequestID accepts short ids made of letters, digits, '-' and '_' so
// caller-supplied values are safe to log.
func validRequestID(s string) bool {
	if s == "" || len(s) > maxRequestIDLen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
