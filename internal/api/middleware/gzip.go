package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// Gzip compresses responses for clients that accept it. Requests whose path
// starts with one of the excluded prefixes, and WebSocket upgrades, pass
// through untouched.
func Gzip(level int, excludedPrefixes ...string) gin.HandlerFunc {
	pool := sync.Pool{
		New: func() any {
			gz, err := gzip.NewWriterLevel(io.Discard, level)
			if err != nil {
				gz, _ = gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
			}
			return gz
		},
	}

	return func(c *gin.Context) {
		if !shouldCompress(c.Request, excludedPrefixes) {
			c.Next()
			return
		}

		gz := pool.Get().(*gzip.Writer)
		gz.Reset(c.Writer)

		c.Header("Content-Encoding", "gzip")
		c.Header("Vary", "Accept-Encoding")
		c.Writer = &gzipWriter{ResponseWriter: c.Writer, writer: gz}

		defer func() {
			// Nothing written (204, 304): drop the gzip framing too
			if c.Writer.Size() < 0 {
				gz.Reset(io.Discard)
				c.Writer.Header().Del("Content-Encoding")
			}
			gz.Close()
			pool.Put(gz)
		}()

		c.Next()
	}
}

func shouldCompress(r *http.Request, excluded []string) bool {
	if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		return false
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, prefix := range excluded {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return false
		}
	}
	return true
}

type gzipWriter struct {
	gin.ResponseWriter
	writer *gzip.Writer
}

func (g *gzipWriter) Write(data []byte) (int, error) {
	g.Header().Del("Content-Length")
	return g.writer.Write(data)
}

func (g *gzipWriter) WriteString(s string) (int, error) {
	return g.Write([]byte(s))
}

func (g *gzipWriter) WriteHeader(code int) {
	g.Header().Del("Content-Length")
	g.ResponseWriter.WriteHeader(code)
}

func (g *gzipWriter) Flush() {
	_ = g.writer.Flush()
	g.ResponseWriter.Flush()
}
