package capture

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"
)

// NewProxy returns a reverse proxy to upstream that records every exchange
// it forwards.
func NewProxy(upstream *url.URL, r *Recorder) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.Transport = r.Transport(http.DefaultTransport)
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		r.log.Warn("Proxy error",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}
