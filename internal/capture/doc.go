// Package capture produces trace records from live traffic.
//
// A Recorder wraps an http.RoundTripper: the request half is recorded as it
// is sent, and the record is completed when the response body is closed.
// Bodies are read through capped buffers, so payloads of any size stream to
// the upstream untouched while the store keeps only the truncated prefix.
// NewProxy puts a Recorder behind an httputil.ReverseProxy.
package capture
