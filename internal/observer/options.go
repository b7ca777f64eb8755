package observer

import (
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
	"github.com/GriffinCanCode/tracehub/internal/protocol"
)

// Timeouts bounds each request type independently
type Timeouts struct {
	GetTraces   time.Duration
	GetTrace    time.Duration
	GetStats    time.Duration
	ClearTraces time.Duration
	Ping        time.Duration
}

// DefaultTimeouts returns the per-request defaults
func DefaultTimeouts() Timeouts {
	return Timeouts{
		GetTraces:   5 * time.Second,
		GetTrace:    3 * time.Second,
		GetStats:    5 * time.Second,
		ClearTraces: 3 * time.Second,
		Ping:        2 * time.Second,
	}
}

// For returns the timeout for a request type
func (t Timeouts) For(typ protocol.Type) time.Duration {
	switch typ {
	case protocol.TypeGetTraces:
		return t.GetTraces
	case protocol.TypeGetTrace:
		return t.GetTrace
	case protocol.TypeGetStats:
		return t.GetStats
	case protocol.TypeClearTraces:
		return t.ClearTraces
	case protocol.TypePing:
		return t.Ping
	default:
		return DefaultTimeouts().GetTraces
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.GetTraces <= 0 {
		t.GetTraces = d.GetTraces
	}
	if t.GetTrace <= 0 {
		t.GetTrace = d.GetTrace
	}
	if t.GetStats <= 0 {
		t.GetStats = d.GetStats
	}
	if t.ClearTraces <= 0 {
		t.ClearTraces = d.ClearTraces
	}
	if t.Ping <= 0 {
		t.Ping = d.Ping
	}
	return t
}

// Options configures a Client
type Options struct {
	// URL is the hub's websocket endpoint, e.g. ws://127.0.0.1:8000/ws
	URL string
	// BaseURL serves the HTTP fallback. Derived from URL when empty.
	BaseURL string
	// ClientID is sent with every request. A random UUID when empty.
	ClientID string

	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	Timeouts             Timeouts
	WriteTimeout         time.Duration
	// PageLimit is the page size for GetTraces calls that pass no limit
	PageLimit int

	// DisableFallback keeps typed calls on the channel only
	DisableFallback bool
	Fallback        FallbackOptions

	Dialer *websocket.Dialer
}

// DefaultOptions returns options for a hub on the given websocket URL
func DefaultOptions(wsURL string) Options {
	return Options{
		URL:                  wsURL,
		ReconnectInterval:    time.Second,
		MaxReconnectAttempts: 5,
		Timeouts:             DefaultTimeouts(),
		WriteTimeout:         10 * time.Second,
		PageLimit:            trace.DefaultPageLimit,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions(o.URL)
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = d.ReconnectInterval
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.PageLimit <= 0 {
		o.PageLimit = d.PageLimit
	}
	o.Timeouts = o.Timeouts.withDefaults()
	if o.BaseURL == "" {
		o.BaseURL = deriveBaseURL(o.URL)
	}
	if o.Fallback.BaseURL == "" {
		o.Fallback.BaseURL = o.BaseURL
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		}
	}
	return o
}

// deriveBaseURL maps ws://host/ws to http://host
func deriveBaseURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	default:
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws")
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}
