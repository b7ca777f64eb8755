// Package config provides 12-factor configuration management for tracehub.
//
// Configuration is loaded from environment variables with sensible defaults,
// or from a YAML/TOML file layered over the defaults. CLI flags can override
// either for development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host, shutdown, gzip)
//   - Store: Trace capacity and body ceiling
//   - Hub: WebSocket queue, keepalive and stats push settings
//   - Capture: Optional recording reverse proxy
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST, SHUTDOWN_TIMEOUT, GZIP_ENABLED
//   - TRACE_CAPACITY, TRACE_MAX_BODY_BYTES
//   - WS_SEND_QUEUE, WS_WRITE_TIMEOUT, WS_PING_INTERVAL, WS_PONG_TIMEOUT,
//     WS_MAX_MESSAGE_BYTES, STATS_INTERVAL
//   - PROXY_UPSTREAM, PROXY_PORT, PROXY_IGNORE
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config
