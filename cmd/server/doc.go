// Package main is the entry point for the tracehub server.
//
// tracehub keeps a bounded buffer of captured HTTP exchanges and streams
// them to observers as they are recorded and completed.
//
// Architecture:
//
//	client → capture proxy → upstream service
//	              ↓
//	         trace store → hub (/ws) → observers
//	                     → fallback (/traces) → observers without a channel
//
// The server provides:
//   - WebSocket pub-sub of trace events on /ws
//   - HTTP fallback routes mirroring every channel request
//   - An optional recording reverse proxy in front of an upstream
//   - Prometheus metrics on /metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - A YAML or TOML file passed with -config
//   - CLI flags (override both)
//
// Usage:
//
//	# Hub only
//	./server -port 8000
//
//	# Record traffic to a local service
//	./server -upstream http://localhost:3000 -proxy-port 8080
//
//	# Development mode (colored logs, debug level)
//	./server -dev -config tracehub.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
