// Package http provides the request/response fallback over the trace store.
//
// Routes:
//   - GET  /traces?page&limit: one page, same shape as the traces event
//   - GET  /traces/:id: one record, 404 {"error"} when absent
//   - GET  /traces/stats: current summary
//   - POST /traces/clear: empty the store (observers still get tracesCleared)
//   - GET  /, GET /health: banner and counters
package http
