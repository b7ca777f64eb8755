// Package trace holds captured exchanges and the statistics derived from them.
//
// The Store is the single owner of the newest-first record sequence. It is
// bounded: once more than Capacity records are held, the oldest are evicted.
// Request and response payloads are truncated to a byte ceiling when they are
// captured, never when they are read, and the record is flagged.
//
// Producers call Record when an exchange starts and Complete when its
// response arrives. Readers page through the store with List, fetch single
// records with Get, and summarise with an Aggregator. Every committed change
// is handed to the Publisher (the WebSocket hub) in commit order.
//
// Example Usage:
//
//	store := trace.NewStore(trace.Options{Capacity: 500, MaxBodyBytes: 64 << 10})
//	stats := trace.NewAggregator(store)
//
//	rec := store.Record(trace.Record{Method: "GET", Path: "/users"})
//	store.Complete(rec.ID, trace.Completion{StatusCode: 200, Body: `{"ok":true}`})
//
//	page := store.List(1, 50)
//	summary := stats.Compute()
package trace
