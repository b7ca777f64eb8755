// Package protocol defines the messages exchanged between the hub and its
// observers.
//
// Every frame is an Envelope whose Type selects exactly one variant. The
// variants form a closed set: DecodeRequest and DecodeEvent reject anything
// else with ErrUnknownType, and payloads that do not fit their type with
// ErrMalformed.
//
// Message Types (Client → Server):
//   - getTraces{page,limit}: one page of records, newest first
//   - getTrace{id}: a single record
//   - getStats: current summary
//   - clearTraces: empty the store
//   - ping: keep-alive
//
// Message Types (Server → Client):
//   - traces: reply to getTraces
//   - trace: reply to getTrace
//   - stats: reply to getStats, also pushed periodically
//   - tracesCleared: reply to clearTraces, also broadcast
//   - newTrace: broadcast on every stored or completed record
//   - pong: reply to ping
//   - error: request could not be served
//
// Replies carry the requestId of the request they answer.
package protocol
