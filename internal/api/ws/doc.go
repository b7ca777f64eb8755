// Package ws serves live trace updates to observers over WebSocket.
//
// The Hub owns every open Channel. Each channel moves Connecting → Open →
// Closed and never reopens; reconnection is the observer's job. Outbound
// frames pass through a bounded per-channel queue, and a channel whose queue
// fills is closed rather than allowed to stall the producer or its peers.
//
// Requests are answered on the channel they arrived on, tagged with their
// requestId. The hub also implements trace.Publisher: a record new to the
// store is broadcast as newTrace, a change to a resident one (completion,
// re-record) as an untagged trace event. Run pushes stats periodically.
//
// Example Usage:
//
//	store := trace.NewStore(trace.Options{})
//	hub := ws.NewHub(store, trace.NewAggregator(store), ws.DefaultConfig(), logger, metrics)
//	store.WithPublisher(hub)
//	go hub.Run(ctx)
//	router.GET("/ws", hub.HandleConnection)
package ws
