/*
Package observer is the dashboard side of the trace hub: one websocket
connection, request correlation, reconnection and a local View kept current
from every event.

# Connection

	disconnected --Connect--> connecting --open--> connected
	      ^                        |                   |
	      +------[dial failed]-----+<----[lost]--------+
	                               |
	                     [attempt cap reached]
	                               v
	                             error --Rearm/Connect--> connecting

A single timer drives automatic reconnects at ReconnectInterval. After
MaxReconnectAttempts consecutive dial failures the client stops until Rearm
or Connect. Disconnect cancels the timer, halts retries, and settles every
in-flight call with ErrConnectionClosed.

# Requests

Do tags each request with a fresh req_ id and waits for the event of the
matching type and id, an error event (RemoteError), the request's own
timeout (ErrTimeout), or the caller's context. The typed calls (GetTraces,
GetStats, ...) never fail: they resolve to safe defaults, and while the
channel is down they read through the HTTP Fallback first.

# View

Every event updates the View, matched or not. newTrace adds a record;
an untagged trace event updates one already held and never moves the
totals. Merge and Prepend are the pure functions behind it; both keep the
pinned record present across refreshes.

# Usage

	client := observer.New(observer.DefaultOptions("ws://127.0.0.1:8000/ws"), logger)
	client.OnStatus(func(s observer.Status) { ui.SetStatus(s) })
	client.On(protocol.TypeNewTrace, func(protocol.Event) { ui.Refresh(client.View()) })
	if err := client.Connect(ctx); err != nil {
		logger.Warn("hub unavailable, using fallback", zap.Error(err))
	}
	page := client.GetTraces(ctx, 1, 50)
*/
package observer
