/*
Package resilience provides a circuit breaker for calls to the tracehub
server that may fail while it is restarting or unreachable.

# Usage

	breaker := resilience.New("fallback", resilience.Settings{
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	page, err := resilience.Do(breaker, func() (trace.Page, error) {
		return client.ListTraces(ctx, 1, 50)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
