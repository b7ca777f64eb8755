package observer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
	"github.com/GriffinCanCode/tracehub/internal/protocol"
)

// The typed calls below never fail. Over the channel a timeout, a closed
// connection or a hub error resolves to a safe default. While the channel is
// down they go through the HTTP fallback first.

// GetTraces returns one page, newest first. limit 0 uses Options.PageLimit.
func (c *Client) GetTraces(ctx context.Context, page, limit int) trace.Page {
	if limit <= 0 {
		limit = c.opts.PageLimit
	}

	ev, err := c.Do(ctx, protocol.GetTraces{Page: page, Limit: limit})
	if err == nil {
		if e, ok := ev.(protocol.Traces); ok {
			return e.Page
		}
	}
	if c.useFallback(err) {
		p, ferr := c.fallback.ListTraces(ctx, page, limit)
		if ferr == nil {
			c.apply(protocol.Traces{Page: p})
			return p
		}
		err = ferr
	}
	c.degraded(protocol.TypeGetTraces, err)
	return trace.EmptyPage(page, limit)
}

// GetTrace returns a single record, or false when it cannot be had
func (c *Client) GetTrace(ctx context.Context, traceID string) (trace.Record, bool) {
	ev, err := c.Do(ctx, protocol.GetTrace{ID: traceID})
	if err == nil {
		if e, ok := ev.(protocol.Trace); ok {
			return e.Record, true
		}
	}
	if c.useFallback(err) {
		rec, ferr := c.fallback.GetTrace(ctx, traceID)
		if ferr == nil {
			c.apply(protocol.Trace{Record: rec})
			return rec, true
		}
		err = ferr
	}
	c.degraded(protocol.TypeGetTrace, err)
	return trace.Record{}, false
}

// GetStats returns the current summary, zeroed when unavailable
func (c *Client) GetStats(ctx context.Context) trace.Stats {
	ev, err := c.Do(ctx, protocol.GetStats{})
	if err == nil {
		if e, ok := ev.(protocol.Stats); ok {
			return e.Stats
		}
	}
	if c.useFallback(err) {
		stats, ferr := c.fallback.Stats(ctx)
		if ferr == nil {
			c.apply(protocol.Stats{Stats: stats})
			return stats
		}
		err = ferr
	}
	c.degraded(protocol.TypeGetStats, err)
	return trace.EmptyStats()
}

// ClearTraces empties the hub, reporting whether it acknowledged
func (c *Client) ClearTraces(ctx context.Context) bool {
	_, err := c.Do(ctx, protocol.ClearTraces{})
	if err == nil {
		return true
	}
	if c.useFallback(err) {
		ferr := c.fallback.Clear(ctx)
		if ferr == nil {
			c.apply(protocol.TracesCleared{})
			return true
		}
		err = ferr
	}
	c.degraded(protocol.TypeClearTraces, err)
	return false
}

// Ping reports whether the hub answered
func (c *Client) Ping(ctx context.Context) bool {
	_, err := c.Do(ctx, protocol.Ping{})
	if err == nil {
		return true
	}
	if c.useFallback(err) {
		if ferr := c.fallback.Health(ctx); ferr == nil {
			return true
		}
	}
	return false
}

// useFallback reports whether err means the channel itself was unusable
func (c *Client) useFallback(err error) bool {
	if c.fallback == nil || err == nil {
		return false
	}
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectionClosed)
}

func (c *Client) degraded(typ protocol.Type, err error) {
	if err == nil {
		return
	}
	c.log.Debug("Resolving to default",
		zap.String("request", string(typ)),
		zap.Error(err))
}
