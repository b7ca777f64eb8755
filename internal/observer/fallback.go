package observer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/tracehub/internal/protocol"
	"github.com/GriffinCanCode/tracehub/internal/shared/id"
)

// ErrTraceNotFound is returned by the fallback when the hub no longer holds
// the record.
var ErrTraceNotFound = errors.New("trace not found")

// HTTPStatusError is a non-2xx reply from the fallback routes
type HTTPStatusError struct {
	Code    int
	Message string
}

func (e *HTTPStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("fallback returned %d", e.Code)
	}
	return fmt.Sprintf("fallback returned %d: %s", e.Code, e.Message)
}

// FallbackOptions configures the request/response client
type FallbackOptions struct {
	BaseURL      string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit caps requests per second; 0 means unlimited
	RateLimit float64
	// Breaker overrides the default circuit breaker settings
	Breaker *resilience.Settings
}

// Fallback reads the hub over plain HTTP while the channel is down. Calls
// are rate limited and go through a circuit breaker, so a dead hub is not
// hammered by every refresh.
type Fallback struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

type errorBody struct {
	Error string `json:"error"`
}

type clearBody struct {
	Success bool `json:"success"`
}

// NewFallback creates a fallback client for the hub at opts.BaseURL
func NewFallback(opts FallbackOptions) *Fallback {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 100 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 2 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil
	retryClient.ErrorHandler = lastResponse

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "tracehub-observer/1.0").
		SetJSONMarshaler(protocol.Marshal).
		SetJSONUnmarshaler(protocol.Unmarshal)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	settings := resilience.Settings{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	if opts.Breaker != nil {
		settings = *opts.Breaker
	}
	if settings.IsSuccessful == nil {
		// A 4xx is the hub answering; only transport errors and 5xx count
		settings.IsSuccessful = func(err error) bool {
			var se *HTTPStatusError
			if errors.As(err, &se) {
				return se.Code < http.StatusInternalServerError
			}
			return err == nil || errors.Is(err, ErrTraceNotFound)
		}
	}

	return &Fallback{
		http:    client,
		limiter: limiter,
		breaker: resilience.New("observer-fallback", settings),
	}
}

// BreakerState reports the fallback circuit state
func (f *Fallback) BreakerState() resilience.State {
	return f.breaker.State()
}

// ListTraces fetches one page
func (f *Fallback) ListTraces(ctx context.Context, page, limit int) (trace.Page, error) {
	return fetch[trace.Page](ctx, f, http.MethodGet, "/traces", map[string]string{
		"page":  strconv.Itoa(page),
		"limit": strconv.Itoa(limit),
	}, nil)
}

// GetTrace fetches a single record
func (f *Fallback) GetTrace(ctx context.Context, traceID string) (trace.Record, error) {
	rec, err := fetch[trace.Record](ctx, f, http.MethodGet, "/traces/{id}", nil, map[string]string{"id": traceID})
	var se *HTTPStatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return trace.Record{}, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
	}
	return rec, err
}

// Stats fetches the current summary
func (f *Fallback) Stats(ctx context.Context) (trace.Stats, error) {
	return fetch[trace.Stats](ctx, f, http.MethodGet, "/traces/stats", nil, nil)
}

// Clear empties the hub's store
func (f *Fallback) Clear(ctx context.Context) error {
	body, err := fetch[clearBody](ctx, f, http.MethodPost, "/traces/clear", nil, nil)
	if err != nil {
		return err
	}
	if !body.Success {
		return errors.New("clear not acknowledged")
	}
	return nil
}

// Health checks that the hub answers at all
func (f *Fallback) Health(ctx context.Context) error {
	_, err := fetch[map[string]any](ctx, f, http.MethodGet, "/health", nil, nil)
	return err
}

// lastResponse hands the final reply back once retries run out, so a 5xx
// surfaces as an HTTPStatusError instead of a bare transport error.
func lastResponse(resp *http.Response, err error, _ int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

func fetch[T any](ctx context.Context, f *Fallback, method, path string, query, params map[string]string) (T, error) {
	var zero T
	if err := f.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("rate limit: %w", err)
	}

	return resilience.Do(f.breaker, func() (T, error) {
		var out T
		req := f.http.R().
			SetContext(ctx).
			SetHeader(tracing.HeaderRequestID, id.NewRequestID().String()).
			SetResult(&out).
			SetError(&errorBody{})
		if query != nil {
			req.SetQueryParams(query)
		}
		if params != nil {
			req.SetPathParams(params)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			return zero, fmt.Errorf("%s %s: %w", method, path, err)
		}
		if resp.IsError() {
			se := &HTTPStatusError{Code: resp.StatusCode()}
			if body, ok := resp.Error().(*errorBody); ok {
				se.Message = body.Error
			}
			return zero, se
		}
		return out, nil
	})
}
