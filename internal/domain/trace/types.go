package trace

import "time"

// Record is one captured request/response exchange.
//
// A record with no StatusCode is pending. Once EndTime is set it is never
// before StartTime and DurationMs equals the difference in milliseconds.
type Record struct {
	ID          string            `json:"id"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Query       map[string]string `json:"query,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
	BodySize    int               `json:"bodySize,omitempty"`
	ContentType string            `json:"contentType,omitempty"`

	BodyTruncated bool `json:"bodyTruncated"`

	StartTime  time.Time  `json:"startTime"`
	EndTime    *time.Time `json:"endTime,omitempty"`
	DurationMs int64      `json:"durationMs,omitempty"`

	StatusCode          *int              `json:"statusCode,omitempty"`
	ResponseHeaders     map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody        string            `json:"responseBody,omitempty"`
	ResponseSize        int               `json:"responseSize,omitempty"`
	ResponseContentType string            `json:"responseContentType,omitempty"`

	ResponseTruncated bool `json:"responseTruncated"`

	Error string `json:"error,omitempty"`
}

// Pending reports whether the exchange has no status code yet.
func (r *Record) Pending() bool {
	return r.StatusCode == nil
}

// Clone returns a deep copy, so callers never share maps or pointers with
// the store.
func (r Record) Clone() Record {
	out := r
	out.Query = cloneMap(r.Query)
	out.Headers = cloneMap(r.Headers)
	out.ResponseHeaders = cloneMap(r.ResponseHeaders)
	if r.EndTime != nil {
		end := *r.EndTime
		out.EndTime = &end
	}
	if r.StatusCode != nil {
		code := *r.StatusCode
		out.StatusCode = &code
	}
	return out
}

// setEnd fixes the end time, clamping it so the record never reports a
// negative duration.
func (r *Record) setEnd(end time.Time) {
	if end.Before(r.StartTime) {
		end = r.StartTime
	}
	r.EndTime = &end
	r.DurationMs = end.Sub(r.StartTime).Milliseconds()
}

// Completion is the response half of an exchange, applied to a resident
// record when the producer sees the response (or the failure).
type Completion struct {
	StatusCode  int
	Headers     map[string]string
	Body        string
	// Size is the full body size when Body is only a captured prefix
	Size int
	// Partial marks a body the producer stopped reading before its end
	Partial     bool
	ContentType string
	Error       string
	EndTime     time.Time
}

// Stats summarises the resident records. It is always derived from the
// store and never kept as separate state.
type Stats struct {
	Total              int            `json:"total"`
	Pending            int            `json:"pending"`
	SuccessRate        float64        `json:"successRate"`
	AvgResponseTime    float64        `json:"avgResponseTime"`
	P50ResponseTime    float64        `json:"p50ResponseTime"`
	P95ResponseTime    float64        `json:"p95ResponseTime"`
	MethodCounts       map[string]int `json:"methodCounts"`
	StatusCounts       map[int]int    `json:"statusCounts"`
	TruncatedBodies    int            `json:"truncatedBodies"`
	TruncatedResponses int            `json:"truncatedResponses"`
}

// EmptyStats is the zero-valued summary, with non-nil maps so it encodes as
// objects rather than null.
func EmptyStats() Stats {
	return Stats{
		MethodCounts: map[string]int{},
		StatusCounts: map[int]int{},
	}
}

// Pagination describes one window over the resident records.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
	// Capacity is the store's bound on Total; 0 when unknown
	Capacity int `json:"capacity,omitempty"`
}

// NewPagination computes the window for total records at the given page
// and limit. Pages is ceil(total/limit), 0 when there are no records.
func NewPagination(total, page, limit int) Pagination {
	pages := 0
	if total > 0 && limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Total: total, Page: page, Limit: limit, Pages: pages}
}

// Page is one window of records plus its pagination.
type Page struct {
	Traces     []Record   `json:"traces"`
	Pagination Pagination `json:"pagination"`
}

// EmptyPage is the page returned when nothing is available.
func EmptyPage(page, limit int) Page {
	page, limit = ClampPage(page, limit)
	return Page{Traces: []Record{}, Pagination: NewPagination(0, page, limit)}
}

// Counters are lifetime totals since the last clear. They are reported
// separately from Stats.Total, which is always the resident count.
type Counters struct {
	Recorded  uint64 `json:"recorded"`
	Completed uint64 `json:"completed"`
	Evicted   uint64 `json:"evicted"`
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
