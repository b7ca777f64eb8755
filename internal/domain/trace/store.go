package trace

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/tracehub/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracehub/internal/shared/id"
)

const (
	// DefaultCapacity is the number of records kept resident.
	DefaultCapacity = 500
	// DefaultPageLimit applies when a caller asks for a non-positive limit.
	DefaultPageLimit = 50
	// MaxPageLimit bounds a single page.
	MaxPageLimit = 1000
)

// Publisher receives store changes after they are committed. The hub
// implements it to fan records out to observers.
type Publisher interface {
	// TraceRecorded announces a record new to the store
	TraceRecorded(Record)
	// TraceUpdated announces a change to a record already resident, such
	// as its completion. The resident count does not move.
	TraceUpdated(Record)
	TracesCleared()
}

// Options configures a Store.
type Options struct {
	Capacity     int
	MaxBodyBytes int
}

// Store is a bounded, newest-first buffer of records.
//
// Every mutation and every read holds the lock for the whole operation, so a
// page never observes a half-applied append/evict and Clear never leaves a
// partially recorded trace behind.
type Store struct {
	// pubMu orders publishes the same way commits are ordered, so a
	// tracesCleared event is never followed by a record from before the clear.
	pubMu sync.Mutex

	mu       sync.RWMutex
	records  []*Record          // Protected by mu, newest first
	index    map[string]*Record // Protected by mu
	counters Counters           // Protected by mu

	capacity     int
	maxBodyBytes int
	publisher    Publisher
	metrics      *monitoring.Metrics
}

// NewStore creates an empty store
func NewStore(opts Options) *Store {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.MaxBodyBytes == 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Store{
		records:      make([]*Record, 0, opts.Capacity),
		index:        make(map[string]*Record, opts.Capacity),
		capacity:     opts.Capacity,
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// WithPublisher sets the publisher notified after each change. It must be
// called before the store is shared.
func (s *Store) WithPublisher(p Publisher) *Store {
	s.publisher = p
	return s
}

// WithMetrics adds metrics tracking to the store
func (s *Store) WithMetrics(metrics *monitoring.Metrics) *Store {
	s.metrics = metrics
	return s
}

// Capacity returns the maximum number of resident records
func (s *Store) Capacity() int {
	return s.capacity
}

// MaxBodyBytes returns the payload ceiling; 0 or less means unlimited
func (s *Store) MaxBodyBytes() int {
	return s.maxBodyBytes
}

// Record stores a new exchange and returns the stored copy.
//
// Missing ids and start times are filled in. Payloads above the ceiling are
// cut and flagged before the lock is taken; truncation never fails.
func (s *Store) Record(rec Record) Record {
	r := s.prepare(rec)

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	old, replaced := s.index[r.ID]
	if replaced {
		// Re-recording an id replaces it in place rather than duplicating it
		*old = *r
		r = old
	} else {
		s.records = append(s.records, nil)
		copy(s.records[1:], s.records)
		s.records[0] = r
		s.index[r.ID] = r
		s.counters.Recorded++
	}
	evicted := s.evictLocked()
	resident := len(s.records)
	out := r.Clone()
	s.mu.Unlock()

	s.metrics.RecordTrace(out.BodyTruncated, out.ResponseTruncated)
	s.metrics.RecordEvictions(evicted)
	s.metrics.SetResident(resident)

	switch {
	case s.publisher == nil:
	case replaced:
		s.publisher.TraceUpdated(out)
	default:
		s.publisher.TraceRecorded(out)
	}
	return out
}

// Complete applies the response half of an exchange to a resident record.
// It returns false when the record is gone (evicted or cleared).
func (s *Store) Complete(traceID string, c Completion) (Record, bool) {
	body, truncated := Truncate(c.Body, s.maxBodyBytes)
	contentType := c.ContentType
	if contentType == "" {
		contentType = DetectContentType(body)
	}
	end := c.EndTime
	if end.IsZero() {
		end = time.Now()
	}

	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	r, ok := s.index[traceID]
	if !ok {
		s.mu.Unlock()
		return Record{}, false
	}
	if c.StatusCode > 0 {
		code := c.StatusCode
		r.StatusCode = &code
	}
	r.ResponseHeaders = cloneMap(c.Headers)
	r.ResponseBody = body
	r.ResponseSize = max(c.Size, len(c.Body))
	r.ResponseContentType = contentType
	r.ResponseTruncated = truncated || c.Partial
	r.Error = c.Error
	r.setEnd(end)
	s.counters.Completed++
	out := r.Clone()
	s.mu.Unlock()

	s.metrics.RecordCompletion(out.ResponseTruncated)

	if s.publisher != nil {
		s.publisher.TraceUpdated(out)
	}
	return out, true
}

// List returns one page counted from the newest record. Page and limit are
// clamped; a page past the end is empty, never an error.
func (s *Store) List(page, limit int) Page {
	page, limit = ClampPage(page, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.records)
	out := Page{
		Traces:     []Record{},
		Pagination: NewPagination(total, page, limit),
	}
	out.Pagination.Capacity = s.capacity

	start := (page - 1) * limit
	if start >= total {
		return out
	}
	end := start + limit
	if end > total {
		end = total
	}

	out.Traces = make([]Record, 0, end-start)
	for _, r := range s.records[start:end] {
		out.Traces = append(out.Traces, r.Clone())
	}
	return out
}

// Get retrieves a record by ID
func (s *Store) Get(traceID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.index[traceID]
	if !ok {
		return Record{}, false
	}
	return r.Clone(), true
}

// Clear empties the store and resets its counters.
func (s *Store) Clear() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	s.records = make([]*Record, 0, s.capacity)
	s.index = make(map[string]*Record, s.capacity)
	s.counters = Counters{}
	s.mu.Unlock()

	s.metrics.RecordClear()
	s.metrics.SetResident(0)

	if s.publisher != nil {
		s.publisher.TracesCleared()
	}
}

// Len returns the number of resident records
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Counters returns lifetime totals since the last clear
func (s *Store) Counters() Counters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

// Snapshot returns copies of all resident records, newest first
func (s *Store) Snapshot() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// view runs fn over the resident records under the read lock. fn must not
// retain the slice or the records.
func (s *Store) view(fn func(records []*Record)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.records)
}

// evictLocked drops the oldest records beyond capacity (must hold lock)
func (s *Store) evictLocked() int {
	over := len(s.records) - s.capacity
	if over <= 0 {
		return 0
	}
	for _, r := range s.records[s.capacity:] {
		delete(s.index, r.ID)
	}
	clear(s.records[s.capacity:])
	s.records = s.records[:s.capacity]
	s.counters.Evicted += uint64(over)
	return over
}

// prepare copies a producer's record and applies capture-time rules.
func (s *Store) prepare(rec Record) *Record {
	r := rec.Clone()
	if r.ID == "" {
		r.ID = string(id.NewTraceID())
	}
	if r.StartTime.IsZero() {
		r.StartTime = time.Now()
	}

	// Producers that already capped the body report the full size
	r.BodySize = max(rec.BodySize, len(rec.Body))
	r.Body, r.BodyTruncated = Truncate(rec.Body, s.maxBodyBytes)
	if r.ContentType == "" {
		r.ContentType = DetectContentType(r.Body)
	}

	if rec.ResponseBody != "" {
		r.ResponseSize = max(rec.ResponseSize, len(rec.ResponseBody))
		r.ResponseBody, r.ResponseTruncated = Truncate(rec.ResponseBody, s.maxBodyBytes)
		if r.ResponseContentType == "" {
			r.ResponseContentType = DetectContentType(r.ResponseBody)
		}
	}

	switch {
	case r.EndTime != nil:
		r.setEnd(*r.EndTime)
	case r.StatusCode != nil && r.DurationMs > 0:
		r.setEnd(r.StartTime.Add(time.Duration(r.DurationMs) * time.Millisecond))
	}
	return &r
}

// ClampPage normalises a page request: page >= 1, 0 < limit <= MaxPageLimit.
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
