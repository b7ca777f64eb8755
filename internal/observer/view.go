package observer

import "github.com/GriffinCanCode/tracehub/internal/domain/trace"

// View is the observer's local picture of the hub: the current page, the
// latest stats and the record pinned for detail inspection. Traces holds
// only the page; Pinned holds the pinned record whether or not the page
// does.
type View struct {
	Traces     []trace.Record   `json:"traces"`
	Pagination trace.Pagination `json:"pagination"`
	Stats      trace.Stats      `json:"stats"`
	PinnedID   string           `json:"pinnedId,omitempty"`
	Pinned     *trace.Record    `json:"pinned,omitempty"`
}

// EmptyView returns a view with no records and zeroed stats
func EmptyView(limit int) View {
	if limit <= 0 {
		limit = trace.DefaultPageLimit
	}
	return View{
		Traces:     []trace.Record{},
		Pagination: trace.NewPagination(0, 1, limit),
		Stats:      trace.EmptyStats(),
	}
}

// Clone returns a deep copy
func (v View) Clone() View {
	out := v
	out.Traces = cloneRecords(v.Traces)
	out.Stats = cloneStats(v.Stats)
	if v.Pinned != nil {
		p := v.Pinned.Clone()
		out.Pinned = &p
	}
	return out
}

// Records lists the page followed by the pinned record when the page does
// not contain it.
func (v View) Records() []trace.Record {
	out := cloneRecords(v.Traces)
	if v.Pinned != nil && v.indexOf(v.Pinned.ID) < 0 {
		out = append(out, v.Pinned.Clone())
	}
	return out
}

// Find looks a record up in the page, then in the pinned slot.
func (v View) Find(traceID string) (trace.Record, bool) {
	if i := v.indexOf(traceID); i >= 0 {
		return v.Traces[i], true
	}
	if v.Pinned != nil && v.Pinned.ID == traceID {
		return *v.Pinned, true
	}
	return trace.Record{}, false
}

func (v View) indexOf(traceID string) int {
	for i := range v.Traces {
		if v.Traces[i].ID == traceID {
			return i
		}
	}
	return -1
}

func cloneRecords(in []trace.Record) []trace.Record {
	out := make([]trace.Record, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func cloneStats(s trace.Stats) trace.Stats {
	out := s
	if s.MethodCounts != nil {
		out.MethodCounts = make(map[string]int, len(s.MethodCounts))
		for k, v := range s.MethodCounts {
			out.MethodCounts[k] = v
		}
	}
	if s.StatusCounts != nil {
		out.StatusCounts = make(map[int]int, len(s.StatusCounts))
		for k, v := range s.StatusCounts {
			out.StatusCounts[k] = v
		}
	}
	return out
}
