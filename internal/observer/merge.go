package observer

import "github.com/GriffinCanCode/tracehub/internal/domain/trace"

// Merge replaces the page held in old with a freshly fetched one.
//
// The record pinned by pinnedID survives even when it falls outside the new
// window: it stays in Pinned and is listed after the page by Records. When
// the fresh page carries the pinned record, its fields win over the stale
// copy.
func Merge(old View, page trace.Page, pinnedID string) View {
	out := View{
		Traces:     make([]trace.Record, 0, len(page.Traces)),
		Pagination: page.Pagination,
		Stats:      old.Stats,
		PinnedID:   pinnedID,
	}
	for _, rec := range page.Traces {
		out.Traces = append(out.Traces, rec.Clone())
	}
	return keepPinned(out, old)
}

// Prepend applies a newTrace broadcast to old.
//
// A record the view already holds, in the page or pinned, is updated in
// place. A new record goes on top of the first page, pushing the oldest
// entry out once limit is reached; on later pages only the totals move.
// Total never passes the store capacity reported by the last page, since
// the store evicts its oldest record for every insert beyond it.
func Prepend(old View, rec trace.Record, limit int, pinnedID string) View {
	if limit <= 0 {
		limit = old.Pagination.Limit
	}
	if limit <= 0 {
		limit = trace.DefaultPageLimit
	}

	out := View{
		Pagination: old.Pagination,
		Stats:      old.Stats,
		PinnedID:   pinnedID,
	}

	if i := old.indexOf(rec.ID); i >= 0 {
		out.Traces = cloneRecords(old.Traces)
		out.Traces[i] = Overlay(old.Traces[i], rec)
		return keepPinned(out, old)
	}

	// The pinned record lives outside the window; update it where it is
	if old.Pinned != nil && old.Pinned.ID == rec.ID {
		out.Traces = cloneRecords(old.Traces)
		fresh := Overlay(*old.Pinned, rec)
		out.Pinned = &fresh
		return keepPinned(out, old)
	}

	fresh := rec.Clone()
	page := old.Pagination.Page
	if page < 1 {
		page = 1
	}
	total := old.Pagination.Total + 1
	capacity := old.Pagination.Capacity
	if capacity > 0 && total > capacity {
		total = capacity
	}
	out.Pagination = trace.NewPagination(total, page, limit)
	out.Pagination.Capacity = capacity

	// A window holding every resident record loses the evicted one
	keep := min(limit, total)
	out.Traces = make([]trace.Record, 0, keep)
	if page == 1 {
		out.Traces = append(out.Traces, fresh)
	}
	for _, r := range old.Traces {
		if len(out.Traces) >= keep {
			break
		}
		out.Traces = append(out.Traces, r.Clone())
	}

	return keepPinned(out, old)
}

// keepPinned fills out.Pinned, preferring the copy in the new window, then
// one already set on out, then the stale copy from old.
func keepPinned(out View, old View) View {
	if out.PinnedID == "" {
		out.Pinned = nil
		return out
	}

	stale, hadStale := old.Find(out.PinnedID)
	if i := out.indexOf(out.PinnedID); i >= 0 {
		if hadStale {
			out.Traces[i] = Overlay(stale, out.Traces[i])
		}
		p := out.Traces[i].Clone()
		out.Pinned = &p
		return out
	}

	if out.Pinned != nil && out.Pinned.ID == out.PinnedID {
		return out
	}
	if hadStale {
		p := stale.Clone()
		out.Pinned = &p
	}
	return out
}

// Overlay merges two copies of the same record. Every field fresh carries
// wins; stale only fills what fresh leaves empty.
func Overlay(stale, fresh trace.Record) trace.Record {
	out := fresh.Clone()

	if out.Method == "" {
		out.Method = stale.Method
	}
	if out.Path == "" {
		out.Path = stale.Path
	}
	if out.Query == nil {
		out.Query = cloneMap(stale.Query)
	}
	if out.Headers == nil {
		out.Headers = cloneMap(stale.Headers)
	}
	if out.Body == "" && stale.Body != "" {
		out.Body = stale.Body
		out.BodySize = stale.BodySize
		out.BodyTruncated = stale.BodyTruncated
	}
	if out.ContentType == "" {
		out.ContentType = stale.ContentType
	}
	if out.StartTime.IsZero() {
		out.StartTime = stale.StartTime
	}
	if out.EndTime == nil && stale.EndTime != nil {
		end := *stale.EndTime
		out.EndTime = &end
		out.DurationMs = stale.DurationMs
	}
	if out.StatusCode == nil && stale.StatusCode != nil {
		code := *stale.StatusCode
		out.StatusCode = &code
	}
	if out.ResponseHeaders == nil {
		out.ResponseHeaders = cloneMap(stale.ResponseHeaders)
	}
	if out.ResponseBody == "" && stale.ResponseBody != "" {
		out.ResponseBody = stale.ResponseBody
		out.ResponseSize = stale.ResponseSize
		out.ResponseTruncated = stale.ResponseTruncated
	}
	if out.ResponseContentType == "" {
		out.ResponseContentType = stale.ResponseContentType
	}
	if out.Error == "" {
		out.Error = stale.Error
	}
	return out
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
