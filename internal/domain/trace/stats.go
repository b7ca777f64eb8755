package trace

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Aggregator derives Stats from a store. It keeps no state of its own, so
// the numbers cannot drift from what the store holds.
type Aggregator struct {
	store *Store
}

// NewAggregator creates an aggregator over store
func NewAggregator(store *Store) *Aggregator {
	return &Aggregator{store: store}
}

// Compute summarises the store's current contents under its read lock.
func (a *Aggregator) Compute() Stats {
	var out Stats
	a.store.view(func(records []*Record) {
		out = summarize(len(records), func(yield func(*Record)) {
			for _, r := range records {
				yield(r)
			}
		})
	})
	return out
}

// Summarize computes Stats over records. It is pure and never returns NaN:
// rates and means over zero completed records are 0.
func Summarize(records []Record) Stats {
	return summarize(len(records), func(yield func(*Record)) {
		for i := range records {
			yield(&records[i])
		}
	})
}

func summarize(total int, each func(func(*Record))) Stats {
	out := EmptyStats()
	out.Total = total

	var (
		durations []float64
		successes int
	)

	each(func(r *Record) {
		if r.Method != "" {
			out.MethodCounts[r.Method]++
		}
		if r.BodyTruncated {
			out.TruncatedBodies++
		}
		if r.ResponseTruncated {
			out.TruncatedResponses++
		}

		if r.Pending() {
			out.Pending++
			return
		}
		out.StatusCounts[*r.StatusCode]++
		if *r.StatusCode < 400 {
			successes++
		}
		durations = append(durations, float64(r.DurationMs))
	})

	completed := len(durations)
	if completed == 0 {
		return out
	}

	out.SuccessRate = float64(successes) / float64(completed) * 100
	out.AvgResponseTime = stat.Mean(durations, nil)

	sort.Float64s(durations)
	out.P50ResponseTime = stat.Quantile(0.5, stat.Empirical, durations, nil)
	out.P95ResponseTime = stat.Quantile(0.95, stat.Empirical, durations, nil)
	return out
}
