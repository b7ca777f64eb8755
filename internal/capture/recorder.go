package capture

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
	"github.com/GriffinCanCode/tracehub/internal/infrastructure/logging"
)

// Recorder turns proxied exchanges into trace records.
type Recorder struct {
	store  *trace.Store
	ignore []string
	log    *logging.Logger
}

// NewRecorder creates a recorder feeding store. Requests whose path matches
// any of the doublestar globs in ignore are forwarded but not recorded.
func NewRecorder(store *trace.Store, ignore []string, log *logging.Logger) (*Recorder, error) {
	for _, pattern := range ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q", pattern)
		}
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Recorder{
		store:  store,
		ignore: append([]string(nil), ignore...),
		log:    log.Component("capture"),
	}, nil
}

// Ignored reports whether path matches an ignore glob
func (r *Recorder) Ignored(path string) bool {
	for _, pattern := range r.ignore {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// captureLimit is how many body bytes to keep. One byte past the store's
// ceiling is enough for the store to flag the cut.
func (r *Recorder) captureLimit() int {
	ceiling := r.store.MaxBodyBytes()
	if ceiling <= 0 {
		return -1
	}
	return ceiling + 1
}

// requestRecord describes the request half of an exchange
func requestRecord(req *http.Request, body []byte, size int64) trace.Record {
	rec := trace.Record{
		Method:  req.Method,
		Path:    req.URL.Path,
		Query:   flattenQuery(req.URL.Query()),
		Headers: flattenHeader(req.Header),
		Body:    string(body),
	}
	if size > 0 {
		rec.BodySize = int(size)
	}
	return rec
}

func flattenHeader(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

func flattenQuery(q url.Values) map[string]string {
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k, v := range q {
		out[k] = strings.Join(v, ",")
	}
	return out
}
