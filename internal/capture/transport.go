package capture

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
)

// Transport wraps next so every exchange it carries is recorded: the
// request when it is sent, the response once its body is closed. A body
// closed before its end is recorded as far as it was read and flagged
// truncated.
func (r *Recorder) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &recordingTransport{recorder: r, next: next}
}

type recordingTransport struct {
	recorder *Recorder
	next     http.RoundTripper
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := t.recorder
	if r.Ignored(req.URL.Path) {
		return t.next.RoundTrip(req)
	}

	body, size, err := peekBody(req, r.captureLimit())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rec := requestRecord(req, body, size)
	rec.StartTime = start
	stored := r.store.Record(rec)

	resp, err := t.next.RoundTrip(req)
	end := time.Now()
	if err != nil {
		r.store.Complete(stored.ID, trace.Completion{
			StatusCode: http.StatusBadGateway,
			Error:      err.Error(),
			EndTime:    end,
		})
		r.log.Debug("Upstream failed", zap.String("trace_id", stored.ID), zap.Error(err))
		return nil, err
	}

	respCapture := &cappedBuffer{max: r.captureLimit()}
	headers := flattenHeader(resp.Header)
	status := resp.StatusCode
	contentType := resp.Header.Get("Content-Type")
	declared := resp.ContentLength
	resp.Body = &observedBody{
		reader: io.TeeReader(resp.Body, respCapture),
		closer: resp.Body,
		emit: func(complete bool) {
			size := respCapture.total
			if !complete && declared > size {
				size = declared
			}
			r.store.Complete(stored.ID, trace.Completion{
				StatusCode:  status,
				Headers:     headers,
				Body:        respCapture.String(),
				Size:        int(size),
				Partial:     !complete,
				ContentType: contentType,
				EndTime:     end,
			})
		},
	}
	return resp, nil
}

// peekBody reads up to limit bytes of the request body and puts them back
// in front of the rest, so the upstream still gets the full stream.
func peekBody(req *http.Request, limit int) ([]byte, int64, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, 0, nil
	}

	var prefix []byte
	var err error
	if limit < 0 {
		prefix, err = io.ReadAll(req.Body)
	} else {
		prefix, err = io.ReadAll(io.LimitReader(req.Body, int64(limit)))
	}
	if err != nil {
		return nil, 0, err
	}

	req.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(prefix), req.Body),
		Closer: req.Body,
	}

	size := int64(len(prefix))
	if req.ContentLength > size {
		size = req.ContentLength
	}
	return prefix, size, nil
}

// cappedBuffer keeps up to max bytes written to it and counts the rest.
// A negative max keeps everything.
type cappedBuffer struct {
	buf   bytes.Buffer
	max   int
	total int64
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.total += int64(n)
	if b.max < 0 {
		b.buf.Write(p)
		return n, nil
	}
	if remaining := b.max - b.buf.Len(); remaining > 0 {
		if n > remaining {
			p = p[:remaining]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}

// observedBody completes the trace once the proxy is done with the body.
// Close never drains: a streaming upstream may not end on its own.
type observedBody struct {
	reader io.Reader
	closer io.Closer
	emit   func(complete bool)
	once   sync.Once
	eof    atomic.Bool
}

func (b *observedBody) Read(p []byte) (int, error) {
	n, err := b.reader.Read(p)
	if err == io.EOF {
		b.eof.Store(true)
	}
	return n, err
}

func (b *observedBody) Close() error {
	err := b.closer.Close()
	b.once.Do(func() { b.emit(b.eof.Load()) })
	return err
}

type readCloser struct {
	io.Reader
	io.Closer
}
