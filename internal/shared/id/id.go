// Package id provides prefixed, sortable identifiers for the trace pipeline.
//
// Every identifier is a ULID behind a short type prefix:
//   - trc_*: captured exchanges (trace records)
//   - req_*: observer requests correlated with hub replies
//   - ch_*:  hub channels, used in logs only
//
// ULIDs sort by creation time, so ids handed out by one generator order the
// same way the exchanges were observed.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TraceID identifies a captured exchange
type TraceID string

// RequestID identifies an observer request
type RequestID string

// ChannelID identifies a hub channel
type ChannelID string

const (
	TracePrefix   = "trc"
	RequestPrefix = "req"
	ChannelPrefix = "ch"
)

// Generator generates monotonic ULIDs with optional prefixes
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic
// ordering inside the same millisecond.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(rand.Reader)
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests pass a deterministic reader.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: ulid.Monotonic(entropy, 0)}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewTraceID generates a new trace record ID
func NewTraceID() TraceID {
	return TraceID(Default().GenerateWithPrefix(TracePrefix))
}

// NewRequestID generates a new observer request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewChannelID generates a new hub channel ID
func NewChannelID() ChannelID {
	return ChannelID(Default().GenerateWithPrefix(ChannelPrefix))
}

func (id TraceID) String() string   { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id ChannelID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID, with or without a prefix
func IsValid(id string) bool {
	_, err := Parse(id)
	return err == nil
}

// Parse parses a ULID string, stripping a type prefix when present
func Parse(id string) (ulid.ULID, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	return ulid.Parse(id)
}

// Timestamp extracts the creation time from an ID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
