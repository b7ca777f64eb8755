package protocol

import "github.com/GriffinCanCode/tracehub/internal/domain/trace"

// Type is the discriminator carried in every envelope.
type Type string

// Client to server
const (
	TypeGetTraces   Type = "getTraces"
	TypeGetTrace    Type = "getTrace"
	TypeGetStats    Type = "getStats"
	TypeClearTraces Type = "clearTraces"
	TypePing        Type = "ping"
)

// Server to client
const (
	TypeTraces        Type = "traces"
	TypeTrace         Type = "trace"
	TypeStats         Type = "stats"
	TypeTracesCleared Type = "tracesCleared"
	TypeNewTrace      Type = "newTrace"
	TypePong          Type = "pong"
	TypeError         Type = "error"
)

// Request is one of the client to server variants.
type Request interface {
	RequestType() Type
}

// Event is one of the server to client variants.
type Event interface {
	EventType() Type
}

// GetTraces asks for one page of records.
type GetTraces struct {
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// GetTrace asks for a single record.
type GetTrace struct {
	ID string `json:"id"`
}

// GetStats asks for the current summary.
type GetStats struct{}

// ClearTraces empties the store.
type ClearTraces struct{}

// Ping is a liveness check.
type Ping struct{}

func (GetTraces) RequestType() Type   { return TypeGetTraces }
func (GetTrace) RequestType() Type    { return TypeGetTrace }
func (GetStats) RequestType() Type    { return TypeGetStats }
func (ClearTraces) RequestType() Type { return TypeClearTraces }
func (Ping) RequestType() Type        { return TypePing }

// Traces is the reply to GetTraces.
type Traces struct {
	trace.Page
}

// Trace is the reply to GetTrace. Untagged, it is broadcast when a resident
// record changes.
type Trace struct {
	Record trace.Record
}

// Stats is the reply to GetStats and the periodic push.
type Stats struct {
	trace.Stats
}

// TracesCleared is the reply to ClearTraces and is also broadcast.
type TracesCleared struct{}

// NewTrace is broadcast whenever a record is added to the store.
type NewTrace struct {
	Record trace.Record
}

// Pong is the reply to Ping.
type Pong struct{}

// Error reports a request the server could not serve.
type Error struct {
	Message string
}

func (Traces) EventType() Type        { return TypeTraces }
func (Trace) EventType() Type         { return TypeTrace }
func (Stats) EventType() Type         { return TypeStats }
func (TracesCleared) EventType() Type { return TypeTracesCleared }
func (NewTrace) EventType() Type      { return TypeNewTrace }
func (Pong) EventType() Type          { return TypePong }
func (Error) EventType() Type         { return TypeError }

// ResponseType returns the event type that answers a request type, or ""
// when the type is not a request.
func ResponseType(t Type) Type {
	switch t {
	case TypeGetTraces:
		return TypeTraces
	case TypeGetTrace:
		return TypeTrace
	case TypeGetStats:
		return TypeStats
	case TypeClearTraces:
		return TypeTracesCleared
	case TypePing:
		return TypePong
	default:
		return ""
	}
}

// IsRequest reports whether t is a known client to server type.
func IsRequest(t Type) bool {
	return ResponseType(t) != ""
}
