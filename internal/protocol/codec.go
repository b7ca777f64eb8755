package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/tracehub/internal/domain/trace"
)

var (
	// ErrMalformed means the frame is not a valid envelope or its payload
	// does not fit the declared type.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType means the envelope parsed but names no known variant.
	ErrUnknownType = errors.New("unknown message type")
)

// std matches encoding/json output so non-Go observers see the usual shape.
var std = sonic.ConfigStd

// Envelope is the frame shared by both directions.
type Envelope struct {
	Type      Type            `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Marshal encodes any value with the protocol's JSON configuration.
func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

// Unmarshal decodes data with the protocol's JSON configuration.
func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

// DecodeEnvelope parses the outer frame only.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := std.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// DecodeRequest validates an incoming client frame. The envelope is returned
// whenever it parsed, even alongside an error, so the caller can still tag an
// error reply with the request id.
func DecodeRequest(data []byte) (Request, Envelope, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, env, err
	}

	params := env.Params
	if len(params) == 0 {
		params = env.Data
	}

	var req Request
	switch env.Type {
	case TypeGetTraces:
		var r GetTraces
		err = decodeParams(params, &r)
		req = r
	case TypeGetTrace:
		var r GetTrace
		if err = decodeParams(params, &r); err == nil && r.ID == "" {
			err = fmt.Errorf("%w: getTrace requires an id", ErrMalformed)
		}
		req = r
	case TypeGetStats:
		req = GetStats{}
	case TypeClearTraces:
		req = ClearTraces{}
	case TypePing:
		req = Ping{}
	default:
		return nil, env, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, env, err
	}
	return req, env, nil
}

// EncodeRequest frames a request for the wire.
func EncodeRequest(req Request, requestID, clientID string) ([]byte, error) {
	env := Envelope{
		Type:      req.RequestType(),
		RequestID: requestID,
		ClientID:  clientID,
		Timestamp: time.Now().UnixMilli(),
	}
	switch req.(type) {
	case GetTraces, GetTrace:
		params, err := std.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", env.Type, err)
		}
		env.Params = params
	}
	return std.Marshal(env)
}

// EncodeEvent frames an event for the wire. requestID is empty for
// broadcasts.
func EncodeEvent(ev Event, requestID string) ([]byte, error) {
	env := Envelope{
		Type:      ev.EventType(),
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}

	var payload any
	switch e := ev.(type) {
	case Traces:
		payload = e.Page
	case Trace:
		payload = e.Record
	case Stats:
		payload = e.Stats
	case NewTrace:
		payload = e.Record
	case Error:
		env.Message = e.Message
	}

	if payload != nil {
		data, err := std.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", env.Type, err)
		}
		env.Data = data
	}
	return std.Marshal(env)
}

// DecodeEvent parses a server frame into its variant.
func DecodeEvent(data []byte) (Event, Envelope, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, env, err
	}

	var ev Event
	switch env.Type {
	case TypeTraces:
		var page trace.Page
		err = decodeData(env.Data, &page)
		if page.Traces == nil {
			page.Traces = []trace.Record{}
		}
		ev = Traces{Page: page}
	case TypeTrace:
		var rec trace.Record
		err = decodeData(env.Data, &rec)
		ev = Trace{Record: rec}
	case TypeStats:
		stats := trace.EmptyStats()
		err = decodeData(env.Data, &stats)
		ev = Stats{Stats: stats}
	case TypeNewTrace:
		var rec trace.Record
		err = decodeData(env.Data, &rec)
		ev = NewTrace{Record: rec}
	case TypeTracesCleared:
		ev = TracesCleared{}
	case TypePong:
		ev = Pong{}
	case TypeError:
		ev = Error{Message: env.Message}
	default:
		return nil, env, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, env, err
	}
	return ev, env, nil
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := std.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: params: %v", ErrMalformed, err)
	}
	return nil
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformed)
	}
	if err := std.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformed, err)
	}
	return nil
}
