// Package envelope defines the tagged success/failure result envelope
// used uniformly for tool calls and upstream API fetches.
//
// An envelope is a tagged union: when OK is true, Data carries the
// payload; when OK is false, Message and ErrorType describe the failure.
// Exactly one side is ever meaningful. The same wire shape
// ({"ok": bool, "data"|"message": ...}) is what well-behaved tool
// servers place inside their text content, so Decode can recognize and
// pass those through without double wrapping.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error type discriminants carried on failure envelopes.
const (
	TypeConnection = "connection_error"
	TypeProtocol   = "protocol_error"
	TypeTool       = "tool_error"
	TypeUpstream   = "upstream_error"
	TypeRequest    = "request_error"
	TypeInternal   = "internal_error"
)

// Meta carries request provenance on success envelopes.
type Meta struct {
	RequestID string    `json:"request_id,omitempty"`
	Source    string    `json:"source,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitzero"`
}

// Envelope is the application-level result wrapper. OK is the
// discriminant: true means Data is the payload, false means Message
// and ErrorType describe the failure.
type Envelope struct {
	OK   bool            `json:"ok"`
	Data json.RawMessage `json:"data,omitempty"`
	Meta *Meta           `json:"meta,omitempty"`

	Message   string `json:"message,omitempty"`
	ErrorType string `json:"error_type,omitempty"`

	// Status and BodyExcerpt are set on upstream_error envelopes so
	// callers can report the HTTP failure without re-fetching.
	Status      int    `json:"status,omitempty"`
	BodyExcerpt string `json:"body_excerpt,omitempty"`
}

// NewMeta builds a Meta with a fresh request ID and the current time.
func NewMeta(source string) *Meta {
	return &Meta{
		RequestID: uuid.NewString(),
		Source:    source,
		FetchedAt: time.Now().UTC(),
	}
}

// Success wraps a payload in an ok envelope. v may be a json.RawMessage
// (used as-is), or any value marshalable to JSON. A marshal failure
// degrades to an internal_error envelope rather than panicking.
func Success(v any) Envelope {
	switch data := v.(type) {
	case nil:
		return Envelope{OK: true}
	case json.RawMessage:
		return Envelope{OK: true, Data: data}
	case []byte:
		return Envelope{OK: true, Data: json.RawMessage(data)}
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return Failure(TypeInternal, fmt.Sprintf("marshal payload: %v", err))
		}
		return Envelope{OK: true, Data: raw}
	}
}

// Failure builds a failed envelope with the given error type and message.
func Failure(errorType, message string) Envelope {
	return Envelope{OK: false, ErrorType: errorType, Message: message}
}

// Err returns the envelope's failure as an error, or nil if OK.
func (e Envelope) Err() error {
	if e.OK {
		return nil
	}
	return fmt.Errorf("%s: %s", e.ErrorType, e.Message)
}

// Valid reports whether the envelope honors the tagged-union invariant:
// an ok envelope has no failure fields, a failed envelope has a message
// and no data.
func (e Envelope) Valid() bool {
	if e.OK {
		return e.Message == "" && e.ErrorType == ""
	}
	return e.Message != "" && len(e.Data) == 0
}

// DecodeData unmarshals the success payload into v.
func (e Envelope) DecodeData(v any) error {
	if !e.OK {
		return fmt.Errorf("cannot decode data from failed envelope: %s", e.Message)
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope has no data")
	}
	return json.Unmarshal(e.Data, v)
}

// WithMeta returns a copy of the envelope carrying m. Failure envelopes
// are returned unchanged; meta describes successful fetches only.
func (e Envelope) WithMeta(m *Meta) Envelope {
	if e.OK {
		e.Meta = m
	}
	return e
}

// Decode interprets raw bytes as an envelope. If the bytes already
// follow the ok/data|message convention they are adopted directly;
// any other JSON value is wrapped as the data of a fresh ok envelope.
// Non-JSON text is wrapped as a JSON string payload so callers always
// receive a parsed structure, never a raw string to re-parse.
func Decode(raw []byte) Envelope {
	var probe struct {
		OK *bool `json:"ok"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.OK != nil {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err == nil {
			return env
		}
	}

	if json.Valid(raw) {
		return Success(json.RawMessage(raw))
	}

	// Plain text payload: carry it as a JSON string.
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return Failure(TypeInternal, fmt.Sprintf("encode text payload: %v", err))
	}
	return Success(json.RawMessage(quoted))
}
