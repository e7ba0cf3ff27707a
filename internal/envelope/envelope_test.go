package envelope

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSuccessFailureDiscriminant(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"success with payload", Success(map[string]any{"teams": []string{}})},
		{"success nil payload", Success(nil)},
		{"success raw payload", Success(json.RawMessage(`{"count":0}`))},
		{"failure", Failure(TypeTool, "Method not found")},
		{"upstream failure", Failure(TypeUpstream, "HTTP 502")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.env.Valid() {
				t.Errorf("envelope not valid: %+v", tt.env)
			}
			// Exactly one of data/ok=true or message/ok=false holds.
			if tt.env.OK && tt.env.Message != "" {
				t.Error("ok envelope carries a message")
			}
			if !tt.env.OK && len(tt.env.Data) != 0 {
				t.Error("failed envelope carries data")
			}
		})
	}
}

func TestErr(t *testing.T) {
	if err := Success(nil).Err(); err != nil {
		t.Errorf("Success.Err() = %v, want nil", err)
	}

	err := Failure(TypeProtocol, "handshake rejected").Err()
	if err == nil {
		t.Fatal("Failure.Err() = nil, want error")
	}
	if !strings.Contains(err.Error(), "handshake rejected") {
		t.Errorf("Err() = %q, want handshake message", err)
	}
	if !strings.Contains(err.Error(), TypeProtocol) {
		t.Errorf("Err() = %q, want error type prefix", err)
	}
}

func TestDecodeAdoptsConvention(t *testing.T) {
	raw := []byte(`{"ok":true,"data":{"teams":[],"count":0}}`)
	env := Decode(raw)

	if !env.OK {
		t.Fatalf("OK = false, want true: %+v", env)
	}

	var payload struct {
		Teams []string `json:"teams"`
		Count int      `json:"count"`
	}
	if err := env.DecodeData(&payload); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if payload.Count != 0 || payload.Teams == nil {
		t.Errorf("payload = %+v, want empty teams and count 0", payload)
	}
}

func TestDecodeAdoptsFailure(t *testing.T) {
	raw := []byte(`{"ok":false,"message":"no such season","error_type":"tool_error"}`)
	env := Decode(raw)

	if env.OK {
		t.Fatal("OK = true, want false")
	}
	if env.Message != "no such season" {
		t.Errorf("Message = %q", env.Message)
	}
	if env.ErrorType != TypeTool {
		t.Errorf("ErrorType = %q, want %q", env.ErrorType, TypeTool)
	}
}

func TestDecodeWrapsForeignJSON(t *testing.T) {
	raw := []byte(`{"teams":["NYY","BOS"]}`)
	env := Decode(raw)

	if !env.OK {
		t.Fatalf("OK = false, want true")
	}
	var payload map[string][]string
	if err := env.DecodeData(&payload); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if len(payload["teams"]) != 2 {
		t.Errorf("teams = %v, want 2 entries", payload["teams"])
	}
}

func TestDecodeWrapsPlainText(t *testing.T) {
	env := Decode([]byte("game postponed due to rain"))

	if !env.OK {
		t.Fatalf("OK = false, want true")
	}
	var s string
	if err := env.DecodeData(&s); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if s != "game postponed due to rain" {
		t.Errorf("payload = %q", s)
	}
}

func TestMarshalOmitsUnusedSide(t *testing.T) {
	data, err := json.Marshal(Failure(TypeRequest, "dial tcp: timeout"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["data"]; ok {
		t.Error("failed envelope serialized a data field")
	}
	if m["error_type"] != TypeRequest {
		t.Errorf("error_type = %v", m["error_type"])
	}

	data, err = json.Marshal(Success(json.RawMessage(`1`)))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m = nil
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["message"]; ok {
		t.Error("ok envelope serialized a message field")
	}
}

func TestNewMeta(t *testing.T) {
	m := NewMeta("espn")
	if m.RequestID == "" {
		t.Error("RequestID is empty")
	}
	if m.Source != "espn" {
		t.Errorf("Source = %q", m.Source)
	}
	if m.FetchedAt.IsZero() {
		t.Error("FetchedAt is zero")
	}

	// Distinct metas get distinct request IDs.
	if NewMeta("espn").RequestID == m.RequestID {
		t.Error("request IDs collide")
	}
}

func TestWithMeta(t *testing.T) {
	m := NewMeta("odds")
	env := Success(json.RawMessage(`[]`)).WithMeta(m)
	if env.Meta == nil || env.Meta.Source != "odds" {
		t.Errorf("Meta = %+v", env.Meta)
	}

	// Failure envelopes do not carry meta.
	fail := Failure(TypeUpstream, "HTTP 500").WithMeta(m)
	if fail.Meta != nil {
		t.Error("failure envelope carries meta")
	}
}
