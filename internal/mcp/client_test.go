package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/pressbox/pressbox/internal/envelope"
)

// mockTransport is a test double for the Transport interface.
type mockTransport struct {
	mu        sync.Mutex
	responses map[string]*Response // method -> canned response
	sendErr   map[string]error     // method -> transport-level failure
	sent      []Request            // captured requests
	notifs    []Notification       // captured notifications
	handshake bool
	started   bool
	closed    int
	fixedID   *int64 // when set, responses carry this id instead of echoing
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		responses: make(map[string]*Response),
		sendErr:   make(map[string]error),
		handshake: true,
	}
}

func (m *mockTransport) addResponse(method string, result any) {
	data, _ := json.Marshal(result)
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Result:  json.RawMessage(data),
	}
}

func (m *mockTransport) addRawResponse(method string, result string) {
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Result:  json.RawMessage(result),
	}
}

func (m *mockTransport) addError(method string, code int, msg string) {
	m.responses[method] = &Response{
		JSONRPC: jsonrpcVersion,
		Error:   &RPCError{Code: code, Message: msg},
	}
}

func (m *mockTransport) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *mockTransport) NeedsHandshake() bool { return m.handshake }

func (m *mockTransport) Send(_ context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, *req)
	if err := m.sendErr[req.Method]; err != nil {
		return nil, err
	}
	resp, ok := m.responses[req.Method]
	if !ok {
		return nil, fmt.Errorf("unexpected method: %s", req.Method)
	}
	// Copy response and set matching ID.
	out := *resp
	out.ID = req.ID
	if m.fixedID != nil {
		out.ID = *m.fixedID
	}
	return &out, nil
}

func (m *mockTransport) Notify(_ context.Context, notif *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifs = append(m.notifs, *notif)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func initResponse() initializeResult {
	return initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo:      serverInfo{Name: "test-server", Version: "1.0.0"},
	}
}

func TestClient_Connect_Handshake(t *testing.T) {
	mt := newMockTransport()
	mt.addResponse("initialize", initResponse())

	client := NewClient("test", mt, nil, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if !mt.started {
		t.Error("transport was not started")
	}

	// Verify the initialize request was sent.
	if len(mt.sent) != 1 {
		t.Fatalf("sent %d requests, want 1", len(mt.sent))
	}
	if mt.sent[0].Method != "initialize" {
		t.Errorf("method = %q, want %q", mt.sent[0].Method, "initialize")
	}

	// Verify the initialized notification was sent.
	if len(mt.notifs) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(mt.notifs))
	}
	if mt.notifs[0].Method != "notifications/initialized" {
		t.Errorf("notification method = %q, want %q", mt.notifs[0].Method, "notifications/initialized")
	}

	client.mu.RLock()
	defer client.mu.RUnlock()
	if client.serverName != "test-server" {
		t.Errorf("serverName = %q, want %q", client.serverName, "test-server")
	}
}

func TestClient_Connect_SkipsHandshakeForStatelessTransport(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false

	client := NewClient("test", mt, nil, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if len(mt.sent) != 0 {
		t.Errorf("sent %d requests, want 0 (no handshake)", len(mt.sent))
	}
}

func TestClient_Initialize_RPCErrorIsProtocolFailure(t *testing.T) {
	mt := newMockTransport()
	mt.addError("initialize", -32600, "unsupported protocol version")

	client := NewClient("test", mt, nil, nil)
	err := client.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect succeeded, want protocol error")
	}

	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Kind != KindProtocol {
		t.Errorf("error = %v, want KindProtocol *Error", err)
	}
}

func TestClient_SequentialIDs(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false
	mt.addRawResponse("tools/call", `{"content":[{"type":"text","text":"{}"}]}`)

	client := NewClient("test", mt, nil, nil)

	// The n-th request's id equals n, 1-indexed.
	for n := 1; n <= 5; n++ {
		env := client.CallTool(context.Background(), "getScoreboard", nil)
		if !env.OK {
			t.Fatalf("call %d failed: %s", n, env.Message)
		}
	}

	if len(mt.sent) != 5 {
		t.Fatalf("sent %d requests, want 5", len(mt.sent))
	}
	for i, req := range mt.sent {
		if req.ID != int64(i+1) {
			t.Errorf("request %d has id %d, want %d", i, req.ID, i+1)
		}
	}
}

func TestClient_RejectsMismatchedResponseID(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false
	mt.addRawResponse("tools/call", `{"content":[]}`)
	wrong := int64(99)
	mt.fixedID = &wrong

	client := NewClient("test", mt, nil, nil)
	env := client.CallTool(context.Background(), "getScoreboard", nil)

	if env.OK {
		t.Fatal("call succeeded despite mismatched response id")
	}
	if env.ErrorType != envelope.TypeProtocol {
		t.Errorf("ErrorType = %q, want %q", env.ErrorType, envelope.TypeProtocol)
	}
}

// TestClient_CallTool_UnwrapsNestedJSON is the literal success scenario:
// the doubly-nested JSON-string payload comes back fully parsed.
func TestClient_CallTool_UnwrapsNestedJSON(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false
	mt.addRawResponse("tools/call",
		`{"content":[{"type":"text","text":"{\"ok\":true,\"data\":{\"teams\":[],\"count\":0}}"}]}`)

	client := NewClient("test", mt, nil, nil)
	env := client.CallTool(context.Background(), "getMLBTeams", map[string]any{"season": 2025})

	if !env.OK {
		t.Fatalf("env = %+v, want ok", env)
	}

	var payload struct {
		Teams []any `json:"teams"`
		Count int   `json:"count"`
	}
	if err := env.DecodeData(&payload); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if payload.Count != 0 {
		t.Errorf("count = %d, want 0", payload.Count)
	}
	if payload.Teams == nil || len(payload.Teams) != 0 {
		t.Errorf("teams = %v, want empty array", payload.Teams)
	}

	// The request carried the tool name and arguments.
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	raw, _ := json.Marshal(mt.sent[0].Params)
	if err := json.Unmarshal(raw, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.Name != "getMLBTeams" {
		t.Errorf("params.name = %q", params.Name)
	}
	if params.Arguments["season"] != float64(2025) {
		t.Errorf("params.arguments = %v", params.Arguments)
	}
}

// TestClient_CallTool_RPCErrorPassthrough is the literal error scenario:
// a JSON-RPC error surfaces as a failure envelope carrying the server's
// message, with no attempt to parse a nonexistent result.content.
func TestClient_CallTool_RPCErrorPassthrough(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false
	mt.addError("tools/call", -32601, "Method not found")

	client := NewClient("test", mt, nil, nil)
	env := client.CallTool(context.Background(), "nonexistent", nil)

	if env.OK {
		t.Fatal("env.OK = true, want failure")
	}
	if env.Message != "Method not found" {
		t.Errorf("Message = %q, want server message", env.Message)
	}
	if env.ErrorType != envelope.TypeTool {
		t.Errorf("ErrorType = %q, want %q", env.ErrorType, envelope.TypeTool)
	}
	if !env.Valid() {
		t.Errorf("envelope violates discriminant invariant: %+v", env)
	}
}

func TestClient_CallTool_NonJSONTextKeptAsString(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false
	mt.addRawResponse("tools/call", `{"content":[{"type":"text","text":"rain delay"}]}`)

	client := NewClient("test", mt, nil, nil)
	env := client.CallTool(context.Background(), "getStatus", nil)

	if !env.OK {
		t.Fatalf("env = %+v, want ok", env)
	}
	var s string
	if err := env.DecodeData(&s); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if s != "rain delay" {
		t.Errorf("payload = %q", s)
	}
}

func TestClient_CallTool_IsErrorResult(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false
	mt.addRawResponse("tools/call",
		`{"content":[{"type":"text","text":"season 1876 not supported"}],"isError":true}`)

	client := NewClient("test", mt, nil, nil)
	env := client.CallTool(context.Background(), "getMLBTeams", map[string]any{"season": 1876})

	if env.OK {
		t.Fatal("env.OK = true, want failure")
	}
	if env.Message != "season 1876 not supported" {
		t.Errorf("Message = %q", env.Message)
	}
	if env.ErrorType != envelope.TypeTool {
		t.Errorf("ErrorType = %q", env.ErrorType)
	}
}

// Servers sometimes report errors with no text at all. The failure
// envelope must still carry a message or it fails its own invariant.
func TestClient_CallTool_EmptyErrorMessageFilled(t *testing.T) {
	t.Run("rpc error", func(t *testing.T) {
		mt := newMockTransport()
		mt.handshake = false
		mt.addError("tools/call", -32603, "")

		client := NewClient("test", mt, nil, nil)
		env := client.CallTool(context.Background(), "getScoreboard", nil)

		if env.OK {
			t.Fatal("env.OK = true, want failure")
		}
		if env.Message != "jsonrpc error -32603" {
			t.Errorf("Message = %q, want code fallback", env.Message)
		}
		if env.ErrorType != envelope.TypeTool {
			t.Errorf("ErrorType = %q, want %q", env.ErrorType, envelope.TypeTool)
		}
		if !env.Valid() {
			t.Errorf("envelope violates discriminant invariant: %+v", env)
		}
	})

	t.Run("isError with empty text", func(t *testing.T) {
		mt := newMockTransport()
		mt.handshake = false
		mt.addRawResponse("tools/call",
			`{"content":[{"type":"text","text":""}],"isError":true}`)

		client := NewClient("test", mt, nil, nil)
		env := client.CallTool(context.Background(), "getScoreboard", nil)

		if env.OK {
			t.Fatal("env.OK = true, want failure")
		}
		if env.Message == "" {
			t.Error("Message is empty, want fallback text")
		}
		if !env.Valid() {
			t.Errorf("envelope violates discriminant invariant: %+v", env)
		}
	})
}

func TestClient_CallTool_EmptyContentIsSuccess(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false
	mt.addRawResponse("tools/call", `{"content":[]}`)

	client := NewClient("test", mt, nil, nil)
	env := client.CallTool(context.Background(), "getOdds", nil)

	if !env.OK {
		t.Fatalf("env = %+v, want ok with no data", env)
	}
	if len(env.Data) != 0 {
		t.Errorf("Data = %s, want empty", env.Data)
	}
}

// TestClient_CallTool_DiscriminantInvariant checks that every envelope
// CallTool produces is a well-formed tagged union.
func TestClient_CallTool_DiscriminantInvariant(t *testing.T) {
	cases := map[string]func(*mockTransport){
		"success": func(m *mockTransport) {
			m.addRawResponse("tools/call", `{"content":[{"type":"text","text":"{\"x\":1}"}]}`)
		},
		"rpc error": func(m *mockTransport) { m.addError("tools/call", -32603, "internal error") },
		"isError": func(m *mockTransport) {
			m.addRawResponse("tools/call", `{"content":[{"type":"text","text":"boom"}],"isError":true}`)
		},
		"transport error": func(m *mockTransport) { m.sendErr["tools/call"] = connErr("broken pipe", errors.New("EPIPE")) },
		"empty content":   func(m *mockTransport) { m.addRawResponse("tools/call", `{"content":[]}`) },
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			mt := newMockTransport()
			mt.handshake = false
			setup(mt)

			env := NewClient("test", mt, nil, nil).CallTool(context.Background(), "anything", nil)
			if !env.Valid() {
				t.Errorf("envelope violates discriminant invariant: %+v", env)
			}
		})
	}
}

// TestClient_TransportFailureDoesNotCorruptIDs covers transport-failure
// isolation: a failed call advances the counter but later calls still
// correlate correctly.
func TestClient_TransportFailureDoesNotCorruptIDs(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false
	mt.sendErr["tools/call"] = connErr("timeout", context.DeadlineExceeded)

	client := NewClient("test", mt, nil, nil)

	env := client.CallTool(context.Background(), "getOdds", nil)
	if env.OK {
		t.Fatal("call succeeded, want transport failure")
	}
	if env.ErrorType != envelope.TypeConnection {
		t.Errorf("ErrorType = %q, want %q", env.ErrorType, envelope.TypeConnection)
	}

	// Clear the fault; the next call uses the next id.
	delete(mt.sendErr, "tools/call")
	mt.addRawResponse("tools/call", `{"content":[]}`)

	env = client.CallTool(context.Background(), "getOdds", nil)
	if !env.OK {
		t.Fatalf("second call failed: %s", env.Message)
	}
	if got := mt.sent[len(mt.sent)-1].ID; got != 2 {
		t.Errorf("second request id = %d, want 2", got)
	}
}

func TestClient_ListTools(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false
	mt.addResponse("tools/list", toolsListResult{
		Tools: []ToolDefinition{
			{Name: "getMLBTeams", Description: "List MLB teams", InputSchema: map[string]any{"type": "object"}},
			{Name: "getScoreboard", Description: "Live scoreboard"},
		},
	})

	client := NewClient("test", mt, nil, nil)
	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	if tools[0].Name != "getMLBTeams" {
		t.Errorf("tools[0].Name = %q", tools[0].Name)
	}

	// Second call should return cached results without another request.
	if _, err := client.ListTools(context.Background()); err != nil {
		t.Fatalf("ListTools (cached): %v", err)
	}
	if len(mt.sent) != 1 {
		t.Errorf("sent %d requests, want 1 (cached)", len(mt.sent))
	}
}

func TestClient_ListTools_EmptyIsSuccess(t *testing.T) {
	mt := newMockTransport()
	mt.handshake = false
	mt.addRawResponse("tools/list", `{"tools":[]}`)

	client := NewClient("test", mt, nil, nil)
	tools, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if tools == nil || len(tools) != 0 {
		t.Errorf("tools = %v, want empty non-nil slice", tools)
	}
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	mt := newMockTransport()
	client := NewClient("test", mt, nil, nil)

	// Never connected: still a no-op, no panic.
	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := client.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if mt.closed != 2 {
		t.Errorf("transport Close called %d times, want 2", mt.closed)
	}
}

func TestClient_Name(t *testing.T) {
	client := NewClient("scoreboard", newMockTransport(), nil, nil)
	if got := client.Name(); got != "scoreboard" {
		t.Errorf("Name() = %q, want %q", got, "scoreboard")
	}
}
