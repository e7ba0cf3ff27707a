package discord

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/mcp"
)

type fakeServer struct {
	name      string
	tools     []mcp.ToolDefinition
	listErr   error
	lastTool  string
	lastArgs  map[string]any
	callEnv   envelope.Envelope
	callCount int
}

func (f *fakeServer) Name() string { return f.name }

func (f *fakeServer) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	return f.tools, f.listErr
}

func (f *fakeServer) CallTool(ctx context.Context, name string, args map[string]any) envelope.Envelope {
	f.callCount++
	f.lastTool = name
	f.lastArgs = args
	return f.callEnv
}

type fakeAsker struct {
	answer string
	err    error
	asked  string
}

func (f *fakeAsker) Ask(ctx context.Context, question string) (string, error) {
	f.asked = question
	return f.answer, f.err
}

type fakeReplier struct {
	channelID string
	content   string
	sends     int
}

func (f *fakeReplier) SendMessage(ctx context.Context, channelID, content string) error {
	f.sends++
	f.channelID = channelID
	f.content = content
	return nil
}

func newTestBridge(servers []ToolCaller, asker Asker) (*Bridge, *fakeReplier) {
	replier := &fakeReplier{}
	b := NewBridge(BridgeConfig{
		Replier: replier,
		Servers: servers,
		Asker:   asker,
		Prefix:  "!",
	})
	return b, replier
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		content  string
		wantOK   bool
		wantName string
		wantRest string
	}{
		{"!tools", true, "tools", ""},
		{"!tools scoreboard", true, "tools", "scoreboard"},
		{`!call scoreboard getMLBTeams {"season": 2025}`, true, "call", `scoreboard getMLBTeams {"season": 2025}`},
		{"!ask who won the Tigers game?", true, "ask", "who won the Tigers game?"},
		{"  !ASK spaced  ", true, "ask", "spaced"},
		{"hello there", false, "", ""},
		{"!", false, "", ""},
		{"", false, "", ""},
	}

	for _, tt := range tests {
		cmd, ok := parseCommand("!", tt.content)
		if ok != tt.wantOK {
			t.Errorf("parseCommand(%q) ok = %v, want %v", tt.content, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if cmd.name != tt.wantName {
			t.Errorf("parseCommand(%q) name = %q, want %q", tt.content, cmd.name, tt.wantName)
		}
		if cmd.rest != tt.wantRest {
			t.Errorf("parseCommand(%q) rest = %q, want %q", tt.content, cmd.rest, tt.wantRest)
		}
	}
}

func TestDispatchTools(t *testing.T) {
	srv := &fakeServer{
		name: "scoreboard",
		tools: []mcp.ToolDefinition{
			{Name: "getMLBTeams", Description: "List MLB teams"},
			{Name: "getScoreboard", Description: "Current scores"},
		},
	}
	b, _ := newTestBridge([]ToolCaller{srv}, nil)

	reply := b.dispatch(context.Background(), command{name: "tools", args: []string{"scoreboard"}})
	if !strings.Contains(reply, "getMLBTeams") || !strings.Contains(reply, "2 tools") {
		t.Errorf("reply = %q", reply)
	}
}

func TestDispatchToolsUnknownServer(t *testing.T) {
	b, _ := newTestBridge(nil, nil)
	reply := b.dispatch(context.Background(), command{name: "tools", args: []string{"nope"}})
	if !strings.Contains(reply, "nope") {
		t.Errorf("reply = %q", reply)
	}
}

func TestDispatchCall(t *testing.T) {
	srv := &fakeServer{
		name:    "scoreboard",
		callEnv: envelope.Success(json.RawMessage(`{"teams": []}`)),
	}
	b, _ := newTestBridge([]ToolCaller{srv}, nil)

	cmd, ok := parseCommand("!", `!call scoreboard getMLBTeams {"season": 2025}`)
	if !ok {
		t.Fatal("parseCommand failed")
	}
	reply := b.dispatch(context.Background(), cmd)

	if srv.lastTool != "getMLBTeams" {
		t.Errorf("tool = %q", srv.lastTool)
	}
	if got := srv.lastArgs["season"]; got != float64(2025) {
		t.Errorf("season = %v", got)
	}
	if !strings.Contains(reply, "```json") {
		t.Errorf("reply = %q", reply)
	}
}

func TestDispatchCallBadJSON(t *testing.T) {
	srv := &fakeServer{name: "scoreboard"}
	b, _ := newTestBridge([]ToolCaller{srv}, nil)

	cmd, _ := parseCommand("!", "!call scoreboard getMLBTeams {not json")
	reply := b.dispatch(context.Background(), cmd)

	if srv.callCount != 0 {
		t.Error("tool was called despite invalid arguments")
	}
	if !strings.Contains(reply, "not valid JSON") {
		t.Errorf("reply = %q", reply)
	}
}

func TestDispatchCallUsage(t *testing.T) {
	b, _ := newTestBridge(nil, nil)
	reply := b.dispatch(context.Background(), command{name: "call", args: []string{"only-server"}})
	if !strings.Contains(reply, "Usage") {
		t.Errorf("reply = %q", reply)
	}
}

func TestDispatchAsk(t *testing.T) {
	asker := &fakeAsker{answer: "The Tigers won."}
	b, _ := newTestBridge(nil, asker)

	reply := b.dispatch(context.Background(), command{name: "ask", rest: "who won?"})
	if reply != "The Tigers won." {
		t.Errorf("reply = %q", reply)
	}
	if asker.asked != "who won?" {
		t.Errorf("asked = %q", asker.asked)
	}
}

func TestDispatchAskError(t *testing.T) {
	asker := &fakeAsker{err: errors.New("model overloaded")}
	b, _ := newTestBridge(nil, asker)

	reply := b.dispatch(context.Background(), command{name: "ask", rest: "q"})
	if !strings.HasPrefix(reply, "ERROR:") {
		t.Errorf("reply = %q", reply)
	}
}

func TestDispatchAskUnconfigured(t *testing.T) {
	b, _ := newTestBridge(nil, nil)
	reply := b.dispatch(context.Background(), command{name: "ask", rest: "q"})
	if !strings.Contains(reply, "No LLM") {
		t.Errorf("reply = %q", reply)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	b, _ := newTestBridge(nil, nil)
	reply := b.dispatch(context.Background(), command{name: "frobnicate"})
	if !strings.Contains(reply, "Unknown command") {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleMessageFiltersBots(t *testing.T) {
	srv := &fakeServer{name: "scoreboard"}
	b, replier := newTestBridge([]ToolCaller{srv}, nil)

	msg := Message{ChannelID: "c1", Content: "!tools"}
	msg.Author.Bot = true
	b.handleMessage(context.Background(), msg)

	if replier.sends != 0 {
		t.Error("replied to a bot message")
	}
}

func TestHandleMessageChannelAllowlist(t *testing.T) {
	replier := &fakeReplier{}
	b := NewBridge(BridgeConfig{
		Replier:  replier,
		Prefix:   "!",
		Channels: []string{"allowed"},
	})

	b.handleMessage(context.Background(), Message{ChannelID: "denied", Content: "!help"})
	if replier.sends != 0 {
		t.Error("replied in a disallowed channel")
	}

	b.handleMessage(context.Background(), Message{ChannelID: "allowed", Content: "!help"})
	if replier.sends != 1 {
		t.Error("did not reply in an allowed channel")
	}
}

func TestRenderEnvelope(t *testing.T) {
	failure := envelope.Failure(envelope.TypeUpstream, "HTTP 503")
	failure.Status = 503
	got := renderEnvelope(failure)
	if !strings.Contains(got, "upstream_error") || !strings.Contains(got, "503") {
		t.Errorf("failure render = %q", got)
	}

	ok := renderEnvelope(envelope.Success(json.RawMessage(`{"a":1}`)))
	if !strings.Contains(ok, "```json") {
		t.Errorf("success render = %q", ok)
	}

	empty := renderEnvelope(envelope.Success(nil))
	if empty != "OK (no data)" {
		t.Errorf("empty render = %q", empty)
	}

	// Oversized payloads are truncated under Discord's limit.
	big := renderEnvelope(envelope.Success(json.RawMessage(
		`"` + strings.Repeat("x", 5000) + `"`)))
	if len(big) > maxMessageLen {
		t.Errorf("render length = %d, exceeds message limit", len(big))
	}
}
