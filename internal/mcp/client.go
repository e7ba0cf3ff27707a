package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pressbox/pressbox/internal/buildinfo"
	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/events"
)

// protocolVersion is the MCP protocol version we advertise during initialization.
const protocolVersion = "2024-11-05"

// ToolDefinition is an MCP tool as returned by tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// callToolResult is the result payload of a tools/call response.
type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// serverCapabilities describes what an MCP server supports.
type serverCapabilities struct {
	Tools *struct{} `json:"tools,omitempty"`
}

// initializeResult is the full initialize response result.
type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	ServerInfo      serverInfo         `json:"serverInfo"`
	Capabilities    serverCapabilities `json:"capabilities"`
}

// Client connects to a single MCP server and provides typed access to
// the MCP protocol operations (initialize, tools/list, tools/call).
//
// A client issues strictly sequential requests correlated by a
// monotonically increasing id; it never has two calls in flight.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	bus       *events.Bus
	nextID    atomic.Int64

	mu         sync.RWMutex
	connected  bool
	serverName string
	serverVer  string
	tools      []ToolDefinition
}

// NewClient creates an MCP client for the given server. The transport
// determines how messages are delivered (stdio, HTTP, or SSE). The bus
// may be nil; event publishing is nil-safe.
func NewClient(name string, transport Transport, bus *events.Bus, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		name:      name,
		transport: transport,
		bus:       bus,
		logger:    logger.With("mcp_server", name),
	}
	c.nextID.Store(0)
	return c
}

// Name returns the server name this client is connected to.
func (c *Client) Name() string {
	return c.name
}

// Connect acquires the transport and, for transports that require it,
// performs the MCP handshake. Connect failures surface with the
// connection kind; handshake failures with the protocol kind.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Start(ctx); err != nil {
		var cerr *Error
		if errors.As(err, &cerr) {
			return err
		}
		return connErr("establish transport", err)
	}

	if c.transport.NeedsHandshake() {
		if err := c.Initialize(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Initialize performs the MCP handshake: sends an initialize request
// and then the notifications/initialized notification. A JSON-RPC
// error during the handshake is a protocol failure.
func (c *Client) Initialize(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "pressbox",
			"version": buildinfo.Version,
		},
	}

	resp, err := c.send(ctx, "initialize", params)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return protoErr("initialize rejected", rpcErr)
		}
		return fmt.Errorf("initialize: %w", err)
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return protoErr("unmarshal initialize result", err)
	}

	c.mu.Lock()
	c.serverName = result.ServerInfo.Name
	c.serverVer = result.ServerInfo.Version
	c.mu.Unlock()

	c.logger.Info("MCP server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	// Send the initialized notification to complete the handshake.
	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}

	return nil
}

// ListTools calls tools/list and returns the available tool definitions.
// An empty tools array is success with no tools, not an error. Results
// are cached; subsequent calls return the cached list.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	c.mu.RLock()
	if c.tools != nil {
		defer c.mu.RUnlock()
		return c.tools, nil
	}
	c.mu.RUnlock()

	resp, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, protoErr("unmarshal tools/list result", err)
	}

	tools := result.Tools
	if tools == nil {
		tools = []ToolDefinition{}
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()

	c.logger.Info("discovered MCP tools", "count", len(tools))
	return tools, nil
}

// CallTool invokes a tool by name with the given arguments and returns
// the tagged result envelope. Every failure mode — transport error,
// JSON-RPC error, isError result — folds into a failure envelope, so
// callers branch on exactly one taxonomy. The server's text payload is
// unwrapped: JSON is parsed to a native structure, anything else is
// carried as a string.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) envelope.Envelope {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	start := time.Now()
	c.bus.Publish(events.SourceMCP, events.KindToolCall, map[string]any{
		"server": c.name,
		"tool":   name,
	})

	env := c.callTool(ctx, params)

	c.bus.Publish(events.SourceMCP, events.KindToolDone, map[string]any{
		"server":      c.name,
		"tool":        name,
		"ok":          env.OK,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	if !env.OK {
		c.logger.Warn("tool call failed",
			"tool", name,
			"error_type", env.ErrorType,
			"message", env.Message,
		)
	}
	return env
}

// callTool performs the tools/call exchange and unwraps the result.
func (c *Client) callTool(ctx context.Context, params map[string]any) envelope.Envelope {
	resp, err := c.send(ctx, "tools/call", params)
	if err != nil {
		return failureFromError(err)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return envelope.Failure(envelope.TypeProtocol, fmt.Sprintf("unmarshal tools/call result: %v", err))
	}

	if len(result.Content) == 0 {
		// No content is success with no data.
		return envelope.Success(nil)
	}

	text := result.Content[0].Text
	if result.IsError {
		// Failure envelopes always carry a message, even when the
		// server sent an isError result with empty text.
		if text == "" {
			text = "tool returned an error with no message"
		}
		return envelope.Failure(envelope.TypeTool, text)
	}

	return envelope.Decode([]byte(text))
}

// Ping checks whether the MCP server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, "ping", nil)
	return err
}

// Disconnect shuts down the client and its transport. Idempotent:
// disconnecting a client that never connected is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if wasConnected {
		c.logger.Info("closing MCP client")
	}
	return c.transport.Close()
}

// Close is an alias for Disconnect, satisfying io.Closer.
func (c *Client) Close() error {
	return c.Disconnect()
}

// send issues a JSON-RPC request with the next sequential id and checks
// for protocol-level errors. A response whose id does not match the
// request is rejected. The id counter advances regardless of outcome,
// so a transport failure never corrupts correlation for later calls.
func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	id := c.nextID.Add(1)
	req := NewRequest(id, method, params)

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	if resp.ID != id {
		return nil, protoErr(fmt.Sprintf("response id %d does not match request id %d", resp.ID, id), nil)
	}

	return resp, nil
}

// failureFromError converts a client-level or JSON-RPC error into the
// matching failure envelope.
func failureFromError(err error) envelope.Envelope {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		msg := rpcErr.Message
		if msg == "" {
			msg = fmt.Sprintf("jsonrpc error %d", rpcErr.Code)
		}
		return envelope.Failure(envelope.TypeTool, msg)
	}

	var cerr *Error
	if errors.As(err, &cerr) {
		msg := cerr.Message
		if cerr.Err != nil {
			msg = fmt.Sprintf("%s: %v", cerr.Message, cerr.Err)
		}
		return envelope.Failure(cerr.Kind.ErrorType(), msg)
	}

	return envelope.Failure(envelope.TypeConnection, err.Error())
}
