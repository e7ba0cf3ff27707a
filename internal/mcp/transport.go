package mcp

import "context"

// Transport is the interface for MCP server communication.
// Implementations handle the details of sending JSON-RPC requests and
// receiving responses over a specific transport (stdio, HTTP, or SSE).
type Transport interface {
	// Start establishes the transport: spawns the subprocess, opens
	// the SSE stream, or validates the endpoint. Calling Start on an
	// already-started transport is a no-op.
	Start(ctx context.Context) error

	// Send sends a JSON-RPC request and returns the correlated response.
	// The transport handles framing, encoding, and correlation.
	Send(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *Notification) error

	// NeedsHandshake reports whether the transport requires the MCP
	// initialize handshake before tool calls (stdio and SSE do, plain
	// HTTP POST does not).
	NeedsHandshake() bool

	// Close shuts down the transport and releases resources. Close is
	// idempotent; closing an unstarted transport is a no-op. For stdio
	// transports this terminates the subprocess.
	Close() error
}
