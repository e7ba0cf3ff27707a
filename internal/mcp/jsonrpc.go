package mcp

import (
	"encoding/json"
	"fmt"
)

// MCP speaks JSON-RPC 2.0. This client only ever issues requests with
// integer ids; transports correlate each response to its request by
// matching that id, which is why Request.ID is an int64 rather than
// JSON-RPC's looser string-or-number.
const jsonrpcVersion = "2.0"

// Request is an outbound call. The id comes from the client's sequence
// counter and is never reused within a connection.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func NewRequest(id int64, method string, params any) *Request {
	return &Request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Response carries either a Result or an Error, never both. The ID
// echoes the request it answers; callers check it before trusting
// the payload.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error half of a response. Code follows the JSON-RPC
// reserved ranges (-32700..-32600 for protocol faults); servers put
// tool-level detail in Message and Data.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Notification is a fire-and-forget message. It carries no id, so no
// response is expected or waited for.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func NewNotification(method string, params any) *Notification {
	return &Notification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}
