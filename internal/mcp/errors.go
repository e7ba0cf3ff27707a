package mcp

import (
	"fmt"

	"github.com/pressbox/pressbox/internal/envelope"
)

// Kind classifies a client-level failure. Callers branch on this single
// taxonomy instead of the raw transport errors underneath.
type Kind int

const (
	// KindConnection means the transport could not be established or
	// failed mid-call (spawn failure, unreachable host, broken pipe,
	// timeout).
	KindConnection Kind = iota + 1

	// KindProtocol means the MCP handshake returned a JSON-RPC error,
	// or a response violated the correlation contract.
	KindProtocol

	// KindTool means a tools/call invocation returned a JSON-RPC error
	// or an isError result; the server's message is carried through.
	KindTool
)

// ErrorType returns the envelope error_type discriminant for the kind.
func (k Kind) ErrorType() string {
	switch k {
	case KindConnection:
		return envelope.TypeConnection
	case KindProtocol:
		return envelope.TypeProtocol
	case KindTool:
		return envelope.TypeTool
	default:
		return envelope.TypeInternal
	}
}

// Error is a classified client failure wrapping the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.ErrorType(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.ErrorType(), e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// connErr wraps err as a connection-kind failure.
func connErr(message string, err error) *Error {
	return &Error{Kind: KindConnection, Message: message, Err: err}
}

// protoErr wraps err as a protocol-kind failure.
func protoErr(message string, err error) *Error {
	return &Error{Kind: KindProtocol, Message: message, Err: err}
}
