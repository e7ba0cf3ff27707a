// Package mcp implements an MCP (Model Context Protocol) client,
// allowing Pressbox to connect to remote tool servers and invoke their
// tools. This is the one reusable abstraction behind every script that
// used to hand-roll the same JSON-RPC envelope construction.
//
// MCP uses JSON-RPC 2.0 over three transports: stdio (subprocess),
// plain HTTP POST to an /mcp endpoint, and SSE. The client discovers
// tools via tools/list and invokes them via tools/call. Tool results
// are unwrapped from the nested result.content[0].text payload into
// the tagged result envelope callers branch on.
//
// A client is strictly sequential: one request in flight at a time,
// correlated by a monotonically increasing id. Nothing here retries;
// a failed call surfaces immediately.
package mcp
