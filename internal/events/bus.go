// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (MCP clients, upstream
// fetchers, the Discord bridge) to subscribers. The bus is nil-safe:
// calling Publish on a nil *Bus is a no-op, so components do not need
// guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceMCP identifies events from MCP tool clients.
	SourceMCP = "mcp"
	// SourceUpstream identifies events from direct upstream API fetches.
	SourceUpstream = "upstream"
	// SourceDiscord identifies events from the Discord bridge.
	SourceDiscord = "discord"
	// SourceLLM identifies events from the OpenRouter client.
	SourceLLM = "llm"
)

// Kind constants describe the type of event within a source.
const (
	// KindToolCall signals the start of an MCP tool invocation.
	// Data: server, tool.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of an MCP tool invocation.
	// Data: server, tool, ok, duration_ms.
	KindToolDone = "tool_done"

	// KindFetch signals an upstream API fetch.
	// Data: source, url, ok, status.
	KindFetch = "fetch"

	// KindMessageReceived signals an incoming Discord command.
	// Data: channel_id, command.
	KindMessageReceived = "message_received"
	// KindReplySent signals an outgoing Discord reply.
	// Data: channel_id, ok.
	KindReplySent = "reply_sent"

	// KindAsk signals an OpenRouter completion request.
	// Data: model, ok, duration_ms.
	KindAsk = "ask"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish stamps and broadcasts an event to all subscribers.
// Non-blocking: if a subscriber's channel is full, the event is dropped
// for that subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	e := Event{
		Timestamp: time.Now(),
		Source:    source,
		Kind:      kind,
		Data:      data,
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
