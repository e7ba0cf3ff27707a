package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pressbox/pressbox/internal/httpkit"
)

// maxSSEEventSize is the maximum size of a single SSE event line (1 MiB).
const maxSSEEventSize = 1 << 20

// SSEConfig configures an SSE MCP transport: a persistent server-sent
// events stream (the /{server}/sse path convention) carrying responses,
// with requests POSTed to a session endpoint the server announces.
type SSEConfig struct {
	// URL is the SSE stream endpoint.
	URL string

	// BearerToken is sent as an Authorization header on the stream and
	// on every POST.
	BearerToken string

	// Headers are additional HTTP headers sent with every request.
	Headers map[string]string

	// Timeout bounds each POST exchange. Zero means the httpkit default.
	Timeout time.Duration

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// SSETransport communicates with an MCP server over a server-sent
// events session. Start opens the stream and waits for the server's
// endpoint event; Send POSTs a request and reads the correlated
// response off the stream.
type SSETransport struct {
	config       SSEConfig
	streamClient *http.Client // no overall timeout, the stream is long-lived
	rpcClient    *http.Client
	logger       *slog.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	cancel   context.CancelFunc
	stream   io.ReadCloser
	endpoint string

	endpointReady chan struct{}
	endpointOnce  sync.Once
	msgQueue      chan []byte
	errCh         chan error
}

// NewSSETransport creates an SSE transport for the given config.
func NewSSETransport(cfg SSEConfig) *SSETransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rpcOpts := []httpkit.ClientOption{}
	if cfg.Timeout > 0 {
		rpcOpts = append(rpcOpts, httpkit.WithTimeout(cfg.Timeout))
	}

	return &SSETransport{
		config:        cfg,
		streamClient:  httpkit.NewClient(httpkit.WithTimeout(0)),
		rpcClient:     httpkit.NewClient(rpcOpts...),
		logger:        logger,
		endpointReady: make(chan struct{}),
		msgQueue:      make(chan []byte, 16),
		errCh:         make(chan error, 1),
	}
}

// NeedsHandshake reports that SSE servers require the MCP initialize
// handshake.
func (t *SSETransport) NeedsHandshake() bool { return true }

// Start opens the SSE stream and waits for the endpoint event that
// names the POST target for this session.
func (t *SSETransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return connErr("transport closed", nil)
	}
	if t.started {
		t.mu.Unlock()
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.config.URL, nil)
	if err != nil {
		t.mu.Unlock()
		return connErr(fmt.Sprintf("create SSE request for %s", t.config.URL), err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	t.applyHeaders(req)

	resp, err := t.streamClient.Do(req)
	if err != nil {
		t.mu.Unlock()
		return connErr(fmt.Sprintf("open SSE stream %s", t.config.URL), err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		t.mu.Unlock()
		return connErr(fmt.Sprintf("SSE stream returned %d: %s", resp.StatusCode, errBody), nil)
	}

	// The read loop outlives individual call contexts; it is stopped by
	// Close, not by the Start context.
	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.stream = resp.Body
	t.started = true
	t.mu.Unlock()

	go t.readLoop(loopCtx, resp.Body)

	// The server announces the session POST endpoint before anything else.
	select {
	case <-t.endpointReady:
		return nil
	case err := <-t.errCh:
		_ = t.Close()
		return connErr("SSE stream failed before endpoint event", err)
	case <-ctx.Done():
		_ = t.Close()
		return connErr("waiting for SSE endpoint event", ctx.Err())
	}
}

// readLoop parses SSE events off the stream and dispatches them:
// endpoint events complete session setup, message events are queued for
// Send to correlate.
func (t *SSETransport) readLoop(ctx context.Context, body io.ReadCloser) {
	defer body.Close()

	scanner := newSSEScanner(body)
	for {
		event, err := scanner.Next()
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Debug("SSE stream closed", "error", err)
				select {
				case t.errCh <- err:
				default:
				}
			}
			return
		}

		switch event.Name {
		case "endpoint":
			t.setEndpoint(strings.TrimSpace(string(event.Data)))
		case "", "message":
			if len(event.Data) == 0 {
				continue
			}
			select {
			case t.msgQueue <- event.Data:
			case <-ctx.Done():
				return
			}
		default:
			t.logger.Debug("ignoring SSE event", "event", event.Name)
		}
	}
}

// setEndpoint resolves the announced endpoint against the stream URL
// and signals Start. Only the first endpoint event counts.
func (t *SSETransport) setEndpoint(raw string) {
	t.endpointOnce.Do(func() {
		endpoint := raw
		if base, err := url.Parse(t.config.URL); err == nil {
			if rel, err := url.Parse(raw); err == nil {
				endpoint = base.ResolveReference(rel).String()
			}
		}

		t.mu.Lock()
		t.endpoint = endpoint
		t.mu.Unlock()

		t.logger.Debug("SSE session endpoint negotiated", "endpoint", endpoint)
		close(t.endpointReady)
	})
}

// Send POSTs a JSON-RPC request to the session endpoint and waits for
// the response with a matching id on the event stream. Responses for
// other ids are ignored.
func (t *SSETransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if err := t.Start(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if resp, err := t.post(ctx, body); err != nil {
		return nil, err
	} else if resp != nil && resp.ID == req.ID {
		// Some servers answer inline on the POST body.
		return resp, nil
	}

	for {
		select {
		case data := <-t.msgQueue:
			var resp Response
			if err := json.Unmarshal(data, &resp); err != nil {
				t.logger.Debug("skipping non-JSON SSE message", "data", string(data))
				continue
			}
			if resp.ID == req.ID {
				return &resp, nil
			}
			t.logger.Debug("skipping unmatched SSE message", "id", resp.ID)
		case err := <-t.errCh:
			return nil, connErr("SSE stream failed awaiting response", err)
		case <-ctx.Done():
			return nil, connErr("request cancelled", ctx.Err())
		}
	}
}

// Notify POSTs a JSON-RPC notification to the session endpoint.
func (t *SSETransport) Notify(ctx context.Context, notif *Notification) error {
	if err := t.Start(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = t.post(ctx, body)
	return err
}

// post delivers a JSON payload to the session endpoint. A 200 response
// with a JSON body is parsed and returned; 202 (response will arrive on
// the stream) returns nil.
func (t *SSETransport) post(ctx context.Context, body []byte) (*Response, error) {
	t.mu.Lock()
	endpoint := t.endpoint
	t.mu.Unlock()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	t.applyHeaders(httpReq)

	httpResp, err := t.rpcClient.Do(httpReq)
	if err != nil {
		return nil, connErr(fmt.Sprintf("POST to %s", endpoint), err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	switch httpResp.StatusCode {
	case http.StatusAccepted:
		return nil, nil
	case http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
		if err != nil {
			return nil, connErr("read POST response body", err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			// Not a JSON-RPC body; the real response arrives on the stream.
			return nil, nil
		}
		return &resp, nil
	default:
		errBody := httpkit.ReadErrorBody(httpResp.Body, 4096)
		return nil, connErr(fmt.Sprintf("MCP server returned %d: %s", httpResp.StatusCode, errBody), nil)
	}
}

// applyHeaders sets the bearer token and configured headers on req.
func (t *SSETransport) applyHeaders(req *http.Request) {
	if t.config.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.BearerToken)
	}
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
}

// Close terminates the stream and releases resources. Idempotent.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	if t.cancel != nil {
		t.cancel()
	}
	if t.stream != nil {
		_ = t.stream.Close()
		t.stream = nil
	}
	return nil
}

// sseEvent is a single parsed server-sent event.
type sseEvent struct {
	Name string
	ID   string
	Data []byte
}

// sseScanner incrementally parses the text/event-stream format:
// "event:", "data:", and "id:" fields accumulate until a blank line
// dispatches the event. Comment lines (leading ':') are skipped.
type sseScanner struct {
	scanner *bufio.Scanner
}

func newSSEScanner(r io.Reader) *sseScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxSSEEventSize)
	return &sseScanner{scanner: s}
}

// Next returns the next complete event, or an error when the stream
// ends. io.EOF indicates a clean close.
func (s *sseScanner) Next() (*sseEvent, error) {
	var (
		event    sseEvent
		dataSeen bool
		data     [][]byte
	)

	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")

		if line == "" {
			if dataSeen || event.Name != "" || event.ID != "" {
				event.Data = bytes.Join(data, []byte("\n"))
				return &event, nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue // comment/keepalive
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			event.Name = value
		case "data":
			dataSeen = true
			data = append(data, []byte(value))
		case "id":
			event.ID = value
		}
	}

	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
