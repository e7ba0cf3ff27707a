// Package upstream implements thin clients for the sports-data HTTP
// APIs Pressbox calls directly, outside of MCP.
//
// Every fetch returns a result envelope rather than a Go error:
// network-level failures become request_error envelopes, non-2xx
// responses become upstream_error envelopes carrying the HTTP status
// and a body excerpt, and successful responses carry the raw JSON
// payload plus provenance meta. Callers never re-fetch to diagnose a
// failure; everything they need is on the envelope.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/events"
	"github.com/pressbox/pressbox/internal/httpkit"
)

const (
	// excerptLimit bounds the error body carried on upstream_error
	// envelopes.
	excerptLimit = 512

	// maxResponseBody bounds how much of a success response is read.
	maxResponseBody = 8 << 20
)

// fetcher is the shared GET-JSON core embedded by every API client in
// this package.
type fetcher struct {
	http   *http.Client
	bus    *events.Bus
	source string
}

func newFetcher(source string, bus *events.Bus) fetcher {
	return fetcher{
		http:   httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		bus:    bus,
		source: source,
	}
}

// getJSON performs a GET against rawURL and wraps the outcome in an
// envelope. header entries are applied verbatim (API keys, Accept).
func (f fetcher) getJSON(ctx context.Context, rawURL string, header http.Header) envelope.Envelope {
	start := time.Now()
	env := f.doGet(ctx, rawURL, header)

	f.bus.Publish(events.SourceUpstream, events.KindFetch, map[string]any{
		"source":      f.source,
		"ok":          env.OK,
		"status":      env.Status,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return env.WithMeta(envelope.NewMeta(f.source))
}

func (f fetcher) doGet(ctx context.Context, rawURL string, header http.Header) envelope.Envelope {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return envelope.Failure(envelope.TypeRequest,
			fmt.Sprintf("%s: build request: %v", f.source, err))
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return envelope.Failure(envelope.TypeRequest,
			fmt.Sprintf("%s: request failed: %v", f.source, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		env := envelope.Failure(envelope.TypeUpstream,
			fmt.Sprintf("%s: HTTP %d", f.source, resp.StatusCode))
		env.Status = resp.StatusCode
		env.BodyExcerpt = httpkit.ReadErrorBody(resp.Body, excerptLimit)
		return env
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return envelope.Failure(envelope.TypeRequest,
			fmt.Sprintf("%s: read response: %v", f.source, err))
	}

	if !json.Valid(body) {
		env := envelope.Failure(envelope.TypeUpstream,
			fmt.Sprintf("%s: response is not valid JSON", f.source))
		env.Status = resp.StatusCode
		if len(body) > excerptLimit {
			body = body[:excerptLimit]
		}
		env.BodyExcerpt = string(body)
		return env
	}

	return envelope.Success(json.RawMessage(body))
}
