package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pressbox/pressbox/internal/httpkit"
)

const defaultRESTBaseURL = "https://discord.com/api/v10"

// maxMessageLen is Discord's hard limit on message content.
const maxMessageLen = 2000

// REST is a minimal Discord REST client for sending replies.
type REST struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewREST creates a REST client for the given bot token.
func NewREST(token string) *REST {
	return &REST{
		baseURL:    defaultRESTBaseURL,
		token:      token,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

// SendMessage posts content to a channel. Content longer than
// Discord's limit is truncated with an ellipsis.
func (r *REST) SendMessage(ctx context.Context, channelID, content string) error {
	if len(content) > maxMessageLen {
		content = content[:maxMessageLen-3] + "..."
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	u := fmt.Sprintf("%s/channels/%s/messages", r.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+r.token)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("discord: HTTP %d: %s", resp.StatusCode, excerpt)
	}

	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}
