package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pressbox/pressbox/internal/envelope"
	"github.com/pressbox/pressbox/internal/events"
	"github.com/pressbox/pressbox/internal/mcp"
)

// handleTimeout bounds how long a single command may run.
const handleTimeout = 2 * time.Minute

// ToolCaller abstracts an MCP client for testability. The real
// implementation is *mcp.Client.
type ToolCaller interface {
	Name() string
	ListTools(ctx context.Context) ([]mcp.ToolDefinition, error)
	CallTool(ctx context.Context, name string, args map[string]any) envelope.Envelope
}

// Asker abstracts the OpenRouter client for testability.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Replier abstracts the REST client for testability.
type Replier interface {
	SendMessage(ctx context.Context, channelID, content string) error
}

// BridgeConfig holds the dependencies for a Bridge.
type BridgeConfig struct {
	Gateway  *Gateway
	Replier  Replier
	Servers  []ToolCaller
	Asker    Asker // nil when OpenRouter is not configured
	Prefix   string
	Channels []string // empty = all channels
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Bridge receives Discord messages from the gateway, routes prefixed
// commands to MCP tool servers or the LLM client, and replies via the
// REST API.
type Bridge struct {
	gateway  *Gateway
	replier  Replier
	servers  map[string]ToolCaller
	asker    Asker
	prefix   string
	channels map[string]struct{}
	bus      *events.Bus
	logger   *slog.Logger
}

// NewBridge creates a Discord command bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "!"
	}

	servers := make(map[string]ToolCaller, len(cfg.Servers))
	for _, s := range cfg.Servers {
		servers[s.Name()] = s
	}

	var channels map[string]struct{}
	if len(cfg.Channels) > 0 {
		channels = make(map[string]struct{}, len(cfg.Channels))
		for _, ch := range cfg.Channels {
			channels[ch] = struct{}{}
		}
	}

	return &Bridge{
		gateway:  cfg.Gateway,
		replier:  cfg.Replier,
		servers:  servers,
		asker:    cfg.Asker,
		prefix:   prefix,
		channels: channels,
		bus:      cfg.Bus,
		logger:   logger,
	}
}

// Start consumes gateway messages until ctx is cancelled or the
// gateway connection ends.
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("discord bridge started", "prefix", b.prefix)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("discord bridge shutting down")
			return
		case msg, ok := <-b.gateway.Messages():
			if !ok {
				b.logger.Info("discord message channel closed, bridge stopping")
				return
			}
			b.handleMessage(ctx, msg)
		}
	}
}

func (b *Bridge) handleMessage(ctx context.Context, msg Message) {
	if msg.Author.Bot {
		return
	}
	if b.channels != nil {
		if _, ok := b.channels[msg.ChannelID]; !ok {
			return
		}
	}

	cmd, ok := parseCommand(b.prefix, msg.Content)
	if !ok {
		return
	}

	b.logger.Info("discord command received",
		"command", cmd.name,
		"channel_id", msg.ChannelID,
		"author", msg.Author.Username,
	)
	b.bus.Publish(events.SourceDiscord, events.KindMessageReceived, map[string]any{
		"command":    cmd.name,
		"channel_id": msg.ChannelID,
	})

	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	reply := b.dispatch(ctx, cmd)
	if reply == "" {
		return
	}

	if err := b.replier.SendMessage(ctx, msg.ChannelID, reply); err != nil {
		b.logger.Error("discord reply failed",
			"channel_id", msg.ChannelID,
			"error", err,
		)
		return
	}
	b.bus.Publish(events.SourceDiscord, events.KindReplySent, map[string]any{
		"channel_id": msg.ChannelID,
		"reply_len":  len(reply),
	})
}

// command is a parsed prefixed command.
type command struct {
	name string
	args []string
	rest string // everything after the command name, untokenized
}

// parseCommand splits a prefixed message into a command. Returns
// false for messages that are not commands.
func parseCommand(prefix, content string) (command, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, prefix) {
		return command{}, false
	}
	content = strings.TrimPrefix(content, prefix)
	if content == "" {
		return command{}, false
	}

	fields := strings.Fields(content)
	if len(fields) == 0 {
		return command{}, false
	}

	rest := strings.TrimSpace(strings.TrimPrefix(content, fields[0]))
	return command{
		name: strings.ToLower(fields[0]),
		args: fields[1:],
		rest: rest,
	}, true
}

// dispatch runs a command and renders the reply text.
func (b *Bridge) dispatch(ctx context.Context, cmd command) string {
	switch cmd.name {
	case "tools":
		return b.handleTools(ctx, cmd.args)
	case "call":
		return b.handleCall(ctx, cmd)
	case "ask":
		return b.handleAsk(ctx, cmd.rest)
	case "help":
		return b.helpText()
	default:
		return fmt.Sprintf("Unknown command %q. Try %shelp.", cmd.name, b.prefix)
	}
}

func (b *Bridge) handleTools(ctx context.Context, args []string) string {
	var names []string
	if len(args) > 0 {
		names = args[:1]
	} else {
		for name := range b.servers {
			names = append(names, name)
		}
	}

	var sb strings.Builder
	for _, name := range names {
		server, ok := b.servers[name]
		if !ok {
			fmt.Fprintf(&sb, "Unknown server %q.\n", name)
			continue
		}
		tools, err := server.ListTools(ctx)
		if err != nil {
			fmt.Fprintf(&sb, "**%s**: error listing tools: %v\n", name, err)
			continue
		}
		fmt.Fprintf(&sb, "**%s** (%d tools)\n", name, len(tools))
		for _, t := range tools {
			fmt.Fprintf(&sb, "- `%s` — %s\n", t.Name, t.Description)
		}
	}
	if sb.Len() == 0 {
		return "No MCP servers configured."
	}
	return sb.String()
}

func (b *Bridge) handleCall(ctx context.Context, cmd command) string {
	if len(cmd.args) < 2 {
		return fmt.Sprintf("Usage: %scall <server> <tool> [json-args]", b.prefix)
	}
	serverName, toolName := cmd.args[0], cmd.args[1]

	server, ok := b.servers[serverName]
	if !ok {
		return fmt.Sprintf("Unknown server %q.", serverName)
	}

	raw := strings.TrimSpace(strings.TrimPrefix(cmd.rest, serverName))
	raw = strings.TrimSpace(strings.TrimPrefix(raw, toolName))

	var args map[string]any
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return fmt.Sprintf("Arguments are not valid JSON: %v", err)
		}
	}

	env := server.CallTool(ctx, toolName, args)
	return renderEnvelope(env)
}

func (b *Bridge) handleAsk(ctx context.Context, question string) string {
	if b.asker == nil {
		return "No LLM is configured."
	}
	if question == "" {
		return fmt.Sprintf("Usage: %sask <question>", b.prefix)
	}

	answer, err := b.asker.Ask(ctx, question)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return answer
}

func (b *Bridge) helpText() string {
	return strings.Join([]string{
		fmt.Sprintf("`%stools [server]` — list available MCP tools", b.prefix),
		fmt.Sprintf("`%scall <server> <tool> [json-args]` — invoke a tool", b.prefix),
		fmt.Sprintf("`%sask <question>` — ask the LLM", b.prefix),
	}, "\n")
}

// renderEnvelope formats a result envelope for a Discord reply.
// Successes show the payload as fenced JSON; failures show the error
// type and message.
func renderEnvelope(env envelope.Envelope) string {
	if !env.OK {
		s := fmt.Sprintf("ERROR (%s): %s", env.ErrorType, env.Message)
		if env.Status != 0 {
			s += fmt.Sprintf(" [HTTP %d]", env.Status)
		}
		return s
	}

	if len(env.Data) == 0 {
		return "OK (no data)"
	}

	pretty := env.Data
	var v any
	if err := json.Unmarshal(env.Data, &v); err == nil {
		if p, err := json.MarshalIndent(v, "", "  "); err == nil {
			pretty = p
		}
	}

	body := string(pretty)
	// Leave room for the code fence inside Discord's message limit.
	const fenceBudget = maxMessageLen - 16
	if len(body) > fenceBudget {
		body = body[:fenceBudget] + "\n..."
	}
	return "```json\n" + body + "\n```"
}
