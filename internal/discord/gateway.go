// Package discord provides the gateway connection and command bridge
// for the Pressbox Discord bot.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Gateway opcodes used by this client.
const (
	opDispatch     = 0
	opHeartbeat    = 1
	opIdentify     = 2
	opHello        = 10
	opHeartbeatACK = 11
)

// Gateway intents: guild messages, direct messages, message content.
const identifyIntents = (1 << 9) | (1 << 12) | (1 << 15)

// Message is an inbound Discord message from a MESSAGE_CREATE dispatch.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Author    struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Bot      bool   `json:"bot"`
	} `json:"author"`
}

// payload is the generic gateway frame.
type payload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d"`
	Seq  *int64          `json:"s"`
	Type string          `json:"t"`
}

// Gateway manages a websocket connection to the Discord gateway:
// hello, identify, heartbeat loop, and MESSAGE_CREATE dispatches.
type Gateway struct {
	url    string
	token  string
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	seq    atomic.Int64

	messages chan Message
	done     chan struct{}
	closed   bool
	closeMu  sync.Mutex
}

// NewGateway creates a gateway client for the given bot token.
func NewGateway(token string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		url:      defaultGatewayURL,
		token:    token,
		logger:   logger,
		messages: make(chan Message, 64),
		done:     make(chan struct{}),
	}
}

// Messages returns the channel of inbound messages. The channel is
// closed when the gateway connection ends.
func (g *Gateway) Messages() <-chan Message { return g.messages }

// Connect dials the gateway, completes the hello/identify exchange,
// and starts the heartbeat and read loops.
func (g *Gateway) Connect(ctx context.Context) error {
	g.connMu.Lock()
	defer g.connMu.Unlock()

	g.logger.Info("connecting to discord gateway", "url", g.url)

	dialer := websocket.Dialer{
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  16 * 1024,
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, g.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	conn.SetReadLimit(4 * 1024 * 1024)

	// First frame must be hello with the heartbeat interval.
	var hello payload
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		conn.Close()
		return fmt.Errorf("expected hello (op %d), got op %d", opHello, hello.Op)
	}
	var helloData struct {
		HeartbeatInterval int `json:"heartbeat_interval"`
	}
	if err := json.Unmarshal(hello.Data, &helloData); err != nil {
		conn.Close()
		return fmt.Errorf("decode hello: %w", err)
	}
	if helloData.HeartbeatInterval <= 0 {
		conn.Close()
		return fmt.Errorf("hello carries no heartbeat interval")
	}

	identify := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"token":   g.token,
			"intents": identifyIntents,
			"properties": map[string]string{
				"os":      "linux",
				"browser": "pressbox",
				"device":  "pressbox",
			},
		},
	}
	if err := conn.WriteJSON(identify); err != nil {
		conn.Close()
		return fmt.Errorf("send identify: %w", err)
	}

	g.conn = conn

	interval := time.Duration(helloData.HeartbeatInterval) * time.Millisecond
	go g.heartbeatLoop(interval)
	go g.readLoop()

	g.logger.Info("discord gateway connected", "heartbeat_interval", interval)
	return nil
}

// Close tears down the gateway connection. Idempotent.
func (g *Gateway) Close() error {
	g.closeMu.Lock()
	defer g.closeMu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	close(g.done)

	g.connMu.Lock()
	defer g.connMu.Unlock()
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}

func (g *Gateway) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			var seq *int64
			if s := g.seq.Load(); s > 0 {
				seq = &s
			}
			g.connMu.Lock()
			conn := g.conn
			var err error
			if conn != nil {
				err = conn.WriteJSON(map[string]any{"op": opHeartbeat, "d": seq})
			}
			g.connMu.Unlock()
			if err != nil {
				g.logger.Warn("discord heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (g *Gateway) readLoop() {
	defer close(g.messages)

	for {
		g.connMu.Lock()
		conn := g.conn
		g.connMu.Unlock()
		if conn == nil {
			return
		}

		var p payload
		if err := conn.ReadJSON(&p); err != nil {
			select {
			case <-g.done:
				// Expected after Close.
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					g.logger.Info("discord gateway closed")
				} else {
					g.logger.Error("discord gateway read error", "error", err)
				}
			}
			return
		}

		if p.Seq != nil {
			g.seq.Store(*p.Seq)
		}

		switch p.Op {
		case opDispatch:
			g.handleDispatch(p)
		case opHeartbeatACK:
			// Keepalive acknowledged.
		case opHeartbeat:
			// Server requested an immediate heartbeat.
			g.connMu.Lock()
			if g.conn != nil {
				s := g.seq.Load()
				_ = g.conn.WriteJSON(map[string]any{"op": opHeartbeat, "d": &s})
			}
			g.connMu.Unlock()
		default:
			g.logger.Debug("unhandled gateway op", "op", p.Op)
		}
	}
}

func (g *Gateway) handleDispatch(p payload) {
	switch p.Type {
	case "READY":
		var ready struct {
			User struct {
				Username string `json:"username"`
			} `json:"user"`
		}
		if err := json.Unmarshal(p.Data, &ready); err == nil {
			g.logger.Info("discord ready", "username", ready.User.Username)
		}
	case "MESSAGE_CREATE":
		var msg Message
		if err := json.Unmarshal(p.Data, &msg); err != nil {
			g.logger.Warn("decode message_create", "error", err)
			return
		}
		select {
		case g.messages <- msg:
		default:
			g.logger.Warn("message channel full, dropping message",
				"channel_id", msg.ChannelID)
		}
	default:
		g.logger.Debug("unhandled dispatch", "type", p.Type)
	}
}
