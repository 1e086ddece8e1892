// Package webchannel implements a minimal websocket-based channel adapter,
// registered as "cli": a local bridge for interactive or scripted use (the
// acceptance-test harness, a thin terminal client) without any platform SDK.
package webchannel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/channels"
)

// frame is the wire shape exchanged with a connected client in both
// directions: inbound frames carry sender_id/content, outbound frames carry
// an id so a later edit/delete can target the same client-rendered message.
type frame struct {
	Type     string `json:"type"` // "message" | "edit" | "delete" | "typing"
	ID       string `json:"id,omitempty"`
	SenderID string `json:"sender_id,omitempty"`
	ChatID   string `json:"chat_id"`
	Content  string `json:"content,omitempty"`
}

// Channel is a websocket bridge registered as the "cli" channel.
type Channel struct {
	*channels.BaseChannel
	addr    string
	logger  *slog.Logger
	srv     *http.Server
	nextID  uint64
	connsMu sync.RWMutex
	conns   map[string]*websocket.Conn // chat_id -> active connection
}

// New creates a "cli" websocket channel listening on addr (e.g. ":8787").
func New(addr string, msgBus *bus.MessageBus, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("cli", msgBus, nil),
		addr:        addr,
		logger:      logger,
		conns:       make(map[string]*websocket.Conn),
	}
}

// Start runs an HTTP server that upgrades every request to a websocket and
// reads frames from it until the connection closes.
func (c *Channel) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			c.logger.Warn("cli.websocket_accept_failed", "error", err)
			return
		}
		go c.serveConn(ctx, conn)
	})

	c.srv = &http.Server{Addr: c.addr, Handler: mux}
	ln := c.srv
	go func() {
		if err := ln.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("cli.listen_failed", "error", err)
		}
	}()
	c.SetRunning(true)
	return nil
}

func (c *Channel) serveConn(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		if f.ChatID == "" {
			f.ChatID = "direct"
		}

		c.connsMu.Lock()
		c.conns[f.ChatID] = conn
		c.connsMu.Unlock()

		if f.Type != "" && f.Type != "message" {
			continue
		}
		if err := c.HandleInbound(ctx, f.SenderID, f.ChatID, f.Content, nil, nil); err != nil {
			c.logger.Warn("cli.inbound_publish_failed", "error", err)
		}
	}
}

// Stop shuts down the HTTP listener.
func (c *Channel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	if c.srv == nil {
		return nil
	}
	return c.srv.Shutdown(ctx)
}

func (c *Channel) connFor(chatID string) (*websocket.Conn, bool) {
	c.connsMu.RLock()
	defer c.connsMu.RUnlock()
	conn, ok := c.conns[chatID]
	return conn, ok
}

func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := c.SendAndGetID(ctx, msg)
	return err
}

func (c *Channel) SendAndGetID(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	conn, ok := c.connFor(msg.ChatID)
	if !ok {
		return "", fmt.Errorf("no connected cli client for chat %q", msg.ChatID)
	}
	id := strconv.FormatUint(atomic.AddUint64(&c.nextID, 1), 10)
	err := wsjson.Write(ctx, conn, frame{Type: "message", ID: id, ChatID: msg.ChatID, Content: msg.Content})
	if err != nil {
		return "", fmt.Errorf("cli send: %w", err)
	}
	return id, nil
}

func (c *Channel) EditMessage(ctx context.Context, chatID, messageID, content string) error {
	conn, ok := c.connFor(chatID)
	if !ok {
		return fmt.Errorf("no connected cli client for chat %q", chatID)
	}
	return wsjson.Write(ctx, conn, frame{Type: "edit", ID: messageID, ChatID: chatID, Content: content})
}

func (c *Channel) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	conn, ok := c.connFor(chatID)
	if !ok {
		return fmt.Errorf("no connected cli client for chat %q", chatID)
	}
	return wsjson.Write(ctx, conn, frame{Type: "delete", ID: messageID, ChatID: chatID})
}

func (c *Channel) SendTyping(ctx context.Context, chatID string) error {
	conn, ok := c.connFor(chatID)
	if !ok {
		return nil
	}
	return wsjson.Write(ctx, conn, frame{Type: "typing", ChatID: chatID})
}
