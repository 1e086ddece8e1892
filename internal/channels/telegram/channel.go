// Package telegram implements the Telegram Bot API channel adapter via
// long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/channels"
)

// Config is the subset of channel configuration a Telegram adapter needs.
type Config struct {
	Token     string
	AllowFrom []string
}

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	logger     *slog.Logger
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel. The bot token is required; construction
// fails fast if it cannot be validated against the Bot API client.
func New(cfg Config, msgBus *bus.MessageBus, logger *slog.Logger) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		logger:      logger,
	}, nil
}

// Start begins long polling for updates and forwards text messages to the
// bus as inbound messages.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start telegram long polling: %w", err)
	}

	c.SetRunning(true)
	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.handleUpdate(pollCtx, update)
			}
		}
	}()
	return nil
}

func (c *Channel) handleUpdate(ctx context.Context, update telego.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := update.Message
	senderID := ""
	if msg.From != nil {
		senderID = fmt.Sprintf("%d", msg.From.ID)
		if msg.From.Username != "" {
			senderID = fmt.Sprintf("%d|%s", msg.From.ID, msg.From.Username)
		}
	}
	chatID := fmt.Sprintf("%d", msg.Chat.ID)

	if err := c.HandleInbound(ctx, senderID, chatID, msg.Text, nil, nil); err != nil {
		c.logger.Warn("telegram.inbound_publish_failed", "error", err)
	}
}

// Stop cancels long polling and waits for the receive goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			c.logger.Warn("telegram.stop_timeout")
		}
	}
	return nil
}

func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	_, err := c.SendAndGetID(ctx, msg)
	return err
}

func (c *Channel) SendAndGetID(ctx context.Context, msg bus.OutboundMessage) (string, error) {
	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return "", fmt.Errorf("parse telegram chat id %q: %w", msg.ChatID, err)
	}
	sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), msg.Content))
	if err != nil {
		return "", fmt.Errorf("telegram send: %w", err)
	}
	return fmt.Sprintf("%d", sent.MessageID), nil
}

func (c *Channel) EditMessage(ctx context.Context, chatID, messageID, content string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("parse telegram chat id %q: %w", chatID, err)
	}
	msgID, err := parseMessageID(messageID)
	if err != nil {
		return fmt.Errorf("parse telegram message id %q: %w", messageID, err)
	}
	_, err = c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(id),
		MessageID: msgID,
		Text:      content,
	})
	return err
}

func (c *Channel) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("parse telegram chat id %q: %w", chatID, err)
	}
	msgID, err := parseMessageID(messageID)
	if err != nil {
		return fmt.Errorf("parse telegram message id %q: %w", messageID, err)
	}
	return c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: tu.ID(id), MessageID: msgID})
}

func (c *Channel) SendTyping(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("parse telegram chat id %q: %w", chatID, err)
	}
	return c.bot.SendChatAction(ctx, &telego.SendChatActionParams{ChatID: tu.ID(id), Action: "typing"})
}

func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}

func parseMessageID(messageIDStr string) (int, error) {
	var id int
	_, err := fmt.Sscanf(messageIDStr, "%d", &id)
	return id, err
}
