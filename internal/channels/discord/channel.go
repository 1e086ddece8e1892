// Package discord implements the Discord channel adapter via discordgo's
// gateway client.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
	"github.com/nextlevelbuilder/oxicrab-gw/internal/channels"
)

// Config is the subset of channel configuration a Discord adapter needs.
type Config struct {
	Token     string
	AllowFrom []string
}

// Channel connects to Discord via the Bot API gateway.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	logger    *slog.Logger
	botUserID string
}

// New creates a Discord channel.
func New(cfg Config, msgBus *bus.MessageBus, logger *slog.Logger) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		logger:      logger,
	}, nil
}

// Start opens the gateway connection and begins receiving message events.
func (c *Channel) Start(ctx context.Context) error {
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, m)
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.SetRunning(true)
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Content == "" {
		return
	}
	senderID := m.Author.ID
	if m.Author.Username != "" {
		senderID = fmt.Sprintf("%s|%s", m.Author.ID, m.Author.Username)
	}
	if err := c.HandleInbound(ctx, senderID, m.ChannelID, m.Content, nil, nil); err != nil {
		c.logger.Warn("discord.inbound_publish_failed", "error", err)
	}
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	_, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content)
	return err
}

func (c *Channel) SendAndGetID(_ context.Context, msg bus.OutboundMessage) (string, error) {
	sent, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content)
	if err != nil {
		return "", fmt.Errorf("discord send: %w", err)
	}
	return sent.ID, nil
}

func (c *Channel) EditMessage(_ context.Context, chatID, messageID, content string) error {
	_, err := c.session.ChannelMessageEdit(chatID, messageID, content)
	return err
}

func (c *Channel) DeleteMessage(_ context.Context, chatID, messageID string) error {
	return c.session.ChannelMessageDelete(chatID, messageID)
}

func (c *Channel) SendTyping(_ context.Context, chatID string) error {
	return c.session.ChannelTyping(chatID)
}
