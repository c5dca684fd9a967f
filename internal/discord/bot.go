// Package discord carries the tracker's chat over a Discord bot: check-in
// prompts go out as button rows, button presses and messages come back in
// as text.
package discord

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Handler receives inbound chat text keyed by channel ID.
type Handler interface {
	Handle(ctx context.Context, chatID, text string) error
}

// sender is the slice of the session the transport uses.
type sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type Bot struct {
	session *discordgo.Session
	out     sender
	webhook string
	http    *http.Client

	webhookMu   sync.Mutex
	webhookChan string

	handler Handler
	logger  *zap.Logger
}

// NewBot creates the session without connecting, so the bot can be handed to
// components as their transport before Start wires the inbound side.
func NewBot(token, webhookURL string, logger *zap.Logger) (*Bot, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating Discord session: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		session: s,
		out:     s,
		webhook: webhookURL,
		http:    &http.Client{},
		logger:  logger,
	}, nil
}

// Start registers h for inbound messages and opens the gateway connection.
func (b *Bot) Start(h Handler) error {
	b.handler = h
	b.session.AddHandler(b.onMessage)
	b.session.AddHandler(b.onInteraction)
	b.session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening Discord connection: %w", err)
	}
	b.logger.Info("discord bot connected", zap.String("user", b.session.State.User.Username))
	return nil
}

func (b *Bot) Close() {
	b.session.Close()
}
