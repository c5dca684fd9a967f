package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	messageLimit  = 2000
	buttonsPerRow = 3
)

// DeliverPrompt sends text with one button per option.
func (b *Bot) DeliverPrompt(ctx context.Context, chatID, text string, options []string) error {
	_, err := b.out.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content:    text,
		Components: promptComponents(options),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("sending prompt: %w", err)
	}
	return nil
}

// DeliverMessage sends text, split to Discord's limit. A chunk the channel
// rejects goes to the webhook when one is configured and it posts into that
// same channel.
func (b *Bot) DeliverMessage(ctx context.Context, chatID, text string) error {
	for _, chunk := range splitMessage(text, messageLimit) {
		_, err := b.out.ChannelMessageSend(chatID, chunk, discordgo.WithContext(ctx))
		if err == nil {
			continue
		}
		if b.webhook == "" {
			return fmt.Errorf("sending message: %w", err)
		}
		channel, lookupErr := b.webhookChannel(ctx)
		if lookupErr != nil {
			return fmt.Errorf("sending message: %w; %w", err, lookupErr)
		}
		if channel != chatID {
			return fmt.Errorf("sending message: %w (webhook posts to channel %s)", err, channel)
		}
		b.logger.Warn("channel send failed, using webhook", zap.String("chat_id", chatID), zap.Error(err))
		if err := b.postWebhook(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// DeliverImage uploads image with caption as the message text.
func (b *Bot) DeliverImage(ctx context.Context, chatID, name string, image []byte, caption string) error {
	msg := &discordgo.MessageSend{
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: "image/png",
			Reader:      bytes.NewReader(image),
		}},
	}
	long := len(caption) > messageLimit
	if !long {
		msg.Content = caption
	}
	if _, err := b.out.ChannelMessageSendComplex(chatID, msg, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("uploading image: %w", err)
	}
	if long {
		return b.DeliverMessage(ctx, chatID, caption)
	}
	return nil
}

func promptComponents(options []string) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for i := 0; i < len(options); i += buttonsPerRow {
		end := min(i+buttonsPerRow, len(options))
		row := discordgo.ActionsRow{}
		for _, opt := range options[i:end] {
			row.Components = append(row.Components, discordgo.Button{
				Label:    opt,
				Style:    discordgo.SecondaryButton,
				CustomID: checkinPrefix + opt,
			})
		}
		rows = append(rows, row)
	}
	return rows
}

// webhookChannel returns the channel the webhook posts into, asking Discord
// once and caching the answer.
func (b *Bot) webhookChannel(ctx context.Context) (string, error) {
	b.webhookMu.Lock()
	defer b.webhookMu.Unlock()
	if b.webhookChan != "" {
		return b.webhookChan, nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", b.webhook, nil)
	if err != nil {
		return "", fmt.Errorf("creating webhook lookup: %w", err)
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("looking up webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("webhook lookup returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading webhook: %w", err)
	}
	channel := gjson.GetBytes(body, "channel_id").String()
	if channel == "" {
		return "", fmt.Errorf("webhook lookup: no channel_id")
	}
	b.webhookChan = channel
	return channel, nil
}

func (b *Bot) postWebhook(ctx context.Context, content string) error {
	body, _ := json.Marshal(map[string]string{"content": content})
	req, err := http.NewRequestWithContext(ctx, "POST", b.webhook, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
