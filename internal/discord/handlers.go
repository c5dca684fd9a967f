package discord

import (
	"context"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const checkinPrefix = "checkin:"

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Ignore own messages
	if m.Author.ID == s.State.User.ID {
		return
	}

	// Only respond to DMs or when mentioned
	isDM := m.GuildID == ""
	isMentioned := false
	for _, u := range m.Mentions {
		if u.ID == s.State.User.ID {
			isMentioned = true
			break
		}
	}
	if !isDM && !isMentioned {
		return
	}

	content := strings.TrimSpace(stripMention(m.Content, s.State.User.ID))
	if content == "" {
		return
	}

	if !strings.HasPrefix(content, "/") {
		s.ChannelTyping(m.ChannelID)
	}
	b.dispatch(m.ChannelID, content)
}

// onInteraction handles check-in button presses. The buttons are removed from
// the prompt once one is pressed.
func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	choice, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	var content string
	if i.Message != nil {
		content = i.Message.Content
	}
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{
			Content:    content,
			Components: []discordgo.MessageComponent{},
		},
	})
	if err != nil {
		b.logger.Warn("acknowledging button press", zap.String("chat_id", i.ChannelID), zap.Error(err))
	}
	b.dispatch(i.ChannelID, choice)
}

func (b *Bot) dispatch(chatID, text string) {
	if b.handler == nil {
		return
	}
	if err := b.handler.Handle(context.Background(), chatID, text); err != nil {
		b.logger.Error("handling message", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func parseCustomID(id string) (string, bool) {
	choice, ok := strings.CutPrefix(id, checkinPrefix)
	if !ok || choice == "" {
		return "", false
	}
	return choice, true
}

func stripMention(s, userID string) string {
	s = strings.ReplaceAll(s, "<@"+userID+">", "")
	s = strings.ReplaceAll(s, "<@!"+userID+">", "")
	return s
}

func splitMessage(s string, maxLen int) []string {
	if len(s) <= maxLen {
		return []string{s}
	}
	var chunks []string
	for len(s) > 0 {
		end := maxLen
		if end > len(s) {
			end = len(s)
		}
		// Try to split at a newline
		if idx := strings.LastIndex(s[:end], "\n"); idx > 0 {
			end = idx + 1
		}
		chunks = append(chunks, s[:end])
		s = s[end:]
	}
	return chunks
}
