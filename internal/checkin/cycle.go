// Package checkin runs the per-chat check-in cycle: an hourly prompt races a
// bounded timeout, and resolves either to the entry the user sent or, at
// night, to an automatic Sleep entry.
//
// Each chat owns a worker goroutine and every transition for that chat runs
// on it, so a chat's state is only ever touched by one goroutine and two
// transitions for the same chat never interleave. Chats are independent: a
// stalled store or classifier call only delays the chat that made it.
package checkin

import (
	"context"
	"fmt"
	"time"

	"github.com/chris/shadow/internal/category"
	"github.com/chris/shadow/internal/db"
	"go.uber.org/zap"
)

const DefaultTimeout = 900 * time.Second

// activityOffset attributes every entry to the hour that just ended, which is
// the hour the prompt asks about.
const activityOffset = time.Hour

type Phase int

const (
	Idle Phase = iota
	Prompted
)

func (p Phase) String() string {
	if p == Prompted {
		return "prompted"
	}
	return "idle"
}

// State is a point-in-time copy of a chat's cycle.
type State struct {
	ChatID       string
	Phase        Phase
	LastPromptAt time.Time
	ExpiresAt    time.Time
}

// Outcome describes the entry a message resolved to.
type Outcome struct {
	Entry    db.Entry
	Category category.Category
	Advice   string
	Quick    bool
}

// pending is the single armed timeout of a prompted chat. A chat is Prompted
// exactly when its pending pointer is non-nil, so a second timeout cannot be
// armed without first clearing the first.
type pending struct {
	gen        uint64
	timer      Timer
	promptedAt time.Time
}

// prompt moves an idle chat to Prompted and arms its timeout.
func (m *Manager) prompt(ctx context.Context, c *chat) {
	now := m.now()
	if c.pending != nil {
		m.logger.Warn("check-in already pending, skipping prompt",
			zap.String("chat_id", c.id),
			zap.Time("prompted_at", c.pending.promptedAt))
		return
	}

	text := fmt.Sprintf("It's %s. Check-in:", m.zone.Local(now).Format("03:04 PM"))
	if err := m.transport.DeliverPrompt(ctx, c.id, text, category.Names()); err != nil {
		m.logger.Error("delivering prompt", zap.String("chat_id", c.id), zap.Error(err))
		return
	}

	c.gen++
	gen := c.gen
	c.lastPromptAt = now
	c.pending = &pending{gen: gen, promptedAt: now}
	c.pending.timer = m.afterFunc(m.timeout, func() { m.timeoutFired(c, gen) })
	m.logger.Info("check-in prompted", zap.String("chat_id", c.id), zap.Uint64("gen", gen))
}

// cancel clears the pending timeout if there is one. Stopping a timer that
// already fired is harmless: its queued expiry finds no matching generation.
func (c *chat) cancel() {
	if c.pending == nil {
		return
	}
	c.pending.timer.Stop()
	c.pending = nil
}

// expire resolves a prompt nobody answered. It only acts when the chat is
// still prompted for the same generation that armed the timer.
func (m *Manager) expire(ctx context.Context, c *chat, gen uint64) {
	if c.pending == nil || c.pending.gen != gen {
		return
	}
	c.pending = nil

	firedAt := m.now()
	if !m.zone.IsNight(firedAt) {
		m.logger.Debug("check-in expired outside night window", zap.String("chat_id", c.id))
		return
	}

	entry, err := m.store.AppendAutoEntry(ctx, category.Sleep, db.AutoSleepText, firedAt.Add(-activityOffset))
	if err != nil {
		m.logger.Error("recording automatic sleep", zap.String("chat_id", c.id), zap.Error(err))
		return
	}
	m.logger.Info("auto-logged sleep", zap.String("chat_id", c.id), zap.String("entry_id", entry.ID))
	m.reply(ctx, c.id, "No reply. Logged 'Sleep' for last hour.")
}

// respond resolves a message that arrived at arrived. The pending timeout is
// cancelled before anything is written so a manual and an automatic entry can
// never both land.
func (m *Manager) respond(ctx context.Context, c *chat, text string, arrived time.Time) (Outcome, error) {
	c.cancel()
	at := arrived.Add(-activityOffset)

	if cat, ok := category.Parse(text); ok {
		out := Outcome{Category: cat, Quick: true}
		entry, err := m.store.AppendEntry(ctx, cat, db.QuickCheckInText, at)
		// the user is acknowledged either way so a storage fault doesn't
		// turn into a re-prompt loop
		m.reply(ctx, c.id, fmt.Sprintf("✅ Saved: **%s**", cat))
		if err != nil {
			m.logger.Error("storing check-in", zap.String("chat_id", c.id), zap.Stringer("category", cat), zap.Error(err))
			return out, fmt.Errorf("storing check-in: %w", err)
		}
		out.Entry = entry
		m.logger.Info("quick check-in", zap.String("chat_id", c.id), zap.Stringer("category", cat))
		return out, nil
	}

	cat, advice := m.classifier.Classify(ctx, text)
	if !cat.Valid() {
		cat = category.Misc
	}
	out := Outcome{Category: cat, Advice: advice}
	entry, err := m.store.AppendEntry(ctx, cat, text, at)
	m.reply(ctx, c.id, fmt.Sprintf("📝 Logged under: **%s**\n\n💡 %s", cat, advice))
	if err != nil {
		m.logger.Error("storing journal entry", zap.String("chat_id", c.id), zap.Stringer("category", cat), zap.Error(err))
		return out, fmt.Errorf("storing journal entry: %w", err)
	}
	out.Entry = entry
	m.logger.Info("journal entry", zap.String("chat_id", c.id), zap.Stringer("category", cat))
	return out, nil
}

func (m *Manager) snapshot(c *chat) State {
	s := State{ChatID: c.id, Phase: Idle, LastPromptAt: c.lastPromptAt}
	if c.pending != nil {
		s.Phase = Prompted
		s.ExpiresAt = c.pending.promptedAt.Add(m.timeout)
	}
	return s
}

func (m *Manager) reply(ctx context.Context, chatID, text string) {
	if err := m.transport.DeliverMessage(ctx, chatID, text); err != nil {
		m.logger.Warn("delivering reply", zap.String("chat_id", chatID), zap.Error(err))
	}
}
