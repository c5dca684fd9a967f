// Package tracker routes inbound chat messages: slash commands manage a
// chat's registration and priorities, everything else is a check-in answer.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chris/shadow/internal/category"
	"github.com/chris/shadow/internal/checkin"
	"github.com/chris/shadow/internal/localtime"
	"github.com/chris/shadow/internal/scheduler"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

var ErrUsage = errors.New("usage")

const (
	setPriorityUsage = "Usage: /set_priority <Category> <1–5>"
	helpText         = "Commands: /start, /stop, /priorities, /set_priority <Category> <1–5>, /summary, /status"
	clockFormat      = "03:04 PM"
)

type Cycles interface {
	HandleMessage(ctx context.Context, chatID, text string) (checkin.Outcome, error)
	Reset(ctx context.Context, chatID string) error
	Snapshot(ctx context.Context, chatID string) (checkin.State, error)
}

type Schedule interface {
	Register(ctx context.Context, chatID string) (scheduler.NextFires, error)
	Unregister(ctx context.Context, chatID string) error
	Next(chatID string) (scheduler.NextFires, bool)
}

type Priorities interface {
	AllPriorities(ctx context.Context) (map[category.Category]int, error)
	UpsertPriority(ctx context.Context, cat category.Category, weight int) error
}

type Reporter interface {
	SendWeekly(ctx context.Context, chatID string) error
}

type Replier interface {
	DeliverMessage(ctx context.Context, chatID, text string) error
}

type Tracker struct {
	cycles     Cycles
	schedule   Schedule
	priorities Priorities
	reporter   Reporter
	replies    Replier
	zone       localtime.Zone
	logger     *zap.Logger
	now        func() time.Time
}

func New(cycles Cycles, schedule Schedule, priorities Priorities, reporter Reporter, replies Replier, zone localtime.Zone, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cycles:     cycles,
		schedule:   schedule,
		priorities: priorities,
		reporter:   reporter,
		replies:    replies,
		zone:       zone,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle routes one inbound message from a chat.
func (t *Tracker) Handle(ctx context.Context, chatID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !strings.HasPrefix(text, "/") {
		if _, err := t.cycles.HandleMessage(ctx, chatID, text); err != nil {
			return fmt.Errorf("handling check-in: %w", err)
		}
		return nil
	}

	name, args := parseCommand(text)
	t.logger.Debug("command", zap.String("chat_id", chatID), zap.String("command", name))
	switch name {
	case "start":
		return t.start(ctx, chatID)
	case "stop":
		return t.stop(ctx, chatID)
	case "priorities":
		return t.showPriorities(ctx, chatID)
	case "set_priority":
		return t.setPriority(ctx, chatID, args)
	case "summary":
		if err := t.reporter.SendWeekly(ctx, chatID); err != nil {
			return fmt.Errorf("sending summary: %w", err)
		}
		return nil
	case "status":
		return t.status(ctx, chatID)
	default:
		return t.reply(ctx, chatID, helpText)
	}
}

// parseCommand splits "/name@bot arg1 arg2" into "name" and its arguments.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return "", nil
	}
	name, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(name), fields[1:]
}

const startFailedText = "⚠️ Couldn't start check-ins right now. Try /start again in a moment."

func (t *Tracker) start(ctx context.Context, chatID string) error {
	next, err := t.schedule.Register(ctx, chatID)
	if err != nil {
		// the user still hears back; the failure itself goes to the caller
		if replyErr := t.reply(ctx, chatID, startFailedText); replyErr != nil {
			t.logger.Warn("acknowledging failed start", zap.String("chat_id", chatID), zap.Error(replyErr))
		}
		return fmt.Errorf("registering chat: %w", err)
	}
	now := t.now()
	msg := fmt.Sprintf("🛡️ **Shadow Tracker Active**\n"+
		"timezone: %s\n"+
		"hourly check-in: Active (next at %s)\n"+
		"weekly review: Sundays @ 8 PM (next %s)\n"+
		"Let's beat The Liar.",
		t.zone, t.zone.Local(next.Hourly).Format(clockFormat),
		humanize.RelTime(next.Weekly, now, "ago", "from now"))
	return t.reply(ctx, chatID, msg)
}

func (t *Tracker) stop(ctx context.Context, chatID string) error {
	if err := t.schedule.Unregister(ctx, chatID); err != nil {
		return fmt.Errorf("unregistering chat: %w", err)
	}
	if err := t.cycles.Reset(ctx, chatID); err != nil {
		return fmt.Errorf("resetting check-in: %w", err)
	}
	return t.reply(ctx, chatID, "Check-ins stopped. Send /start to resume.")
}

func (t *Tracker) showPriorities(ctx context.Context, chatID string) error {
	priorities, err := t.priorities.AllPriorities(ctx)
	if err != nil {
		return fmt.Errorf("loading priorities: %w", err)
	}
	cats := make([]category.Category, 0, len(priorities))
	for cat := range priorities {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool {
		wi, wj := priorities[cats[i]], priorities[cats[j]]
		if wi != wj {
			return wi > wj
		}
		return category.Index(cats[i]) < category.Index(cats[j])
	})

	var b strings.Builder
	b.WriteString("**Current Priorities**\n\n")
	for _, cat := range cats {
		fmt.Fprintf(&b, "%s: %d\n", cat, priorities[cat])
	}
	return t.reply(ctx, chatID, b.String())
}

func (t *Tracker) setPriority(ctx context.Context, chatID string, args []string) error {
	cat, weight, err := parseSetPriority(args)
	if err != nil {
		t.logger.Debug("rejected set_priority", zap.String("chat_id", chatID), zap.Error(err))
		return t.reply(ctx, chatID, setPriorityUsage)
	}
	if err := t.priorities.UpsertPriority(ctx, cat, weight); err != nil {
		return fmt.Errorf("updating priority: %w", err)
	}
	t.logger.Info("priority updated", zap.Stringer("category", cat), zap.Int("weight", weight))
	return t.reply(ctx, chatID, fmt.Sprintf("Priority updated: %s → %d", cat, weight))
}

func parseSetPriority(args []string) (category.Category, int, error) {
	if len(args) != 2 {
		return "", 0, fmt.Errorf("%w: want 2 arguments, got %d", ErrUsage, len(args))
	}
	cat, ok := category.Parse(args[0])
	if !ok {
		return "", 0, fmt.Errorf("%w: unknown category %q", ErrUsage, args[0])
	}
	weight, err := strconv.Atoi(args[1])
	if err != nil || !category.ValidWeight(weight) {
		return "", 0, fmt.Errorf("%w: weight %q out of range", ErrUsage, args[1])
	}
	return cat, weight, nil
}

func (t *Tracker) status(ctx context.Context, chatID string) error {
	next, ok := t.schedule.Next(chatID)
	if !ok {
		return t.reply(ctx, chatID, "Not registered. Send /start to begin check-ins.")
	}
	state, err := t.cycles.Snapshot(ctx, chatID)
	if err != nil {
		return fmt.Errorf("reading check-in state: %w", err)
	}

	var b strings.Builder
	b.WriteString("**Status**\n")
	if state.Phase == checkin.Prompted {
		fmt.Fprintf(&b, "check-in: waiting for a reply until %s\n", t.zone.Local(state.ExpiresAt).Format(clockFormat))
	} else {
		b.WriteString("check-in: idle\n")
	}
	if !state.LastPromptAt.IsZero() {
		fmt.Fprintf(&b, "last prompt: %s\n", t.zone.Local(state.LastPromptAt).Format(clockFormat))
	}
	fmt.Fprintf(&b, "next check-in: %s\n", t.zone.Local(next.Hourly).Format(clockFormat))
	fmt.Fprintf(&b, "next weekly review: %s (%s)",
		t.zone.Local(next.Weekly).Format("Mon Jan 2 03:04 PM"),
		humanize.RelTime(next.Weekly, t.now(), "ago", "from now"))
	return t.reply(ctx, chatID, b.String())
}

func (t *Tracker) reply(ctx context.Context, chatID, text string) error {
	if err := t.replies.DeliverMessage(ctx, chatID, text); err != nil {
		return fmt.Errorf("replying: %w", err)
	}
	return nil
}
