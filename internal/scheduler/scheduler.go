package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/chris/shadow/internal/db"
	"github.com/chris/shadow/internal/localtime"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Cycles receives hourly check-in ticks.
type Cycles interface {
	Tick(chatID string)
}

// Reporter sends the weekly summary to a chat.
type Reporter interface {
	SendWeekly(ctx context.Context, chatID string) error
}

// Anchors is the persisted anchor table.
type Anchors interface {
	SaveAnchor(ctx context.Context, a db.Anchor) error
	ListAnchors(ctx context.Context) ([]db.Anchor, error)
	DeleteAnchors(ctx context.Context, chatID string) error
}

// NextFires are the upcoming anchor instants for one chat.
type NextFires struct {
	Hourly time.Time
	Weekly time.Time
}

type chatEntries struct {
	hourly cron.EntryID
	weekly cron.EntryID
}

// Scheduler owns every per-chat anchor. One cron instance drives all chats;
// each chat has exactly one hourly and one weekly entry.
type Scheduler struct {
	cron     *cron.Cron
	anchors  Anchors
	cycles   Cycles
	reporter Reporter
	zone     localtime.Zone
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]chatEntries
}

func New(anchors Anchors, cycles Cycles, reporter Reporter, zone localtime.Zone, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(zone.Location()),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		anchors:  anchors,
		cycles:   cycles,
		reporter: reporter,
		zone:     zone,
		logger:   logger,
		now:      time.Now,
		entries:  make(map[string]chatEntries),
	}
}

// Start re-registers every known chat from the wall clock and starts firing.
func (s *Scheduler) Start(ctx context.Context) error {
	n, err := s.Restore(ctx)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("restored", n), zap.Strings("chats", s.Chats()))
	return nil
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Restore registers anchors for every chat in the anchor table. Stored fire
// times only feed the log: fires that fell inside downtime are reported, not
// replayed, and the new anchors come from the wall clock.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	stored, err := s.anchors.ListAnchors(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading anchors: %w", err)
	}
	now := s.now()
	var chats []string
	seen := make(map[string]bool)
	for _, a := range stored {
		if a.NextFireAt.Before(now) {
			s.logger.Info("anchor missed while stopped",
				zap.String("chat_id", a.ChatID),
				zap.String("kind", string(a.Kind)),
				zap.Time("next_fire_at", a.NextFireAt))
		}
		if !seen[a.ChatID] {
			seen[a.ChatID] = true
			chats = append(chats, a.ChatID)
		}
	}

	restored := 0
	for _, chatID := range chats {
		if _, err := s.Register(ctx, chatID); err != nil {
			s.logger.Error("restoring chat anchors", zap.String("chat_id", chatID), zap.Error(err))
			continue
		}
		restored++
	}
	return restored, nil
}

// Register (re)creates the hourly and weekly anchors for a chat, replacing
// any existing ones, and persists them.
func (s *Scheduler) Register(ctx context.Context, chatID string) (NextFires, error) {
	hourly := hourlyAnchor(s.zone, s.logger)
	weekly := weeklyAnchor(s.zone, s.logger)

	s.mu.Lock()
	if old, ok := s.entries[chatID]; ok {
		s.cron.Remove(old.hourly)
		s.cron.Remove(old.weekly)
	}
	e := chatEntries{
		hourly: s.cron.Schedule(hourly, cron.FuncJob(func() { s.fireHourly(chatID) })),
		weekly: s.cron.Schedule(weekly, cron.FuncJob(func() { s.fireWeekly(chatID) })),
	}
	s.entries[chatID] = e
	s.mu.Unlock()

	now := s.now()
	next := NextFires{Hourly: hourly.Next(now), Weekly: weekly.Next(now)}
	if err := s.persist(ctx, chatID, hourly, next.Hourly); err != nil {
		return next, err
	}
	if err := s.persist(ctx, chatID, weekly, next.Weekly); err != nil {
		return next, err
	}
	s.logger.Info("chat anchors registered",
		zap.String("chat_id", chatID),
		zap.Time("hourly_next_fire_at", next.Hourly),
		zap.Time("weekly_next_fire_at", next.Weekly))
	return next, nil
}

// Unregister removes a chat's anchors from the scheduler and the store.
func (s *Scheduler) Unregister(ctx context.Context, chatID string) error {
	s.mu.Lock()
	if old, ok := s.entries[chatID]; ok {
		s.cron.Remove(old.hourly)
		s.cron.Remove(old.weekly)
		delete(s.entries, chatID)
	}
	s.mu.Unlock()

	if err := s.anchors.DeleteAnchors(ctx, chatID); err != nil {
		return err
	}
	s.logger.Info("chat anchors removed", zap.String("chat_id", chatID))
	return nil
}

// Next reports the upcoming fire times for a registered chat.
func (s *Scheduler) Next(chatID string) (NextFires, bool) {
	s.mu.Lock()
	_, ok := s.entries[chatID]
	s.mu.Unlock()
	if !ok {
		return NextFires{}, false
	}
	now := s.now()
	return NextFires{
		Hourly: hourlyAnchor(s.zone, s.logger).Next(now),
		Weekly: weeklyAnchor(s.zone, s.logger).Next(now),
	}, true
}

// Chats lists the registered chats in order.
func (s *Scheduler) Chats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (s *Scheduler) fireHourly(chatID string) {
	s.cycles.Tick(chatID)
	s.advance(chatID, hourlyAnchor(s.zone, s.logger))
}

func (s *Scheduler) fireWeekly(chatID string) {
	ctx := context.Background()
	s.logger.Info("sending weekly summary", zap.String("chat_id", chatID))
	if err := s.reporter.SendWeekly(ctx, chatID); err != nil {
		s.logger.Error("weekly summary failed", zap.String("chat_id", chatID), zap.Error(err))
	}
	s.advance(chatID, weeklyAnchor(s.zone, s.logger))
}

// advance records the anchor's next fire time, recomputed from the wall clock.
func (s *Scheduler) advance(chatID string, a anchor) {
	next := a.Next(s.now())
	if err := s.persist(context.Background(), chatID, a, next); err != nil {
		s.logger.Error("recording next fire time", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (s *Scheduler) persist(ctx context.Context, chatID string, a anchor, next time.Time) error {
	return s.anchors.SaveAnchor(ctx, db.Anchor{
		ChatID:          chatID,
		Kind:            a.kind,
		NextFireAt:      next,
		IntervalSeconds: a.intervalSeconds(),
	})
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
