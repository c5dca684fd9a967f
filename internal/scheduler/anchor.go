package scheduler

import (
	"time"

	"github.com/chris/shadow/internal/db"
	"github.com/chris/shadow/internal/localtime"
	"go.uber.org/zap"
)

// Weekly report target, in the configured timezone.
const (
	WeeklyWeekday = time.Sunday
	WeeklyHour    = 20
	WeeklyMinute  = 0
)

const (
	hourlyIntervalSeconds = 3600
	weeklyIntervalSeconds = 7 * 24 * 3600
)

// anchor is a cron.Schedule whose next fire time is always recomputed from
// the wall clock rather than by adding an interval to the previous one, so
// restarts and DST changes cannot drift the local fire time.
type anchor struct {
	kind   db.AnchorKind
	zone   localtime.Zone
	logger *zap.Logger
}

func hourlyAnchor(zone localtime.Zone, logger *zap.Logger) anchor {
	return newAnchor(db.AnchorHourly, zone, logger)
}

func weeklyAnchor(zone localtime.Zone, logger *zap.Logger) anchor {
	return newAnchor(db.AnchorWeekly, zone, logger)
}

func newAnchor(kind db.AnchorKind, zone localtime.Zone, logger *zap.Logger) anchor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return anchor{kind: kind, zone: zone, logger: logger}
}

func (a anchor) compute(t time.Time) time.Time {
	if a.kind == db.AnchorWeekly {
		return a.zone.NextWeekly(t, WeeklyWeekday, WeeklyHour, WeeklyMinute)
	}
	return a.zone.NextHour(t)
}

// Next implements cron.Schedule.
func (a anchor) Next(t time.Time) time.Time {
	next := a.compute(t)
	if !next.After(t) {
		// never arm a timer in the past; recompute from just past t
		a.logger.Error("anchor computed a past instant, recomputing",
			zap.String("kind", string(a.kind)),
			zap.Time("now", t),
			zap.Time("next_fire_at", next))
		next = a.compute(t.Add(time.Minute))
	}
	return next
}

func (a anchor) intervalSeconds() int64 {
	if a.kind == db.AnchorWeekly {
		return weeklyIntervalSeconds
	}
	return hourlyIntervalSeconds
}
