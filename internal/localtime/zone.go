// Package localtime holds the one conversion from stored UTC instants to the
// user's wall clock. Every local-time rule (night window, core work hours,
// anchor targets) goes through a Zone so storage and business rules never
// disagree about which timezone applies.
package localtime

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const (
	NightStartHour = 23
	NightEndHour   = 8

	WorkStartHour = 9
	WorkEndHour   = 17
)

// Zone is a fixed IANA timezone used for all local-time decisions.
type Zone struct {
	loc *time.Location
}

// Load resolves an IANA name such as "America/New_York".
func Load(name string) (Zone, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{}, fmt.Errorf("loading timezone %q: %w", name, err)
	}
	return Zone{loc: loc}, nil
}

// MustLoad is Load for fixed names known at compile time.
func MustLoad(name string) Zone {
	z, err := Load(name)
	if err != nil {
		panic(err)
	}
	return z
}

func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

func (z Zone) String() string { return z.Location().String() }

// Local converts an instant to the zone's wall clock.
func (z Zone) Local(t time.Time) time.Time {
	return t.In(z.Location())
}

// IsNight reports whether t falls in the local night window [23:00, 08:00).
func (z Zone) IsNight(t time.Time) bool {
	h := z.Local(t).Hour()
	return h >= NightStartHour || h < NightEndHour
}

// IsCoreWorkHours reports whether t falls Monday–Friday with a local hour
// between 09 and 17 inclusive.
func (z Zone) IsCoreWorkHours(t time.Time) bool {
	l := z.Local(t)
	switch l.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	h := l.Hour()
	return h >= WorkStartHour && h <= WorkEndHour
}

// NextHour returns the next top of the local hour strictly after now. It
// advances the instant by what is left of the local hour, so the repeated
// hour on a fall-back day still gets its own top of the hour.
func (z Zone) NextHour(now time.Time) time.Time {
	l := z.Local(now)
	elapsed := time.Duration(l.Minute())*time.Minute +
		time.Duration(l.Second())*time.Second +
		time.Duration(l.Nanosecond())
	return now.Add(time.Hour - elapsed).In(z.Location())
}

// NextWeekly returns the next local occurrence of weekday at hour:minute
// strictly after now. The result is always derived from the wall clock, so a
// daylight-saving change between now and the target keeps the local time fixed.
func (z Zone) NextWeekly(now time.Time, weekday time.Weekday, hour, minute int) time.Time {
	l := z.Local(now)
	days := (int(weekday) - int(l.Weekday()) + 7) % 7
	next := time.Date(l.Year(), l.Month(), l.Day()+days, hour, minute, 0, 0, z.Location())
	if !next.After(now) {
		next = time.Date(l.Year(), l.Month(), l.Day()+days+7, hour, minute, 0, 0, z.Location())
	}
	return next
}
