// Package calendar classifies instants against the trading calendar and
// the agent schedule windows. Classification is a pure function of the
// instant and the configuration: no clocks, no side effects.
package calendar

import (
	"fmt"
	"time"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/models"
)

// Classification is the schedule state of a single instant.
type Classification struct {
	TradingDay       bool
	SummarizerActive bool
	DeciderActive    bool
	FeedbackDue      bool

	// Slot keys identify the schedule slot the instant falls in; the
	// orchestrator fires each slot at most once per run type. Empty when
	// the corresponding agent is not due.
	SummarizerSlot string
	DeciderSlot    string
	FeedbackSlot   string

	// NextBoundary is the time until the next schedule boundary of any
	// agent, useful for idle logging.
	NextBoundary time.Duration
}

// Calendar evaluates the configured trading calendar.
type Calendar struct {
	loc      *time.Location
	open     dayMinute
	close    dayMinute
	sumStart dayMinute
	sumEnd   dayMinute
	sumOff   int
	weekend  dayMinute
	decider  int // minutes between decider slots
	feedback dayMinute
	holidays map[string]bool
}

// dayMinute is a clock time as minutes since midnight.
type dayMinute int

func parseDayMinute(s string) (dayMinute, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return dayMinute(t.Hour()*60 + t.Minute()), nil
}

// New builds a Calendar from configuration.
func New(cfg common.CalendarConfig) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	c := &Calendar{
		loc:      loc,
		sumOff:   cfg.SummarizerOffsetMin,
		decider:  cfg.DeciderIntervalMin,
		holidays: make(map[string]bool, len(cfg.Holidays)),
	}

	for _, h := range cfg.Holidays {
		if _, err := time.ParseInLocation("2006-01-02", h, loc); err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", h, err)
		}
		c.holidays[h] = true
	}

	for _, p := range []struct {
		dst *dayMinute
		val string
	}{
		{&c.open, cfg.MarketOpen},
		{&c.close, cfg.MarketClose},
		{&c.sumStart, cfg.SummarizerStart},
		{&c.sumEnd, cfg.SummarizerEnd},
		{&c.weekend, cfg.WeekendSummarizerAt},
		{&c.feedback, cfg.FeedbackAt},
	} {
		dm, err := parseDayMinute(p.val)
		if err != nil {
			return nil, err
		}
		*p.dst = dm
	}

	return c, nil
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsTradingDay reports whether t falls on a weekday that is not a
// configured holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	t = t.In(c.loc)
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return !c.holidays[t.Format("2006-01-02")]
}

// Classify evaluates the instant against every agent window.
func (c *Calendar) Classify(t time.Time) Classification {
	t = t.In(c.loc)
	minute := dayMinute(t.Hour()*60 + t.Minute())
	date := t.Format("2006-01-02")
	trading := c.IsTradingDay(t)

	cls := Classification{TradingDay: trading}

	// Summarizer: hourly at the offset minute inside the window on trading
	// days; a single afternoon slot on non-trading days.
	if trading {
		if minute >= c.sumStart && minute <= c.sumEnd {
			slotMinute := dayMinute(t.Hour()*60 + c.sumOff)
			if minute >= slotMinute && slotMinute >= c.sumStart && slotMinute <= c.sumEnd {
				cls.SummarizerActive = true
				cls.SummarizerSlot = fmt.Sprintf("%s-%02dh", date, t.Hour())
			}
		}
	} else if minute >= c.weekend {
		cls.SummarizerActive = true
		cls.SummarizerSlot = date
	}

	// Decider: fixed sub-hour interval strictly inside market hours,
	// trading days only.
	if trading && minute > c.open && minute < c.close {
		slot := int(minute-c.open) / c.decider
		cls.DeciderActive = true
		cls.DeciderSlot = fmt.Sprintf("%s-d%02d", date, slot)
	}

	// Feedback: once per trading day, after close.
	if trading && minute >= c.feedback {
		cls.FeedbackDue = true
		cls.FeedbackSlot = date
	}

	cls.NextBoundary = c.nextBoundary(t, minute, trading)
	return cls
}

// SlotFor returns the current slot key for a run type, or "" when the
// agent is not due at t.
func (c *Calendar) SlotFor(t time.Time, runType models.RunType) string {
	cls := c.Classify(t)
	switch runType {
	case models.RunTypeSummarizer:
		return cls.SummarizerSlot
	case models.RunTypeDecider:
		return cls.DeciderSlot
	case models.RunTypeFeedback:
		return cls.FeedbackSlot
	}
	return ""
}

// nextBoundary computes the duration until the next agent boundary. The
// scan is minute-granular, which is exact for minute-resolution windows.
func (c *Calendar) nextBoundary(t time.Time, minute dayMinute, trading bool) time.Duration {
	boundaries := []dayMinute{}
	if trading {
		// Next summarizer offset minute within the window.
		next := dayMinute((int(minute)/60)*60 + c.sumOff)
		if next <= minute {
			next += 60
		}
		if next >= c.sumStart && next <= c.sumEnd {
			boundaries = append(boundaries, next)
		}
		// Next decider interval boundary.
		if minute < c.close {
			d := c.open + dayMinute(c.decider)
			for d < c.close {
				if d > minute {
					boundaries = append(boundaries, d)
					break
				}
				d += dayMinute(c.decider)
			}
		}
		if minute < c.feedback {
			boundaries = append(boundaries, c.feedback)
		}
	} else if minute < c.weekend {
		boundaries = append(boundaries, c.weekend)
	}

	if len(boundaries) == 0 {
		// Next boundary is tomorrow; report time to midnight.
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc).Add(24 * time.Hour)
		return midnight.Sub(t)
	}

	nearest := boundaries[0]
	for _, b := range boundaries[1:] {
		if b < nearest {
			nearest = b
		}
	}
	target := time.Date(t.Year(), t.Month(), t.Day(), int(nearest)/60, int(nearest)%60, 0, 0, c.loc)
	return target.Sub(t)
}
