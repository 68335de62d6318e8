package usecase

import (
	"sort"
	"time"

	"truckpress/internal/config"
)

// slotter assigns posting times across the configured day slots. Each
// assignment advances the rotation; a slot already in the past rolls to the
// next day. Jitter spreads fleet members off the exact slot minute, and
// assignments are forced monotonic even when jitter would overlap.
type slotter struct {
	slots   []config.TimeSlot
	loc     *time.Location
	jitter  func(n int) int
	jitterN int
	cursor  int
	day     time.Time
	last    time.Time
}

func newSlotter(slots []config.TimeSlot, loc *time.Location, jitterMinutes int, jitter func(int) int, now time.Time) *slotter {
	ordered := make([]config.TimeSlot, len(slots))
	copy(ordered, slots)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Hour != ordered[j].Hour {
			return ordered[i].Hour < ordered[j].Hour
		}
		return ordered[i].Minute < ordered[j].Minute
	})

	if jitterMinutes < 1 {
		jitterMinutes = 1
	}

	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	s := &slotter{
		slots:   ordered,
		loc:     loc,
		jitter:  jitter,
		jitterN: jitterMinutes,
		day:     day,
		last:    now,
	}

	// Start the rotation at the first slot still ahead of now; if every
	// slot has passed today, roll to tomorrow.
	for i, slot := range ordered {
		if s.slotTime(day, slot).After(now) {
			s.cursor = i
			return s
		}
	}
	s.cursor = 0
	s.day = day.AddDate(0, 0, 1)
	return s
}

// next returns the following posting time and advances the rotation.
func (s *slotter) next() time.Time {
	t := s.slotTime(s.day, s.slots[s.cursor]).Add(time.Duration(s.jitter(s.jitterN)) * time.Minute)

	s.cursor++
	if s.cursor >= len(s.slots) {
		s.cursor = 0
		s.day = s.day.AddDate(0, 0, 1)
	}

	if !t.After(s.last) {
		t = s.last.Add(time.Minute)
	}
	s.last = t
	return t
}

func (s *slotter) slotTime(day time.Time, slot config.TimeSlot) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), slot.Hour, slot.Minute, 0, 0, s.loc)
}
