package schedule

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidSchedule  = errors.New("invalid provider schedule")
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
	ErrInvalidDate      = errors.New("invalid date")
)

const DateLayout = "2006-01-02"

// TimeOfDay is a wall-clock time expressed in minutes since midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" in 24h format.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Minute
}

type Interval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (i Interval) overlaps(start, end TimeOfDay) bool {
	return start < i.End && i.Start < end
}

// Slot is a (start, end) window derived from a ProviderSchedule. It is never
// stored on its own.
type Slot struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// ProviderSchedule is the working pattern a provider publishes through the
// directory. The scheduler only ever reads it.
type ProviderSchedule struct {
	ProviderID  uuid.UUID      `json:"provider_id"`
	WorkingDays []time.Weekday `json:"working_days"`
	WorkStart   TimeOfDay      `json:"work_start"`
	WorkEnd     TimeOfDay      `json:"work_end"`
	Breaks      []Interval     `json:"breaks"`
	SlotMinutes int            `json:"slot_minutes"`
	MaxPerSlot  int            `json:"max_per_slot"`
}

// Validate checks the structural invariants of a schedule: positive slot
// length and capacity, a non-empty working window, and breaks that are
// disjoint and inside working hours.
func (s ProviderSchedule) Validate() error {
	if s.SlotMinutes <= 0 {
		return fmt.Errorf("%w: slot duration must be positive", ErrInvalidSchedule)
	}
	if s.MaxPerSlot < 1 {
		return fmt.Errorf("%w: max appointments per slot must be at least 1", ErrInvalidSchedule)
	}
	if s.WorkStart < 0 || s.WorkEnd > 24*60 || s.WorkStart >= s.WorkEnd {
		return fmt.Errorf("%w: working hours %s-%s", ErrInvalidSchedule, s.WorkStart, s.WorkEnd)
	}

	breaks := make([]Interval, len(s.Breaks))
	copy(breaks, s.Breaks)
	sort.Slice(breaks, func(i, j int) bool { return breaks[i].Start < breaks[j].Start })

	for i, b := range breaks {
		if b.Start >= b.End {
			return fmt.Errorf("%w: empty break %s-%s", ErrInvalidSchedule, b.Start, b.End)
		}
		if b.Start < s.WorkStart || b.End > s.WorkEnd {
			return fmt.Errorf("%w: break %s-%s outside working hours", ErrInvalidSchedule, b.Start, b.End)
		}
		if i > 0 && breaks[i-1].End > b.Start {
			return fmt.Errorf("%w: breaks %s-%s and %s-%s overlap", ErrInvalidSchedule,
				breaks[i-1].Start, breaks[i-1].End, b.Start, b.End)
		}
	}
	return nil
}

func (s ProviderSchedule) WorksOn(day time.Weekday) bool {
	for _, d := range s.WorkingDays {
		if d == day {
			return true
		}
	}
	return false
}

// EnumerateSlots walks the working hours in SlotMinutes steps and returns every
// increment that fits before WorkEnd and does not touch a break. The result is
// empty when the provider does not work on date's weekday.
func EnumerateSlots(s ProviderSchedule, date time.Time) []Slot {
	if s.SlotMinutes <= 0 || !s.WorksOn(date.Weekday()) {
		return nil
	}

	step := TimeOfDay(s.SlotMinutes)
	var slots []Slot
	for start := s.WorkStart; start+step <= s.WorkEnd; start += step {
		end := start + step
		if inBreak(s.Breaks, start, end) {
			continue
		}
		slots = append(slots, Slot{Start: start, End: end})
	}
	return slots
}

// FindSlot returns the enumerated slot starting at start on date.
func FindSlot(s ProviderSchedule, date time.Time, start TimeOfDay) (Slot, bool) {
	for _, slot := range EnumerateSlots(s, date) {
		if slot.Start == start {
			return slot, true
		}
	}
	return Slot{}, false
}

func inBreak(breaks []Interval, start, end TimeOfDay) bool {
	for _, b := range breaks {
		if b.overlaps(start, end) {
			return true
		}
	}
	return false
}

// DateOf returns the civil date of t (in t's own location) as midnight UTC,
// which is how dates round-trip through a Postgres DATE column.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// At returns the instant at which tod falls on date in loc.
func At(date time.Time, tod TimeOfDay, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(tod.Duration())
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidSchedule, s)
}
