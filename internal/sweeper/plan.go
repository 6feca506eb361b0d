package sweeper

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduler/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

// ProviderDay identifies one provider's queue on one date.
type ProviderDay struct {
	ProviderID uuid.UUID
	Date       time.Time
}

// PlanAutoFinish picks processing appointments whose slot has ended.
func PlanAutoFinish(appts []appointment.Appointment, now time.Time) []appointment.Appointment {
	var out []appointment.Appointment
	for _, a := range appts {
		if a.Status == appointment.StatusProcessing && now.After(a.EndsAt(now.Location())) {
			out = append(out, a)
		}
	}
	return out
}

// PlanAutoCancel picks requests dated today or earlier that nobody approved.
func PlanAutoCancel(appts []appointment.Appointment, now time.Time) []appointment.Appointment {
	today := schedule.DateOf(now)
	var out []appointment.Appointment
	for _, a := range appts {
		if a.Status == appointment.StatusRequested && !a.Date.After(today) {
			out = append(out, a)
		}
	}
	return out
}

// PlanReminders picks approved or queued appointments for tomorrow that have
// not been reminded yet.
func PlanReminders(appts []appointment.Appointment, now time.Time) []appointment.Appointment {
	tomorrow := schedule.DateOf(now).AddDate(0, 0, 1)
	var out []appointment.Appointment
	for _, a := range appts {
		if a.ReminderSentAt != nil || !a.Date.Equal(tomorrow) {
			continue
		}
		if a.Status.Remindable() {
			out = append(out, a)
		}
	}
	return out
}

// PlanQueueRefresh returns each distinct provider-day in appts, sorted.
func PlanQueueRefresh(appts []appointment.Appointment) []ProviderDay {
	seen := make(map[ProviderDay]bool)
	var out []ProviderDay
	for _, a := range appts {
		key := ProviderDay{ProviderID: a.ProviderID, Date: a.Date}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ProviderID.String() < out[j].ProviderID.String()
	})
	return out
}
