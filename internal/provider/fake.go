package provider

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// FakeProfiles generates n verified, active providers with plausible
// weekday schedules. The same faker seed yields the same profiles.
func FakeProfiles(faker *gofakeit.Faker, n int) []Profile {
	starts := []schedule.TimeOfDay{8 * 60, 9 * 60, 10 * 60}
	slotLengths := []int{15, 20, 30}

	profiles := make([]Profile, n)
	for i := range profiles {
		start := starts[faker.Number(0, len(starts)-1)]
		end := start + 8*60
		lunch := start + 4*60

		days := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
		if faker.Bool() {
			days = append(days, time.Saturday)
		}

		id, err := uuid.Parse(faker.UUID())
		if err != nil {
			id = uuid.New()
		}

		profiles[i] = Profile{
			ID:        id,
			Name:      "Dr. " + faker.Name(),
			Specialty: specialties[faker.Number(0, len(specialties)-1)],
			Verified:  true,
			Active:    true,
			Schedule: schedule.ProviderSchedule{
				ProviderID:  id,
				WorkingDays: days,
				WorkStart:   start,
				WorkEnd:     end,
				Breaks:      []schedule.Interval{{Start: lunch, End: lunch + 60}},
				SlotMinutes: slotLengths[faker.Number(0, len(slotLengths)-1)],
				MaxPerSlot:  faker.Number(1, 3),
			},
		}
	}
	return profiles
}
