package appointment

import (
	"time"

	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

type Event string

const (
	EventApprove         Event = "approve"
	EventReject          Event = "reject"
	EventMoveToQueue     Event = "move_to_queue"
	EventStartProcessing Event = "start_processing"
	EventFinish          Event = "finish"
	EventAutoFinish      Event = "auto_finish"
	EventComplete        Event = "complete"
	EventCancel          Event = "cancel"
	EventAutoCancel      Event = "auto_cancel"
)

const (
	ReasonNotApprovedByEndOfDay = "not approved by end of day"
	ReasonRejectedByProvider    = "rejected by provider"
)

// DefaultCancelLeadTime is how far ahead of the slot a patient may still cancel.
const DefaultCancelLeadTime = 24 * time.Hour

// Input carries everything a transition may need. Now must come from the
// clinic clock.
type Input struct {
	Event  Event
	Actor  Actor
	Now    time.Time
	Reason string

	// CancelLeadTime applies to patient-initiated cancellation only.
	CancelLeadTime time.Duration

	// Token is stamped on approval; nil when the appointment is not for today.
	Token *int
}

type rule struct {
	from   []Status
	to     Status
	actors []Actor
	guard  func(a Appointment, in Input) (string, error)
	apply  func(a *Appointment, in Input)
}

var staffActors = []Actor{ActorProvider, ActorAdmin}

var rules = map[Event]rule{
	EventApprove: {
		from:   []Status{StatusRequested},
		to:     StatusApproved,
		actors: staffActors,
		guard: func(a Appointment, in Input) (string, error) {
			if !in.Now.Before(a.StartsAt(in.Now.Location())) {
				return "slot start has passed", ErrSlotExpired
			}
			return "", nil
		},
		apply: func(a *Appointment, in Input) {
			if in.Token != nil {
				tok := *in.Token
				a.QueueToken = &tok
			}
		},
	},
	EventReject: {
		from:   []Status{StatusRequested},
		to:     StatusRejected,
		actors: staffActors,
		apply: func(a *Appointment, in Input) {
			stampCancel(a, in, ReasonRejectedByProvider)
		},
	},
	EventAutoCancel: {
		from:   []Status{StatusRequested},
		to:     StatusCancelled,
		actors: []Actor{ActorSystem},
		guard: func(a Appointment, in Input) (string, error) {
			if a.Date.After(schedule.DateOf(in.Now)) {
				return "appointment date is in the future", ErrInvalidTransition
			}
			return "", nil
		},
		apply: func(a *Appointment, in Input) {
			stampCancel(a, in, ReasonNotApprovedByEndOfDay)
		},
	},
	EventMoveToQueue: {
		from:   []Status{StatusApproved},
		to:     StatusInQueue,
		actors: staffActors,
	},
	EventStartProcessing: {
		from:   []Status{StatusApproved, StatusInQueue},
		to:     StatusProcessing,
		actors: staffActors,
		guard: func(a Appointment, in Input) (string, error) {
			if !in.Now.Before(a.EndsAt(in.Now.Location())) {
				return "slot end has passed", ErrSlotExpired
			}
			return "", nil
		},
		apply: func(a *Appointment, in Input) {
			now := in.Now
			a.CalledAt = &now
		},
	},
	EventFinish: {
		from:   []Status{StatusProcessing},
		to:     StatusFinished,
		actors: staffActors,
		apply: func(a *Appointment, in Input) {
			now := in.Now
			a.CompletedAt = &now
		},
	},
	EventAutoFinish: {
		from:   []Status{StatusProcessing},
		to:     StatusFinished,
		actors: []Actor{ActorSystem},
		guard: func(a Appointment, in Input) (string, error) {
			if !in.Now.After(a.EndsAt(in.Now.Location())) {
				return "slot has not ended", ErrInvalidTransition
			}
			return "", nil
		},
		apply: func(a *Appointment, in Input) {
			now := in.Now
			a.CompletedAt = &now
		},
	},
	EventComplete: {
		from:   []Status{StatusFinished, StatusApproved},
		to:     StatusCompleted,
		actors: []Actor{ActorProvider, ActorPatient, ActorAdmin},
		apply: func(a *Appointment, in Input) {
			if a.CompletedAt == nil {
				now := in.Now
				a.CompletedAt = &now
			}
		},
	},
	EventCancel: {
		from:   []Status{StatusRequested, StatusApproved, StatusInQueue, StatusProcessing},
		to:     StatusCancelled,
		actors: []Actor{ActorPatient, ActorProvider, ActorAdmin},
		guard: func(a Appointment, in Input) (string, error) {
			if in.Actor != ActorPatient {
				return "", nil
			}
			lead := in.CancelLeadTime
			if lead <= 0 {
				lead = DefaultCancelLeadTime
			}
			if a.StartsAt(in.Now.Location()).Sub(in.Now) <= lead {
				return "inside cancellation lead time of " + lead.String(), ErrSlotExpired
			}
			return "", nil
		},
		apply: func(a *Appointment, in Input) {
			stampCancel(a, in, "cancelled by "+string(in.Actor))
		},
	},
}

func stampCancel(a *Appointment, in Input, defaultReason string) {
	now := in.Now
	a.CancelledAt = &now
	a.CancelledBy = in.Actor
	a.CancelReason = in.Reason
	if a.CancelReason == "" {
		a.CancelReason = defaultReason
	}
}

// Apply runs one event against a and returns the resulting appointment. It
// never mutates a; on error the caller's copy is exactly as it was.
func Apply(a Appointment, in Input) (Appointment, error) {
	fail := func(guard string, err error) (Appointment, error) {
		return a, &TransitionError{
			AppointmentID: a.ID,
			From:          a.Status,
			Event:         in.Event,
			Actor:         in.Actor,
			Guard:         guard,
			Err:           err,
		}
	}

	r, ok := rules[in.Event]
	if !ok {
		return fail("unknown event", ErrInvalidTransition)
	}
	if !containsStatus(r.from, a.Status) {
		return fail("", ErrInvalidTransition)
	}
	if !containsActor(r.actors, in.Actor) {
		return fail("actor not permitted", ErrInvalidTransition)
	}
	if r.guard != nil {
		if guard, err := r.guard(a, in); err != nil {
			return fail(guard, err)
		}
	}

	next := a
	next.Status = r.to
	next.UpdatedAt = in.Now
	if r.apply != nil {
		r.apply(&next, in)
	}
	if !next.Status.Active() {
		next.QueuePosition = nil
	}
	return next, nil
}

// Permits reports whether event is defined from status, ignoring actor and guards.
func Permits(status Status, event Event) bool {
	r, ok := rules[event]
	return ok && containsStatus(r.from, status)
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsActor(list []Actor, a Actor) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}
