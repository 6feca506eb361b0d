package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-queue-scheduler/internal/clock"
	"github.com/hackgods/clinic-queue-scheduler/internal/locking"
	"github.com/hackgods/clinic-queue-scheduler/internal/metrics"
	"github.com/hackgods/clinic-queue-scheduler/internal/notify"
	"github.com/hackgods/clinic-queue-scheduler/internal/provider"
	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

const (
	EventAppointmentRequested = "APPOINTMENT_REQUESTED"
	EventReminderSent         = "APPOINTMENT_REMINDER_SENT"
)

var eventLogTypes = map[Event]string{
	EventApprove:         "APPOINTMENT_APPROVED",
	EventReject:          "APPOINTMENT_REJECTED",
	EventMoveToQueue:     "APPOINTMENT_QUEUED",
	EventStartProcessing: "APPOINTMENT_PROCESSING",
	EventFinish:          "APPOINTMENT_FINISHED",
	EventAutoFinish:      "APPOINTMENT_AUTO_FINISHED",
	EventComplete:        "APPOINTMENT_COMPLETED",
	EventCancel:          "APPOINTMENT_CANCELLED",
	EventAutoCancel:      "APPOINTMENT_AUTO_CANCELLED",
}

var tracer trace.Tracer = otel.Tracer("github.com/hackgods/clinic-queue-scheduler/internal/appointment")

type Config struct {
	CancelLeadTime    time.Duration
	AvgServiceMinutes int
}

type Dependencies struct {
	Repo      Repository
	Locker    locking.Locker
	Directory provider.Directory
	Notifier  notify.Notifier
	Clock     clock.Clock
	Logger    zerolog.Logger
	Metrics   *metrics.SchedulerMetrics
}

type Service struct {
	repo      Repository
	locker    locking.Locker
	directory provider.Directory
	notifier  notify.Notifier
	clock     clock.Clock
	logger    zerolog.Logger
	metrics   *metrics.SchedulerMetrics
	cfg       Config
}

func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.CancelLeadTime <= 0 {
		cfg.CancelLeadTime = DefaultCancelLeadTime
	}
	if cfg.AvgServiceMinutes <= 0 {
		cfg.AvgServiceMinutes = 15
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	return &Service{
		repo:      deps.Repo,
		locker:    deps.Locker,
		directory: deps.Directory,
		notifier:  deps.Notifier,
		clock:     deps.Clock,
		logger:    deps.Logger.With().Str("component", "appointment").Logger(),
		metrics:   deps.Metrics,
		cfg:       cfg,
	}
}

// Now exposes the service clock so collaborators share one time source.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

type BookRequest struct {
	PatientID  uuid.UUID
	ProviderID uuid.UUID
	Date       time.Time
	SlotStart  schedule.TimeOfDay
}

// Book creates a requested appointment after checking the slot exists in the
// provider's calendar, has not started, and still has capacity. The capacity
// check and the insert run under the provider-day lock.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.book", trace.WithAttributes(
		attribute.String("provider.id", req.ProviderID.String()),
		attribute.String("patient.id", req.PatientID.String()),
	))
	defer span.End()

	appt, err := s.book(ctx, req)
	s.metrics.ObserveTransition("book", resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.dispatch(ctx, appt.ProviderID, notify.KindAppointmentRequested, appt, nil)
	return appt, nil
}

func (s *Service) book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if req.PatientID == uuid.Nil {
		return nil, validationf("patient_id is required")
	}
	if req.ProviderID == uuid.Nil {
		return nil, validationf("provider_id is required")
	}

	sched, err := s.loadBookableSchedule(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}

	date := schedule.DateOf(req.Date)
	slot, ok := schedule.FindSlot(*sched, date, req.SlotStart)
	if !ok {
		return nil, validationf("provider has no slot at %s on %s", req.SlotStart, date.Format(schedule.DateLayout))
	}

	now := s.clock.Now()
	if !now.Before(schedule.At(date, slot.Start, now.Location())) {
		return nil, fmt.Errorf("%w: slot %s on %s", ErrSlotExpired, slot.Start, date.Format(schedule.DateLayout))
	}

	id := uuid.New()
	appt := &Appointment{
		ID:         id,
		Reference:  newReference(date, id),
		PatientID:  req.PatientID,
		ProviderID: req.ProviderID,
		Date:       date,
		SlotStart:  slot.Start,
		SlotEnd:    slot.End,
		Status:     StatusRequested,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.withDayLock(ctx, req.ProviderID, date, func(lockCtx context.Context) error {
		if err := reserve(lockCtx, s.repo, req.ProviderID, date, slot.Start, sched.MaxPerSlot); err != nil {
			return err
		}
		if err := s.repo.CreateAppointment(lockCtx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}
		s.refreshQueue(lockCtx, req.ProviderID, date)
		s.logEvent(lockCtx, appt.ID, EventAppointmentRequested, map[string]any{
			"provider_id": req.ProviderID.String(),
			"patient_id":  req.PatientID.String(),
			"date":        date.Format(schedule.DateLayout),
			"slot_start":  slot.Start.String(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	if fresh, err := s.repo.GetAppointmentByID(ctx, appt.ID); err == nil {
		appt = fresh
	}
	return appt, nil
}

func (s *Service) loadBookableSchedule(ctx context.Context, providerID uuid.UUID) (*schedule.ProviderSchedule, error) {
	active, err := s.directory.IsVerifiedAndActive(ctx, providerID)
	if err != nil {
		return nil, s.providerError(providerID, err)
	}
	if !active {
		return nil, ErrProviderInactive
	}
	return s.loadSchedule(ctx, providerID)
}

func (s *Service) loadSchedule(ctx context.Context, providerID uuid.UUID) (*schedule.ProviderSchedule, error) {
	sched, err := s.directory.GetSchedule(ctx, providerID)
	if err != nil {
		return nil, s.providerError(providerID, err)
	}
	if err := sched.Validate(); err != nil {
		return nil, fmt.Errorf("%w: provider %s: %v", ErrValidation, providerID, err)
	}
	return sched, nil
}

func (s *Service) providerError(providerID uuid.UUID, err error) error {
	if errors.Is(err, provider.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, providerID)
	}
	return fmt.Errorf("load provider %s: %w", providerID, err)
}

// Approve moves a requested appointment to approved. The slot must not have
// started and must still have capacity; same-day approvals get the next
// queue token.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.transition(ctx, id, Input{Event: EventApprove, Actor: actor})
}

func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Appointment, error) {
	return s.transition(ctx, id, Input{Event: EventReject, Actor: actor, Reason: reason})
}

func (s *Service) MoveToQueue(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.transition(ctx, id, Input{Event: EventMoveToQueue, Actor: actor})
}

func (s *Service) StartProcessing(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.transition(ctx, id, Input{Event: EventStartProcessing, Actor: actor})
}

func (s *Service) Finish(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.transition(ctx, id, Input{Event: EventFinish, Actor: actor})
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.transition(ctx, id, Input{Event: EventComplete, Actor: actor})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor Actor, reason string) (*Appointment, error) {
	return s.transition(ctx, id, Input{Event: EventCancel, Actor: actor, Reason: reason})
}

// AutoFinish is the sweeper's entry point for processing appointments whose
// slot has ended.
func (s *Service) AutoFinish(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, Input{Event: EventAutoFinish, Actor: ActorSystem})
}

// AutoCancel is the sweeper's end-of-day entry point for requests nobody approved.
func (s *Service) AutoCancel(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, Input{Event: EventAutoCancel, Actor: ActorSystem})
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, in Input) (*Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment."+string(in.Event), trace.WithAttributes(
		attribute.String("appointment.id", id.String()),
		attribute.String("actor", string(in.Actor)),
	))
	defer span.End()

	updated, err := s.commit(ctx, id, in)
	s.metrics.ObserveTransition(string(in.Event), resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	s.notifyTransition(ctx, updated, in)
	return updated, nil
}

func (s *Service) commit(ctx context.Context, id uuid.UUID, in Input) (*Appointment, error) {
	if !in.Actor.Valid() {
		return nil, validationf("unknown actor %q", in.Actor)
	}

	// unlocked read, only to find the provider-day key
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, s.loadError(id, err)
	}

	var sched *schedule.ProviderSchedule
	if in.Event == EventApprove && Permits(appt.Status, EventApprove) {
		if sched, err = s.loadSchedule(ctx, appt.ProviderID); err != nil {
			return nil, err
		}
	}

	in.CancelLeadTime = s.cfg.CancelLeadTime

	var updated Appointment
	err = s.withDayLock(ctx, appt.ProviderID, appt.Date, func(lockCtx context.Context) error {
		cur, err := s.repo.GetAppointmentByID(lockCtx, id)
		if err != nil {
			return s.loadError(id, err)
		}

		in.Now = s.clock.Now()

		if in.Event == EventApprove {
			// surface state, actor and time errors before touching capacity
			if _, err := Apply(*cur, in); err != nil {
				return err
			}
			if err := reserve(lockCtx, s.repo, cur.ProviderID, cur.Date, cur.SlotStart, sched.MaxPerSlot); err != nil {
				if errors.Is(err, ErrSlotConflict) {
					return &TransitionError{
						AppointmentID: cur.ID, From: cur.Status, Event: in.Event, Actor: in.Actor,
						Guard: "slot capacity", Err: ErrSlotConflict,
					}
				}
				return err
			}
			if cur.Date.Equal(schedule.DateOf(in.Now)) {
				tok, err := assignToken(lockCtx, s.repo, cur.ProviderID, cur.Date)
				if err != nil {
					return err
				}
				in.Token = &tok
			}
		}

		next, err := Apply(*cur, in)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateAppointment(lockCtx, &next, cur.Status); err != nil {
			return fmt.Errorf("save appointment %s: %w", id, err)
		}

		s.refreshQueue(lockCtx, cur.ProviderID, cur.Date)
		s.logEvent(lockCtx, id, eventLogTypes[in.Event], transitionPayload(*cur, next, in))

		updated = next
		if fresh, err := s.repo.GetAppointmentByID(lockCtx, id); err == nil {
			updated = *fresh
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) loadError(id uuid.UUID, err error) error {
	if errors.Is(err, ErrAppointmentNotFound) {
		return fmt.Errorf("%w: %s", ErrAppointmentNotFound, id)
	}
	return fmt.Errorf("load appointment %s: %w", id, err)
}

func (s *Service) withDayLock(ctx context.Context, providerID uuid.UUID, date time.Time, fn func(ctx context.Context) error) error {
	key := locking.DayKey(providerID, date)
	start := time.Now()

	err := s.locker.WithLock(ctx, key, func(lockCtx context.Context) error {
		s.metrics.ObserveLockWait(time.Since(start))
		return fn(lockCtx)
	})
	if errors.Is(err, locking.ErrLockNotAcquired) {
		return fmt.Errorf("%w: %s", ErrBusy, key)
	}
	return err
}

// refreshQueue rewrites cached positions for a provider-day. Positions are
// derived data, so a failure is logged and the committed transition stands.
func (s *Service) refreshQueue(ctx context.Context, providerID uuid.UUID, date time.Time) {
	if err := s.recompute(ctx, providerID, date); err != nil {
		s.logger.Warn().Err(err).
			Str("provider_id", providerID.String()).
			Str("date", date.Format(schedule.DateLayout)).
			Msg("failed to recompute queue positions")
	}
}

func (s *Service) recompute(ctx context.Context, providerID uuid.UUID, date time.Time) error {
	appts, err := s.repo.ListProviderDay(ctx, providerID, date)
	if err != nil {
		return fmt.Errorf("list provider day: %w", err)
	}

	positions := RecomputePositions(appts)
	changed := make(map[uuid.UUID]*int)
	for _, a := range appts {
		if !equalIntPtr(a.QueuePosition, positions[a.ID]) {
			changed[a.ID] = positions[a.ID]
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return s.repo.UpdatePositions(ctx, changed)
}

// RecomputeQueue re-derives positions for a provider-day under its lock.
// It writes nothing when positions are already current.
func (s *Service) RecomputeQueue(ctx context.Context, providerID uuid.UUID, date time.Time) error {
	return s.withDayLock(ctx, providerID, schedule.DateOf(date), func(lockCtx context.Context) error {
		return s.recompute(lockCtx, providerID, schedule.DateOf(date))
	})
}

// SendReminder claims the appointment's reminder flag and, if this call won
// the claim, notifies the patient. It reports whether a reminder went out.
func (s *Service) SendReminder(ctx context.Context, a Appointment) (bool, error) {
	if !a.Status.Remindable() {
		return false, &TransitionError{
			AppointmentID: a.ID, From: a.Status, Event: "remind", Actor: ActorSystem,
			Guard: "only approved or queued appointments get reminders", Err: ErrInvalidTransition,
		}
	}

	claimed, err := s.repo.ClaimReminder(ctx, a.ID, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("claim reminder %s: %w", a.ID, err)
	}
	if !claimed {
		return false, nil
	}

	s.logEvent(ctx, a.ID, EventReminderSent, map[string]any{
		"date":       a.Date.Format(schedule.DateLayout),
		"slot_start": a.SlotStart.String(),
	})
	s.dispatch(ctx, a.PatientID, notify.KindAppointmentReminder, &a, nil)
	return true, nil
}

// ListByStatus is the sweeper's snapshot read; it takes no lock.
func (s *Service) ListByStatus(ctx context.Context, statuses []Status, from, to time.Time) ([]Appointment, error) {
	appts, err := s.repo.ListByStatus(ctx, statuses, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by status: %w", err)
	}
	return appts, nil
}

// GetQueue returns the active appointments of a provider-day in display
// order with positions and estimated waits. It reads without locking.
func (s *Service) GetQueue(ctx context.Context, providerID uuid.UUID, date time.Time) ([]QueueEntry, error) {
	appts, err := s.repo.ListProviderDay(ctx, providerID, schedule.DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("get queue: %w", err)
	}

	ordered := OrderQueue(appts)
	entries := make([]QueueEntry, len(ordered))
	for i, a := range ordered {
		pos := i + 1
		entries[i] = QueueEntry{
			Appointment:   a,
			Position:      pos,
			EstimatedWait: EstimateWait(pos, s.cfg.AvgServiceMinutes),
		}
	}
	return entries, nil
}

// GetAvailability lists every slot of the provider's calendar for date with
// its remaining capacity.
func (s *Service) GetAvailability(ctx context.Context, providerID uuid.UUID, date time.Time) ([]SlotAvailability, error) {
	date = schedule.DateOf(date)

	sched, err := s.loadSchedule(ctx, providerID)
	if err != nil {
		return nil, err
	}

	appts, err := s.repo.ListProviderDay(ctx, providerID, date)
	if err != nil {
		return nil, fmt.Errorf("get availability: %w", err)
	}
	reserved := make(map[schedule.TimeOfDay]int)
	for _, a := range appts {
		if a.Status.HoldsSlot() {
			reserved[a.SlotStart]++
		}
	}

	now := s.clock.Now()
	slots := schedule.EnumerateSlots(*sched, date)
	out := make([]SlotAvailability, len(slots))
	for i, slot := range slots {
		n := reserved[slot.Start]
		remaining := sched.MaxPerSlot - n
		if remaining < 0 {
			remaining = 0
		}
		out[i] = SlotAvailability{
			Slot:      slot,
			Capacity:  sched.MaxPerSlot,
			Reserved:  n,
			Remaining: remaining,
			Past:      !now.Before(schedule.At(date, slot.Start, now.Location())),
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, s.loadError(id, err)
	}
	return appt, nil
}

// ListByPatient retrieves appointments for a specific patient, newest first.
func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	limit, offset = NormalizePage(limit, offset)
	appts, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage clamps a requested page to the window ListByPatient serves.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) notifyTransition(ctx context.Context, a *Appointment, in Input) {
	extra := map[string]any{}
	switch in.Event {
	case EventApprove:
		if a.QueueToken != nil {
			extra["queue_token"] = *a.QueueToken
		}
		s.dispatch(ctx, a.PatientID, notify.KindAppointmentApproved, a, extra)
	case EventReject:
		extra["reason"] = a.CancelReason
		s.dispatch(ctx, a.PatientID, notify.KindAppointmentRejected, a, extra)
	case EventMoveToQueue:
		s.dispatch(ctx, a.PatientID, notify.KindAppointmentQueued, a, nil)
	case EventStartProcessing:
		s.dispatch(ctx, a.PatientID, notify.KindAppointmentCalled, a, nil)
	case EventFinish, EventAutoFinish:
		s.dispatch(ctx, a.PatientID, notify.KindAppointmentFinished, a, nil)
	case EventComplete:
		s.dispatch(ctx, a.PatientID, notify.KindAppointmentCompleted, a, nil)
	case EventCancel, EventAutoCancel:
		extra["reason"] = a.CancelReason
		extra["cancelled_by"] = string(a.CancelledBy)
		to := a.PatientID
		if in.Actor == ActorPatient {
			to = a.ProviderID
		}
		s.dispatch(ctx, to, notify.KindAppointmentCancelled, a, extra)
	}
}

// dispatch runs after the provider-day lock is released. Failures are logged
// and never undo the transition.
func (s *Service) dispatch(ctx context.Context, userID uuid.UUID, kind notify.Kind, a *Appointment, extra map[string]any) {
	payload := map[string]any{
		"appointment_id": a.ID.String(),
		"reference":      a.Reference,
		"status":         string(a.Status),
		"date":           a.Date.Format(schedule.DateLayout),
		"slot_start":     a.SlotStart.String(),
	}
	for k, v := range extra {
		payload[k] = v
	}

	if err := s.notifier.Notify(ctx, userID, kind, payload); err != nil {
		s.logger.Error().Err(err).
			Str("appointment_id", a.ID.String()).
			Str("kind", string(kind)).
			Msg("notification dispatch failed")
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

func transitionPayload(from, to Appointment, in Input) map[string]any {
	p := map[string]any{
		"from":  string(from.Status),
		"to":    string(to.Status),
		"actor": string(in.Actor),
	}
	if to.QueueToken != nil && from.QueueToken == nil {
		p["queue_token"] = *to.QueueToken
	}
	if to.CancelReason != "" && from.CancelReason == "" {
		p["reason"] = to.CancelReason
	}
	return p
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrSlotExpired):
		return "slot_expired"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	}
	return "error"
}
