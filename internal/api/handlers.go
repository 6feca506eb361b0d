package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduler/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduler/internal/schedule"
)

// AppointmentService is what the HTTP layer needs from appointment.Service.
type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)

	Approve(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	Reject(ctx context.Context, id uuid.UUID, actor appointment.Actor, reason string) (*appointment.Appointment, error)
	MoveToQueue(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	StartProcessing(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	Finish(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID, actor appointment.Actor) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, actor appointment.Actor, reason string) (*appointment.Appointment, error)

	GetQueue(ctx context.Context, providerID uuid.UUID, date time.Time) ([]appointment.QueueEntry, error)
	GetAvailability(ctx context.Context, providerID uuid.UUID, date time.Time) ([]appointment.SlotAvailability, error)
}

type handlers struct {
	svc    AppointmentService
	logger zerolog.Logger
}

func (h *handlers) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
		return
	}
	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_provider_id", "provider_id must be a valid UUID")
		return
	}
	date, err := schedule.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	slotStart, err := schedule.ParseTimeOfDay(req.SlotStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_start", "slot_start must be HH:MM")
		return
	}

	appt, err := h.svc.Book(r.Context(), appointment.BookRequest{
		PatientID:  patientID,
		ProviderID: providerID,
		Date:       date,
		SlotStart:  slotStart,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *handlers) listPatientAppointments(w http.ResponseWriter, r *http.Request) {
	patientID, ok := parseIDParam(w, r, "patientID")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, offset = appointment.NormalizePage(limit, offset)

	appts, err := h.svc.ListByPatient(r.Context(), patientID, limit, offset)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := ListResponse{Items: make([]AppointmentResponse, len(appts)), Limit: limit, Offset: offset}
	for i := range appts {
		resp.Items[i] = toAppointmentResponse(&appts[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

type transitionFunc func(ctx context.Context, id uuid.UUID, actor appointment.Actor, reason string) (*appointment.Appointment, error)

// transition adapts one lifecycle operation to an endpoint. The actor comes
// from the request body and falls back to defaultActor.
func (h *handlers) transition(defaultActor appointment.Actor, fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r, "id")
		if !ok {
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := defaultActor
		if req.Actor != "" {
			actor = appointment.Actor(req.Actor)
		}
		if actor == "" || actor == appointment.ActorSystem || !actor.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_actor", "actor must be patient, provider or admin")
			return
		}

		appt, err := fn(r.Context(), id, actor, req.Reason)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func (h *handlers) approve(ctx context.Context, id uuid.UUID, actor appointment.Actor, _ string) (*appointment.Appointment, error) {
	return h.svc.Approve(ctx, id, actor)
}

func (h *handlers) moveToQueue(ctx context.Context, id uuid.UUID, actor appointment.Actor, _ string) (*appointment.Appointment, error) {
	return h.svc.MoveToQueue(ctx, id, actor)
}

func (h *handlers) startProcessing(ctx context.Context, id uuid.UUID, actor appointment.Actor, _ string) (*appointment.Appointment, error) {
	return h.svc.StartProcessing(ctx, id, actor)
}

func (h *handlers) finish(ctx context.Context, id uuid.UUID, actor appointment.Actor, _ string) (*appointment.Appointment, error) {
	return h.svc.Finish(ctx, id, actor)
}

func (h *handlers) complete(ctx context.Context, id uuid.UUID, actor appointment.Actor, _ string) (*appointment.Appointment, error) {
	return h.svc.Complete(ctx, id, actor)
}

func (h *handlers) providerQueue(w http.ResponseWriter, r *http.Request) {
	providerID, date, ok := parseProviderDay(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.GetQueue(r.Context(), providerID, date)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := QueueResponse{
		ProviderID: providerID,
		Date:       date.Format(schedule.DateLayout),
		Entries:    make([]QueueEntryResponse, len(entries)),
	}
	for i := range entries {
		resp.Entries[i] = QueueEntryResponse{
			Position:             entries[i].Position,
			EstimatedWaitMinutes: int(entries[i].EstimatedWait / time.Minute),
			Appointment:          toAppointmentResponse(&entries[i].Appointment),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) providerAvailability(w http.ResponseWriter, r *http.Request) {
	providerID, date, ok := parseProviderDay(w, r)
	if !ok {
		return
	}

	slots, err := h.svc.GetAvailability(r.Context(), providerID, date)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := AvailabilityResponse{
		ProviderID: providerID,
		Date:       date.Format(schedule.DateLayout),
		Slots:      make([]SlotResponse, len(slots)),
	}
	for i, s := range slots {
		resp.Slots[i] = SlotResponse{
			Start:     s.Slot.Start.String(),
			End:       s.Slot.End.String(),
			Capacity:  s.Capacity,
			Reserved:  s.Reserved,
			Remaining: s.Remaining,
			Past:      s.Past,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, appointment.ErrSlotExpired):
		writeError(w, http.StatusConflict, "slot_expired", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, appointment.ErrStaleAppointment):
		writeError(w, http.StatusConflict, "stale_appointment", err.Error())
	case errors.Is(err, appointment.ErrBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "busy", "provider schedule is busy, please retry shortly")
	default:
		h.logger.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseProviderDay(w http.ResponseWriter, r *http.Request) (uuid.UUID, time.Time, bool) {
	providerID, ok := parseIDParam(w, r, "providerID")
	if !ok {
		return uuid.Nil, time.Time{}, false
	}
	date, err := schedule.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date query parameter must be YYYY-MM-DD")
		return uuid.Nil, time.Time{}, false
	}
	return providerID, date, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
