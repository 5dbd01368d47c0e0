// Package httpapi exposes the booking workflow over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/railbook/railbook/internal/booking/domain/booking"
	"github.com/railbook/railbook/internal/booking/domain/event"
	"github.com/railbook/railbook/internal/booking/domain/saga"
	"github.com/railbook/railbook/internal/booking/idempotency"
	"github.com/railbook/railbook/internal/booking/service"
	"github.com/railbook/railbook/internal/booking/storage"
	apperrors "github.com/railbook/railbook/internal/platform/errors"
)

// idempotencyKeyHeader carries the client's deduplication key for booking
// creation. Requests without it are not deduplicated.
const idempotencyKeyHeader = "Idempotency-Key"

// Handler serves the booking HTTP API.
type Handler struct {
	orchestrator *saga.Orchestrator
	svc          *service.Service
	guard        *idempotency.Guard
}

// NewHandler wires the API over the workflow surfaces.
func NewHandler(orchestrator *saga.Orchestrator, svc *service.Service, guard *idempotency.Guard) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		svc:          svc,
		guard:        guard,
	}
}

// Router builds the chi router for the API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/bookings", h.createBooking)
		r.Get("/bookings/{bookingID}", h.getBooking)
		r.Get("/bookings/{bookingID}/events", h.getBookingEvents)
		r.Get("/bookings/{bookingID}/state", h.getBookingState)
		r.Get("/sagas/{sagaID}", h.getSaga)
		r.Get("/sagas", h.getSagaByCorrelation)
	})
	return r
}

type createBookingRequest struct {
	UserID        string `json:"user_id"`
	TrainID       string `json:"train_id"`
	FareAmount    int64  `json:"fare_amount"`
	Currency      string `json:"currency"`
	PassengerName string `json:"passenger_name"`
	CorrelationID string `json:"correlation_id"`
}

type sagaResponse struct {
	SagaID        string     `json:"saga_id"`
	Status        string     `json:"status"`
	CurrentStep   int        `json:"current_step"`
	TotalSteps    int        `json:"total_steps"`
	CorrelationID string     `json:"correlation_id"`
	BookingID     string     `json:"booking_id,omitempty"`
	PaymentID     string     `json:"payment_id,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

func toSagaResponse(inst saga.Instance) sagaResponse {
	return sagaResponse{
		SagaID:        inst.ID,
		Status:        string(inst.Status),
		CurrentStep:   inst.CurrentStep,
		TotalSteps:    inst.TotalSteps,
		CorrelationID: inst.CorrelationID,
		BookingID:     inst.Data.BookingID,
		PaymentID:     inst.Data.PaymentID,
		Error:         inst.Error,
		CreatedAt:     inst.CreatedAt,
		CompletedAt:   inst.CompletedAt,
	}
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeSagaRequestInvalid, "invalid request body"))
		return
	}

	sagaReq := saga.Request{
		UserID:        req.UserID,
		TrainID:       req.TrainID,
		FareAmount:    req.FareAmount,
		Currency:      req.Currency,
		PassengerName: req.PassengerName,
		CorrelationID: req.CorrelationID,
	}

	start := func(r *http.Request) ([]byte, error) {
		inst, err := h.orchestrator.Start(r.Context(), sagaReq)
		if err != nil {
			return nil, err
		}
		return json.Marshal(toSagaResponse(inst))
	}

	var (
		body []byte
		err  error
	)
	if key := r.Header.Get(idempotencyKeyHeader); key != "" {
		body, err = h.guard.Do(r.Context(), key, func(ctx context.Context) ([]byte, error) {
			return start(r.WithContext(ctx))
		})
	} else {
		body, err = start(r)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(body)
}

type bookingResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	TrainID       string    `json:"train_id"`
	Status        string    `json:"status"`
	FareAmount    int64     `json:"fare_amount"`
	Currency      string    `json:"currency"`
	PassengerName string    `json:"passenger_name,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toBookingResponse(rec storage.BookingRecord) bookingResponse {
	return bookingResponse{
		ID:            rec.ID,
		UserID:        rec.UserID,
		TrainID:       rec.TrainID,
		Status:        rec.Status,
		FareAmount:    rec.FareAmount,
		Currency:      rec.Currency,
		PassengerName: rec.PassengerName,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func toStateResponse(state booking.State) bookingResponse {
	return bookingResponse{
		ID:            state.ID,
		UserID:        state.UserID,
		TrainID:       state.TrainID,
		Status:        string(state.Status),
		FareAmount:    state.FareAmount,
		Currency:      state.Currency,
		PassengerName: state.PassengerName,
		CreatedAt:     state.CreatedAt,
		UpdatedAt:     state.UpdatedAt,
	}
}

type eventResponse struct {
	Seq           int64           `json:"seq"`
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Version       string          `json:"version"`
}

func toEventResponses(events []event.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, evt := range events {
		out = append(out, eventResponse{
			Seq:           evt.Seq,
			EventID:       evt.EventID,
			AggregateType: string(evt.AggregateType),
			AggregateID:   evt.AggregateID,
			EventType:     string(evt.Type),
			Payload:       json.RawMessage(evt.PayloadJSON),
			Timestamp:     evt.Timestamp,
			CorrelationID: evt.CorrelationID,
			Version:       evt.Version,
		})
	}
	return out
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.GetBooking(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(rec))
}

func (h *Handler) getBookingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.BookingEvents(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// getBookingState replays the booking's journal. With ?at=RFC3339 the state
// is reconstructed as of that instant.
func (h *Handler) getBookingState(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	if raw := r.URL.Query().Get("at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, apperrors.New(apperrors.CodeSagaRequestInvalid, "at must be an RFC3339 timestamp"))
			return
		}
		state, err := h.svc.BookingStateAt(r.Context(), bookingID, at)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toStateResponse(state))
		return
	}

	state, err := h.svc.BookingState(r.Context(), bookingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStateResponse(state))
}

func (h *Handler) getSaga(w http.ResponseWriter, r *http.Request) {
	inst, err := h.orchestrator.GetByID(r.Context(), chi.URLParam(r, "sagaID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSagaResponse(inst))
}

func (h *Handler) getSagaByCorrelation(w http.ResponseWriter, r *http.Request) {
	inst, err := h.orchestrator.GetByCorrelationID(r.Context(), r.URL.Query().Get("correlation_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSagaResponse(inst))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.Code.HTTPStatus(), errorResponse{
			Code:    string(appErr.Code),
			Message: appErr.Message,
		})
		return
	}
	log.Printf("httpapi: internal error: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Code:    string(apperrors.CodeUnknown),
		Message: "internal error",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("httpapi: encode response: %v", err)
	}
}
