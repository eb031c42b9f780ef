// Package api exposes the reservation core to the web channel.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"casitas/internal/models"
	"casitas/internal/service"
)

// Reservations is the slice of the coordinator the API needs.
type Reservations interface {
	Reserve(ctx context.Context, propertyID, requesterID int64, date time.Time, shift models.Shift) (*models.Booking, error)
	Lookup(ctx context.Context, bookingID string) (*models.Booking, error)
	UserBookings(ctx context.Context, requesterID int64, limit int) ([]models.Booking, error)
	IsAvailable(ctx context.Context, propertyID int64, date time.Time, shift models.Shift) (bool, error)
}

// Server is the JSON API for availability checks and reservations.
type Server struct {
	reservations Reservations
	logger       *zerolog.Logger
}

// NewServer builds the API server.
func NewServer(reservations Reservations, logger *zerolog.Logger) *Server {
	return &Server{reservations: reservations, logger: logger}
}

// Handler returns the routed http handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/availability", s.handleAvailability)
	mux.HandleFunc("/api/v1/reservations", s.handleReservations)
	mux.HandleFunc("/api/v1/reservations/", s.handleReservationByID)
	mux.HandleFunc("/api/v1/bookings", s.handleUserBookings)
	return mux
}

// ListenAndServe runs the API server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// AvailabilityResponse is the response for GET /api/v1/availability.
type AvailabilityResponse struct {
	Available bool `json:"available"`
}

// handleAvailability answers whether a slot is free.
// GET /api/v1/availability?property_id=7&date=2025-06-01&shift=day
func (s *Server) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	propertyID, date, shift, err := slotParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	available, err := s.reservations.IsAvailable(r.Context(), propertyID, date, shift)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{Available: available})
}

// ReserveRequest is the request body for POST /api/v1/reservations.
type ReserveRequest struct {
	PropertyID  int64  `json:"property_id"`
	RequesterID int64  `json:"requester_id"`
	Date        string `json:"date"` // YYYY-MM-DD
	Shift       string `json:"shift"`
}

// handleReservations creates a reservation.
// POST /api/v1/reservations
func (s *Server) handleReservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	var req ReserveRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	booking, err := s.reservations.Reserve(r.Context(), req.PropertyID, req.RequesterID, date, models.Shift(req.Shift))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

// handleReservationByID looks up one booking.
// GET /api/v1/reservations/{id}
func (s *Server) handleReservationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	id := r.URL.Path[len("/api/v1/reservations/"):]
	if id == "" {
		writeError(w, http.StatusBadRequest, "booking id is required")
		return
	}

	booking, err := s.reservations.Lookup(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// BookingsResponse is the response for GET /api/v1/bookings.
type BookingsResponse struct {
	Bookings []models.Booking `json:"bookings"`
}

// handleUserBookings lists a requester's bookings, newest first.
// GET /api/v1/bookings?requester_id=3&limit=10
func (s *Server) handleUserBookings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use GET")
		return
	}

	requesterID, err := strconv.ParseInt(r.URL.Query().Get("requester_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "requester_id is required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	bookings, err := s.reservations.UserBookings(r.Context(), requesterID, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	writeJSON(w, http.StatusOK, BookingsResponse{Bookings: bookings})
}

func slotParams(r *http.Request) (int64, time.Time, models.Shift, error) {
	q := r.URL.Query()

	propertyID, err := strconv.ParseInt(q.Get("property_id"), 10, 64)
	if err != nil {
		return 0, time.Time{}, "", fmt.Errorf("property_id is required")
	}
	date, err := time.Parse("2006-01-02", q.Get("date"))
	if err != nil {
		return 0, time.Time{}, "", fmt.Errorf("invalid date format; expected YYYY-MM-DD")
	}
	shift, err := models.ParseShift(q.Get("shift"))
	if err != nil {
		return 0, time.Time{}, "", err
	}
	return propertyID, date, shift, nil
}

// writeServiceError maps coordinator errors onto HTTP statuses. A lost slot
// race is a conflict the caller can act on; a storage fault is a degraded
// service, and the two must never read the same.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case service.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot unavailable")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("api storage error")
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
