package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/events"
	"go.uber.org/zap"
)

// IndexInvalidator drops an event's resident index.
type IndexInvalidator interface {
	Invalidate(eventID string)
}

// EventsHandler handles event endpoints
type EventsHandler struct {
	events  database.EventRepository
	service *events.Service
	indexes IndexInvalidator
	logger  *zap.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(repo database.EventRepository, service *events.Service, indexes IndexInvalidator, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		events:  repo,
		service: service,
		indexes: indexes,
		logger:  logger,
	}
}

type createEventRequest struct {
	Name string `json:"name"`
	Date string `json:"date"` // YYYY-MM-DD, optional
}

// EventResponse is an event with its guest links
type EventResponse struct {
	*database.Event
	GuestURL string `json:"guestUrl"`
	QRURL    string `json:"qrUrl"`
}

// PublicEvent is what guests see about an event
type PublicEvent struct {
	ID   string    `json:"eventId"`
	Code string    `json:"eventCode"`
	Name string    `json:"name"`
	Date time.Time `json:"date"`
}

func (h *EventsHandler) response(e *database.Event) EventResponse {
	return EventResponse{
		Event:    e,
		GuestURL: h.service.GuestURL(e.Code),
		QRURL:    "/api/v1/events/" + e.ID + "/qr",
	}
}

// List returns the caller's events with photo counts
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := mustGetClaims(w, r)
	if claims == nil {
		return
	}

	list, err := h.events.ListByPhotographer(r.Context(), claims.PhotographerID())
	if err != nil {
		h.logger.Error("list events", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if list == nil {
		list = []database.EventSummary{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": list, "count": len(list)})
}

// Create creates an event and its QR code
func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := mustGetClaims(w, r)
	if claims == nil {
		return
	}

	var req createEventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	var date time.Time
	if req.Date != "" {
		var err error
		date, err = time.Parse(time.DateOnly, req.Date)
		if err != nil {
			respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
	}

	e, err := h.service.Create(r.Context(), claims.PhotographerID(), req.Name, date)
	if err != nil {
		if errors.Is(err, events.ErrInvalidEvent) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("create event", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	h.logger.Info("event created",
		zap.String("event_id", e.ID),
		zap.String("code", e.Code),
		zap.String("photographer_id", e.PhotographerID))
	respondJSON(w, http.StatusCreated, h.response(e))
}

// Delete removes an owned event with its photos and match records
func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	e := ownedEvent(w, r, h.events, h.logger)
	if e == nil {
		return
	}

	if err := h.events.Delete(r.Context(), e.ID); err != nil {
		if errors.Is(err, database.ErrEventNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.Error("delete event", zap.String("event_id", e.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}
	h.indexes.Invalidate(e.ID)

	h.logger.Info("event deleted", zap.String("event_id", e.ID))
	w.WriteHeader(http.StatusNoContent)
}

// GetByCode returns public information about an active event
func (h *EventsHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	code := database.NormalizeEventCode(chi.URLParam(r, "eventCode"))
	e, err := h.events.ResolveEventByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, database.ErrEventNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.Error("resolve event", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	respondJSON(w, http.StatusOK, PublicEvent{ID: e.ID, Code: e.Code, Name: e.Name, Date: e.Date})
}

// QRCode serves an event's QR code as PNG
func (h *EventsHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	e, err := h.events.GetByID(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		if errors.Is(err, database.ErrEventNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return
		}
		h.logger.Error("get event", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load event")
		return
	}

	png, err := h.service.QRCode(r.Context(), e)
	if err != nil {
		h.logger.Error("load qr code", zap.String("event_id", e.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load qr code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="qr-%s.png"`, slugify(e.Name)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// ownedEvent loads the {eventId} event and checks the caller owns it. It
// writes the error response and returns nil otherwise.
func ownedEvent(w http.ResponseWriter, r *http.Request, repo database.EventReader, logger *zap.Logger) *database.Event {
	claims := mustGetClaims(w, r)
	if claims == nil {
		return nil
	}

	e, err := repo.GetByID(r.Context(), chi.URLParam(r, "eventId"))
	if err != nil {
		if errors.Is(err, database.ErrEventNotFound) {
			respondError(w, http.StatusNotFound, "event not found")
			return nil
		}
		logger.Error("get event", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load event")
		return nil
	}
	if e.PhotographerID != claims.PhotographerID() {
		respondError(w, http.StatusForbidden, "not the owner of this event")
		return nil
	}
	return e
}
