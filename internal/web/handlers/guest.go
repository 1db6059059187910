package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/extractor"
	"github.com/kozaktomas/event-photos/internal/session"
	"go.uber.org/zap"
)

// PhotoFinder runs guest match sessions. *session.Service implements it.
type PhotoFinder interface {
	FindPhotos(ctx context.Context, eventCode string, selfie []byte, contentType string) (*session.Result, error)
}

// Retry-After values in seconds for retryable failures.
const (
	retryAfterExtraction = "30"
	retryAfterIndex      = "5"
)

// GuestHandler handles the guest photo search
type GuestHandler struct {
	finder         PhotoFinder
	maxSelfieBytes int64
	logger         *zap.Logger
}

// NewGuestHandler creates a new guest handler
func NewGuestHandler(finder PhotoFinder, maxSelfieBytes int64, logger *zap.Logger) *GuestHandler {
	return &GuestHandler{
		finder:         finder,
		maxSelfieBytes: maxSelfieBytes,
		logger:         logger,
	}
}

// FindPhotosResponse is returned on a completed search
type FindPhotosResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	MatchID string          `json:"matchId"`
	Photos  []session.Match `json:"photos"`
}

// FindPhotos matches a selfie against an event's photos
func (h *GuestHandler) FindPhotos(w http.ResponseWriter, r *http.Request) {
	// Oversized selfies within this slack are answered by readPart below.
	r.Body = http.MaxBytesReader(w, r.Body, 2*h.maxSelfieBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "selfie too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	eventCode := strings.TrimSpace(r.FormValue("eventCode"))
	if eventCode == "" {
		respondError(w, http.StatusBadRequest, "eventCode is required")
		return
	}

	files := r.MultipartForm.File["selfie"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "selfie is required")
		return
	}
	data, err := readPart(files[0], h.maxSelfieBytes)
	if err != nil {
		var rejected errRejected
		if errors.As(err, &rejected) && string(rejected) == "file too large" {
			respondError(w, http.StatusRequestEntityTooLarge, "selfie too large")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	contentType := extractor.DetectMIMEType(data)
	if !extractor.AllowedImageType(contentType) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": "selfie must be a JPEG, PNG, GIF or WebP image",
			"kind":  string(session.KindInvalidImage),
		})
		return
	}

	result, err := h.finder.FindPhotos(r.Context(), database.NormalizeEventCode(eventCode), data, contentType)
	if err != nil {
		h.respondSessionError(w, r, err)
		return
	}

	message := "No photos found"
	if n := len(result.Matches); n > 0 {
		message = fmt.Sprintf("Found %d photos", n)
	}
	respondJSON(w, http.StatusOK, FindPhotosResponse{
		Success: true,
		Message: message,
		MatchID: result.MatchID,
		Photos:  result.Matches,
	})
}

// respondSessionError maps a failed session to its status code.
func (h *GuestHandler) respondSessionError(w http.ResponseWriter, r *http.Request, err error) {
	var serr *session.Error
	if !errors.As(err, &serr) {
		h.logger.Error("guest search failed", zap.Error(err))
		respondSessionKind(w, http.StatusInternalServerError, "internal error", session.KindInternal)
		return
	}

	switch serr.Kind {
	case session.KindEventNotFound:
		respondSessionKind(w, http.StatusNotFound, "event not found", serr.Kind)
	case session.KindInvalidImage:
		respondSessionKind(w, http.StatusUnprocessableEntity, "could not process the selfie", serr.Kind)
	case session.KindExtractionUnavailable:
		h.logger.Warn("guest search: extraction unavailable", zap.Error(err))
		w.Header().Set("Retry-After", retryAfterExtraction)
		respondSessionKind(w, http.StatusServiceUnavailable, "photo matching is temporarily unavailable", serr.Kind)
	case session.KindIndexCorruption:
		h.logger.Error("guest search: index corruption", zap.Error(err))
		w.Header().Set("Retry-After", retryAfterIndex)
		respondSessionKind(w, http.StatusServiceUnavailable, "photo index is being rebuilt", serr.Kind)
	case session.KindCanceled:
		// The guest is gone; there is nobody to answer.
		h.logger.Debug("guest search canceled", zap.String("request", r.URL.Path), zap.Error(err))
	default:
		h.logger.Error("guest search failed", zap.Error(err))
		respondSessionKind(w, http.StatusInternalServerError, "internal error", serr.Kind)
	}
}

func respondSessionKind(w http.ResponseWriter, status int, message string, kind session.Kind) {
	respondJSON(w, status, map[string]string{"error": message, "kind": string(kind)})
}
