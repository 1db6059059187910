package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/event-photos/internal/config"
	"github.com/kozaktomas/event-photos/internal/database"
	"github.com/kozaktomas/event-photos/internal/extractor"
	"github.com/kozaktomas/event-photos/internal/queue"
	"github.com/kozaktomas/event-photos/internal/storage"
	"go.uber.org/zap"
)

// PhotoIndexer computes a photo's descriptor. *indexer.Indexer implements it.
type PhotoIndexer interface {
	IndexPhoto(ctx context.Context, photo *database.Photo, data []byte) ([]float32, error)
}

// IndexWriter updates resident event indexes. *index.Arena implements it.
type IndexWriter interface {
	Insert(eventID, photoID string, descriptor []float32) error
	Invalidate(eventID string)
}

// UploadPublisher hands photos to the asynchronous indexing workers.
type UploadPublisher interface {
	PublishUploaded(ctx context.Context, msg queue.PhotoUploaded) error
}

// PhotosHandler handles photo upload, listing and download
type PhotosHandler struct {
	events    database.EventReader
	photos    database.PhotoRepository
	blobs     storage.BlobStore
	indexer   PhotoIndexer
	indexes   IndexWriter
	publisher UploadPublisher
	limits    config.UploadConfig
	logger    *zap.Logger
}

// NewPhotosHandler creates a new photos handler. With a nil publisher photos
// are indexed during the upload request.
func NewPhotosHandler(
	events database.EventReader,
	photos database.PhotoRepository,
	blobs storage.BlobStore,
	indexer PhotoIndexer,
	indexes IndexWriter,
	publisher UploadPublisher,
	limits config.UploadConfig,
	logger *zap.Logger,
) *PhotosHandler {
	return &PhotosHandler{
		events:    events,
		photos:    photos,
		blobs:     blobs,
		indexer:   indexer,
		indexes:   indexes,
		publisher: publisher,
		limits:    limits,
		logger:    logger,
	}
}

// UploadedPhoto describes one accepted file
type UploadedPhoto struct {
	*database.Photo
	Indexed bool `json:"indexed"`
}

// RejectedFile describes one refused file
type RejectedFile struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// UploadResponse is returned by Upload
type UploadResponse struct {
	Uploaded []UploadedPhoto `json:"uploaded"`
	Rejected []RejectedFile  `json:"rejected"`
	Count    int             `json:"count"`
}

// multipartMemory is kept in memory while parsing; larger forms spill to disk.
const multipartMemory = 32 << 20

// Upload stores photos for an owned event and indexes them
func (h *PhotosHandler) Upload(w http.ResponseWriter, r *http.Request) {
	e := ownedEvent(w, r, h.events, h.logger)
	if e == nil {
		return
	}

	maxBody := int64(h.limits.MaxFiles)*h.limits.MaxPhotoBytes + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["photos"]
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no files provided")
		return
	}
	if len(files) > h.limits.MaxFiles {
		respondError(w, http.StatusBadRequest, "too many files, at most "+strconv.Itoa(h.limits.MaxFiles)+" per upload")
		return
	}

	resp := UploadResponse{Uploaded: []UploadedPhoto{}, Rejected: []RejectedFile{}}
	for _, fh := range files {
		filename := filepath.Base(fh.Filename)
		photo, indexed, reason := h.storePhoto(r.Context(), e, fh, filename)
		if reason != "" {
			resp.Rejected = append(resp.Rejected, RejectedFile{Filename: filename, Error: reason})
			continue
		}
		resp.Uploaded = append(resp.Uploaded, UploadedPhoto{Photo: photo, Indexed: indexed})
	}
	resp.Count = len(resp.Uploaded)

	h.logger.Info("photos uploaded",
		zap.String("event_id", e.ID),
		zap.Int("uploaded", len(resp.Uploaded)),
		zap.Int("rejected", len(resp.Rejected)))

	if resp.Count == 0 {
		respondJSON(w, http.StatusBadRequest, resp)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// storePhoto saves one file and indexes it. A non-empty reason rejects the file.
func (h *PhotosHandler) storePhoto(ctx context.Context, e *database.Event, fh *multipart.FileHeader, filename string) (*database.Photo, bool, string) {
	if fh.Size > h.limits.MaxPhotoBytes {
		return nil, false, "file too large"
	}

	data, err := readPart(fh, h.limits.MaxPhotoBytes)
	if err != nil {
		return nil, false, err.Error()
	}
	mimeType := extractor.DetectMIMEType(data)
	if !extractor.AllowedImageType(mimeType) {
		return nil, false, "unsupported file type"
	}

	ref, err := h.blobs.Store(ctx, data, mimeType)
	if err != nil {
		h.logger.Error("store photo blob", zap.String("filename", sanitizeForLog(filename)), zap.Error(err))
		return nil, false, "failed to store file"
	}

	photo := &database.Photo{
		EventID:  e.ID,
		BlobRef:  ref,
		Filename: filename,
		Size:     int64(len(data)),
		MimeType: mimeType,
	}
	if err := h.photos.Create(ctx, photo); err != nil {
		h.logger.Error("create photo", zap.String("event_id", e.ID), zap.Error(err))
		return nil, false, "failed to store file"
	}

	return photo, h.index(ctx, photo, data), ""
}

// index makes the photo searchable now, or queues it. Failures leave the
// photo stored and drop the event's resident index, so the next query
// rebuilds it from storage and extracts the photo again.
func (h *PhotosHandler) index(ctx context.Context, photo *database.Photo, data []byte) bool {
	if h.publisher != nil {
		err := h.publisher.PublishUploaded(ctx, queue.PhotoUploaded{EventID: photo.EventID, PhotoID: photo.ID})
		if err != nil {
			h.logger.Warn("queue photo for indexing", zap.String("photo_id", photo.ID), zap.Error(err))
			h.indexes.Invalidate(photo.EventID)
		}
		return false
	}

	descriptor, err := h.indexer.IndexPhoto(ctx, photo, data)
	if err != nil {
		h.logger.Warn("index photo", zap.String("photo_id", photo.ID), zap.Error(err))
		if !errors.Is(err, extractor.ErrInvalidImage) {
			h.indexes.Invalidate(photo.EventID)
		}
		return false
	}
	if err := h.indexes.Insert(photo.EventID, photo.ID, descriptor); err != nil {
		h.logger.Error("insert photo into index", zap.String("photo_id", photo.ID), zap.Error(err))
		h.indexes.Invalidate(photo.EventID)
		return false
	}
	return true
}

type errRejected string

func (e errRejected) Error() string { return string(e) }

func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errRejected("failed to read file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, errRejected("failed to read file")
	}
	if int64(len(data)) > limit {
		return nil, errRejected("file too large")
	}
	return data, nil
}

// List returns the photos of an owned event
func (h *PhotosHandler) List(w http.ResponseWriter, r *http.Request) {
	e := ownedEvent(w, r, h.events, h.logger)
	if e == nil {
		return
	}

	photos, err := h.photos.ListByEvent(r.Context(), e.ID)
	if err != nil {
		h.logger.Error("list photos", zap.String("event_id", e.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list photos")
		return
	}
	if photos == nil {
		photos = []database.Photo{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"photos": photos, "count": len(photos)})
}

// Download streams a photo's original bytes
func (h *PhotosHandler) Download(w http.ResponseWriter, r *http.Request) {
	photo, err := h.photos.Get(r.Context(), chi.URLParam(r, "photoId"))
	if err != nil {
		if isNotFound(err, database.ErrPhotoNotFound) {
			respondError(w, http.StatusNotFound, "photo not found")
			return
		}
		h.logger.Error("get photo", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load photo")
		return
	}

	data, err := h.blobs.Fetch(r.Context(), photo.BlobRef)
	if err != nil {
		if isNotFound(err, storage.ErrNotFound, storage.ErrInvalidRef) {
			respondError(w, http.StatusNotFound, "photo not found")
			return
		}
		h.logger.Error("fetch photo blob", zap.String("photo_id", photo.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load photo")
		return
	}

	w.Header().Set("Content-Type", photo.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": photo.Filename}))
	w.Header().Set("Cache-Control", "private, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
