package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	maxErrorBody        = 4096
)

// Remote computes descriptors with an out-of-process embedding server.
// In face mode the embedding of the most confident detected face is used;
// in image mode the whole-image embedding is used.
type Remote struct {
	baseURL string
	mode    string
	dim     int
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]float32]
}

// NewRemote creates a remote extractor for the embedding server at baseURL.
func NewRemote(baseURL, mode string, dim int, timeout time.Duration) *Remote {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	if mode == "" {
		mode = "face"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Remote{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		mode:    mode,
		dim:     dim,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
			Name:        "embedding-server",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Bad images and abandoned requests say nothing about server health.
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, ErrInvalidImage) ||
					errors.Is(err, context.Canceled)
			},
		}),
	}
}

// Dim returns the descriptor length.
func (r *Remote) Dim() int {
	return r.dim
}

// Model returns the model name stored next to descriptors.
func (r *Remote) Model() string {
	return "remote-" + r.mode
}

// embeddingResponse represents the response from the image embedding endpoint
type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Extract validates the image locally and asks the embedding server for its descriptor.
func (r *Remote) Extract(ctx context.Context, imageData []byte) ([]float32, error) {
	if _, err := Decode(imageData); err != nil {
		return nil, err
	}

	emb, err := r.breaker.Execute(func() ([]float32, error) {
		return r.extract(ctx, imageData)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrExtractionUnavailable, err)
	}
	return emb, err
}

func (r *Remote) extract(ctx context.Context, imageData []byte) ([]float32, error) {
	var emb []float32
	if r.mode == "image" {
		body, err := r.postMultipartImage(ctx, "/embed/image", imageData)
		if err != nil {
			return nil, err
		}
		var resp embeddingResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: failed to parse response: %v", ErrExtractionUnavailable, err)
		}
		emb = resp.Embedding
	} else {
		body, err := r.postMultipartImage(ctx, "/embed/face", imageData)
		if err != nil {
			return nil, err
		}
		var resp FaceResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: failed to parse response: %v", ErrExtractionUnavailable, err)
		}
		face := bestFace(resp.Faces)
		if face == nil {
			return nil, fmt.Errorf("%w: no face detected", ErrInvalidImage)
		}
		emb = face.Embedding
	}

	if len(emb) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrExtractionUnavailable)
	}
	if r.dim > 0 && len(emb) != r.dim {
		return nil, fmt.Errorf("%w: server returned %d dimensions, expected %d", ErrExtractionUnavailable, len(emb), r.dim)
	}
	if !usableEmbedding(emb) {
		return nil, fmt.Errorf("%w: server returned a zero or non-finite embedding", ErrExtractionUnavailable)
	}
	return emb, nil
}

// usableEmbedding reports whether emb is finite and has a non-zero norm.
func usableEmbedding(emb []float32) bool {
	var sum float64
	for _, v := range emb {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
		sum += f * f
	}
	return sum > 0 && !math.IsInf(sum, 0)
}

// bestFace picks the face with the highest detection score, lowest index on ties.
func bestFace(faces []FaceDetection) *FaceDetection {
	var best *FaceDetection
	for i := range faces {
		f := &faces[i]
		if len(f.Embedding) == 0 {
			continue
		}
		if best == nil || f.DetScore > best.DetScore ||
			(f.DetScore == best.DetScore && f.FaceIndex < best.FaceIndex) {
			best = f
		}
	}
	return best
}

// postMultipartImage posts the image as the "file" part of a multipart form.
// Status codes describing a bad payload map to ErrInvalidImage, everything else
// that is not 200 maps to ErrExtractionUnavailable.
func (r *Remote) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image"`)
	h.Set("Content-Type", DetectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: request failed: %v", ErrExtractionUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrExtractionUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusRequestEntityTooLarge,
		resp.StatusCode == http.StatusUnsupportedMediaType,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrInvalidImage, resp.StatusCode, truncate(body))
	default:
		return nil, fmt.Errorf("%w: API error (status %d): %s", ErrExtractionUnavailable, resp.StatusCode, truncate(body))
	}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
