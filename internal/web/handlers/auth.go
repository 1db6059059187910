package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/kozaktomas/event-photos/internal/auth"
	"github.com/kozaktomas/event-photos/internal/database"
	"go.uber.org/zap"
)

// AuthHandler handles photographer registration and login
type AuthHandler struct {
	photographers database.PhotographerRepository
	tokens        *auth.TokenIssuer
	logger        *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(photographers database.PhotographerRepository, tokens *auth.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		photographers: photographers,
		tokens:        tokens,
		logger:        logger,
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is returned by register and login
type TokenResponse struct {
	Token        string                 `json:"token"`
	ExpiresAt    time.Time              `json:"expiresAt"`
	Photographer *database.Photographer `json:"photographer"`
}

// Register creates a photographer account
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		respondError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		respondError(w, http.StatusBadRequest, "password too short")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("hash password", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	p := &database.Photographer{
		Name:         req.Name,
		Email:        database.NormalizeEmail(req.Email),
		PasswordHash: hash,
	}
	if err := h.photographers.Create(r.Context(), p); err != nil {
		if errors.Is(err, database.ErrEmailTaken) {
			respondError(w, http.StatusConflict, "email already registered")
			return
		}
		h.logger.Error("create photographer", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	h.respondToken(w, http.StatusCreated, p)
}

// Login exchanges credentials for a token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	p, err := h.photographers.GetByEmail(r.Context(), database.NormalizeEmail(req.Email))
	if err != nil && !errors.Is(err, database.ErrPhotographerNotFound) {
		h.logger.Error("look up photographer", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to log in")
		return
	}
	if p == nil || auth.CheckPassword(p.PasswordHash, req.Password) != nil {
		h.logger.Info("failed login", zap.String("email", sanitizeForLog(req.Email)))
		respondError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	h.respondToken(w, http.StatusOK, p)
}

// Me returns the authenticated photographer
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := mustGetClaims(w, r)
	if claims == nil {
		return
	}

	p, err := h.photographers.GetByID(r.Context(), claims.PhotographerID())
	if err != nil {
		if errors.Is(err, database.ErrPhotographerNotFound) {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		h.logger.Error("get photographer", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *AuthHandler) respondToken(w http.ResponseWriter, status int, p *database.Photographer) {
	token, expires, err := h.tokens.Issue(p.ID, p.Email)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	respondJSON(w, status, TokenResponse{Token: token, ExpiresAt: expires, Photographer: p})
}
