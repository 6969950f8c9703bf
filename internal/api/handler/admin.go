package handler

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/adscope/adscope/internal/api/response"
	"github.com/adscope/adscope/internal/store"
	"github.com/adscope/adscope/pkg/models"
)

const apiKeyPrefix = "as_"

type createKeyResponse struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"` // shown once, never stored
	KeyPrefix string    `json:"key_prefix"`
	Name      string    `json:"name"`
	Scopes    []string  `json:"scopes"`
}

// NewCreateKeyHandler returns the handler for POST /api/v1/admin/keys. The
// raw key appears only in this response; the row keeps its bcrypt hash.
func NewCreateKeyHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID uuid.UUID `json:"user_id"`
			Name   string    `json:"name"`
			Scopes []string  `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.UserID == uuid.Nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id is required", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if len(req.Scopes) == 0 {
			req.Scopes = []string{"read"}
		}

		if _, err := st.GetUser(r.Context(), req.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load user", nil)
			return
		}

		rawKey, err := generateAPIKey()
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to generate key", nil)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.DefaultCost)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to hash key", nil)
			return
		}

		key := &models.APIKey{
			ID:        uuid.New(),
			UserID:    req.UserID,
			Name:      req.Name,
			KeyHash:   string(hash),
			KeyPrefix: rawKey[:8],
			Scopes:    req.Scopes,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := st.CreateAPIKey(r.Context(), key); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store key", nil)
			return
		}

		response.Created(w, createKeyResponse{
			ID:        key.ID,
			Key:       rawKey,
			KeyPrefix: key.KeyPrefix,
			Name:      key.Name,
			Scopes:    key.Scopes,
		})
	}
}

// NewGrantCreditsHandler returns the handler for POST /api/v1/admin/credits.
func NewGrantCreditsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID uuid.UUID `json:"user_id"`
			Tokens int       `json:"tokens"`
			Reason string    `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Tokens <= 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "tokens must be positive", nil)
			return
		}
		if req.Reason == "" {
			req.Reason = models.ReasonManualGrant
		}

		balance, err := st.Grant(r.Context(), req.UserID, req.Tokens, req.Reason)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to grant credits", nil)
			return
		}

		response.JSON(w, map[string]any{"user_id": req.UserID, "balance": balance})
	}
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading randomness: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(buf), nil
}
