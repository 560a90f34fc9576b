package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/adoptly/chat-service/internal/logger"
	"github.com/adoptly/chat-service/internal/middleware"
	"github.com/adoptly/chat-service/internal/model"
	"github.com/adoptly/chat-service/internal/repository"
)

type UserHandler struct {
	users *repository.UserRepository
}

func NewUserHandler(users *repository.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

type syncUserRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	Status    string `json:"status"`
}

// Sync is PUT /api/users/sync: mirrors the caller's marketplace profile into
// the chat store. Called by the frontend after login so display names and
// avatars stay current.
func (h *UserHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req syncUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	status := model.UserStatus(req.Status)
	if status != model.UserStatusDisabled {
		status = model.UserStatusActive
	}

	u := &model.User{
		ID:        userID,
		Username:  req.Username,
		Email:     req.Email,
		AvatarURL: req.AvatarURL,
		Status:    status,
	}
	if err := h.users.Upsert(r.Context(), u); err != nil {
		logger.Errorf("users.Sync user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to sync user")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}
