package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/adoptly/chat-service/internal/logger"
	"github.com/adoptly/chat-service/internal/middleware"
	"github.com/adoptly/chat-service/internal/model"
	"github.com/adoptly/chat-service/internal/repository"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

type RoomHandler struct {
	rooms    *repository.RoomRepository
	messages *repository.MessageRepository
}

func NewRoomHandler(rooms *repository.RoomRepository, messages *repository.MessageRepository) *RoomHandler {
	return &RoomHandler{rooms: rooms, messages: messages}
}

// List is GET /api/rooms: the caller's rooms, newest activity first, each
// with the unread counter and a hydrated last message.
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	summaries, err := h.rooms.GetUserRooms(r.Context(), userID)
	if err != nil {
		logger.Errorf("rooms.List user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load rooms")
		return
	}
	for i := range summaries {
		if summaries[i].Room.LastMessageID == nil {
			continue
		}
		msg, err := h.messages.GetByID(r.Context(), *summaries[i].Room.LastMessageID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				logger.Errorf("rooms.List last message room=%s: %v", summaries[i].Room.ID, err)
			}
			continue
		}
		summaries[i].LastMessage = msg
	}
	writeJSON(w, http.StatusOK, summaries)
}

type createRoomRequest struct {
	PetID        string   `json:"pet_id"`
	PetName      string   `json:"pet_name"`
	Participants []string `json:"participants"`
}

// Create is POST /api/rooms: opens an adoption conversation about a pet.
// The caller becomes a participant automatically.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.PetID) == "" {
		writeError(w, http.StatusBadRequest, "pet_id is required")
		return
	}

	now := time.Now().UTC()
	room := &model.Room{
		ID:        uuid.New().String(),
		PetID:     req.PetID,
		PetName:   req.PetName,
		CreatedBy: userID,
		CreatedAt: now,
	}
	if err := h.rooms.Create(r.Context(), room); err != nil {
		logger.Errorf("rooms.Create user=%s pet=%s: %v", userID, req.PetID, err)
		writeError(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	members := append([]string{userID}, req.Participants...)
	seen := make(map[string]struct{}, len(members))
	for _, id := range members {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		p := &model.RoomParticipant{RoomID: room.ID, UserID: id, JoinedAt: now}
		if err := h.rooms.AddParticipant(r.Context(), p); err != nil {
			logger.Errorf("rooms.Create add participant room=%s user=%s: %v", room.ID, id, err)
			writeError(w, http.StatusInternalServerError, "failed to create room")
			return
		}
	}

	writeJSON(w, http.StatusCreated, room)
}

// Messages is GET /api/rooms/{roomID}/messages: paged history, newest first.
// Only participants may read a room's history.
func (h *RoomHandler) Messages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "roomID")

	if _, err := h.rooms.GetByID(r.Context(), roomID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		logger.Errorf("rooms.Messages get room=%s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	member, err := h.rooms.IsParticipant(r.Context(), roomID, userID)
	if err != nil {
		logger.Errorf("rooms.Messages membership room=%s user=%s: %v", roomID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "you are not a participant of this room")
		return
	}

	limit := queryInt(r, "limit", defaultMessageLimit)
	if limit <= 0 || limit > maxMessageLimit {
		limit = defaultMessageLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	messages, err := h.messages.GetRoomMessages(r.Context(), roomID, limit, offset)
	if err != nil {
		logger.Errorf("rooms.Messages room=%s: %v", roomID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// Receipts is GET /api/messages/{messageID}/receipts: who has read a message.
func (h *RoomHandler) Receipts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	messageID := chi.URLParam(r, "messageID")

	msg, err := h.messages.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Errorf("rooms.Receipts get message=%s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to load receipts")
		return
	}
	member, err := h.rooms.IsParticipant(r.Context(), msg.RoomID, userID)
	if err != nil {
		logger.Errorf("rooms.Receipts membership room=%s user=%s: %v", msg.RoomID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load receipts")
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "you are not a participant of this room")
		return
	}

	receipts, err := h.messages.GetReadReceipts(r.Context(), messageID)
	if err != nil {
		logger.Errorf("rooms.Receipts message=%s: %v", messageID, err)
		writeError(w, http.StatusInternalServerError, "failed to load receipts")
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}
