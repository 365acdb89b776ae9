package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"innerpath/internal/conversation"
	"innerpath/internal/llm"
	mw "innerpath/internal/middleware"
	"innerpath/internal/store"
)

type ChatHandler struct {
	controller *conversation.Controller
	log        *zap.Logger
}

func NewChatHandler(ctrl *conversation.Controller, log *zap.Logger) *ChatHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChatHandler{controller: ctrl, log: log}
}

type chatRequest struct {
	SessionID int    `json:"session_id"`
	Message   string `json:"message"`
}

// SendMessage runs one conversation turn. Generation failures return 503
// with a generic message; nothing was persisted, so the client can retry.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r)
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	res, err := h.controller.HandleMessage(r.Context(), userID, req.SessionID, req.Message, time.Now().UTC())
	if err != nil {
		switch {
		case errors.Is(err, conversation.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, store.ErrNotFound):
			http.Error(w, "not found", http.StatusNotFound)
		case errors.Is(err, llm.ErrGenerationUnavailable):
			h.log.Warn("generation unavailable", zap.Int("user_id", userID), zap.Error(err))
			http.Error(w, "having trouble responding right now, please try again", http.StatusServiceUnavailable)
		default:
			h.log.Error("chat turn failed", zap.Int("user_id", userID), zap.Error(err))
			http.Error(w, "server error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}
