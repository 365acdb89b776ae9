package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	mw "innerpath/internal/middleware"
	"innerpath/internal/store"
)

type UserHandler struct {
	store store.Store
}

func NewUserHandler(st store.Store) *UserHandler {
	return &UserHandler{store: st}
}

// GetMe returns the current user's profile
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r)
	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ToUserDTO(user))
}

// UpdateMe updates provided fields on the current user's profile
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := mw.UserID(r)
	var body struct {
		DisplayName *string `json:"display_name"`
		Email       *string `json:"email"`
		Pattern     *string `json:"pattern"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if body.Email != nil {
		e := strings.TrimSpace(strings.ToLower(*body.Email))
		if e == "" {
			http.Error(w, "email must not be empty", http.StatusBadRequest)
			return
		}
		body.Email = &e
	}
	if body.Pattern != nil && !validPattern(*body.Pattern) {
		http.Error(w, "unknown pattern", http.StatusBadRequest)
		return
	}

	upd := store.UserProfileUpdate{
		DisplayName: body.DisplayName,
		Email:       body.Email,
		Pattern:     body.Pattern,
	}
	if err := h.store.UpdateUserProfile(r.Context(), userID, upd); err != nil {
		http.Error(w, "could not update", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
