package roomchat

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/router"
)

type UserHandler struct {
	store core.UserStore
}

func NewUserHandler(store core.UserStore) *UserHandler {
	return &UserHandler{store: store}
}

func (h *UserHandler) SignupHandler(w http.ResponseWriter, r *http.Request) error {
	var input core.SignupInput
	if err := router.DecodeJSON(r, &input); err != nil {
		return err
	}

	if err := input.Validate(); err != nil {
		return router.BadRequest("invalid input").
			WithFields(core.ValidationFields(err))
	}

	user, err := h.store.CreateUser(r.Context(), input)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) MeHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	user, err := h.store.GetUserByID(r.Context(), session.UID)
	if err != nil {
		return fmt.Errorf("get user by id: %w", err)
	}
	if user == nil {
		return router.NotFound("user not found")
	}
	return router.WriteJSON(w, http.StatusOK, user)
}

func (h *UserHandler) GetUserHandler(w http.ResponseWriter, r *http.Request) error {
	user, err := h.store.GetUserByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		return fmt.Errorf("get user by id: %w", err)
	}
	if user == nil {
		return router.NotFound("user not found")
	}
	return router.WriteJSON(w, http.StatusOK, user)
}
