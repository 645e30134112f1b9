package roomchat

import (
	"net/http"

	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/router"
)

type AuthHandler struct {
	store core.AuthStore
}

func NewAuthHandler(store core.AuthStore) *AuthHandler {
	return &AuthHandler{store: store}
}

type SigninPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) SigninHandler(w http.ResponseWriter, r *http.Request) error {
	var payload SigninPayload
	if err := router.DecodeJSON(r, &payload); err != nil {
		return err
	}

	session, err := h.store.NewSession(r.Context(), payload.Email, payload.Password)
	if err != nil {
		return err
	}

	http.SetCookie(w, core.SessionCookie(*session, true, "/"))
	return router.WriteJSON(w, http.StatusOK, session)
}

func (h *AuthHandler) SignoutHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	if err := h.store.DestroySession(r.Context(), session); err != nil {
		return err
	}
	http.SetCookie(w, core.ExpiredSessionCookie("/"))
	w.WriteHeader(http.StatusOK)
	return nil
}
