package roomchat

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/putto11262002/roomchat/core"
	"github.com/putto11262002/roomchat/pkg/router"
)

const maxRoomListLimit = 200

type RoomHandler struct {
	store        core.DocStore
	messageLimit int
}

func NewRoomHandler(store core.DocStore, messageLimit int) *RoomHandler {
	return &RoomHandler{store: store, messageLimit: messageLimit}
}

// parseLimit reads the limit query parameter. It must be within [1, maxRoomListLimit].
func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	// zero would mean no limit to the store
	if err != nil || limit < 1 || limit > maxRoomListLimit {
		return 0, router.BadRequest("invalid limit")
	}
	return limit, nil
}

// GetMyRoomsHandler lists the rooms of the caller, most recently active first.
func (h *RoomHandler) GetMyRoomsHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	limit, err := parseLimit(r, maxRoomListLimit)
	if err != nil {
		return err
	}
	summaries, err := core.RoomSummaries(r.Context(), h.store, session.UID, limit)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, summaries)
}

// GetRoomMessagesHandler returns the most recent messages of a room the caller belongs to.
func (h *RoomHandler) GetRoomMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	session := core.SessionFromRequest(r)
	key := chi.URLParam(r, "roomKey")
	limit, err := parseLimit(r, h.messageLimit)
	if err != nil {
		return err
	}

	member, err := core.IsRoomMember(r.Context(), h.store, key, session.UID)
	if err != nil {
		return err
	}
	if !member {
		return router.NotFound("room not found")
	}

	messages, err := core.RoomMessages(r.Context(), h.store, core.RoomIdentity{Key: key}, limit)
	if err != nil {
		return err
	}
	return router.WriteJSON(w, http.StatusOK, messages)
}
