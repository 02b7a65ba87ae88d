package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chipledger/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWS upgrades the connection and streams the session's change feed.
// The caller identity comes from the auth middleware; ?token= is accepted for
// browser websocket dials.
func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	userID := UserID(r.Context())

	if _, err := h.store.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		h.respondServiceError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.hub.Serve(conn, sessionID, userID)
}
