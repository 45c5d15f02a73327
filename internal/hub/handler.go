package hub

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades a board-channel request. The client addresses the room
// by boardId and identifies itself with a client-persisted sessionId.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	boardID := r.URL.Query().Get("boardId")
	sessionID := r.URL.Query().Get("sessionId")
	if boardID == "" || sessionID == "" {
		http.Error(w, "missing boardId or sessionId", http.StatusBadRequest)
		return
	}
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("board channel upgrade failed")
		return
	}
	h.Join(boardID, sessionID, sock)
}
