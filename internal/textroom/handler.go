package textroom

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades a text-room request addressed as /y-ws/{room}.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomName := mux.Vars(r)["room"]
	if roomName == "" {
		http.Error(w, "missing room name", http.StatusBadRequest)
		return
	}
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("text channel upgrade failed")
		return
	}
	h.Join(roomName, sock)
}
