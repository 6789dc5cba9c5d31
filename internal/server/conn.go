// Per-connection plumbing. Each WebSocket gets a read pump feeding the
// router and a write pump draining the client's outbound queue.
// Separating the two avoids head-of-line blocking when a client is slow.

package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"session-relay/internal/relay"
)

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	peer := s.router.Connect(r.RemoteAddr)
	go s.writePump(conn, peer)
	s.readPump(conn, peer)
}

// readPump feeds inbound frames to the router until the connection
// drops, then runs the disconnect path. Disconnect is idempotent, so a
// write-side failure racing in first is fine.
func (s *Server) readPump(conn *websocket.Conn, peer *relay.Client) {
	defer func() {
		s.router.Disconnect(peer.ID)
		conn.Close()
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.router.HandleFrame(peer.ID, frame)
	}
}

// writePump drains the outbound queue to the socket. The queue is closed
// by the disconnect path, which ends the loop.
func (s *Server) writePump(conn *websocket.Conn, peer *relay.Client) {
	defer conn.Close()

	for frame := range peer.Outbound() {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.log.Debug().Str("client", peer.ID).Err(err).Msg("write failed")
			s.router.Disconnect(peer.ID)
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage, []byte{})
}
