package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/refereehq/referee/core/infra/logging"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleStream pushes the session state over a websocket after every change,
// starting with the current state.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}

	// Watch before the handshake completes so no change slips in between.
	states, cancel := sess.Watch()
	defer cancel()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error(component, "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info(component, "ws connected", "remote", r.RemoteAddr, "session", sess.ID())

	// Reader loop: detects client close and answers control frames.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case state, ok := <-states:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"), time.Now().Add(wsWriteTimeout))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteJSON(state); err != nil {
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
