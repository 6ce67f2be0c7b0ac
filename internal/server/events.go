package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"rssreader/internal/view"
)

const (
	wsBufferSize   = 4096
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = wsPongTimeout * 9 / 10
	wsReadLimit    = 512
)

// event is one websocket message. The first message on a connection is the
// full state; every later one is a change with a higher seq.
type event struct {
	Type   string       `json:"type"`
	State  *view.State  `json:"state,omitempty"`
	Change *view.Change `json:"change,omitempty"`
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("websocket upgrade failed", "request_id", requestID(r), "err", err)
		return
	}
	defer conn.Close()

	// Registered before the snapshot so no change falls between them.
	key, changes := a.broadcaster.AddClient()
	defer a.broadcaster.RemoveClient(key)

	state := a.buildState()
	if err := writeEvent(conn, event{Type: "state", State: &state}); err != nil {
		return
	}

	closed := readUntilClosed(conn)

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case change, ok := <-changes:
			if !ok {
				_ = conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"),
					time.Now().Add(wsWriteTimeout),
				)
				return
			}
			if change.Seq <= state.Seq {
				continue
			}
			if err := writeEvent(conn, event{Type: "change", Change: &change}); err != nil {
				a.log.Debug("websocket write failed", "client", key, "err", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// readUntilClosed drains client frames so control messages are handled and
// reports when the connection goes away.
func readUntilClosed(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}

func writeEvent(conn *websocket.Conn, ev event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
