package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentgate/pkg/protocol"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WriteWebSocket drains events into conn as text frames, pinging while idle.
// It sends a close frame once events is closed.
func WriteWebSocket(conn *websocket.Conn, events <-chan protocol.Event) error {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				return conn.WriteMessage(websocket.CloseMessage, msg)
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("marshal event %s: %w", ev.Event, err)
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}
