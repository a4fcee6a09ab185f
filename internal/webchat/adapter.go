package webchat

import (
	"sync"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/doctor-appointment-assistant/internal/chat"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

// connRenderer pushes turn updates to one WebSocket connection. It implements
// chat.Renderer by sending the latest turn after each phase.
type connRenderer struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	logger    *logging.Logger
}

func newConnRenderer(conn *websocket.Conn, sessionID string, logger *logging.Logger) *connRenderer {
	return &connRenderer{conn: conn, sessionID: sessionID, logger: logger}
}

func (c *connRenderer) Render(turns []chat.Turn) {
	if len(turns) == 0 {
		return
	}
	last := turns[len(turns)-1]
	c.send(OutboundMessage{Type: "turn", SessionID: c.sessionID, Turn: &last})
}

func (c *connRenderer) send(msg OutboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := websocket.JSON.Send(c.conn, msg); err != nil {
		c.logger.Debug("webchat: send failed", "session_id", c.sessionID, "type", msg.Type, "error", err)
	}
}
