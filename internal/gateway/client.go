package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/tallyfinance/tally/pkg/protocol"
)

const (
	// clientSendBuffer bounds the per-client outbound queue. A slow
	// reader loses events rather than stalling the broadcaster.
	clientSendBuffer = 64

	// heartbeatInterval keeps idle connections alive through proxies.
	heartbeatInterval = 30 * time.Second
)

// client is one connected ops feed consumer.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   newClientID(),
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
	}
}

// sendFrame queues a frame for delivery. Never blocks: when the
// client's buffer is full the frame is dropped.
func (c *client) sendFrame(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Warn("marshal ops frame failed", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		slog.Debug("ops client buffer full, frame dropped", "id", c.id)
	}
}

// run pumps the connection until the peer disconnects or ctx ends.
func (c *client) run(ctx context.Context, s *Server) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	go c.writeLoop(ctx)
	c.readLoop(ctx, s)
}

func (c *client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			c.sendFrame(protocol.NewEvent(protocol.EventHeartbeat, nil))
		}
	}
}

func (c *client) readLoop(ctx context.Context, s *Server) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(data, &req); err != nil || req.Type != protocol.FrameRequest {
			c.sendFrame(protocol.NewErrorResponse("", "invalid request frame"))
			continue
		}

		c.sendFrame(s.handleMethod(ctx, &req))
	}
}
