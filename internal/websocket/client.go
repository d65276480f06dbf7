package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Role string

const (
	RoleStudent  Role = "student"
	RoleOperator Role = "operator"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	// readIdleWindow bounds how long a silent socket survives: the read
	// deadline is refreshed on every frame and every pong, so a peer that
	// stops answering pings is treated as disconnected.
	readIdleWindow = 75 * time.Second
	maxFrameSize   = 512 * 1024
)

// Client is one websocket connection handle. Students carry a SessionID,
// operators an ephemeral OperatorID minted at registration. The write pump
// is the only goroutine touching the connection for writes; everything else
// enqueues frames through the Send channel.
type Client struct {
	Conn *websocket.Conn
	Send chan *Frame
	Role Role

	SessionID  string
	OperatorID string

	done     chan struct{}
	mu       sync.Mutex
	isClosed bool
}

func newClient(conn *websocket.Conn, role Role) *Client {
	return &Client{
		Conn: conn,
		Send: make(chan *Frame, sendBufferSize),
		Role: role,
		done: make(chan struct{}),
	}
}

// trySend enqueues a frame without blocking. A full queue means the peer is
// stuck or gone; the caller evicts the client rather than wait.
func (cl *Client) trySend(frame *Frame) bool {
	select {
	case <-cl.done:
		return false
	default:
	}
	select {
	case cl.Send <- frame:
		wsFramesDelivered.Inc()
		return true
	default:
		return false
	}
}

func (cl *Client) close() {
	cl.mu.Lock()
	if cl.isClosed {
		cl.mu.Unlock()
		return
	}
	cl.isClosed = true
	close(cl.done)
	if cl.Conn != nil {
		cl.Conn.Close()
	}
	cl.mu.Unlock()
}

func (cl *Client) keepAlive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case <-ticker.C:
			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.Conn.WriteMessage(websocket.PingMessage, nil)
			cl.mu.Unlock()

			if err != nil {
				log.Printf("ping error for %s client: %v", cl.Role, err)
				return
			}
		}
	}
}

func (cl *Client) writePump() {
	defer cl.close()

	for {
		select {
		case <-cl.done:
			return
		case frame, ok := <-cl.Send:
			if !ok {
				return
			}

			cl.mu.Lock()
			if cl.isClosed {
				cl.mu.Unlock()
				return
			}
			err := cl.Conn.WriteJSON(frame)
			cl.mu.Unlock()

			if err != nil {
				log.Printf("write error for %s client: %v", cl.Role, err)
				return
			}
		}
	}
}

// isExpectedClose reports whether a read error is an ordinary peer close
// rather than something worth logging.
func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
