package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var errTransportClosed = errors.New("transport closed")

// wsTransport serializes writes to one websocket connection. Gorilla allows
// only a single concurrent writer, and a session may fan out to this
// connection while its own read loop is delivering elsewhere. Once a write
// fails the transport stays closed; the session skips it silently.
type wsTransport struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

func (t *wsTransport) Send(msg []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.closed = true
		return err
	}
	return nil
}
