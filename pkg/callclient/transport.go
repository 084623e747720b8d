package callclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"crm-voice/pkg/protocol"

	"github.com/gorilla/websocket"
)

// WSTransport is a Transport over a gorilla websocket.
type WSTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	wmu       sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the signaling endpoint with a bearer token.
func Dial(ctx context.Context, url, token string) (*WSTransport, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWSTransport(conn), nil
}

func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn, writeTimeout: 10 * time.Second}
}

func (t *WSTransport) Send(ctx context.Context, msg protocol.Message) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteJSON(msg)
}

// Receive blocks for the next frame. Pings from the server are answered by
// gorilla's default handler while reading.
func (t *WSTransport) Receive() (protocol.Envelope, error) {
	var env protocol.Envelope
	err := t.conn.ReadJSON(&env)
	return env, err
}

func (t *WSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.wmu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.wmu.Unlock()
		err = t.conn.Close()
	})
	return err
}
