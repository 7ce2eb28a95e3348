package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tabsplit/billsync/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsChannel adapts a websocket connection to the Channel interface.
// Gorilla connections support one concurrent writer, so writes are
// serialized with a mutex.
type wsChannel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  sync.Once
}

func upgradeWebsocket(w http.ResponseWriter, r *http.Request) (Channel, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrTransport, err)
	}
	return &wsChannel{conn: conn}, nil
}

// DialWebsocket connects to a relay endpoint. An empty code opens a new
// pairing; a non-empty code joins an existing one.
func DialWebsocket(ctx context.Context, endpoint string, code interfaces.PairingCode) (Channel, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid relay endpoint: %w", interfaces.ErrValidation, err)
	}
	if code != "" {
		q := u.Query()
		q.Set("code", code.String())
		u.RawQuery = q.Encode()
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: relay dial failed with status %d: %w", interfaces.ErrTransport, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: relay dial failed: %w", interfaces.ErrTransport, err)
	}
	return &wsChannel{conn: conn}, nil
}

func (c *wsChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrTransport, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: websocket write: %w", interfaces.ErrTransport, err)
	}
	return nil
}

func (c *wsChannel) Receive(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, fmt.Errorf("%w: %w", interfaces.ErrTransport, err)
	}

	deadline, _ := ctx.Deadline()
	_ = c.conn.SetReadDeadline(deadline)

	// ReadJSON has no context support; the watcher expires the read
	// deadline on cancellation so the blocked read returns.
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	var msg Message
	err := c.conn.ReadJSON(&msg)
	close(done)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Message{}, fmt.Errorf("%w: %w", interfaces.ErrTransport, ctxErr)
		}
		return Message{}, fmt.Errorf("%w: websocket read: %w", interfaces.ErrTransport, err)
	}
	return msg, nil
}

func (c *wsChannel) Close() error {
	var err error
	c.closed.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}
