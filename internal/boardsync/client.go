package boardsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fogjoe/online-collaborative-project-sub000/internal/realtime"
)

const joinTimeout = 10 * time.Second

var ErrClosed = errors.New("boardsync: client closed")

// Client maintains one authenticated websocket connection to the
// collaboration gateway and feeds every broadcast event into a Store.
type Client struct {
	ws    *websocket.Conn
	store *Store

	// onOffline fires once when the connection drops; the owner should
	// show an offline indicator and rejoin after reconnecting.
	onOffline func(error)

	mu      sync.Mutex
	joinCh  chan realtime.JoinResult
	closed  bool
	writeMu sync.Mutex
}

// Dial connects and authenticates against the gateway. The token travels in
// connection-level metadata (the Authorization header), never per message.
func Dial(ctx context.Context, url, token string, store *Store, onOffline func(error)) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	c := &Client{
		ws:        ws,
		store:     store,
		onOffline: onOffline,
	}
	go c.readLoop()
	return c, nil
}

// Join enters a project room and returns the server's result: the full
// current roster on success, a denial message otherwise. Denial does not
// close the connection.
func (c *Client) Join(projectID string) (realtime.JoinResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return realtime.JoinResult{}, ErrClosed
	}
	ch := make(chan realtime.JoinResult, 1)
	c.joinCh = ch
	c.mu.Unlock()

	if err := c.writeCommand(realtime.KindJoinProject, projectID); err != nil {
		return realtime.JoinResult{}, err
	}

	select {
	case result := <-ch:
		if result.Success {
			c.store.Apply(realtime.PresenceRoster{ProjectID: projectID, Users: result.Users})
		}
		return result, nil
	case <-time.After(joinTimeout):
		return realtime.JoinResult{}, errors.New("boardsync: join timed out")
	}
}

// Leave exits a project room. Leaving a room the client is not in is a
// no-op on the server.
func (c *Client) Leave(projectID string) error {
	return c.writeCommand(realtime.KindLeaveProject, projectID)
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *Client) writeCommand(kind, projectID string) error {
	payload, err := json.Marshal(struct {
		ProjectID string `json:"projectId"`
	}{ProjectID: projectID})
	if err != nil {
		return err
	}
	frame, err := json.Marshal(realtime.Envelope{Event: kind, Payload: payload})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.closed = true
			c.mu.Unlock()
			if !closed && c.onOffline != nil {
				c.onOffline(err)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env realtime.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	switch env.Event {
	case realtime.KindJoinResult:
		var result realtime.JoinResult
		if err := json.Unmarshal(env.Payload, &result); err != nil {
			return
		}
		c.mu.Lock()
		ch := c.joinCh
		c.joinCh = nil
		c.mu.Unlock()
		if ch != nil {
			ch <- result
		}
	case realtime.KindError:
		// Server-side notice; nothing to merge.
	default:
		event, err := realtime.Decode(data)
		if err != nil {
			return
		}
		c.store.Apply(event)
	}
}
