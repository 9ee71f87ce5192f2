package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fogjoe/online-collaborative-project-sub000/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	lookupTimeout = 5 * time.Second
)

// Identity is the authenticated user attached to a connection at handshake
// time. It is trusted for the connection's lifetime and never re-derived
// from client-supplied data.
type Identity struct {
	UserID string
	Name   string
	Avatar string
}

// IdentityResolver turns a decoded credential subject into a user record.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, userID string) (Identity, error)
}

// ErrUnknownUser is returned by IdentityResolver implementations when the
// credential subject matches no user.
var ErrUnknownUser = errors.New("unknown user")

// AccessChecker reports whether a user is the project's owner or a member.
// A missing project reports false, indistinguishable from denial.
type AccessChecker interface {
	HasProjectAccess(ctx context.Context, projectID, userID string) (bool, error)
}

// Gateway terminates websocket connections, authenticates them, and runs
// the join/leave room protocol over the registry.
type Gateway struct {
	secret   []byte
	resolver IdentityResolver
	access   AccessChecker
	registry *Registry
	bridge   *Bridge
	upgrader websocket.Upgrader
}

func NewGateway(secret []byte, resolver IdentityResolver, access AccessChecker, registry *Registry, bridge *Bridge) *Gateway {
	return &Gateway{
		secret:   secret,
		resolver: resolver,
		access:   access,
		registry: registry,
		bridge:   bridge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (gw *Gateway) Registry() *Registry {
	return gw.registry
}

// ServeHTTP upgrades the connection and runs the handshake. Authentication
// failures are fatal: the client gets a typed error frame and the socket is
// closed before any registry entry exists.
func (gw *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerFromRequest(r)

	ws, err := gw.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade: %v", err)
		return
	}

	if token == "" {
		rejectHandshake(ws, "authentication required")
		return
	}
	claims, err := auth.ParseToken(gw.secret, token)
	if err != nil {
		rejectHandshake(ws, "invalid authentication token")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	identity, err := gw.resolver.ResolveIdentity(ctx, claims.Sub)
	cancel()
	if err != nil {
		rejectHandshake(ws, "user not found")
		return
	}

	conn := &connection{
		id:       uuid.New().String(),
		identity: identity,
		ws:       ws,
		send:     make(chan []byte, 256),
		gw:       gw,
	}
	log.Printf("realtime: connected conn=%s user=%s", conn.id, identity.UserID)
	go conn.writePump()
	go conn.readPump()
}

// bearerFromRequest extracts the credential from connection-level metadata:
// the Authorization header, or the token query parameter for browser
// websocket clients that cannot set headers.
func bearerFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func rejectHandshake(ws *websocket.Conn, message string) {
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if data, err := encodeFrame(KindError, errorPayload{Message: message}); err == nil {
		ws.WriteMessage(websocket.TextMessage, data)
	}
	ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
	ws.Close()
}

type errorPayload struct {
	Message string `json:"message"`
}

type roomCommand struct {
	ProjectID string `json:"projectId"`
}

// JoinResult is the ack payload of a join:project command. On success Users
// is the full current roster, including the joiner, so the client can
// bootstrap its presence view without racing the broadcast.
type JoinResult struct {
	ProjectID string         `json:"projectId"`
	Success   bool           `json:"success"`
	Message   string         `json:"message,omitempty"`
	Users     []PresenceUser `json:"users,omitempty"`
}

func encodeFrame(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: kind, Payload: raw})
}

type connection struct {
	id       string
	identity Identity
	ws       *websocket.Conn
	send     chan []byte
	closed   atomic.Bool
	gw       *Gateway
}

func (c *connection) ID() string { return c.id }

// Send queues a frame without blocking; a full buffer or a closed
// connection drops the frame with an error the caller may ignore.
func (c *connection) Send(data []byte) error {
	if c.closed.Load() {
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- data:
		return nil
	default:
		return websocket.ErrCloseSent
	}
}

func (c *connection) sendFrame(kind string, payload any) {
	data, err := encodeFrame(kind, payload)
	if err != nil {
		log.Printf("realtime: encode %s: %v", kind, err)
		return
	}
	_ = c.Send(data)
}

func (c *connection) readPump() {
	defer func() {
		c.gw.handleDisconnect(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("realtime: read conn=%s: %v", c.id, err)
			}
			return
		}
		c.handleCommand(data)
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) handleCommand(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendFrame(KindError, errorPayload{Message: "malformed frame"})
		return
	}

	switch env.Event {
	case KindJoinProject:
		var cmd roomCommand
		if err := json.Unmarshal(env.Payload, &cmd); err != nil || cmd.ProjectID == "" {
			c.sendFrame(KindError, errorPayload{Message: "malformed join command"})
			return
		}
		c.handleJoin(cmd.ProjectID)
	case KindLeaveProject:
		var cmd roomCommand
		if err := json.Unmarshal(env.Payload, &cmd); err != nil || cmd.ProjectID == "" {
			c.sendFrame(KindError, errorPayload{Message: "malformed leave command"})
			return
		}
		c.handleLeave(cmd.ProjectID)
	default:
		c.sendFrame(KindError, errorPayload{Message: "unknown command " + env.Event})
	}
}

// handleJoin authorizes the caller against the project and, if allowed,
// adds it to the room, acks with the roster and announces the join to the
// other members. Denial and not-found produce the same failure result so a
// join probe cannot reveal whether a project exists.
func (c *connection) handleJoin(projectID string) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	allowed, err := c.gw.access.HasProjectAccess(ctx, projectID, c.identity.UserID)
	cancel()
	if err != nil {
		log.Printf("realtime: access check conn=%s project=%s: %v", c.id, projectID, err)
		allowed = false
	}
	if !allowed {
		c.sendFrame(KindJoinResult, JoinResult{ProjectID: projectID, Success: false, Message: "project access denied"})
		return
	}

	// The access check suspended this handler; the connection may have
	// dropped in the meantime. Re-check before touching the registry.
	if c.closed.Load() {
		return
	}

	user := PresenceUser{
		UserID:   c.identity.UserID,
		Name:     c.identity.Name,
		Avatar:   c.identity.Avatar,
		JoinedAt: time.Now(),
	}
	roster := c.gw.registry.Join(projectID, c, user)
	user.ConnID = c.id

	c.sendFrame(KindJoinResult, JoinResult{ProjectID: projectID, Success: true, Users: roster})
	c.gw.bridge.PublishExcept(PresenceJoined{ProjectID: projectID, User: user}, c.id)
	log.Printf("realtime: join conn=%s user=%s project=%s members=%d", c.id, user.UserID, projectID, len(roster))
}

// handleLeave is idempotent; leaving a room the connection is not in does
// nothing.
func (c *connection) handleLeave(projectID string) {
	user, ok := c.gw.registry.Leave(projectID, c.id)
	if !ok {
		return
	}
	c.gw.bridge.Publish(PresenceLeft{ProjectID: projectID, ConnID: c.id, UserID: user.UserID})
	log.Printf("realtime: leave conn=%s user=%s project=%s", c.id, user.UserID, projectID)
}

// handleDisconnect runs the full leave sweep before the connection record
// is discarded, so no stale roster entry outlives the socket.
func (gw *Gateway) handleDisconnect(c *connection) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	for _, left := range gw.registry.LeaveAll(c.id) {
		gw.bridge.Publish(PresenceLeft{ProjectID: left.ProjectID, ConnID: c.id, UserID: left.User.UserID})
	}
	log.Printf("realtime: disconnected conn=%s user=%s", c.id, c.identity.UserID)
}
