package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	commonlog "unilink_server/server/common/log"
	"unilink_server/server/common/transport/httpresp"
)

// Envelope is the wire frame in both directions: a kind tag plus an opaque
// payload interpreted by the action or by the client.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ActionFunc handles one inbound client action. A returned error becomes a
// scoped error event on the originating connection; it never tears the
// connection down.
type ActionFunc func(ctx context.Context, conn *Conn, payload json.RawMessage) error

// ActionError is a short failure reason safe to echo to the client.
// Handlers wrap validation failures in it; any other error is reported
// generically so collaborator detail never reaches a client frame.
type ActionError struct {
	Reason string
}

func NewActionError(reason string) *ActionError { return &ActionError{Reason: reason} }

func (e *ActionError) Error() string { return e.Reason }

// PresenceEvent travels on the user online/offline channels.
type PresenceEvent struct {
	UserID string `json:"userId"`
}

type tokenVerifier interface {
	VerifyUser(token string) (userID string, err error)
}

// Connection lifecycle. Connecting covers the handshake; Authenticated is
// transient (bind/presence side effects run immediately); Active accepts
// actions; Closed stops all delivery.
const (
	stateConnecting int32 = iota
	stateAuthenticated
	stateActive
	stateClosed
)

// Config wires a Dispatcher for one logical service.
type Config struct {
	Service  string
	Auth     tokenVerifier
	Registry *SessionRegistry
	Presence *PresenceTracker
	Bus      *EventBus
	Hub      *Hub

	// AnnouncePresence publishes user online/offline events on the bus.
	// The chat service announces; the notification service keeps its
	// presence namespace private.
	AnnouncePresence bool
}

// Dispatcher is the canonical per-connection state machine: it
// authenticates the handshake, registers the session, routes inbound
// actions, and undoes everything on disconnect.
type Dispatcher struct {
	cfg     Config
	actions map[string]ActionFunc

	onConnect    func(ctx context.Context, conn *Conn)
	onDisconnect func(ctx context.Context, conn *Conn)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

const readDeadline = 90 * time.Second

func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{cfg: cfg, actions: map[string]ActionFunc{}}
}

// Handle registers an inbound action. Must be called before serving.
func (d *Dispatcher) Handle(action string, fn ActionFunc) {
	d.actions[action] = fn
}

// OnConnect runs after a connection reaches Active, before the read loop.
func (d *Dispatcher) OnConnect(fn func(ctx context.Context, conn *Conn)) {
	d.onConnect = fn
}

// OnDisconnect runs after the session is unbound.
func (d *Dispatcher) OnDisconnect(fn func(ctx context.Context, conn *Conn)) {
	d.onDisconnect = fn
}

// HandleWS authenticates the handshake credential, upgrades, and serves the
// connection until it closes. Invalid tokens are rejected before the
// upgrade with no detail beyond the authentication failure itself.
func (d *Dispatcher) HandleWS(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	userID, err := d.cfg.Auth.VerifyUser(token)
	if err != nil {
		commonlog.Warnf("event=dispatcher action=handshake status=rejected service=%s", d.cfg.Service)
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		commonlog.Warnf("event=dispatcher action=upgrade status=failed service=%s error=%v", d.cfg.Service, err)
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("websocket upgrade failed"))
		return
	}

	conn := NewConn(uuid.NewString(), userID, ws)
	d.serve(c.Request.Context(), conn, ws)
}

func (d *Dispatcher) serve(ctx context.Context, conn *Conn, ws *websocket.Conn) {
	atomic.StoreInt32(&conn.state, stateAuthenticated)
	if err := d.activate(ctx, conn); err != nil {
		commonlog.Errorf("event=dispatcher action=activate status=failed service=%s user_id=%s error=%v", d.cfg.Service, conn.UserID, err)
		conn.Close()
		return
	}
	defer d.deactivate(conn)

	conn.WriteJSON(map[string]any{
		"type":        "connected",
		"userId":      conn.UserID,
		"connId":      conn.ID,
		"connectedAt": time.Now().UTC(),
	})

	for {
		if err := ws.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return
		}
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		// any inbound traffic counts as a heartbeat
		d.refresh(ctx, conn)

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			d.writeError(conn, "malformed payload")
			continue
		}
		if env.Type == "ping" {
			conn.WriteJSON(map[string]any{"type": "pong"})
			continue
		}
		action, ok := d.actions[env.Type]
		if !ok {
			d.writeError(conn, "unknown event type")
			continue
		}
		if err := action(ctx, conn, env.Payload); err != nil {
			commonlog.Warnf("event=dispatcher action=%s status=failed service=%s user_id=%s error=%v", env.Type, d.cfg.Service, conn.UserID, err)
			d.writeError(conn, clientReason(err))
		}
	}
}

func (d *Dispatcher) activate(ctx context.Context, conn *Conn) error {
	if err := d.cfg.Registry.Bind(ctx, d.cfg.Service, conn.UserID, conn.ID); err != nil {
		return err
	}
	if err := d.cfg.Presence.MarkOnline(ctx, conn.UserID); err != nil {
		return err
	}
	d.cfg.Hub.Join(UserRoom(conn.UserID), conn)
	atomic.StoreInt32(&conn.state, stateActive)

	if d.cfg.AnnouncePresence {
		d.cfg.Bus.Publish(ctx, ChannelUserOnline, PresenceEvent{UserID: conn.UserID})
	}
	if d.onConnect != nil {
		d.onConnect(ctx, conn)
	}
	commonlog.Infof("event=dispatcher action=connect status=ok service=%s user_id=%s conn_id=%s", d.cfg.Service, conn.UserID, conn.ID)
	return nil
}

// deactivate uses a fresh context: the request context is already canceled
// by the time the read loop returns, and cleanup writes must still land.
func (d *Dispatcher) deactivate(conn *Conn) {
	atomic.StoreInt32(&conn.state, stateClosed)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	d.cfg.Hub.Drop(conn)

	removed, err := d.cfg.Registry.Unbind(ctx, d.cfg.Service, conn.UserID, conn.ID)
	if err != nil {
		commonlog.Errorf("event=dispatcher action=unbind status=failed service=%s user_id=%s error=%v", d.cfg.Service, conn.UserID, err)
	}
	// a superseded connection must not flip the user offline
	if removed {
		if err := d.cfg.Presence.MarkOffline(ctx, conn.UserID); err != nil {
			commonlog.Errorf("event=dispatcher action=mark_offline status=failed service=%s user_id=%s error=%v", d.cfg.Service, conn.UserID, err)
		}
		if d.cfg.AnnouncePresence {
			d.cfg.Bus.Publish(ctx, ChannelUserOffline, PresenceEvent{UserID: conn.UserID})
		}
	}
	if d.onDisconnect != nil {
		d.onDisconnect(ctx, conn)
	}
	conn.Close()
	commonlog.Infof("event=dispatcher action=disconnect status=ok service=%s user_id=%s conn_id=%s superseded=%t", d.cfg.Service, conn.UserID, conn.ID, !removed)
}

func (d *Dispatcher) refresh(ctx context.Context, conn *Conn) {
	if err := d.cfg.Registry.Refresh(ctx, d.cfg.Service, conn.UserID, conn.ID); err != nil {
		commonlog.Warnf("event=dispatcher action=refresh status=failed service=%s user_id=%s error=%v", d.cfg.Service, conn.UserID, err)
	}
	if err := d.cfg.Presence.Heartbeat(ctx, conn.UserID); err != nil {
		commonlog.Warnf("event=dispatcher action=heartbeat status=failed service=%s user_id=%s error=%v", d.cfg.Service, conn.UserID, err)
	}
}

func (d *Dispatcher) writeError(conn *Conn, message string) {
	conn.WriteJSON(map[string]any{"type": "error", "error": message})
}

// clientReason keeps collaborator error detail out of client frames; the
// full error stays in the log line.
func clientReason(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return httpresp.ErrInternal
}
