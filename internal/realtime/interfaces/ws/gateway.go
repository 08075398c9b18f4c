package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	alerts "sensorfleet-cloud/internal/alerts/domain"
	"sensorfleet-cloud/internal/audit"
	"sensorfleet-cloud/internal/auth"
	commandsapp "sensorfleet-cloud/internal/commands/application"
	commands "sensorfleet-cloud/internal/commands/domain"
	"sensorfleet-cloud/internal/realtime"
	telemetryevents "sensorfleet-cloud/internal/telemetry/application/events"
	telemetry "sensorfleet-cloud/internal/telemetry/domain"
)

const (
	writeTimeout  = 10 * time.Second
	pongTimeout   = 60 * time.Second
	pingInterval  = 30 * time.Second
	actionTimeout = 5 * time.Second

	maxMessageBytes = 4 << 10
)

// AlertActions is the slice of the alert service reachable over the
// socket.
type AlertActions interface {
	Acknowledge(ctx context.Context, id, actorID string) (*alerts.Alert, error)
	Resolve(ctx context.Context, id, actorID string) (*alerts.Alert, error)
}

// CommandIssuer issues device commands on behalf of the session user.
type CommandIssuer interface {
	IssueCommand(ctx context.Context, req commandsapp.IssueRequest) (*commands.Command, error)
}

// SnapshotReader returns the newest cached readings of a device.
type SnapshotReader interface {
	Latest(ctx context.Context, deviceID string) ([]telemetry.Reading, error)
}

// Gateway upgrades operator connections, authenticates them and runs
// the read/write pumps. All conn writes go through the write pump; the
// websocket package does not allow concurrent writers.
type Gateway struct {
	registry  *realtime.Registry
	alerts    AlertActions
	commands  CommandIssuer
	snapshots SnapshotReader
	auditLog  audit.Logger
	secret    []byte
	queueSize int
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
}

// Option customizes the gateway.
type Option func(*Gateway)

// WithQueueSize sets the per-session outbound queue length.
func WithQueueSize(size int) Option {
	return func(g *Gateway) {
		g.queueSize = size
	}
}

// WithAuditLogger records operator actions taken over the socket.
func WithAuditLogger(logger audit.Logger) Option {
	return func(g *Gateway) {
		g.auditLog = logger
	}
}

// NewGateway constructs a gateway. Alert, command and snapshot
// collaborators are optional; a missing one turns the matching action
// into an unsupported error for the client.
func NewGateway(registry *realtime.Registry, alertActions AlertActions, commandIssuer CommandIssuer, snapshots SnapshotReader, secret []byte, logger zerolog.Logger, opts ...Option) (*Gateway, error) {
	if registry == nil {
		return nil, errors.New("ws: nil registry")
	}
	if len(secret) == 0 {
		return nil, errors.New("ws: empty jwt secret")
	}
	gateway := &Gateway{
		registry:  registry,
		alerts:    alertActions,
		commands:  commandIssuer,
		snapshots: snapshots,
		secret:    secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "ws-gateway").Logger(),
	}
	for _, opt := range opts {
		opt(gateway)
	}
	return gateway, nil
}

// ServeHTTP handles GET /ws. The token rides the Authorization header
// or, for browser clients that cannot set headers on a websocket, the
// token query parameter.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	claims, err := auth.ParseJWT(token, g.secret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	role, _ := auth.NormalizeRole(claims.Role)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	session := realtime.NewSession(uuid.NewString(), claims.UserID, string(role), g.queueSize)
	if err := g.registry.Register(session); err != nil {
		g.logger.Error().Err(err).Msg("session not registered")
		conn.Close()
		return
	}
	// Every session follows its own user topic so command updates for
	// this user arrive without an explicit subscribe.
	if err := g.registry.Subscribe(r.Context(), session.ID, realtime.UserTopic(claims.UserID)); err != nil {
		g.logger.Warn().Err(err).Str("connection_id", session.ID).Msg("user topic subscribe failed")
	}

	g.logger.Info().
		Str("connection_id", session.ID).
		Str("user_id", claims.UserID).
		Str("remote_addr", r.RemoteAddr).
		Msg("session connected")

	g.deliverTo(session, directEvent("", eventConnected, connectedPayload{
		ConnectionID: session.ID,
		UserID:       claims.UserID,
		Role:         string(role),
	}))

	go g.writePump(conn, session)

	ctx := auth.WithIdentity(r.Context(), claims.UserID, role)
	client := &clientConn{
		session:   session,
		role:      role,
		ip:        audit.ClientIP(r),
		userAgent: r.UserAgent(),
	}
	g.readPump(ctx, conn, client)

	g.registry.Unregister(session.ID)
	conn.Close()
	g.logger.Info().Str("connection_id", session.ID).Msg("session disconnected")
}

// clientConn bundles what action handlers need about the peer.
type clientConn struct {
	session   *realtime.Session
	role      auth.Role
	ip        string
	userAgent string
}

// readPump consumes client frames until the connection drops. Malformed
// frames are answered with an error event instead of a disconnect.
func (g *Gateway) readPump(ctx context.Context, conn *websocket.Conn, client *clientConn) {
	conn.SetReadLimit(maxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug().Err(err).Str("connection_id", client.session.ID).Msg("connection closed unexpectedly")
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.sendError(client, msg, codeInvalidMessage, "malformed message")
			continue
		}
		g.handleMessage(ctx, client, msg)
	}
}

// writePump is the only writer on the conn. It drains the session
// queue, keeps the peer alive with pings and closes the socket when the
// session is shut down.
func (g *Gateway) writePump(conn *websocket.Conn, session *realtime.Session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-session.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-session.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		}
	}
}

func (g *Gateway) handleMessage(ctx context.Context, client *clientConn, msg clientMessage) {
	switch msg.Action {
	case actionSubscribe:
		g.handleSubscribe(ctx, client, msg)
	case actionUnsubscribe:
		g.handleUnsubscribe(client, msg)
	case actionAckAlert:
		g.handleAlertAction(ctx, client, msg, false)
	case actionResolveAlert:
		g.handleAlertAction(ctx, client, msg, true)
	case actionIssueCommand:
		g.handleIssueCommand(ctx, client, msg)
	default:
		g.sendError(client, msg, codeInvalidMessage, "unknown action")
	}
}

func (g *Gateway) handleSubscribe(ctx context.Context, client *clientConn, msg clientMessage) {
	topic, err := realtime.ParseTopic(msg.Topic)
	if err != nil {
		g.sendError(client, msg, codeInvalidTopic, err.Error())
		return
	}
	// User topics stay private: only the owner, or an admin, may follow
	// another user's feed.
	if topic.Kind == realtime.TopicUser && topic.ID != client.session.UserID && !auth.RoleAtLeast(client.role, auth.RoleAdmin) {
		g.sendError(client, msg, codeForbidden, "cannot subscribe to another user's topic")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	if err := g.registry.Subscribe(ctx, client.session.ID, topic); err != nil {
		switch {
		case errors.Is(err, realtime.ErrUnknownEntity):
			g.sendError(client, msg, codeUnknownEntity, err.Error())
		case errors.Is(err, realtime.ErrInvalidTopic):
			g.sendError(client, msg, codeInvalidTopic, err.Error())
		default:
			g.logger.Error().Err(err).Str("topic", topic.String()).Msg("subscribe failed")
			g.sendError(client, msg, codeInternal, "subscribe failed")
		}
		return
	}

	g.deliverTo(client.session, directEvent(topic.String(), eventSubscribed, topicPayload{
		Topic:     topic.String(),
		RequestID: msg.RequestID,
	}))

	if topic.Kind == realtime.TopicDevice {
		g.sendSnapshot(ctx, client, topic.ID)
	}
}

// sendSnapshot hands the subscriber the newest cached readings of the
// device so it does not start from a blank screen.
func (g *Gateway) sendSnapshot(ctx context.Context, client *clientConn, deviceID string) {
	if g.snapshots == nil {
		return
	}
	readings, err := g.snapshots.Latest(ctx, deviceID)
	if err != nil {
		g.logger.Warn().Err(err).Str("device_id", deviceID).Msg("snapshot read failed")
		return
	}
	if len(readings) == 0 {
		return
	}
	samples := make([]telemetryevents.ReadingSample, 0, len(readings))
	for _, reading := range readings {
		samples = append(samples, telemetryevents.ReadingSample{
			SensorID: reading.SensorID,
			Value:    reading.Value,
			At:       reading.At,
		})
	}
	topic := realtime.DeviceTopic(deviceID)
	g.deliverTo(client.session, directEvent(topic.String(), realtime.EventReadingSnapshot, snapshotPayload{
		DeviceID: deviceID,
		Readings: samples,
	}))
}

func (g *Gateway) handleUnsubscribe(client *clientConn, msg clientMessage) {
	topic, err := realtime.ParseTopic(msg.Topic)
	if err != nil {
		g.sendError(client, msg, codeInvalidTopic, err.Error())
		return
	}
	g.registry.Unsubscribe(client.session.ID, topic)
	g.deliverTo(client.session, directEvent(topic.String(), eventUnsubscribed, topicPayload{
		Topic:     topic.String(),
		RequestID: msg.RequestID,
	}))
}

func (g *Gateway) handleAlertAction(ctx context.Context, client *clientConn, msg clientMessage, resolve bool) {
	if g.alerts == nil {
		g.sendError(client, msg, codeUnsupported, "alert actions not available")
		return
	}
	if !auth.RoleAtLeast(client.role, auth.RoleOperator) {
		g.sendError(client, msg, codeForbidden, "operator role required")
		return
	}
	if msg.AlertID == "" {
		g.sendError(client, msg, codeInvalidMessage, "alert_id required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	var (
		updated *alerts.Alert
		err     error
		action  = "alert.acknowledge"
	)
	if resolve {
		action = "alert.resolve"
		updated, err = g.alerts.Resolve(ctx, msg.AlertID, client.session.UserID)
	} else {
		updated, err = g.alerts.Acknowledge(ctx, msg.AlertID, client.session.UserID)
	}
	if err != nil {
		switch {
		case errors.Is(err, alerts.ErrNotFound):
			g.sendError(client, msg, codeNotFound, "alert not found")
		case errors.Is(err, alerts.ErrConflict):
			g.sendError(client, msg, codeConflict, "alert not in an actionable state")
		default:
			g.logger.Error().Err(err).Str("alert_id", msg.AlertID).Msg("alert action failed")
			g.sendError(client, msg, codeInternal, "alert action failed")
		}
		return
	}

	g.deliverTo(client.session, directEvent("", eventAccepted, acceptedPayload{
		Action:    msg.Action,
		RequestID: msg.RequestID,
		Data:      updated,
	}))
	g.logAudit(ctx, client, action, "alert", updated.ID, updated.DeviceID)
}

func (g *Gateway) handleIssueCommand(ctx context.Context, client *clientConn, msg clientMessage) {
	if g.commands == nil {
		g.sendError(client, msg, codeUnsupported, "commands not available")
		return
	}
	if !auth.RoleAtLeast(client.role, auth.RoleOperator) {
		g.sendError(client, msg, codeForbidden, "operator role required")
		return
	}
	if msg.DeviceID == "" || msg.Name == "" {
		g.sendError(client, msg, codeInvalidMessage, "device_id and name required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	cmd, err := g.commands.IssueCommand(ctx, commandsapp.IssueRequest{
		DeviceID:       msg.DeviceID,
		Name:           msg.Name,
		Params:         msg.Params,
		IdempotencyKey: msg.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, commandsapp.ErrNotFound):
			g.sendError(client, msg, codeNotFound, "unknown device")
		default:
			g.logger.Error().Err(err).Str("device_id", msg.DeviceID).Msg("command issue failed")
			g.sendError(client, msg, codeInternal, err.Error())
		}
		return
	}

	g.deliverTo(client.session, directEvent("", eventAccepted, acceptedPayload{
		Action:    msg.Action,
		RequestID: msg.RequestID,
		Data:      commandsapp.ViewOf(cmd),
	}))
	g.logAudit(ctx, client, "command.issue", "command", cmd.ID, cmd.DeviceID)
}

func (g *Gateway) sendError(client *clientConn, msg clientMessage, code, message string) {
	g.deliverTo(client.session, directEvent("", eventError, errorPayload{
		Action:    msg.Action,
		RequestID: msg.RequestID,
		Code:      code,
		Message:   message,
	}))
}

func (g *Gateway) deliverTo(session *realtime.Session, event realtime.Event) {
	if !g.registry.DeliverTo(session.ID, event) {
		g.logger.Debug().Str("connection_id", session.ID).Str("event", event.Name).Msg("direct event dropped")
	}
}

func (g *Gateway) logAudit(ctx context.Context, client *clientConn, action, resourceType, resourceID, deviceID string) {
	if g.auditLog == nil {
		return
	}
	_ = g.auditLog.Log(ctx, audit.Entry{
		Actor:        client.session.UserID,
		Role:         string(client.role),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		DeviceID:     deviceID,
		IP:           client.ip,
		UserAgent:    client.userAgent,
	})
}

// directEvent builds an event addressed to one session only.
func directEvent(topic, name string, payload any) realtime.Event {
	event := realtime.Event{
		Topic:      topic,
		Name:       name,
		OccurredAt: time.Now().UTC(),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			event.Payload = raw
		}
	}
	return event
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
