package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"messaging-service/internal/auth"
	"messaging-service/internal/delivery"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/rabbitmq"
	"messaging-service/internal/repositories"
	"messaging-service/internal/router"
)

// Handler owns the per-user websocket endpoint: handshake, registration,
// and the inbound event loop feeding the router.
type Handler struct {
	registry  *Registry
	router    *router.Router
	verifier  auth.TokenVerifier
	publisher rabbitmq.Publisher

	queueSize    int
	inboundRate  rate.Limit
	inboundBurst int
}

// NewHandler constructs a Handler.
func NewHandler(registry *Registry, rtr *router.Router, verifier auth.TokenVerifier, publisher rabbitmq.Publisher, queueSize int, inboundRate float64, inboundBurst int) *Handler {
	return &Handler{
		registry:     registry,
		router:       rtr,
		verifier:     verifier,
		publisher:    publisher,
		queueSize:    queueSize,
		inboundRate:  rate.Limit(inboundRate),
		inboundBurst: inboundBurst,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the handshake, upgrades the connection, and registers
// one live connection for the user. Multi-device is allowed; each device gets
// its own connection and queue.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token := bearerToken(c)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	limiter := rate.NewLimiter(h.inboundRate, h.inboundBurst)
	client := NewClient(userID, conn, h.queueSize, limiter)
	client.DeviceID = observability.DeviceIDFromRequest(c.Request)
	client.IP = observability.IPFromRequest(c.Request)
	h.registry.Register(client)

	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, client, "ws_connect", "")

	go client.writePump()
	go h.readLoop(context.WithoutCancel(ctx), client)
}

// readLoop pumps inbound frames until the transport errors out, then
// unregisters the connection exactly once.
func (h *Handler) readLoop(ctx context.Context, client *Client) {
	var closeReason string
	defer func() {
		h.clearTyping(ctx, client)
		h.registry.Unregister(client)
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, client, "ws_disconnect", closeReason)
	}()

	client.conn.SetReadLimit(maxFrameSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		if !client.limiter.Allow() {
			h.sendError(client, "rate limit exceeded")
			continue
		}
		ev, err := models.DecodeInbound(data)
		if err != nil {
			h.sendError(client, err.Error())
			continue
		}
		h.dispatch(ctx, client, ev)
	}
}

func (h *Handler) dispatch(ctx context.Context, client *Client, ev models.InboundEvent) {
	switch ev := ev.(type) {
	case models.MessageEvent:
		msg, err := h.router.Submit(ctx, client.UserID, ev.RoomID, ev.Body)
		if err != nil {
			h.sendError(client, submitErrorText(err))
			return
		}
		// Synchronous result back on the submitting connection: the
		// assigned message id and timestamp.
		payload, _ := json.Marshal(models.NewMessageOut(msg))
		client.trySend(payload)
	case models.AckEvent:
		if _, err := h.router.Acknowledge(ctx, client.UserID, ev.RoomID, ev.MessageID, ev.Status); err != nil {
			h.sendError(client, ackErrorText(err))
		}
	case models.TypingEvent:
		if err := h.router.Typing(ctx, client.UserID, ev.RoomID, ev.IsTyping); err != nil {
			h.sendError(client, submitErrorText(err))
			return
		}
		client.setTyping(ev.RoomID, ev.IsTyping)
	}
}

// clearTyping retracts any typing indicators the connection left behind.
func (h *Handler) clearTyping(ctx context.Context, client *Client) {
	for roomID := range client.typing {
		delete(client.typing, roomID)
		if err := h.router.Typing(ctx, client.UserID, roomID, false); err != nil {
			log.Debug().Err(err).Int64("room_id", roomID).Msg("clear typing on disconnect failed")
		}
	}
}

func (h *Handler) sendError(client *Client, text string) {
	payload, _ := json.Marshal(models.ErrorOut{Type: models.EventError, Error: text})
	client.trySend(payload)
}

func submitErrorText(err error) string {
	switch {
	case errors.Is(err, router.ErrNotAMember):
		return "not a room member"
	case errors.Is(err, router.ErrPersistence):
		return "message not accepted, retry"
	default:
		return "internal error"
	}
}

func ackErrorText(err error) string {
	switch {
	case errors.Is(err, delivery.ErrInvalidTransition):
		return "invalid status transition"
	case errors.Is(err, repositories.ErrMessageNotFound):
		return "unknown message"
	default:
		return "internal error"
	}
}

func (h *Handler) publishLifecycle(ctx context.Context, client *Client, event, reason string) {
	if h.publisher == nil {
		return
	}
	err := h.publisher.Publish(ctx, "ws_events."+event, map[string]any{
		"event":       event,
		"conn_id":     client.ID,
		"user_id":     client.UserID,
		"device_id":   client.DeviceID,
		"ip":          client.IP,
		"duration_ms": time.Since(client.ConnectedAt).Milliseconds(),
		"reason":      reason,
	})
	if err != nil {
		log.Debug().Err(err).Str("event", event).Msg("ws lifecycle publish failed")
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
