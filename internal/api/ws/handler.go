package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/GriffinCanCode/corsbroker/internal/api/payload"
	"github.com/GriffinCanCode/corsbroker/internal/domain/broker"
	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"github.com/GriffinCanCode/corsbroker/internal/domain/wire"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxFrameSize = 64 << 20
)

// Broker is the subset of the broker service reachable over the channel.
type Broker interface {
	Ping() string
	GetAllowedInfo(ctx context.Context, origin string) (types.AllowedInfo, error)
	RequestHosts(ctx context.Context, origin string, hosts []string, connID string) error
	AcceptRequestHosts(ctx context.Context, origin string, hosts []string) error
	RejectRequestHosts(ctx context.Context, origin string, hosts []string) error
	Forward(ctx context.Context, origin string, sr *wire.SerializedRequest) (*broker.ForwardReply, error)
	GetResponseChunk(ctx context.Context, id string, index int) (string, error)
}

// Handler upgrades connections and dispatches their calls.
type Handler struct {
	broker   Broker
	hub      *Hub
	tracer   *tracing.Tracer
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewHandler(b Broker, hub *Hub, tracer *tracing.Tracer, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		broker:  b,
		hub:     hub,
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
		upgrader: websocket.Upgrader{
			// Callers are identified by the origin query parameter, not
			// by the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleConnection upgrades the request and serves calls until the caller
// disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	origin, err := permission.NormalizeOrigin(c.Query("origin"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": types.ToWire(err)})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConn(uuid.NewString(), origin, ws)
	h.hub.add(conn)
	logger := h.logger.With(zap.String("conn", conn.id), zap.String("origin", origin))
	logger.Info("caller connected")

	// Calls outlive neither the connection nor the server.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer func() {
		cancel()
		h.hub.remove(conn)
		_ = conn.Close()
		logger.Info("caller disconnected")
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go h.keepAlive(ctx, conn)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		go h.handleFrame(ctx, conn, data)
	}
}

func (h *Handler) keepAlive(ctx context.Context, conn *Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.writeControl(websocket.PingMessage); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleFrame(ctx context.Context, conn *Conn, data []byte) {
	msgID := gjson.GetBytes(data, "id").String()
	msgType := gjson.GetBytes(data, "type").String()
	raw := gjson.GetBytes(data, "data")
	if h.metrics != nil {
		h.metrics.RecordWSMessage("in", msgType)
	}

	var span *tracing.Span
	if h.tracer != nil {
		span, ctx = h.tracer.StartSpan(ctx, "rpc "+msgType)
		span.SetTag("rpc.id", msgID)
		span.SetTag("conn", conn.id)
	}
	timer := monitoring.NewTimer(h.metrics, msgType)

	var rawData []byte
	if raw.Exists() {
		rawData = []byte(raw.Raw)
	}
	result, err := h.call(ctx, conn, msgType, rawData)

	status := "ok"
	if err != nil {
		status = string(types.KindOf(err))
		if errors.Is(err, types.ErrNeedPermission) {
			h.hub.Log(conn.id, err.Error())
		}
	}
	timer.Stop(status)
	if span != nil {
		if err != nil {
			span.SetError(err)
		}
		span.Finish()
		h.tracer.Submit(span)
	}

	if msgID == "" {
		return
	}
	reply := types.Frame{ID: msgID, Type: types.MsgReply, OK: err == nil}
	if err != nil {
		reply.Error = types.ToWire(err)
	} else if result != nil {
		encoded, merr := wire.Marshal(result)
		if merr != nil {
			reply.OK = false
			reply.Error = types.ToWire(fmt.Errorf("%w: encode reply: %v", types.ErrInternal, merr))
		} else {
			reply.Data = encoded
		}
	}
	if err := conn.WriteFrame(reply); err != nil {
		h.logger.Debug("reply not delivered", zap.String("conn", conn.id), zap.String("type", msgType), zap.Error(err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWSMessage("out", types.MsgReply)
	}
}

func (h *Handler) call(ctx context.Context, conn *Conn, msgType string, data []byte) (any, error) {
	switch msgType {
	case types.MsgPing:
		return h.broker.Ping(), nil

	case types.MsgGetAllowedInfo:
		var p types.OriginPayload
		if err := h.decodeOrigin(conn, data, &p, &p.Origin); err != nil {
			return nil, err
		}
		return h.broker.GetAllowedInfo(ctx, p.Origin)

	case types.MsgRequestHosts:
		var p types.HostsPayload
		if err := h.decodeOrigin(conn, data, &p, &p.Origin); err != nil {
			return nil, err
		}
		return nil, h.broker.RequestHosts(ctx, p.Origin, p.Hosts, conn.id)

	case types.MsgAcceptRequestHosts:
		var p types.HostsPayload
		if err := h.decodeOrigin(conn, data, &p, &p.Origin); err != nil {
			return nil, err
		}
		return nil, h.broker.AcceptRequestHosts(ctx, p.Origin, p.Hosts)

	case types.MsgRejectRequestHosts:
		var p types.HostsPayload
		if err := h.decodeOrigin(conn, data, &p, &p.Origin); err != nil {
			return nil, err
		}
		return nil, h.broker.RejectRequestHosts(ctx, p.Origin, p.Hosts)

	case types.MsgRequestAllHosts, types.MsgDelete, types.MsgGetAllRules:
		// Rule administration belongs to the broker UI.
		return nil, fmt.Errorf("%w: %s is not available to callers", types.ErrInvalidRequest, msgType)

	case types.MsgRequest:
		var p broker.ForwardPayload
		if err := h.decodeOrigin(conn, data, &p, &p.Origin); err != nil {
			return nil, err
		}
		return h.broker.Forward(ctx, p.Origin, p.Request)

	case types.MsgGetResponseChunk:
		var p types.ChunkPayload
		if err := payload.Decode(data, &p); err != nil {
			return nil, err
		}
		return h.broker.GetResponseChunk(ctx, p.ID, p.Index)

	default:
		return nil, fmt.Errorf("%w: unknown message type %q", types.ErrInvalidRequest, msgType)
	}
}

// decodeOrigin decodes v, defaulting the payload origin to the
// connection's and rejecting any other origin.
func (h *Handler) decodeOrigin(conn *Conn, data []byte, v any, origin *string) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := wire.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", types.ErrInvalidRequest, err)
	}
	if *origin == "" {
		*origin = conn.origin
	}
	if err := payload.Validate(v); err != nil {
		return err
	}
	normalized, err := permission.NormalizeOrigin(*origin)
	if err != nil {
		return err
	}
	if normalized != conn.origin {
		return fmt.Errorf("%w: origin %s does not match connection origin %s",
			types.ErrInvalidRequest, normalized, conn.origin)
	}
	*origin = normalized
	return nil
}
