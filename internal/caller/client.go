package caller

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/GriffinCanCode/corsbroker/internal/domain/consent"
	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"github.com/GriffinCanCode/corsbroker/internal/domain/wire"
	"github.com/GriffinCanCode/corsbroker/internal/shared/id"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultReplyTimeout = 90 * time.Second
	writeWait           = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	// URL is the broker's WebSocket endpoint.
	URL    string
	Origin string
	// ReplyTimeout bounds the wait for every reply.
	ReplyTimeout time.Duration
	// PromptTimeout rejects an unanswered consent prompt; zero waits.
	PromptTimeout time.Duration
	// Confirmer, when set, asks the user directly instead of opening a
	// prompt on the broker.
	Confirmer consent.Confirmer
	Dialer    *websocket.Dialer
	Logger    *zap.Logger
}

// Client is one caller connection to the broker.
type Client struct {
	origin       string
	replyTimeout time.Duration
	ws           *websocket.Conn
	consent      *consent.Coordinator
	logger       *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan types.Frame
	closed  bool
	done    chan struct{}
}

// Dial connects to the broker and starts reading.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	origin, err := permission.NormalizeOrigin(opts.Origin)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: broker url: %v", types.ErrInvalidRequest, err)
	}
	q := u.Query()
	q.Set("origin", origin)
	u.RawQuery = q.Encode()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", types.ErrClosed, opts.URL, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	replyTimeout := opts.ReplyTimeout
	if replyTimeout <= 0 {
		replyTimeout = DefaultReplyTimeout
	}

	c := &Client{
		origin:       origin,
		replyTimeout: replyTimeout,
		ws:           ws,
		logger:       logger.With(zap.String("origin", origin)),
		pending:      make(map[string]chan types.Frame),
		done:         make(chan struct{}),
	}
	c.consent = consent.New(consent.Options{
		Dispatcher:    dispatcher{c},
		Confirmer:     opts.Confirmer,
		Acceptor:      acceptor{c},
		PromptTimeout: opts.PromptTimeout,
		Logger:        c.logger,
	})

	go c.readLoop()
	return c, nil
}

// Origin returns the normalized origin the client speaks for.
func (c *Client) Origin() string { return c.origin }

// Consent exposes the client's consent coordinator.
func (c *Client) Consent() *consent.Coordinator { return c.consent }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Call sends one call and decodes the reply data into out, which may be nil.
// Failed replies come back as errors matching their kind's sentinel.
func (c *Client) Call(ctx context.Context, msgType string, data, out any) error {
	frame := types.Frame{ID: id.NewMessageID().String(), Type: msgType}
	if data != nil {
		raw, err := wire.Marshal(data)
		if err != nil {
			return fmt.Errorf("%w: encode %s: %v", types.ErrInvalidRequest, msgType, err)
		}
		frame.Data = raw
	}

	ch := make(chan types.Frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", msgType, types.ErrClosed)
	}
	c.pending[frame.ID] = ch
	c.mu.Unlock()
	defer c.forget(frame.ID)

	if err := c.write(frame); err != nil {
		return fmt.Errorf("%s: %w: %v", msgType, types.ErrClosed, err)
	}

	timer := time.NewTimer(c.replyTimeout)
	defer timer.Stop()

	select {
	case reply := <-ch:
		if !reply.OK {
			if reply.Error == nil {
				return fmt.Errorf("%s: %w", msgType, types.ErrInternal)
			}
			return types.FromWire(reply.Error.Kind, reply.Error.Message)
		}
		if out == nil || len(reply.Data) == 0 {
			return nil
		}
		if err := wire.Unmarshal(reply.Data, out); err != nil {
			return fmt.Errorf("%w: decode %s reply: %v", types.ErrInternal, msgType, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%s after %s: %w", msgType, c.replyTimeout, types.ErrTimeout)
	case <-c.done:
		return fmt.Errorf("%s: %w", msgType, types.ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) forget(msgID string) {
	c.mu.Lock()
	delete(c.pending, msgID)
	c.mu.Unlock()
}

func (c *Client) write(f types.Frame) error {
	data, err := wire.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("broker connection lost", zap.Error(err))
			}
			return
		}

		var f types.Frame
		if err := wire.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		if f.IsReply() {
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			c.mu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}
		c.handlePush(f)
	}
}

func (c *Client) handlePush(f types.Frame) {
	var signal types.SignalPayload
	if len(f.Data) > 0 {
		_ = wire.Unmarshal(f.Data, &signal)
	}
	switch f.Type {
	case types.PushAccept:
		c.consent.Accept()
	case types.PushReject:
		c.consent.Reject()
	case types.PushLog:
		c.logger.Info("broker", zap.String("message", signal.Message))
	default:
		c.logger.Debug("ignoring push", zap.String("type", f.Type))
	}
}

// shutdown fails pending calls and rejects any open prompt.
func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.Close()
	c.consent.Closed()
}

// Close ends the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown()
	return nil
}

type dispatcher struct{ c *Client }

func (d dispatcher) Dispatch(ctx context.Context, hosts []string) error {
	return d.c.RequestHosts(ctx, hosts)
}

type acceptor struct{ c *Client }

func (a acceptor) Accept(ctx context.Context, hosts []string) error {
	return a.c.AcceptRequestHosts(ctx, hosts)
}
