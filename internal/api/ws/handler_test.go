package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/corsbroker/internal/domain/broker"
	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"github.com/GriffinCanCode/corsbroker/internal/domain/wire"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBroker struct {
	mu       sync.Mutex
	accepted map[string][]string
	requests []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{accepted: make(map[string][]string)}
}

func (f *fakeBroker) Ping() string { return "pong" }

func (f *fakeBroker) GetAllowedInfo(_ context.Context, origin string) (types.AllowedInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hosts, ok := f.accepted[origin]
	if !ok {
		return types.AllowedInfo{Type: types.ScopeSpecific, Hosts: []string{}}, nil
	}
	return types.AllowedInfo{Enabled: true, Type: types.ScopeSpecific, Hosts: hosts}, nil
}

func (f *fakeBroker) RequestHosts(_ context.Context, origin string, _ []string, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, origin+"|"+connID)
	return nil
}

func (f *fakeBroker) AcceptRequestHosts(_ context.Context, origin string, hosts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted[origin] = append(f.accepted[origin], hosts...)
	return nil
}

func (f *fakeBroker) RejectRequestHosts(context.Context, string, []string) error { return nil }

func (f *fakeBroker) Forward(_ context.Context, origin string, sr *wire.SerializedRequest) (*broker.ForwardReply, error) {
	host, err := permission.TargetHost(sr.URL)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	hosts := f.accepted[origin]
	f.mu.Unlock()
	for _, h := range hosts {
		if h == host {
			return &broker.ForwardReply{Response: &wire.SerializedResponse{
				URL:        sr.URL,
				Status:     200,
				StatusText: "OK",
				Headers:    map[string]string{"content-type": "text/plain"},
				Body:       wire.Text{Value: "hello"},
			}}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s may not reach %s", types.ErrNeedPermission, origin, host)
}

func (f *fakeBroker) GetResponseChunk(_ context.Context, id string, index int) (string, error) {
	if id != "set" {
		return "", fmt.Errorf("chunk %s: %w", id, types.ErrNotFound)
	}
	return fmt.Sprintf("chunk-%d", index), nil
}

type wsHarness struct {
	broker  *fakeBroker
	hub     *Hub
	metrics *monitoring.Metrics
	srv     *httptest.Server
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &wsHarness{broker: newFakeBroker(), metrics: monitoring.NewMetricsWith(prometheus.NewRegistry())}
	h.hub = NewHub(h.metrics, nil)
	handler := NewHandler(h.broker, h.hub, nil, h.metrics, nil)

	router := gin.New()
	router.GET("/ws", handler.HandleConnection)
	h.srv = httptest.NewServer(router)
	t.Cleanup(func() {
		h.hub.Close()
		h.srv.Close()
	})
	return h
}

func (h *wsHarness) dial(t *testing.T, origin string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws?origin=" + url.QueryEscape(origin)
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return h.hub.Len() > 0 }, time.Second, 10*time.Millisecond)
	return conn
}

func call(t *testing.T, conn *websocket.Conn, id, msgType string, data any) {
	t.Helper()
	frame := types.Frame{ID: id, Type: msgType}
	if data != nil {
		raw, err := wire.Marshal(data)
		require.NoError(t, err)
		frame.Data = raw
	}
	raw, err := wire.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func read(t *testing.T, conn *websocket.Conn) types.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f types.Frame
	require.NoError(t, wire.Unmarshal(raw, &f))
	return f
}

func readReply(t *testing.T, conn *websocket.Conn, id string) (types.Frame, []types.Frame) {
	t.Helper()
	var pushes []types.Frame
	for {
		f := read(t, conn)
		if f.IsReply() && f.ID == id {
			return f, pushes
		}
		pushes = append(pushes, f)
	}
}

func TestMissingOriginRejected(t *testing.T) {
	h := newWSHarness(t)

	resp, err := http.Get(h.srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPing(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "https://app.test")

	call(t, conn, "1", types.MsgPing, nil)
	reply, _ := readReply(t, conn, "1")

	assert.True(t, reply.OK)
	assert.JSONEq(t, `"pong"`, string(reply.Data))
}

func TestOriginDefaultsToConnection(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "https://App.test")

	call(t, conn, "1", types.MsgAcceptRequestHosts, map[string]any{"hosts": []string{"api.test"}})
	reply, _ := readReply(t, conn, "1")
	require.True(t, reply.OK, "error: %v", reply.Error)

	call(t, conn, "2", types.MsgGetAllowedInfo, nil)
	reply, _ = readReply(t, conn, "2")
	require.True(t, reply.OK)

	var info types.AllowedInfo
	require.NoError(t, wire.Unmarshal(reply.Data, &info))
	assert.True(t, info.Enabled)
	assert.Equal(t, []string{"api.test"}, info.Hosts)
}

func TestForeignOriginRejected(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "https://app.test")

	call(t, conn, "1", types.MsgRejectRequestHosts, types.HostsPayload{Origin: "https://other.test", Hosts: []string{"api.test"}})
	reply, _ := readReply(t, conn, "1")

	assert.False(t, reply.OK)
	require.NotNil(t, reply.Error)
	assert.Equal(t, types.KindInvalidRequest, reply.Error.Kind)
}

func TestRuleAdministrationRefused(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "https://app.test")

	calls := map[string]any{
		types.MsgRequestAllHosts: types.OriginPayload{Origin: "https://app.test"},
		types.MsgDelete:          types.OriginPayload{Origin: "https://app.test"},
		types.MsgGetAllRules:     nil,
	}
	for msgType, data := range calls {
		call(t, conn, msgType, msgType, data)
		reply, _ := readReply(t, conn, msgType)
		assert.False(t, reply.OK, msgType)
		require.NotNil(t, reply.Error, msgType)
		assert.Equal(t, types.KindInvalidRequest, reply.Error.Kind, msgType)
	}

	call(t, conn, "info", types.MsgGetAllowedInfo, nil)
	reply, _ := readReply(t, conn, "info")
	require.True(t, reply.OK)
	var info types.AllowedInfo
	require.NoError(t, wire.Unmarshal(reply.Data, &info))
	assert.False(t, info.Enabled)
}

func TestInvalidPayload(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "https://app.test")

	call(t, conn, "1", types.MsgRequestHosts, map[string]any{"hosts": []string{}})
	reply, _ := readReply(t, conn, "1")

	require.NotNil(t, reply.Error)
	assert.Equal(t, types.KindInvalidRequest, reply.Error.Kind)
}

func TestUnknownType(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "https://app.test")

	call(t, conn, "9", "bogus", nil)
	reply, _ := readReply(t, conn, "9")

	require.NotNil(t, reply.Error)
	assert.Equal(t, types.KindInvalidRequest, reply.Error.Kind)
}

func TestNeedPermissionPushesLog(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "https://app.test")

	req := broker.ForwardPayload{Request: &wire.SerializedRequest{URL: "https://api.test/x", Method: "GET"}}
	call(t, conn, "1", types.MsgRequest, req)
	reply, pushes := readReply(t, conn, "1")

	require.NotNil(t, reply.Error)
	assert.Equal(t, types.KindNeedPermission, reply.Error.Kind)
	require.Len(t, pushes, 1)
	assert.Equal(t, types.PushLog, pushes[0].Type)
}

func TestForwardInline(t *testing.T) {
	h := newWSHarness(t)
	h.broker.accepted["https://app.test"] = []string{"api.test"}
	conn := h.dial(t, "https://app.test")

	req := broker.ForwardPayload{Request: &wire.SerializedRequest{URL: "https://api.test/x", Method: "GET"}}
	call(t, conn, "1", types.MsgRequest, req)
	reply, _ := readReply(t, conn, "1")
	require.True(t, reply.OK, "error: %v", reply.Error)

	var resp wire.SerializedResponse
	require.NoError(t, wire.Unmarshal(reply.Data, &resp))
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, wire.Text{Value: "hello"}, resp.Body)
}

func TestChunkCall(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "https://app.test")

	call(t, conn, "1", types.MsgGetResponseChunk, types.ChunkPayload{ID: "set", Index: 2})
	reply, _ := readReply(t, conn, "1")
	require.True(t, reply.OK)
	assert.JSONEq(t, `"chunk-2"`, string(reply.Data))

	call(t, conn, "2", types.MsgGetResponseChunk, types.ChunkPayload{ID: "gone", Index: 0})
	reply, _ = readReply(t, conn, "2")
	require.NotNil(t, reply.Error)
	assert.Equal(t, types.KindNotFound, reply.Error.Kind)
}

func TestRequestHostsCarriesConnID(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "https://app.test")

	call(t, conn, "1", types.MsgRequestHosts, map[string]any{"hosts": []string{"api.test"}})
	reply, _ := readReply(t, conn, "1")
	require.True(t, reply.OK)

	h.broker.mu.Lock()
	defer h.broker.mu.Unlock()
	require.Len(t, h.broker.requests, 1)
	assert.True(t, strings.HasPrefix(h.broker.requests[0], "https://app.test|"))
}

func TestHubSignals(t *testing.T) {
	h := newWSHarness(t)
	a := h.dial(t, "https://app.test")
	require.Eventually(t, func() bool { return h.hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	b := h.dial(t, "https://other.test")
	require.Eventually(t, func() bool { return h.hub.Len() == 2 }, time.Second, 10*time.Millisecond)

	sent := h.hub.Broadcast("https://app.test", types.PushAccept, types.SignalPayload{Origin: "https://app.test"})
	assert.Equal(t, 1, sent)

	f := read(t, a)
	assert.Equal(t, types.PushAccept, f.Type)
	assert.Empty(t, f.ID)

	assert.False(t, h.hub.Notify("missing", types.PushReject, types.SignalPayload{}))

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return h.hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), h.metrics.Snapshot().ActiveConnections)
}
