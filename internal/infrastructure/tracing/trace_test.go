package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedTracer(t *testing.T) (*Tracer, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := New("broker", zap.New(core))
	t.Cleanup(tracer.Close)
	return tracer, logs
}

func TestChildSpanSharesTrace(t *testing.T) {
	tracer, _ := newObservedTracer(t)

	parent, ctx := tracer.StartSpan(context.Background(), "rpc.request")
	child, _ := tracer.StartSpan(ctx, "upstream")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.NotEqual(t, parent.SpanID, child.SpanID)
}

func TestSubmitLogsSpan(t *testing.T) {
	tracer, logs := newObservedTracer(t)

	span, _ := tracer.StartSpan(context.Background(), "rpc.request")
	span.SetTag("origin", "https://a.example")
	span.SetError(errors.New("need permission"))
	span.Finish()
	tracer.Submit(span)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("span completed with error").Len() == 1
	}, time.Second, 5*time.Millisecond)

	entry := logs.FilterMessage("span completed with error").All()[0]
	assert.Equal(t, "rpc.request", entry.ContextMap()["operation"])
	assert.Equal(t, "https://a.example", entry.ContextMap()["tag.origin"])
}

func TestHTTPMiddlewarePropagatesHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, _ := newObservedTracer(t)

	router := gin.New()
	router.Use(HTTPMiddleware(tracer))

	var seen string
	router.GET("/rules", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context()).String()
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/rules", nil)
	req.Header.Set(HeaderTraceID, "trace_01HZY8X7JQ4V6W2N3P5R7T9V1X")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "trace_01HZY8X7JQ4V6W2N3P5R7T9V1X", seen)
	assert.Equal(t, "trace_01HZY8X7JQ4V6W2N3P5R7T9V1X", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))
}

func TestSubmitAfterCloseIsDropped(t *testing.T) {
	tracer, logs := newObservedTracer(t)
	tracer.Close()

	span, _ := tracer.StartSpan(context.Background(), "late")
	span.Finish()
	tracer.Submit(span)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, logs.Len())
}
