package filter

import (
	"context"
	"net/http"

	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"go.uber.org/zap"
)

type initiatorKey struct{}

// WithInitiator records the origin on whose behalf requests in ctx are sent.
func WithInitiator(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, initiatorKey{}, origin)
}

// Initiator returns the origin stored by WithInitiator.
func Initiator(ctx context.Context) string {
	origin, _ := ctx.Value(initiatorKey{}).(string)
	return origin
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// Transport applies the matching rule's header changes to requests sent
// through next. Requests without an initiator pass through untouched.
func (e *SessionEngine) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		origin := Initiator(req.Context())
		if origin == "" {
			return next.RoundTrip(req)
		}
		rule, ok := e.Match(permission.OriginHostname(origin), req.URL, ResourceXHR)
		if !ok {
			return next.RoundTrip(req)
		}

		out := req.Clone(req.Context())
		for _, op := range rule.Action.RequestHeaders {
			applyRequestOp(out, op)
		}
		e.logger.Debug("filter rule applied",
			zap.Int("rule", rule.ID),
			zap.String("origin", origin),
			zap.String("host", req.URL.Hostname()))

		resp, err := next.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		if resp.Header == nil {
			resp.Header = make(http.Header)
		}
		for _, op := range rule.Action.ResponseHeaders {
			applyHeaderOp(resp.Header, op)
		}
		return resp, nil
	})
}

func applyRequestOp(req *http.Request, op HeaderOp) {
	if op.Operation == OpRemove && http.CanonicalHeaderKey(op.Header) == "Host" {
		req.Host = ""
	}
	applyHeaderOp(req.Header, op)
}

func applyHeaderOp(h http.Header, op HeaderOp) {
	switch op.Operation {
	case OpSet:
		h.Set(op.Header, op.Value)
	case OpRemove:
		h.Del(op.Header)
	}
}
