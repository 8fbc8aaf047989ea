package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GriffinCanCode/corsbroker/internal/domain/filter"
	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"github.com/GriffinCanCode/corsbroker/internal/domain/wire"
	"github.com/GriffinCanCode/corsbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// ForwardPayload is the data of a request call.
type ForwardPayload struct {
	Origin  string                  `json:"origin" validate:"required,url"`
	Request *wire.SerializedRequest `json:"request" validate:"required"`
}

// MultiPart announces a reply stored in the chunk store.
type MultiPart struct {
	MultiPart  bool            `json:"multiPart"`
	ID         string          `json:"id"`
	ChunkCount int             `json:"chunkCount"`
	Meta       json.RawMessage `json:"meta"`
}

// ForwardReply is either an inline response or a multi-part announcement.
type ForwardReply struct {
	Response  *wire.SerializedResponse
	MultiPart *MultiPart
}

func (r ForwardReply) MarshalJSON() ([]byte, error) {
	if r.MultiPart != nil {
		return wire.Marshal(r.MultiPart)
	}
	return wire.Marshal(r.Response)
}

// Forward performs sr on behalf of origin. It fails with
// types.ErrNeedPermission unless origin's rule permits the target host.
func (s *Service) Forward(ctx context.Context, origin string, sr *wire.SerializedRequest) (*ForwardReply, error) {
	if sr == nil {
		return nil, fmt.Errorf("%w: missing request", types.ErrInvalidRequest)
	}
	origin, err := permission.NormalizeOrigin(origin)
	if err != nil {
		return nil, err
	}
	host, err := permission.TargetHost(sr.URL)
	if err != nil {
		return nil, err
	}

	rule, err := s.store.FindByOrigin(ctx, origin)
	if err != nil {
		return nil, err
	}
	if !rule.Permits(host) {
		s.metrics.RecordForward(monitoring.OutcomeDenied)
		s.logger.Info("request denied", zap.String("origin", origin), zap.String("host", host))
		return nil, fmt.Errorf("%w: %s may not reach %s", types.ErrNeedPermission, origin, host)
	}

	start := time.Now()
	ctx = filter.WithInitiator(ctx, origin)
	req, err := wire.DecodeRequest(ctx, sr)
	if err != nil {
		s.metrics.RecordForward(monitoring.OutcomeFailed)
		return nil, err
	}
	req.Header.Del("Origin")
	req.Header.Del("Referer")

	resp, err := s.upstream.Exchange(ctx, req)
	if err != nil {
		s.metrics.RecordForward(monitoring.OutcomeFailed)
		s.logger.Warn("upstream request failed",
			zap.String("origin", origin),
			zap.String("host", host),
			zap.Error(err))
		return nil, err
	}
	resp.Body = wire.Flatten(resp.Body)

	fields := []zap.Field{
		zap.String("origin", origin),
		zap.String("method", req.Method),
		zap.String("host", host),
		zap.Int("status", resp.Status),
		zap.Duration("duration", time.Since(start)),
	}

	reply, err := s.pack(resp)
	if err != nil {
		s.metrics.RecordForward(monitoring.OutcomeFailed)
		return nil, err
	}
	if reply.MultiPart != nil {
		s.metrics.RecordForward(monitoring.OutcomeChunked)
		fields = append(fields, zap.String("chunks", reply.MultiPart.ID), zap.Int("count", reply.MultiPart.ChunkCount))
	} else {
		s.metrics.RecordForward(monitoring.OutcomeAllowed)
	}
	s.logger.Info("request forwarded", fields...)
	return reply, nil
}

// pack inlines small responses and moves large bodies to the chunk
// store, leaving the response with a null body value as meta.
func (s *Service) pack(resp *wire.SerializedResponse) (*ForwardReply, error) {
	if resp.Body == nil {
		return &ForwardReply{Response: resp}, nil
	}
	value, err := wire.ValueString(resp.Body)
	if err != nil {
		return nil, err
	}
	if !s.chunks.ShouldChunk(wire.Length(value)) {
		return &ForwardReply{Response: resp}, nil
	}

	head := *resp
	head.Body = wire.WithoutValue(resp.Body)
	meta, err := wire.Marshal(head)
	if err != nil {
		return nil, err
	}
	meta, err = sjson.SetBytes(meta, "body.value", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}

	id, count := s.chunks.Store(value)
	return &ForwardReply{MultiPart: &MultiPart{
		MultiPart:  true,
		ID:         id,
		ChunkCount: count,
		Meta:       meta,
	}}, nil
}
