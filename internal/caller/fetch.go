package caller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/GriffinCanCode/corsbroker/internal/domain/broker"
	"github.com/GriffinCanCode/corsbroker/internal/domain/consent"
	"github.com/GriffinCanCode/corsbroker/internal/domain/permission"
	"github.com/GriffinCanCode/corsbroker/internal/domain/wire"
	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"
)

// Fetch sends sr through the broker. On NeedPermission it waits for the
// user's decision on the target host and, if accepted, retries once.
func (c *Client) Fetch(ctx context.Context, sr *wire.SerializedRequest) (*wire.SerializedResponse, error) {
	resp, err := c.Forward(ctx, sr)
	if !errors.Is(err, types.ErrNeedPermission) {
		return resp, err
	}

	host, herr := permission.TargetHost(sr.URL)
	if herr != nil {
		return nil, err
	}
	decision, derr := c.consent.Request(ctx, []string{host})
	if derr != nil {
		return nil, derr
	}
	if decision != consent.Accepted {
		c.logger.Info("consent declined", zap.String("host", host))
		return nil, err
	}
	return c.Forward(ctx, sr)
}

// Forward sends one request call, reassembling multi-part replies.
func (c *Client) Forward(ctx context.Context, sr *wire.SerializedRequest) (*wire.SerializedResponse, error) {
	var raw json.RawMessage
	payload := broker.ForwardPayload{Origin: c.origin, Request: sr}
	if err := c.Call(ctx, types.MsgRequest, payload, &raw); err != nil {
		return nil, err
	}

	if gjson.GetBytes(raw, "multiPart").Bool() {
		var mp broker.MultiPart
		if err := wire.Unmarshal(raw, &mp); err != nil {
			return nil, fmt.Errorf("%w: multi-part reply: %v", types.ErrInternal, err)
		}
		full, err := c.reassemble(ctx, &mp)
		if err != nil {
			return nil, err
		}
		raw = full
	}

	var resp wire.SerializedResponse
	if err := wire.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: response: %v", types.ErrInternal, err)
	}
	return &resp, nil
}

// reassemble reads every chunk in order and puts the joined value back
// into the meta response.
func (c *Client) reassemble(ctx context.Context, mp *broker.MultiPart) ([]byte, error) {
	var value strings.Builder
	for i := range mp.ChunkCount {
		chunk, err := c.GetResponseChunk(ctx, mp.ID, i)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d of %s: %w", i+1, mp.ChunkCount, mp.ID, err)
		}
		value.WriteString(chunk)
	}

	kind := wire.Kind(gjson.GetBytes(mp.Meta, "body.type").String())
	var (
		full []byte
		err  error
	)
	if wire.ValueIsJSON(kind) {
		full, err = sjson.SetRawBytes(mp.Meta, "body.value", []byte(value.String()))
	} else {
		full, err = sjson.SetBytes(mp.Meta, "body.value", value.String())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: restore body: %v", types.ErrInternal, err)
	}
	c.logger.Debug("reassembled multi-part reply",
		zap.String("id", mp.ID), zap.Int("chunks", mp.ChunkCount), zap.Int("bytes", value.Len()))
	return full, nil
}

// RoundTrip sends req through the broker with Fetch.
func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	sr, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	sresp, err := c.Fetch(req.Context(), sr)
	if err != nil {
		return nil, err
	}
	resp, err := wire.DecodeResponse(sresp)
	if err != nil {
		return nil, err
	}
	resp.Request = req
	return resp, nil
}
