package caller

import (
	"context"

	"github.com/GriffinCanCode/corsbroker/internal/shared/types"
)

func (c *Client) Ping(ctx context.Context) error {
	var pong string
	return c.Call(ctx, types.MsgPing, nil, &pong)
}

// GetAllowedInfo reports what the client's origin may reach.
func (c *Client) GetAllowedInfo(ctx context.Context) (types.AllowedInfo, error) {
	var info types.AllowedInfo
	err := c.Call(ctx, types.MsgGetAllowedInfo, types.OriginPayload{Origin: c.origin}, &info)
	return info, err
}

// RequestHosts opens a consent prompt on the broker. The decision arrives
// later as a push.
func (c *Client) RequestHosts(ctx context.Context, hosts []string) error {
	return c.Call(ctx, types.MsgRequestHosts, types.HostsPayload{Origin: c.origin, Hosts: hosts}, nil)
}

func (c *Client) AcceptRequestHosts(ctx context.Context, hosts []string) error {
	return c.Call(ctx, types.MsgAcceptRequestHosts, types.HostsPayload{Origin: c.origin, Hosts: hosts}, nil)
}

func (c *Client) RejectRequestHosts(ctx context.Context, hosts []string) error {
	return c.Call(ctx, types.MsgRejectRequestHosts, types.HostsPayload{Origin: c.origin, Hosts: hosts}, nil)
}

func (c *Client) GetResponseChunk(ctx context.Context, chunkID string, index int) (string, error) {
	var chunk string
	err := c.Call(ctx, types.MsgGetResponseChunk, types.ChunkPayload{ID: chunkID, Index: index}, &chunk)
	return chunk, err
}
