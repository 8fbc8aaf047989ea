// Package types provides the data structures shared by both ends of the
// broker message channel.
//
// Core Types:
//   - Frame: WebSocket envelope for calls, replies and pushes
//   - OriginPayload, HostsPayload, ChunkPayload: call arguments
//   - AllowedInfo: permission summary for an origin
//
// Error Taxonomy:
//   - ErrorKind: wire name of a failure class
//   - WireError: an error received from the other end; unwraps to the
//     matching sentinel so errors.Is works across the channel
//
// Example Usage:
//
//	if errors.Is(err, types.ErrNeedPermission) {
//	    // ask the user, then retry once
//	}
package types
