package types

import "encoding/json"

// Call types accepted by the broker.
const (
	MsgPing               = "ping"
	MsgGetAllowedInfo     = "getAllowedInfo"
	MsgRequestHosts       = "requestHosts"
	MsgAcceptRequestHosts = "acceptRequestHosts"
	MsgRejectRequestHosts = "rejectRequestHosts"
	MsgRequestAllHosts    = "requestAllHosts"
	MsgDelete             = "delete"
	MsgGetAllRules        = "getAllRules"
	MsgRequest            = "request"
	MsgGetResponseChunk   = "getResponseChunk"
)

// Frame types sent by the broker.
const (
	MsgReply   = "reply"
	PushAccept = "accept"
	PushReject = "reject"
	PushLog    = "log"
)

// Frame is the envelope of every WebSocket message. Calls carry ID, Type
// and Data; replies echo the ID with Type "reply"; pushes have no ID.
type Frame struct {
	ID    string          `json:"id,omitempty"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error *WireError      `json:"error,omitempty"`
}

// IsReply reports whether the frame answers a call.
func (f *Frame) IsReply() bool {
	return f.Type == MsgReply && f.ID != ""
}

// OriginPayload addresses a single origin.
type OriginPayload struct {
	Origin string `json:"origin" validate:"required,url"`
}

// HostsPayload addresses a set of target hosts for an origin.
type HostsPayload struct {
	Origin string   `json:"origin" validate:"required,url"`
	Hosts  []string `json:"hosts" validate:"required,min=1,dive,required,hostname_rfc1123"`
}

// ChunkPayload reads one chunk of a multi-part reply.
type ChunkPayload struct {
	ID    string `json:"id" validate:"required"`
	Index int    `json:"index" validate:"gte=0"`
}

// SignalPayload is the data of an accept, reject or log push.
type SignalPayload struct {
	Origin  string `json:"origin,omitempty"`
	Message string `json:"message,omitempty"`
}

// AllowedInfo summarizes what an origin may reach.
type AllowedInfo struct {
	Enabled bool     `json:"enabled"`
	Type    string   `json:"type"`
	Hosts   []string `json:"hosts"`
}

// Scope names used by AllowedInfo.Type.
const (
	ScopeAll      = "all"
	ScopeSpecific = "specific"
)
