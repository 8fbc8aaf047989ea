// Package ws serves the broker's message channel over WebSocket.
//
// A caller connects to /stream?origin=<origin>; the origin is bound to the
// connection and every payload origin must match it. Each incoming frame is
// handled on its own goroutine, so a slow forwarded request does not hold
// up pings or chunk reads on the same connection. Writes are serialized per
// connection.
//
// Frames (Client → Server):
//
//	{"id": "msg_...", "type": "<call>", "data": {...}}
//
// Frames (Server → Client):
//   - reply: {"id", "type": "reply", "ok", "data", "error": {"kind", "message"}}
//   - accept / reject: consent decided for the connection's origin
//   - log: a diagnostic line for the caller's console
//
// Example Usage:
//
//	hub := ws.NewHub(metrics, logger)
//	handler := ws.NewHandler(service, hub, tracer, metrics, logger)
//	router.GET("/stream", handler.HandleConnection)
package ws
