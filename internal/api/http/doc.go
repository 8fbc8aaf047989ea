// Package http provides the REST surface of the broker.
//
// The endpoints let a person or a tool inspect and change the permission
// store, answer pending permission prompts and read the call schema:
//
//   - Health: / and /health
//   - Rules: GET /rules, DELETE /rules?origin=..., POST /rules/all
//   - Prompts: GET /prompts, POST /prompts/accept, /prompts/reject, /prompts/dismiss
//   - Schema: GET /rpc/schema
//
// Errors are answered as {"error": {"kind": ..., "message": ...}} with a
// status derived from the error kind.
//
// Example Usage:
//
//	handlers := http.NewHandlers(service, hub, metrics)
//	handlers.Register(router)
package http
