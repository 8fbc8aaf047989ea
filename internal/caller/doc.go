// Package caller is the untrusted side of the message channel.
//
// A Client dials the broker's WebSocket endpoint on behalf of one origin,
// issues calls with a bounded reply wait and routes accept/reject pushes
// into a consent.Coordinator. Fetch forwards a request through the broker
// and, when the broker answers NeedPermission, asks for consent once and
// retries once. Client also implements http.RoundTripper so an ordinary
// http.Client can send through the broker.
//
// Example Usage:
//
//	c, err := caller.Dial(ctx, caller.Options{URL: "ws://127.0.0.1:8000/stream", Origin: "https://app.example"})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	resp, err := (&http.Client{Transport: c}).Get("https://api.example/data")
package caller
