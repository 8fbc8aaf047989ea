// Package client performs the broker's upstream HTTP requests.
//
// Built on go-resty/resty over a pooled go-retryablehttp transport:
//   - redirects are followed up to a configured limit
//   - a token bucket limits the outgoing request rate
//   - a circuit breaker sheds load when upstreams keep failing at the network level
//   - gzip, deflate and zstd bodies are decoded before capture
//
// Failed upstream calls are never retried: the caller decides.
//
// Example Usage:
//
//	c := client.New(client.Options{Timeout: time.Minute})
//	resp, err := c.Exchange(ctx, req)
package client
