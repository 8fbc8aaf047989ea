/*
Package resilience provides the circuit breaker that guards upstream calls.

# Overview

A broker that keeps hammering an unreachable host only makes every caller
wait for the full upstream timeout. The breaker fails fast once a host
pool has been failing and probes it again after a cool-down.

# States

- Closed: calls pass through, failures are counted per interval
- Open: calls fail immediately with ErrCircuitOpen
- Half-Open: a limited number of probe calls decide the next state

# Usage

	breaker := resilience.New("upstream", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	resp, err := resilience.Call(breaker, func() (*http.Response, error) {
		return client.Do(req)
	})
*/
package resilience
