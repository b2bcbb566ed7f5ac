// Package resilience guards remote resource fetches with per-host circuit
// breakers.
//
// A host that keeps failing (DNS errors, 5xx, timeouts) trips its breaker and
// further fetches fail fast with ErrCircuitOpen until the open timeout elapses.
// One probe is then let through (half-open); its outcome closes or re-opens
// the circuit. Errors that say nothing about host health (a 404 for one jar,
// a cancelled context) can be excluded with Settings.IsSuccessful.
//
//	group := resilience.NewGroup(resilience.Settings{Timeout: 30 * time.Second})
//	path, err := resilience.Do(group.For("jars.example.com"), func() (string, error) {
//		return fetch(ctx, u)
//	})
package resilience
