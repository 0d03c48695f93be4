/*
Package resilience provides the circuit breaker guarding outbound calls.

# Overview

Every request to the store node daemon runs through a breaker so a dead
daemon fails fast instead of tying up every gateway request behind
timeouts.

# States

  - Closed: normal operation, requests pass through
  - Open: collaborator unavailable, requests fail immediately with ErrCircuitOpen
  - Half-Open: probing recovery, a bounded number of requests allowed

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open

# Usage

	breaker := resilience.New("node-api", resilience.Settings{
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	result, err := breaker.Execute(func() (interface{}, error) {
		return client.Call()
	})
*/
package resilience
