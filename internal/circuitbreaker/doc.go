// Package circuitbreaker implements the circuit breaker pattern for gateway
// forwarding.
//
// A breaker stops the gateway from hammering a service whose calls keep
// failing. It has three states:
//
//   - CLOSED: Normal operation, requests pass through
//   - OPEN: Service failing, requests rejected without a network call
//   - HALF-OPEN: One trial request decides whether to close again
//
// Usage:
//
//	breakers := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := breakers.Get("task")
//	if cb.Allow() {
//	    // Make request...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
