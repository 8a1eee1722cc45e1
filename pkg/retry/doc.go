// Package retry provides exponential backoff with jitter for transient failures.
//
// # Overview
//
// Two usage styles are supported. Do runs a function with a full retry
// loop; Delay and Wait expose the backoff arithmetic for callers that
// manage their own attempt counting, like the connection manager's
// reconnection loop.
//
// # Usage
//
// Full retry loop:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Connect()
//	})
//
// Externally driven attempts:
//
//	cfg := retry.Config{BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, JitterFraction: 0.1}
//	for attempt := 0; attempt < maxAttempts; attempt++ {
//	    if err := retry.Wait(ctx, cfg.Delay(attempt)); err != nil {
//	        return err // cancelled
//	    }
//	    if tryReconnect() == nil {
//	        break
//	    }
//	}
//
// # Design Philosophy
//
// Intentionally minimal: exponential backoff with symmetric jitter and
// context cancellation. No circuit breakers, no metrics, no error
// classification - callers decide what is retryable, optionally marking
// errors with NonRetryable.
package retry
