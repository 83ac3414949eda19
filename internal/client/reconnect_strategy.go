package client

import "time"

// DefaultReconnectDelay is the pause between reconnection attempts
const DefaultReconnectDelay = 5 * time.Second

// ReconnectStrategy defines the reconnection behavior.
// Attempts continue until the connection is explicitly closed; the delay does not grow.
type ReconnectStrategy struct {
	Delay time.Duration
}

// DefaultReconnectStrategy returns the default reconnection strategy
func DefaultReconnectStrategy() *ReconnectStrategy {
	return &ReconnectStrategy{Delay: DefaultReconnectDelay}
}

// NextDelay returns the delay before the given retry attempt
func (rs *ReconnectStrategy) NextDelay(attemptCount int) time.Duration {
	if rs == nil || rs.Delay <= 0 {
		return DefaultReconnectDelay
	}
	return rs.Delay
}

// ShouldRetry determines if another retry attempt should be made
func (rs *ReconnectStrategy) ShouldRetry(attemptCount int) bool {
	return true
}
