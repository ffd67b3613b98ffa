package signaling

import "time"

// ReconnectPolicy bounds automatic reconnects after transport loss.
type ReconnectPolicy struct {
	// MaxAttempts of zero disables reconnecting; negative means unbounded.
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 10,
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
	}
}

func (p ReconnectPolicy) Allows(attempt int) bool {
	return p.MaxAttempts < 0 || attempt <= p.MaxAttempts
}

// Backoff is the wait before the given 1-based attempt.
func (p ReconnectPolicy) Backoff(attempt int) time.Duration {
	d := p.Initial
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
