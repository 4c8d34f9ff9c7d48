package resilience

import "time"

// Allow reports whether the budget has a token available for the source's
// next upstream request, refilling proportionally to elapsed time first.
func (b *AdapterBudget) Allow() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill)

	if elapsed > 0 {
		tokensToAdd := int(elapsed.Seconds() * float64(b.cfg.RequestsPerPeriod) / b.cfg.Period.Seconds())

		if tokensToAdd > 0 {
			b.tokens = min(b.tokens+tokensToAdd, b.cfg.RequestsPerPeriod)
			b.lastRefill = now
		}
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}

	return false
}

// Throttle narrows the remaining token count when the upstream itself
// reports it is close to its own limit (GitHub's X-RateLimit-Remaining
// header, an HTTP 429's quota hint), so the local budget never claims more
// headroom than the upstream actually has left.
func (b *AdapterBudget) Throttle(upstreamRemaining int) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if upstreamRemaining < b.tokens {
		b.tokens = upstreamRemaining
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
