package datasync

import "time"

// DefaultTTL is how long a successful fetch stays valid.
const DefaultTTL = 30 * time.Minute

// IsFresh reports whether lastFetch happened within ttl of now. A missing
// timestamp, the zero time and the Unix epoch all count as never fetched.
func IsFresh(lastFetch *time.Time, now time.Time, ttl time.Duration) bool {
	if lastFetch == nil || lastFetch.IsZero() || lastFetch.Unix() == 0 {
		return false
	}
	return !now.Add(-ttl).After(*lastFetch)
}

// FreshnessPolicy binds a TTL and a clock to IsFresh.
type FreshnessPolicy struct {
	TTL time.Duration
	Now func() time.Time
}

// NewFreshnessPolicy returns a policy using the wall clock. A non-positive
// ttl falls back to DefaultTTL.
func NewFreshnessPolicy(ttl time.Duration) FreshnessPolicy {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return FreshnessPolicy{TTL: ttl, Now: time.Now}
}

// StillValid reports whether lastFetch is fresh at the policy's current time.
func (p FreshnessPolicy) StillValid(lastFetch *time.Time) bool {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return IsFresh(lastFetch, now(), ttl)
}
