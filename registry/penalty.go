package registry

import "time"

// DefaultGracePeriod is how long a vehicle may stay in an active status before a transfer is penalized.
const DefaultGracePeriod = 300 * time.Second

// PenaltyCalculator computes the timestamp adjustment applied when an active vehicle is re-registered
// at another station after overstaying the grace period.
type PenaltyCalculator struct {
	Grace time.Duration
	Now   func() time.Time
}

// Penalty returns the overstay beyond the grace period, in whole seconds.
// Only time spent in an active status (normal, flagged) is penalized.
func (c PenaltyCalculator) Penalty(prior time.Time, status Status) time.Duration {
	if !status.Active() {
		return 0
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	elapsed := now().Sub(prior).Truncate(time.Second)
	if elapsed <= c.Grace {
		return 0
	}
	return elapsed - c.Grace
}

// Adjust moves prior forward by the penalty, so later elapsed-time readings treat the vehicle as
// re-parked that much later than it really was.
func (c PenaltyCalculator) Adjust(prior time.Time, status Status) time.Time {
	return prior.Add(c.Penalty(prior, status))
}
