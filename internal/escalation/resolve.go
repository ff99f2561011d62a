package escalation

import "time"

const day = 24 * time.Hour

// DaysUntil returns the signed, fractional number of days from now to due.
func DaysUntil(due, now time.Time) float64 {
	return float64(due.Sub(now)) / float64(day)
}

// Resolve picks the active tier of profile for an obligation due at dueAt.
//
// Past due, the tier with the most negative threshold wins (or the last tier
// when the profile has no overdue tier). Otherwise tiers are scanned from most
// to least urgent and the first non-negative threshold that has been crossed
// wins. Nothing crossed yet means the first tier.
//
// The profile must contain at least one tier.
func Resolve(dueAt time.Time, profile Profile, now time.Time) (Tier, int) {
	tiers := profile.Tiers
	days := DaysUntil(dueAt, now)

	if days < 0 {
		idx := -1
		for i, t := range tiers {
			if t.Threshold < 0 && (idx < 0 || t.Threshold < tiers[idx].Threshold) {
				idx = i
			}
		}
		if idx < 0 {
			idx = len(tiers) - 1
		}
		return tiers[idx], idx
	}

	for i := len(tiers) - 1; i >= 0; i-- {
		t := tiers[i]
		if t.Threshold < 0 {
			continue
		}
		if t.Threshold >= days {
			return t, i
		}
	}
	return tiers[0], 0
}

// TriggerAt is the instant a non-negative tier's threshold is crossed.
func (t Tier) TriggerAt(dueAt time.Time) time.Time {
	return dueAt.Add(-time.Duration(t.Threshold * float64(day)))
}

// Every returns the tier interval as a duration.
func (t Tier) Every() time.Duration {
	return time.Duration(t.Interval) * time.Minute
}
