package domain

import "time"

// DefaultWindowLead is how far past now an executesAt may lie and still be
// picked up by a run.
const DefaultWindowLead = 10 * time.Minute

// Eligibility holds the criteria deciding whether an instance may be acted on.
// Stores translate the same criteria into a single set-based filter, so Eligible
// and the SQL rendition must stay in lockstep.
type Eligibility struct {
	Now         time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	OnlyByCron  bool
}

// DefaultEligibility returns the criteria used by claim and dispatch:
// window [floor(now, minute), now + 10m] and cron-activated life cycles only.
func DefaultEligibility(now time.Time) Eligibility {
	return WindowedEligibility(now, DefaultWindowLead, true)
}

// WindowedEligibility builds criteria with a custom window lead.
func WindowedEligibility(now time.Time, lead time.Duration, onlyByCron bool) Eligibility {
	now = now.UTC()
	return Eligibility{
		Now:         now,
		WindowStart: now.Truncate(time.Minute),
		WindowEnd:   now.Add(lead),
		OnlyByCron:  onlyByCron,
	}
}

// ArmExecutesAt returns the executesAt for a stage that should run delay
// after now, or nil when delay is not positive. The result is rounded up to
// the next minute so that it never precedes the minute-floored start of a
// later run's window.
func ArmExecutesAt(now time.Time, delay time.Duration) *time.Time {
	if delay <= 0 {
		return nil
	}
	at := now.UTC().Add(delay)
	if floored := at.Truncate(time.Minute); !floored.Equal(at) {
		at = floored.Add(time.Minute)
	}
	return &at
}

// Eligible reports whether inst, governed by lc, may be acted on under e.
func (e Eligibility) Eligible(lc LifeCycle, inst Instance) bool {
	if !lc.Active {
		return false
	}
	if !lc.StartsAt.Before(e.Now) {
		return false
	}
	if lc.EndsAt != nil && !lc.EndsAt.After(e.Now) {
		return false
	}
	if e.OnlyByCron && !lc.ActivateByCron {
		return false
	}
	if inst.ExecutesAt == nil {
		return true
	}
	at := *inst.ExecutesAt
	return !at.Before(e.WindowStart) && !at.After(e.WindowEnd)
}
