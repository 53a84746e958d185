// Package attendance turns resolved identities into persisted, deduplicated,
// punctuality-classified attendance events.
package attendance

import (
	"time"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

// Classify reports tardanza iff the time of day of at is strictly after
// entry time plus tolerance. A nil or zero policy means the default.
func Classify(at time.Time, policy *models.Policy) models.Status {
	p := models.DefaultPolicy
	if policy != nil && (policy.EntryTime != 0 || policy.ToleranceMinutes != 0) {
		p = *policy
	}
	if timeOfDay(at) > p.Cutoff() {
		return models.StatusLate
	}
	return models.StatusPresent
}

// timeOfDay is the wall-clock offset since midnight, independent of DST shifts.
func timeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(t.Nanosecond())
}
