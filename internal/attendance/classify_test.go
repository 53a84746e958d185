package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

func at(h, m, s, ns int) time.Time {
	return time.Date(2025, 3, 10, h, m, s, ns, time.Local)
}

func TestClassifyDefaultPolicyBoundaries(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want models.Status
	}{
		{name: "early", at: at(7, 30, 0, 0), want: models.StatusPresent},
		{name: "entry time", at: at(8, 0, 0, 0), want: models.StatusPresent},
		{name: "last second", at: at(8, 14, 59, 0), want: models.StatusPresent},
		{name: "boundary instant", at: at(8, 15, 0, 0), want: models.StatusPresent},
		{name: "just past boundary", at: at(8, 15, 0, 1), want: models.StatusLate},
		{name: "one second late", at: at(8, 15, 1, 0), want: models.StatusLate},
		{name: "afternoon", at: at(14, 0, 0, 0), want: models.StatusLate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.at, nil))
			assert.Equal(t, tt.want, Classify(tt.at, &models.Policy{}))
		})
	}
}

func TestClassifyCustomPolicy(t *testing.T) {
	p := &models.Policy{EntryTime: 7*time.Hour + 30*time.Minute, ToleranceMinutes: 0}
	assert.Equal(t, models.StatusPresent, Classify(at(7, 30, 0, 0), p))
	assert.Equal(t, models.StatusLate, Classify(at(7, 30, 1, 0), p))

	p = &models.Policy{EntryTime: 8 * time.Hour, ToleranceMinutes: 45}
	assert.Equal(t, models.StatusPresent, Classify(at(8, 44, 0, 0), p))
}

func TestClassifyUsesWallClock(t *testing.T) {
	lima := time.FixedZone("PET", -5*60*60)
	moment := time.Date(2025, 3, 10, 13, 10, 0, 0, time.UTC) // 08:10 in Lima
	assert.Equal(t, models.StatusPresent, Classify(moment.In(lima), nil))
	assert.Equal(t, models.StatusLate, Classify(moment, nil))
}
