package attendance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

func TestParseScope(t *testing.T) {
	s, err := ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, ScopePerMethod, s)

	s, err = ParseScope("per_day")
	require.NoError(t, err)
	assert.Equal(t, ScopePerDay, s)

	_, err = ParseScope("weekly")
	assert.Error(t, err)
}

func TestGuardPerMethod(t *testing.T) {
	g := NewGuard(ScopePerMethod)
	day := at(8, 0, 0, 0)

	assert.False(t, g.AlreadyCredited(1, models.MethodFace, day))
	g.MarkCredited(1, models.MethodFace, day)
	assert.True(t, g.AlreadyCredited(1, models.MethodFace, at(9, 0, 0, 0)))
	assert.False(t, g.AlreadyCredited(1, models.MethodQR, day))
	assert.False(t, g.AlreadyCredited(2, models.MethodFace, day))
}

func TestGuardPerDay(t *testing.T) {
	g := NewGuard(ScopePerDay)
	day := at(8, 0, 0, 0)

	g.MarkCredited(1, models.MethodQR, day)
	assert.True(t, g.AlreadyCredited(1, models.MethodFace, day))
	assert.True(t, g.AlreadyCredited(1, models.MethodQR, day))
}

func TestGuardDateRollover(t *testing.T) {
	g := NewGuard(ScopePerMethod)
	monday := at(8, 0, 0, 0)
	tuesday := monday.AddDate(0, 0, 1)

	g.MarkCredited(1, models.MethodFace, monday)
	assert.False(t, g.AlreadyCredited(1, models.MethodFace, tuesday))

	g.MarkCredited(2, models.MethodFace, tuesday)
	assert.Equal(t, models.DateOf(tuesday), g.Date())
	assert.Equal(t, 1, g.Len())
	assert.False(t, g.AlreadyCredited(1, models.MethodFace, monday), "previous day discarded")
}

func TestGuardReset(t *testing.T) {
	g := NewGuard(ScopePerMethod)
	day := at(10, 0, 0, 0)
	g.MarkCredited(9, models.MethodQR, day)

	g.Reset(day, []models.AttendanceEvent{
		{IdentityID: 1, Method: models.MethodFace},
		{IdentityID: 2, Method: models.MethodQR},
	})
	assert.True(t, g.AlreadyCredited(1, models.MethodFace, day))
	assert.True(t, g.AlreadyCredited(2, models.MethodQR, day))
	assert.False(t, g.AlreadyCredited(9, models.MethodQR, day))
}

func TestGuardConcurrentAccess(t *testing.T) {
	g := NewGuard(ScopePerMethod)
	day := at(8, 0, 0, 0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			g.MarkCredited(id, models.MethodFace, day)
			_ = g.AlreadyCredited(id, models.MethodQR, day)
		}(int64(i + 1))
	}
	wg.Wait()
	assert.Equal(t, 50, g.Len())
}
