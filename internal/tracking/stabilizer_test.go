package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 7, 55, 0, 0, time.UTC)

func TestCurrentDetectionsTakePrecedence(t *testing.T) {
	s := NewStabilizer(4, 2500*time.Millisecond)

	s.Update(t0, []Detection{{Box: [4]float32{0, 0, 10, 10}, IdentityID: 1, Name: "Ana"}})
	out := s.Update(t0.Add(100*time.Millisecond), []Detection{{Box: [4]float32{50, 50, 60, 60}, IdentityID: 2, Name: "Luis"}})

	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].IdentityID)
	assert.False(t, out[0].Held)
}

func TestHeldAverageWhenFrameIsEmpty(t *testing.T) {
	s := NewStabilizer(4, 2500*time.Millisecond)

	s.Update(t0, []Detection{{Box: [4]float32{0, 0, 10, 10}, IdentityID: 1, Name: "Ana", Score: 0.8}})
	s.Update(t0.Add(100*time.Millisecond), []Detection{{Box: [4]float32{2, 2, 12, 12}, IdentityID: 1, Name: "Ana", Score: 0.6}})

	out := s.Update(t0.Add(200*time.Millisecond), nil)
	require.Len(t, out, 1)
	assert.True(t, out[0].Held)
	assert.Equal(t, [4]float32{1, 1, 11, 11}, out[0].Box)
	assert.InDelta(t, 0.7, out[0].Score, 1e-9)
	assert.Equal(t, "Ana", out[0].Name)
	assert.Equal(t, out, s.Tracks())
}

func TestHistoryEvictedAfterWindow(t *testing.T) {
	s := NewStabilizer(4, 2500*time.Millisecond)
	s.Update(t0, []Detection{{Box: [4]float32{0, 0, 10, 10}, IdentityID: 1}})

	assert.Len(t, s.Update(t0.Add(2500*time.Millisecond), nil), 1)
	assert.Empty(t, s.Update(t0.Add(2501*time.Millisecond), nil))
}

func TestHistoryBoundedToSize(t *testing.T) {
	s := NewStabilizer(3, time.Minute)
	for i := 0; i < 10; i++ {
		x := float32(i * 10)
		s.Update(t0.Add(time.Duration(i)*time.Millisecond), []Detection{{Box: [4]float32{x, 0, x + 10, 10}, IdentityID: 1}})
	}
	assert.Len(t, s.history[1], 3)

	out := s.Update(t0.Add(time.Second), nil)
	require.Len(t, out, 1)
	assert.Equal(t, float32(80), out[0].Box[0], "average of the last three boxes")
}

func TestUnresolvedNeverEntersHistory(t *testing.T) {
	s := NewStabilizer(4, time.Minute)
	out := s.Update(t0, []Detection{{Box: [4]float32{0, 0, 10, 10}}})
	require.Len(t, out, 1)
	assert.Zero(t, out[0].IdentityID)
	assert.Empty(t, s.history)
	assert.Empty(t, s.Update(t0.Add(time.Millisecond), nil))
}

func TestUnresolvedInheritsOverlappingLabel(t *testing.T) {
	s := NewStabilizer(4, time.Minute)
	s.Update(t0, []Detection{{Box: [4]float32{0, 0, 10, 10}, IdentityID: 5, Name: "Ana"}})

	out := s.Update(t0.Add(time.Millisecond), []Detection{
		{Box: [4]float32{1, 1, 11, 11}},
		{Box: [4]float32{100, 100, 110, 110}},
	})
	require.Len(t, out, 2)
	assert.Equal(t, int64(5), out[0].IdentityID)
	assert.True(t, out[0].Held)
	assert.Zero(t, out[1].IdentityID)
	assert.False(t, out[1].Held)
	assert.Len(t, s.history[5], 1, "a held label does not extend history")
}

func TestReset(t *testing.T) {
	s := NewStabilizer(0, 0)
	s.Update(t0, []Detection{{Box: [4]float32{0, 0, 10, 10}, IdentityID: 1}})
	s.Reset()
	assert.Empty(t, s.Tracks())
	assert.Empty(t, s.Update(t0, nil))
}

func TestIoU(t *testing.T) {
	assert.InDelta(t, 1.0, iou([4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}), 1e-6)
	assert.InDelta(t, 0.0, iou([4]float32{0, 0, 10, 10}, [4]float32{20, 20, 30, 30}), 1e-6)
	assert.InDelta(t, 25.0/175.0, iou([4]float32{0, 0, 10, 10}, [4]float32{5, 5, 15, 15}), 1e-6)
}
