package match

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HJ8A/proyecto-asistencia/internal/gallery"
	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

func snapshot(entries ...models.GalleryEntry) *gallery.Snapshot {
	return gallery.Build(entries, nil, 1, time.Now())
}

func TestNewFaceMatcherValidation(t *testing.T) {
	_, err := NewFaceMatcher(0, MetricEuclidean)
	assert.Error(t, err)
	_, err = NewFaceMatcher(0.6, "hamming")
	assert.Error(t, err)

	m, err := NewFaceMatcher(0.6, "")
	require.NoError(t, err)
	assert.Equal(t, MetricEuclidean, m.metric)
}

func TestFaceMatchNearestWithinThreshold(t *testing.T) {
	m, err := NewFaceMatcher(DefaultAcceptThreshold, MetricEuclidean)
	require.NoError(t, err)

	snap := snapshot(
		models.GalleryEntry{IdentityID: 1, Name: "A", Embedding: []float64{0, 0}},
		models.GalleryEntry{IdentityID: 2, Name: "B", Embedding: []float64{0.75, 0}},
	)

	res := m.Match(snap, []float64{0.2, 0})
	require.True(t, res.Identified)
	assert.Equal(t, int64(1), res.IdentityID)
	assert.Equal(t, "A", res.Name)
	assert.InDelta(t, 0.2, res.Distance, 1e-9)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}

func TestFaceMatchAtThresholdIsUnidentified(t *testing.T) {
	m, err := NewFaceMatcher(0.5, MetricEuclidean)
	require.NoError(t, err)
	snap := snapshot(models.GalleryEntry{IdentityID: 1, Embedding: []float64{0, 0}})

	res := m.Match(snap, []float64{0.5, 0})
	assert.False(t, res.Identified)
	assert.InDelta(t, 0.5, res.Confidence, 1e-12)
}

func TestFaceMatchTieKeepsFirst(t *testing.T) {
	m, err := NewFaceMatcher(DefaultAcceptThreshold, MetricEuclidean)
	require.NoError(t, err)

	snap := snapshot(
		models.GalleryEntry{IdentityID: 7, Embedding: []float64{0.1, 0}},
		models.GalleryEntry{IdentityID: 3, Embedding: []float64{-0.1, 0}},
	)
	res := m.Match(snap, []float64{0, 0})
	require.True(t, res.Identified)
	assert.Equal(t, int64(7), res.IdentityID)
}

func TestFaceMatchMultipleEmbeddingsPerIdentity(t *testing.T) {
	m, err := NewFaceMatcher(DefaultAcceptThreshold, MetricEuclidean)
	require.NoError(t, err)

	snap := snapshot(
		models.GalleryEntry{IdentityID: 1, Embedding: []float64{5, 5}},
		models.GalleryEntry{IdentityID: 2, Embedding: []float64{1, 1}},
		models.GalleryEntry{IdentityID: 1, Embedding: []float64{0, 0.1}},
	)
	res := m.Match(snap, []float64{0, 0})
	require.True(t, res.Identified)
	assert.Equal(t, int64(1), res.IdentityID)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestFaceMatchEmptyAndMismatched(t *testing.T) {
	m, err := NewFaceMatcher(DefaultAcceptThreshold, MetricEuclidean)
	require.NoError(t, err)

	res := m.Match(snapshot(), []float64{0, 0})
	assert.False(t, res.Identified)
	assert.True(t, math.IsInf(res.Distance, 1))
	assert.Zero(t, res.Confidence)

	res = m.Match(snapshot(models.GalleryEntry{IdentityID: 1, Embedding: []float64{0, 0, 0}}), []float64{0, 0})
	assert.False(t, res.Identified)
}

func TestFaceMatchCosine(t *testing.T) {
	m, err := NewFaceMatcher(0.4, MetricCosine)
	require.NoError(t, err)

	snap := snapshot(
		models.GalleryEntry{IdentityID: 1, Embedding: []float64{1, 0}},
		models.GalleryEntry{IdentityID: 2, Embedding: []float64{0, 1}},
	)
	res := m.Match(snap, []float64{0.9, 0.1})
	require.True(t, res.Identified)
	assert.Equal(t, int64(1), res.IdentityID)

	res = m.Match(snap, []float64{-1, -1})
	assert.False(t, res.Identified)
	assert.InDelta(t, 1+math.Cos(math.Pi/4), res.Distance, 1e-9)
}

// For random galleries the matcher must agree with a brute-force scan.
func TestFaceMatchAgreesWithBruteForce(t *testing.T) {
	m, err := NewFaceMatcher(DefaultAcceptThreshold, MetricEuclidean)
	require.NoError(t, err)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		var entries []models.GalleryEntry
		for i := 0; i < 20; i++ {
			entries = append(entries, models.GalleryEntry{
				IdentityID: int64(i + 1),
				Embedding:  []float64{rng.Float64(), rng.Float64(), rng.Float64()},
			})
		}
		query := []float64{rng.Float64() * 1.5, rng.Float64() * 1.5, rng.Float64() * 1.5}

		wantID, wantD := int64(0), math.Inf(1)
		for _, e := range entries {
			var sum float64
			for k := range query {
				diff := query[k] - e.Embedding[k]
				sum += diff * diff
			}
			if d := math.Sqrt(sum); d < wantD {
				wantD, wantID = d, e.IdentityID
			}
		}

		res := m.Match(snapshot(entries...), query)
		if wantD < DefaultAcceptThreshold {
			require.True(t, res.Identified, "round %d", round)
			assert.Equal(t, wantID, res.IdentityID)
			assert.InDelta(t, 1-wantD, res.Confidence, 1e-9)
		} else {
			require.False(t, res.Identified, "round %d", round)
			assert.InDelta(t, wantD, res.Confidence, 1e-9)
		}
	}
}

func TestToFloat64(t *testing.T) {
	assert.Equal(t, []float64{0.5, -1}, ToFloat64([]float32{0.5, -1}))
}

func TestCandidates(t *testing.T) {
	at := time.Now()
	c := FaceCandidate([4]float32{1, 2, 3, 4}, FaceResult{Identified: true, IdentityID: 9, Name: "Ana", Confidence: 0.8}, at)
	assert.True(t, c.Resolved)
	assert.Equal(t, models.MethodFace, c.Method)
	assert.Equal(t, int64(9), c.IdentityID)

	c = FaceCandidate([4]float32{}, FaceResult{Confidence: 0.7}, at)
	assert.False(t, c.Resolved)
	assert.Equal(t, 0.7, c.Score)

	c = QRCandidate(QRResult{Outcome: QRCooldown}, at)
	assert.False(t, c.Resolved)
	c = QRCandidate(QRResult{Outcome: QRHit, IdentityID: 4, Confidence: 1}, at)
	assert.True(t, c.Resolved)
	assert.Equal(t, models.MethodQR, c.Method)
}
