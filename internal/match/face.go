// Package match resolves per-frame observations (face embeddings, QR payloads)
// to gallery identities.
package match

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/HJ8A/proyecto-asistencia/internal/gallery"
)

// Metric is the embedding distance function.
type Metric string

const (
	// MetricEuclidean is the L2 distance used by dlib-style 128-d encodings.
	MetricEuclidean Metric = "euclidean"
	// MetricCosine is 1 - cosine similarity, for L2-normalised ArcFace embeddings.
	MetricCosine Metric = "cosine"
)

// DefaultAcceptThreshold is the maximum distance (exclusive) for a match.
const DefaultAcceptThreshold = 0.6

// FaceResult is the outcome of matching one embedding.
//
// Identified results carry Confidence = 1 - Distance. Unidentified results carry
// Confidence = Distance to the nearest entry, or 0 when the gallery is empty.
type FaceResult struct {
	Identified bool
	IdentityID int64
	Name       string
	Distance   float64
	Confidence float64
}

// FaceMatcher performs a nearest-neighbour scan over a gallery snapshot.
type FaceMatcher struct {
	threshold float64
	metric    Metric
}

func NewFaceMatcher(threshold float64, metric Metric) (*FaceMatcher, error) {
	if threshold <= 0 {
		return nil, fmt.Errorf("accept threshold must be positive, got %v", threshold)
	}
	switch metric {
	case MetricEuclidean, MetricCosine:
	case "":
		metric = MetricEuclidean
	default:
		return nil, fmt.Errorf("unknown distance metric %q", metric)
	}
	return &FaceMatcher{threshold: threshold, metric: metric}, nil
}

// Match returns the closest identity if its distance is below the threshold.
// An exact tie keeps the entry found first in gallery order.
func (m *FaceMatcher) Match(snap *gallery.Snapshot, embedding []float64) FaceResult {
	best := -1
	bestDist := math.Inf(1)

	entries := snap.Entries()
	for i := range entries {
		e := &entries[i]
		if len(e.Embedding) != len(embedding) {
			continue
		}
		d := m.distance(embedding, e.Embedding)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}

	if best < 0 {
		return FaceResult{Distance: bestDist}
	}
	if bestDist < m.threshold {
		return FaceResult{
			Identified: true,
			IdentityID: entries[best].IdentityID,
			Name:       entries[best].Name,
			Distance:   bestDist,
			Confidence: 1 - bestDist,
		}
	}
	return FaceResult{Distance: bestDist, Confidence: bestDist}
}

func (m *FaceMatcher) distance(a, b []float64) float64 {
	if m.metric == MetricCosine {
		na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
		if na == 0 || nb == 0 {
			return 1
		}
		sim := floats.Dot(a, b) / (na * nb)
		return 1 - math.Max(-1, math.Min(1, sim))
	}
	return floats.Distance(a, b, 2)
}

// ToFloat64 widens an embedding produced by a float32 model.
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
