// Package tracking smooths flickering per-frame face detections for the kiosk
// overlay. Nothing here may authorize a credit.
package tracking

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	DefaultHistorySize = 4
	DefaultWindow      = 2500 * time.Millisecond

	// minContinuityIoU is the overlap at which an unresolved box inherits
	// the label of a recent identity.
	minContinuityIoU = 0.3
)

// Detection is one face seen in the current frame. IdentityID is zero when
// the matcher could not resolve it.
type Detection struct {
	Box        [4]float32 // x1, y1, x2, y2 in frame pixels
	IdentityID int64
	Name       string
	Score      float64
}

func (d Detection) resolved() bool { return d.IdentityID != 0 }

// Track is what the overlay draws for one face.
type Track struct {
	Box        [4]float32 `json:"box"`
	IdentityID int64      `json:"identity_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Score      float64    `json:"score"`
	// Held marks a box or label taken from history rather than the current frame.
	Held     bool      `json:"held"`
	LastSeen time.Time `json:"last_seen"`
}

type sample struct {
	box   [4]float32
	name  string
	score float64
	at    time.Time
}

// Stabilizer keeps the last K resolved detections of each identity.
type Stabilizer struct {
	size   int
	window time.Duration

	mu      sync.Mutex
	history map[int64][]sample
	last    []Track
}

func NewStabilizer(size int, window time.Duration) *Stabilizer {
	if size <= 0 {
		size = DefaultHistorySize
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Stabilizer{
		size:    size,
		window:  window,
		history: make(map[int64][]sample),
	}
}

// Update folds the current frame into the history and returns the tracks to display.
//
// Current-frame detections always win. An unresolved box overlapping a live
// history is labelled with that identity and flagged Held. With no detections
// at all, each live history is shown at its averaged position, flagged Held.
func (s *Stabilizer) Update(now time.Time, dets []Detection) []Track {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evict(now)

	for _, d := range dets {
		if !d.resolved() {
			continue
		}
		h := append(s.history[d.IdentityID], sample{box: d.Box, name: d.Name, score: d.Score, at: now})
		if len(h) > s.size {
			h = h[len(h)-s.size:]
		}
		s.history[d.IdentityID] = h
	}

	var out []Track
	if len(dets) > 0 {
		out = make([]Track, 0, len(dets))
		for _, d := range dets {
			t := Track{Box: d.Box, IdentityID: d.IdentityID, Name: d.Name, Score: d.Score, LastSeen: now}
			if !d.resolved() {
				if id, held, ok := s.continuity(d.Box); ok {
					t.IdentityID, t.Name, t.Held = id, held.Name, true
				}
			}
			out = append(out, t)
		}
	} else {
		out = s.held()
	}

	s.last = out
	return out
}

// Tracks returns the result of the last Update.
func (s *Stabilizer) Tracks() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Track, len(s.last))
	copy(out, s.last)
	return out
}

// Reset drops all history.
func (s *Stabilizer) Reset() {
	s.mu.Lock()
	s.history = make(map[int64][]sample)
	s.last = nil
	s.mu.Unlock()
}

func (s *Stabilizer) evict(now time.Time) {
	for id, h := range s.history {
		keep := h[:0]
		for _, smp := range h {
			if now.Sub(smp.at) <= s.window {
				keep = append(keep, smp)
			}
		}
		if len(keep) == 0 {
			delete(s.history, id)
			continue
		}
		s.history[id] = keep
	}
}

// held renders every live history at its averaged box. Caller holds mu.
func (s *Stabilizer) held() []Track {
	ids := make([]int64, 0, len(s.history))
	for id := range s.history {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Track, 0, len(ids))
	for _, id := range ids {
		t := average(s.history[id])
		t.IdentityID = id
		t.Held = true
		out = append(out, t)
	}
	return out
}

// continuity finds the identity whose averaged box overlaps box the most. Caller holds mu.
func (s *Stabilizer) continuity(box [4]float32) (int64, Track, bool) {
	var (
		bestID  int64
		best    Track
		bestIoU float32 = minContinuityIoU
		found   bool
	)
	for id, h := range s.history {
		avg := average(h)
		v := iou(box, avg.Box)
		if v > bestIoU || (v == bestIoU && found && id < bestID) {
			bestIoU, bestID, best, found = v, id, avg, true
		}
	}
	return bestID, best, found
}

func average(h []sample) Track {
	var t Track
	for _, smp := range h {
		for k := range t.Box {
			t.Box[k] += smp.box[k]
		}
		t.Score += smp.score
	}
	n := float32(len(h))
	for k := range t.Box {
		t.Box[k] /= n
	}
	t.Score /= float64(len(h))
	latest := h[len(h)-1]
	t.Name = latest.name
	t.LastSeen = latest.at
	return t
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}
