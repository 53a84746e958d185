package match

import (
	"time"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

// Candidate is an identity resolved in the current frame. Never persisted.
type Candidate struct {
	Box        [4]float32 // zero for QR candidates
	IdentityID int64
	Name       string
	Resolved   bool
	Score      float64
	Method     models.Method
	At         time.Time
}

// FaceCandidate converts a face result for the frame captured at at.
func FaceCandidate(box [4]float32, r FaceResult, at time.Time) Candidate {
	c := Candidate{Box: box, Score: r.Confidence, Method: models.MethodFace, At: at}
	if r.Identified {
		c.IdentityID, c.Name, c.Resolved = r.IdentityID, r.Name, true
	}
	return c
}

// QRCandidate converts a QR result. Only hits are resolved.
func QRCandidate(r QRResult, at time.Time) Candidate {
	c := Candidate{Method: models.MethodQR, At: at}
	if r.Outcome == QRHit {
		c.IdentityID, c.Name, c.Resolved, c.Score = r.IdentityID, r.Name, true, r.Confidence
	}
	return c
}
