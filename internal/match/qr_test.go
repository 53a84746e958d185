package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/HJ8A/proyecto-asistencia/internal/gallery"
	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

func tokenSnapshot() *gallery.Snapshot {
	return gallery.Build(
		[]models.GalleryEntry{{IdentityID: 4, Name: "Rosa Quispe", Embedding: []float64{1}}},
		map[string]models.TokenOwner{
			"EST-4-9f2c": {IdentityID: 4, Name: "Rosa Quispe"},
			"EST-5-aa01": {IdentityID: 5, Name: "Mario Huanca"},
		},
		1, time.Now(),
	)
}

func TestQRMatchHit(t *testing.T) {
	m := NewQRMatcher(DefaultQRCooldown)
	now := time.Now()

	res := m.Match(tokenSnapshot(), "EST-4-9f2c", now)
	assert.Equal(t, QRHit, res.Outcome)
	assert.Equal(t, int64(4), res.IdentityID)
	assert.Equal(t, "Rosa Quispe", res.Name)
	assert.Equal(t, 1.0, res.Confidence)

	res = m.Match(tokenSnapshot(), " EST-5-aa01\n", now)
	assert.Equal(t, QRHit, res.Outcome)
	assert.Equal(t, int64(5), res.IdentityID)
	assert.Equal(t, "Mario Huanca", res.Name, "QR-only student keeps a display name")
}

func TestQRMatchMissIsSilent(t *testing.T) {
	m := NewQRMatcher(DefaultQRCooldown)
	for _, payload := range []string{"", "   ", "https://example.com", "EST-4-9f2c-forged", "\x00\xff"} {
		res := m.Match(tokenSnapshot(), payload, time.Now())
		assert.Equal(t, QRMiss, res.Outcome, "payload %q", payload)
		assert.Zero(t, res.IdentityID)
	}
}

func TestQRCooldown(t *testing.T) {
	m := NewQRMatcher(3 * time.Second)
	snap := tokenSnapshot()
	t0 := time.Date(2025, 3, 10, 7, 50, 0, 0, time.Local)

	assert.Equal(t, QRHit, m.Match(snap, "EST-4-9f2c", t0).Outcome)
	assert.Equal(t, QRCooldown, m.Match(snap, "EST-4-9f2c", t0.Add(time.Second)).Outcome)
	assert.Equal(t, QRHit, m.Match(snap, "EST-5-aa01", t0.Add(time.Second)).Outcome, "other payloads are independent")
	assert.Equal(t, QRCooldown, m.Match(snap, "EST-4-9f2c", t0.Add(2999*time.Millisecond)).Outcome)
	assert.Equal(t, QRHit, m.Match(snap, "EST-4-9f2c", t0.Add(3*time.Second)).Outcome)

	assert.Equal(t, QRMiss, m.Match(snap, "unknown", t0).Outcome)
	assert.Equal(t, QRCooldown, m.Match(snap, "unknown", t0.Add(time.Second)).Outcome)

	m.Reset()
	assert.Equal(t, QRHit, m.Match(snap, "EST-4-9f2c", t0.Add(3500*time.Millisecond)).Outcome)
}

func TestQRCooldownPrunes(t *testing.T) {
	m := NewQRMatcher(time.Second)
	snap := tokenSnapshot()
	t0 := time.Now()
	m.Match(snap, "a", t0)
	m.Match(snap, "b", t0)
	m.Match(snap, "c", t0.Add(2*time.Second))
	assert.Len(t, m.seen, 1)
}
