package match

import (
	"strings"
	"sync"
	"time"

	"github.com/HJ8A/proyecto-asistencia/internal/gallery"
)

// DefaultQRCooldown suppresses re-processing of a payload held in front of the camera.
const DefaultQRCooldown = 3 * time.Second

type QROutcome string

const (
	QRHit      QROutcome = "hit"
	QRMiss     QROutcome = "miss"
	QRCooldown QROutcome = "cooldown"
)

// QRResult is the outcome of looking up one decoded payload.
type QRResult struct {
	Outcome    QROutcome
	IdentityID int64
	Name       string
	Confidence float64
}

// QRMatcher resolves decoded QR payloads through the snapshot token map.
type QRMatcher struct {
	cooldown time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewQRMatcher(cooldown time.Duration) *QRMatcher {
	if cooldown < 0 {
		cooldown = 0
	}
	return &QRMatcher{cooldown: cooldown, seen: make(map[string]time.Time)}
}

// Match looks up a payload. The same payload value seen again within the
// cooldown is reported as QRCooldown without a lookup, whether or not the
// first sighting was a hit.
func (m *QRMatcher) Match(snap *gallery.Snapshot, payload string, now time.Time) QRResult {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return QRResult{Outcome: QRMiss}
	}

	m.mu.Lock()
	m.prune(now)
	if last, ok := m.seen[payload]; ok && now.Sub(last) < m.cooldown {
		m.mu.Unlock()
		return QRResult{Outcome: QRCooldown}
	}
	m.seen[payload] = now
	m.mu.Unlock()

	id, ok := snap.LookupToken(payload)
	if !ok {
		return QRResult{Outcome: QRMiss}
	}
	return QRResult{
		Outcome:    QRHit,
		IdentityID: id,
		Name:       snap.Name(id),
		Confidence: 1.0,
	}
}

// Reset forgets all cooldowns.
func (m *QRMatcher) Reset() {
	m.mu.Lock()
	m.seen = make(map[string]time.Time)
	m.mu.Unlock()
}

func (m *QRMatcher) prune(now time.Time) {
	for p, t := range m.seen {
		if now.Sub(t) >= m.cooldown {
			delete(m.seen, p)
		}
	}
}
