package attendance

import (
	"fmt"
	"sync"
	"time"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
)

// Scope decides what counts as a duplicate credit within one day.
type Scope string

const (
	// ScopePerMethod allows one face and one QR credit per identity per day.
	ScopePerMethod Scope = "per_method"
	// ScopePerDay allows a single credit per identity per day; the first method wins.
	ScopePerDay Scope = "per_day"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopePerMethod, "":
		return ScopePerMethod, nil
	case ScopePerDay:
		return ScopePerDay, nil
	}
	return "", fmt.Errorf("unknown dedup scope %q", s)
}

type guardKey struct {
	identity int64
	method   models.Method
}

// Guard is the in-memory set of identities already credited on one date.
// It mirrors the store's unique constraint so repeated sightings never reach it.
type Guard struct {
	scope Scope

	mu   sync.Mutex
	date time.Time
	seen map[guardKey]struct{}
}

func NewGuard(scope Scope) *Guard {
	return &Guard{scope: scope, seen: make(map[guardKey]struct{})}
}

// Date is the day the guard currently holds.
func (g *Guard) Date() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.date
}

// AlreadyCredited is false for any date other than the one held.
func (g *Guard) AlreadyCredited(id int64, method models.Method, date time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.date.Equal(models.DateOf(date)) {
		return false
	}
	_, ok := g.seen[g.key(id, method)]
	return ok
}

// MarkCredited records a credit. A new date discards the previous day's set.
func (g *Guard) MarkCredited(id int64, method models.Method, date time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	day := models.DateOf(date)
	if !g.date.Equal(day) {
		g.date = day
		g.seen = make(map[guardKey]struct{})
	}
	g.seen[g.key(id, method)] = struct{}{}
}

// Reset replaces the state with the events already stored for date.
func (g *Guard) Reset(date time.Time, events []models.AttendanceEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.date = models.DateOf(date)
	g.seen = make(map[guardKey]struct{}, len(events))
	for _, ev := range events {
		g.seen[g.key(ev.IdentityID, ev.Method)] = struct{}{}
	}
}

// Len is the number of keys held.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

func (g *Guard) key(id int64, method models.Method) guardKey {
	if g.scope == ScopePerDay {
		return guardKey{identity: id}
	}
	return guardKey{identity: id, method: method}
}
