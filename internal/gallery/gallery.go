// Package gallery holds the identities the engine can resolve, as immutable
// snapshots that are swapped atomically on reload.
package gallery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HJ8A/proyecto-asistencia/internal/models"
	"github.com/HJ8A/proyecto-asistencia/internal/observability"
)

// Loader reads the gallery rows from the store.
type Loader interface {
	LoadAllEmbeddings(ctx context.Context) ([]models.GalleryEntry, error)
	LoadTokenMap(ctx context.Context) (map[string]models.TokenOwner, error)
}

// Snapshot is one consistent view of the gallery. Never mutated after Build.
type Snapshot struct {
	entries  []models.GalleryEntry
	tokens   map[string]int64
	names    map[int64]string
	dim      int
	version  uint64
	loadedAt time.Time
}

// Build assembles a snapshot, copying its inputs. Embeddings whose dimension
// differs from the first row are dropped. Token owners without an embedding
// still get a display name.
func Build(entries []models.GalleryEntry, tokens map[string]models.TokenOwner, version uint64, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		entries:  make([]models.GalleryEntry, 0, len(entries)),
		tokens:   make(map[string]int64, len(tokens)),
		names:    make(map[int64]string),
		version:  version,
		loadedAt: loadedAt,
	}

	for _, e := range entries {
		if len(e.Embedding) == 0 {
			continue
		}
		if s.dim == 0 {
			s.dim = len(e.Embedding)
		}
		if len(e.Embedding) != s.dim {
			slog.Warn("skip gallery embedding with unexpected dimension",
				"identity_id", e.IdentityID, "dim", len(e.Embedding), "want", s.dim)
			continue
		}
		emb := make([]float64, len(e.Embedding))
		copy(emb, e.Embedding)
		s.entries = append(s.entries, models.GalleryEntry{IdentityID: e.IdentityID, Name: e.Name, Embedding: emb})
		if _, ok := s.names[e.IdentityID]; !ok {
			s.names[e.IdentityID] = e.Name
		}
	}

	for token, owner := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		s.tokens[token] = owner.IdentityID
		if _, ok := s.names[owner.IdentityID]; !ok && owner.Name != "" {
			s.names[owner.IdentityID] = owner.Name
		}
	}

	return s
}

// Entries returns the embedding rows in gallery order. Callers must not modify them.
func (s *Snapshot) Entries() []models.GalleryEntry { return s.entries }

// Len is the number of embedding rows.
func (s *Snapshot) Len() int { return len(s.entries) }

// Dim is the embedding dimension, 0 for an empty gallery.
func (s *Snapshot) Dim() int { return s.dim }

func (s *Snapshot) Version() uint64 { return s.version }

func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// LookupToken resolves a QR payload to its identity.
func (s *Snapshot) LookupToken(token string) (int64, bool) {
	id, ok := s.tokens[token]
	return id, ok
}

// Name returns the display name of an identity known to the snapshot.
func (s *Snapshot) Name(id int64) string {
	return s.names[id]
}

// Gallery owns the active snapshot.
type Gallery struct {
	loader  Loader
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
	// installMu orders installs so a slow reload cannot replace a newer one.
	installMu sync.Mutex
	now     func() time.Time
}

// New creates a gallery with an empty snapshot installed.
func New(loader Loader) *Gallery {
	g := &Gallery{loader: loader, now: time.Now}
	g.current.Store(Build(nil, nil, 0, time.Time{}))
	return g
}

// Current returns the active snapshot without blocking.
func (g *Gallery) Current() *Snapshot {
	return g.current.Load()
}

// Load builds a fresh snapshot from the store without installing it. The
// version is taken before reading, so a later load always gets a higher one.
func (g *Gallery) Load(ctx context.Context) (*Snapshot, error) {
	version := g.version.Add(1)
	entries, err := g.loader.LoadAllEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	tokens, err := g.loader.LoadTokenMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("load token map: %w", err)
	}
	return Build(entries, tokens, version, g.now()), nil
}

// Reload loads and installs a new snapshot. On failure the previous snapshot
// stays active and the error is returned. A reload that finishes after a newer
// one was installed returns the newer snapshot and installs nothing.
func (g *Gallery) Reload(ctx context.Context) (*Snapshot, error) {
	snap, err := g.Load(ctx)
	if err != nil {
		observability.GalleryReloads.WithLabelValues("error").Inc()
		slog.Warn("gallery reload failed, keeping previous snapshot",
			"error", err, "version", g.Current().Version())
		return nil, err
	}

	g.installMu.Lock()
	if cur := g.current.Load(); cur.Version() > snap.Version() {
		g.installMu.Unlock()
		slog.Info("gallery reload superseded", "version", snap.Version(), "current", cur.Version())
		return cur, nil
	}
	g.current.Store(snap)
	g.installMu.Unlock()

	observability.GalleryReloads.WithLabelValues("ok").Inc()
	observability.GalleryEntries.Set(float64(snap.Len()))
	slog.Info("gallery loaded",
		"version", snap.Version(),
		"embeddings", snap.Len(),
		"identities", len(snap.names),
		"tokens", len(snap.tokens),
	)
	return snap, nil
}
