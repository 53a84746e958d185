// Package vision adapts ONNX face models and a QR reader to the capture loop.
package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/HJ8A/proyecto-asistencia/internal/config"
	"github.com/HJ8A/proyecto-asistencia/internal/observability"
	"github.com/HJ8A/proyecto-asistencia/internal/session"
)

// ErrNoFace is returned by EmbedImage when the image holds no detectable face.
var ErrNoFace = errors.New("no face detected in image")

// Analyzer detects faces and embeds each one. Safe for concurrent use; the
// ONNX sessions run one frame at a time.
type Analyzer struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

// NewAnalyzer loads det_10g.onnx and w600k_r50.onnx from the models directory.
// The ONNX runtime must already be initialised.
func NewAnalyzer(cfg config.VisionConfig) (*Analyzer, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &Analyzer{detector: det, embedder: emb}, nil
}

// Faces returns every detected face with its embedding.
func (a *Analyzer) Faces(ctx context.Context, img image.Image) ([]session.Face, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dets, err := a.detect(img)
	if err != nil {
		return nil, err
	}

	faces := make([]session.Face, 0, len(dets))
	for _, d := range dets {
		if ctx.Err() != nil {
			return faces, ctx.Err()
		}
		emb, err := a.embed(img, d.BBox)
		if err != nil {
			slog.Warn("embed face", "error", err)
			continue
		}
		faces = append(faces, session.Face{Box: d.BBox, Embedding: emb})
	}
	return faces, nil
}

// EmbedImage embeds the most confident face of an enrolment photo.
func (a *Analyzer) EmbedImage(data []byte) ([]float32, float32, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("decode image: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dets, err := a.detect(img)
	if err != nil {
		return nil, 0, err
	}
	if len(dets) == 0 {
		return nil, 0, ErrNoFace
	}
	// nms sorts by confidence
	best := dets[0]
	emb, err := a.embed(img, best.BBox)
	if err != nil {
		return nil, 0, err
	}
	return emb, best.Confidence, nil
}

func (a *Analyzer) detect(img image.Image) ([]Detection, error) {
	start := time.Now()
	w, h := a.detector.InputSize()
	b := img.Bounds()
	dets, err := a.detector.Detect(toCHW(img, w, h, detMean, detStd), b.Dx(), b.Dy())
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	for i := range dets {
		for k := 0; k < 4; k += 2 {
			dets[i].BBox[k] += float32(b.Min.X)
			dets[i].BBox[k+1] += float32(b.Min.Y)
		}
	}
	return dets, nil
}

func (a *Analyzer) embed(img image.Image, box [4]float32) ([]float32, error) {
	crop := cropFace(img, box)
	if crop == nil {
		return nil, fmt.Errorf("empty face crop")
	}
	start := time.Now()
	emb, err := a.embedder.Extract(toCHW(crop, embInputSize, embInputSize, embMean, embStd))
	observability.StageDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	return emb, err
}

func (a *Analyzer) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detector.Close()
	a.embedder.Close()
}
