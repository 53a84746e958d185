package vision

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	embInputSize = 112
	embDim       = 512
)

// Embedder runs the ArcFace w600k_r50 model on aligned face crops.
type Embedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewEmbedder(modelPath string) (*Embedder, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, embInputSize, embInputSize))
	if err != nil {
		return nil, fmt.Errorf("create embedder input: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, embDim))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create embedder output: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, []string{"683"},
		[]ort.Value{input}, []ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return &Embedder{session: session, input: input, output: output}, nil
}

// Extract returns the L2-normalised embedding of a CHW face crop.
func (e *Embedder) Extract(chw []float32) ([]float32, error) {
	copy(e.input.GetData(), chw)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}
	out := make([]float32, embDim)
	copy(out, e.output.GetData())
	normalize(out)
	return out, nil
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	e.input.Destroy()
	e.output.Destroy()
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}
