package vision

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is a face box in original frame pixels.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32
}

const (
	detInputSize     = 640
	anchorsPerCell   = 2
	nmsIoUThreshold  = 0.4
	landmarkPoints   = 5
	detOutputsPerSet = 3 // scores, boxes, landmarks
)

var detStrides = []int{8, 16, 32}

// det_10g output names, grouped scores / boxes / landmarks, each by stride 8, 16, 32.
var detOutputNames = [detOutputsPerSet][3]string{
	{"448", "471", "494"},
	{"451", "474", "497"},
	{"454", "477", "500"},
}

// Detector runs the RetinaFace det_10g model.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	outputs   []*ort.Tensor[float32] // scores x3, boxes x3, landmarks x3
	threshold float32
	inputW    int
	inputH    int
}

func NewDetector(modelPath string, threshold float32) (*Detector, error) {
	d := &Detector{threshold: threshold, inputW: detInputSize, inputH: detInputSize}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(d.inputH), int64(d.inputW)))
	if err != nil {
		return nil, fmt.Errorf("create detector input: %w", err)
	}
	d.input = input

	widths := [detOutputsPerSet]int64{1, 4, 2 * landmarkPoints}
	var names []string
	var values []ort.Value
	for kind := 0; kind < detOutputsPerSet; kind++ {
		for si, stride := range detStrides {
			cells := int64((d.inputW / stride) * (d.inputH / stride) * anchorsPerCell)
			t, err := ort.NewEmptyTensor[float32](ort.NewShape(cells, widths[kind]))
			if err != nil {
				d.Close()
				return nil, fmt.Errorf("create detector output %s: %w", detOutputNames[kind][si], err)
			}
			d.outputs = append(d.outputs, t)
			names = append(names, detOutputNames[kind][si])
			values = append(values, t)
		}
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, names,
		[]ort.Value{input}, values,
		nil,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	d.session = session
	return d, nil
}

// Detect runs the model on a CHW tensor and returns boxes scaled to origW x origH.
func (d *Detector) Detect(chw []float32, origW, origH int) ([]Detection, error) {
	copy(d.input.GetData(), chw)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	var dets []Detection
	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)
	for si, stride := range detStrides {
		dets = append(dets, decodeStride(
			d.outputs[si].GetData(),
			d.outputs[si+3].GetData(),
			d.outputs[si+6].GetData(),
			stride, d.inputW, d.inputH, d.threshold,
			scaleW, scaleH, float32(origW), float32(origH),
		)...)
	}
	return nms(dets, nmsIoUThreshold), nil
}

func (d *Detector) InputSize() (int, int) { return d.inputW, d.inputH }

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.outputs {
		t.Destroy()
	}
}

// decodeStride turns the anchor grid of one stride into frame-space detections.
// Box and landmark outputs are distances from the anchor centre in stride units.
func decodeStride(scores, boxes, landmarks []float32, stride, inputW, inputH int, threshold, scaleW, scaleH, maxW, maxH float32) []Detection {
	var dets []Detection
	st := float32(stride)
	cols, rows := inputW/stride, inputH/stride

	idx := 0
	for cy := 0; cy < rows; cy++ {
		for cx := 0; cx < cols; cx++ {
			for a := 0; a < anchorsPerCell; a++ {
				if idx >= len(scores) {
					return dets
				}
				if scores[idx] >= threshold {
					ax, ay := float32(cx)*st, float32(cy)*st
					b := boxes[idx*4 : idx*4+4]

					var lm [5][2]float32
					for p := 0; p < landmarkPoints; p++ {
						lm[p][0] = (ax + landmarks[idx*10+p*2]*st) * scaleW
						lm[p][1] = (ay + landmarks[idx*10+p*2+1]*st) * scaleH
					}

					dets = append(dets, Detection{
						BBox: [4]float32{
							clampF((ax-b[0]*st)*scaleW, 0, maxW),
							clampF((ay-b[1]*st)*scaleH, 0, maxH),
							clampF((ax+b[2]*st)*scaleW, 0, maxW),
							clampF((ay+b[3]*st)*scaleH, 0, maxH),
						},
						Confidence: scores[idx],
						Landmarks:  lm,
					})
				}
				idx++
			}
		}
	}
	return dets
}

// nms keeps the highest-confidence box of every overlapping group.
func nms(dets []Detection, threshold float32) []Detection {
	sort.Slice(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })

	var kept []Detection
	for _, d := range dets {
		overlaps := false
		for _, k := range kept {
			if iou(d.BBox, k.BBox) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	ix := minF(a[2], b[2]) - maxF(a[0], b[0])
	iy := minF(a[3], b[3]) - maxF(a[1], b[1])
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return maxF(lo, minF(v, hi))
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
