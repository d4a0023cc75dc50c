package vision

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Face is one detected face in source image coordinates.
type Face struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

func (f Face) Width() float32  { return f.BBox[2] - f.BBox[0] }
func (f Face) Height() float32 { return f.BBox[3] - f.BBox[1] }

const (
	detInputSize     = 640
	anchorsPerCell   = 2
	nmsIoUThreshold  = 0.4
	detModelFile     = "det_10g.onnx"
	detInputName     = "input.1"
	landmarkChannels = 10
)

var detStrides = []int{8, 16, 32}

// det_10g output names in score, bbox, landmark order, one per stride.
// Landmarks are bound so the session runs but are not decoded.
var (
	detScoreOutputs    = []string{"448", "471", "494"}
	detBBoxOutputs     = []string{"451", "474", "497"}
	detLandmarkOutputs = []string{"454", "477", "500"}
)

// FaceDetector runs RetinaFace (det_10g) through ONNX Runtime.
type FaceDetector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    []*ort.Tensor[float32]
	bboxes    []*ort.Tensor[float32]
	landmarks []*ort.Tensor[float32]
	threshold float32
}

// NewFaceDetector loads the detection model. opts may be nil.
func NewFaceDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*FaceDetector, error) {
	d := &FaceDetector{threshold: threshold}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	d.input = input

	var names []string
	var values []ort.Value
	bind := func(name string, rows, cols int) (*ort.Tensor[float32], error) {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(rows), int64(cols)))
		if err != nil {
			return nil, fmt.Errorf("create output tensor %s: %w", name, err)
		}
		names = append(names, name)
		values = append(values, t)
		return t, nil
	}

	for i, stride := range detStrides {
		n := anchorCount(stride)
		s, err := bind(detScoreOutputs[i], n, 1)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.scores = append(d.scores, s)
	}
	for i, stride := range detStrides {
		b, err := bind(detBBoxOutputs[i], anchorCount(stride), 4)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.bboxes = append(d.bboxes, b)
	}
	for i, stride := range detStrides {
		l, err := bind(detLandmarkOutputs[i], anchorCount(stride), landmarkChannels)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.landmarks = append(d.landmarks, l)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{detInputName}, names,
		[]ort.Value{input}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	d.session = session
	return d, nil
}

// Detect returns the faces in img, highest confidence first.
// chw is the image already resized to the model input and normalised.
func (d *FaceDetector) Detect(chw []float32, srcW, srcH int) ([]Face, error) {
	copy(d.input.GetData(), chw)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	sx := float32(srcW) / detInputSize
	sy := float32(srcH) / detInputSize

	var faces []Face
	for i, stride := range detStrides {
		faces = append(faces, decodeStride(
			d.scores[i].GetData(), d.bboxes[i].GetData(),
			stride, d.threshold, sx, sy, float32(srcW), float32(srcH),
		)...)
	}
	return nms(faces, nmsIoUThreshold), nil
}

func (d *FaceDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, group := range [][]*ort.Tensor[float32]{d.scores, d.bboxes, d.landmarks} {
		for _, t := range group {
			t.Destroy()
		}
	}
}

func anchorCount(stride int) int {
	side := detInputSize / stride
	return side * side * anchorsPerCell
}

// decodeStride turns one stride's anchor outputs into faces. Box offsets
// are distances from the anchor centre to each edge, in stride units.
func decodeStride(scores, boxes []float32, stride int, threshold, sx, sy, maxX, maxY float32) []Face {
	side := detInputSize / stride
	st := float32(stride)

	var faces []Face
	for idx := range scores {
		if scores[idx] < threshold {
			continue
		}
		cell := idx / anchorsPerCell
		ax := float32(cell%side) * st
		ay := float32(cell/side) * st

		b := boxes[idx*4 : idx*4+4]
		faces = append(faces, Face{
			BBox: [4]float32{
				clampF((ax-b[0]*st)*sx, 0, maxX),
				clampF((ay-b[1]*st)*sy, 0, maxY),
				clampF((ax+b[2]*st)*sx, 0, maxX),
				clampF((ay+b[3]*st)*sy, 0, maxY),
			},
			Confidence: scores[idx],
		})
	}
	return faces
}

// nms keeps the most confident of each group of overlapping faces.
func nms(faces []Face, threshold float32) []Face {
	sort.Slice(faces, func(i, j int) bool {
		return faces[i].Confidence > faces[j].Confidence
	})

	kept := faces[:0:0]
	for _, f := range faces {
		suppressed := false
		for _, k := range kept {
			if iou(f.BBox, k.BBox) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, f)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1, y1 := max(a[0], b[0]), max(a[1], b[1])
	x2, y2 := min(a[2], b[2]), min(a[3], b[3])
	inter := max(0, x2-x1) * max(0, y2-y1)

	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
