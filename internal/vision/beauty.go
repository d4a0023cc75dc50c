package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	beautyInputSize = 224
	beautyModelFile = "beauty.onnx"

	// The regressor is trained on SCUT-FBP5500 ratings, which run 1..5.
	beautyMinRating = 1
	beautyMaxRating = 5
)

// BeautyModel regresses a facial attractiveness rating from a face crop.
type BeautyModel struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewBeautyModel(modelPath string, opts *ort.SessionOptions) (*BeautyModel, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, beautyInputSize, beautyInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{input}, []ort.Value{output},
		opts,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create beauty session: %w", err)
	}
	return &BeautyModel{session: session, input: input, output: output}, nil
}

// Predict returns the raw rating for a CHW face crop at beautyInputSize.
func (m *BeautyModel) Predict(chw []float32) (float32, error) {
	copy(m.input.GetData(), chw)
	if err := m.session.Run(); err != nil {
		return 0, fmt.Errorf("run beauty: %w", err)
	}
	out := m.output.GetData()
	if len(out) == 0 {
		return 0, fmt.Errorf("empty beauty output")
	}
	return out[0], nil
}

func (m *BeautyModel) Close() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}

// BeautyScore maps a raw rating onto 0..100.
func BeautyScore(rating float32) float64 {
	s := float64(rating-beautyMinRating) / (beautyMaxRating - beautyMinRating) * 100
	return min(max(s, 0), 100)
}
