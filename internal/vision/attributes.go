package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Attributes are the demographic predictions for one face.
type Attributes struct {
	Gender           string  `json:"gender"` // male or female
	GenderConfidence float32 `json:"gender_confidence"`
	Age              int     `json:"age"`
}

const (
	attrInputSize = 96
	attrModelFile = "genderage.onnx"
)

// AttributeModel wraps the InsightFace genderage network.
type AttributeModel struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewAttributeModel(modelPath string, opts *ort.SessionOptions) (*AttributeModel, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, attrInputSize, attrInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"data"}, []string{"fc1"},
		[]ort.Value{input}, []ort.Value{output},
		opts,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create attribute session: %w", err)
	}
	return &AttributeModel{session: session, input: input, output: output}, nil
}

// Predict runs on a face crop already laid out as CHW at attrInputSize.
func (m *AttributeModel) Predict(chw []float32) (*Attributes, error) {
	copy(m.input.GetData(), chw)
	if err := m.session.Run(); err != nil {
		return nil, fmt.Errorf("run attributes: %w", err)
	}
	out := m.output.GetData()
	if len(out) < 3 {
		return nil, fmt.Errorf("unexpected attribute output size %d", len(out))
	}
	return decodeAttributes(out[0], out[1]), nil
}

func (m *AttributeModel) Close() {
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

// decodeAttributes maps the raw logits. Age is emitted in units of
// 100 years by some exports and in years by others.
func decodeAttributes(male, age float32) *Attributes {
	a := &Attributes{Gender: "female", GenderConfidence: 1 - male}
	if male > 0.5 {
		a.Gender = "male"
		a.GenderConfidence = male
	}
	if age > 0 && age <= 1 {
		age *= 100
	}
	a.Age = int(clampF(age, 0, 100) + 0.5)
	return a
}
