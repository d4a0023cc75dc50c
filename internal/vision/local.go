// Package vision scores faces in process with ONNX Runtime: RetinaFace
// detection, InsightFace gender/age and a beauty regressor.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/config"
	"github.com/your-org/facepk/internal/fingerprint"
	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/provider"
)

// InitRuntime loads the ONNX Runtime shared library. Call DestroyRuntime
// on shutdown.
func InitRuntime() error {
	ort.SetSharedLibraryPath(runtimeLibrary())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
}

func runtimeLibrary() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}

// LocalProvider implements provider.Provider with the bundled models.
// Sessions share tensors, so Analyze calls are serialised.
type LocalProvider struct {
	mu       sync.Mutex
	detector *FaceDetector
	attrs    *AttributeModel
	beauty   *BeautyModel
}

var _ provider.Provider = (*LocalProvider)(nil)

func NewLocalProvider(cfg config.LocalConfig) (*LocalProvider, error) {
	detPath := filepath.Join(cfg.ModelsDir, detModelFile)
	attrPath := filepath.Join(cfg.ModelsDir, attrModelFile)
	beautyPath := filepath.Join(cfg.ModelsDir, beautyModelFile)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewFaceDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading attribute model", "path", attrPath)
	attrs, err := NewAttributeModel(attrPath, nil)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load attributes: %w", err)
	}

	slog.Info("loading beauty model", "path", beautyPath)
	beauty, err := NewBeautyModel(beautyPath, nil)
	if err != nil {
		det.Close()
		attrs.Close()
		return nil, fmt.Errorf("load beauty model: %w", err)
	}

	return &LocalProvider{detector: det, attrs: attrs, beauty: beauty}, nil
}

func (p *LocalProvider) Kind() models.ProviderKind {
	return models.ProviderLocal
}

// localFeatures is the featureBlob written for local analyses.
type localFeatures struct {
	Confidence float32    `json:"confidence"`
	BBox       [4]float32 `json:"bbox"`
	Gender     string     `json:"gender,omitempty"`
	Age        *int       `json:"age,omitempty"`
	Beauty     float64    `json:"beauty"`
}

func (p *LocalProvider) Analyze(ctx context.Context, image []byte) (*provider.Analysis, error) {
	img, err := fingerprint.Decode(image)
	if err != nil {
		return nil, apperr.Provider("decode image: %v", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrProvider, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	b := img.Bounds()
	faces, err := p.detector.Detect(toCHW(img, detInputSize, detNorm), b.Dx(), b.Dy())
	if err != nil {
		return nil, inferenceError("detect faces", err)
	}
	if len(faces) == 0 {
		return nil, provider.ErrNoFace
	}
	best := faces[0]

	crop := cropFace(img, best.BBox)
	if crop == nil {
		return nil, provider.ErrNoFace
	}

	rating, err := p.beauty.Predict(toCHW(crop, beautyInputSize, beautyNorm))
	if err != nil {
		return nil, inferenceError("predict beauty", err)
	}

	features := localFeatures{
		Confidence: best.Confidence,
		BBox:       best.BBox,
		Beauty:     BeautyScore(rating),
	}
	if attrs, err := p.attrs.Predict(toCHW(crop, attrInputSize, attrNorm)); err != nil {
		slog.Warn("predict attributes", "error", err)
	} else {
		features.Gender = attrs.Gender
		features.Age = &attrs.Age
	}

	blob, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	return &provider.Analysis{Score: features.Beauty, FeatureBlob: blob}, nil
}

// inferenceError classes a failed model run as a provider failure.
func inferenceError(stage string, err error) error {
	return fmt.Errorf("%w: %s: %w", apperr.ErrProvider, stage, err)
}

func (p *LocalProvider) Close() {
	p.detector.Close()
	p.attrs.Close()
	p.beauty.Close()
}
