// Package provider scores a face photo. Two backends exist: the Baidu face
// API and the in-process ONNX pipeline in internal/vision.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/observability"
)

// ErrNoFace is returned when the image holds no detectable face.
var ErrNoFace = fmt.Errorf("%w: no face detected", apperr.ErrProvider)

// Analysis is a provider's verdict on one image.
type Analysis struct {
	Score       float64
	FeatureBlob json.RawMessage
}

type Provider interface {
	Kind() models.ProviderKind
	Analyze(ctx context.Context, image []byte) (*Analysis, error)
}

// Instrumented records latency and failures of p.
func Instrumented(p Provider) Provider {
	return &instrumented{next: p}
}

type instrumented struct {
	next Provider
}

func (i *instrumented) Kind() models.ProviderKind {
	return i.next.Kind()
}

func (i *instrumented) Analyze(ctx context.Context, image []byte) (*Analysis, error) {
	kind := string(i.next.Kind())
	start := time.Now()
	a, err := i.next.Analyze(ctx, image)
	observability.ProviderDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ProviderErrors.WithLabelValues(kind, reason(err)).Inc()
		return nil, err
	}
	// NaN must fail as well
	if !(a.Score >= 0 && a.Score <= 100) {
		observability.ProviderErrors.WithLabelValues(kind, "out_of_range").Inc()
		return nil, apperr.Provider("score %v out of range", a.Score)
	}
	return a, nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrNoFace):
		return "no_face"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, apperr.ErrProvider):
		return "rejected"
	default:
		return "error"
	}
}

// Static always returns the same analysis. It backs tests and local runs
// without model files or API credentials.
type Static struct {
	Analysis Analysis
	Err      error
}

func (s *Static) Kind() models.ProviderKind { return models.ProviderLocal }

func (s *Static) Analyze(ctx context.Context, image []byte) (*Analysis, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	a := s.Analysis
	return &a, nil
}
