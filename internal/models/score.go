package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// VisibilityOf maps the is_public flag used by clients.
func VisibilityOf(public bool) Visibility {
	if public {
		return VisibilityPublic
	}
	return VisibilityPrivate
}

type ProviderKind string

const (
	ProviderBaidu ProviderKind = "baidu"
	ProviderLocal ProviderKind = "local"
)

type ScoreRecord struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	OwnerID     uuid.UUID       `json:"owner_id" db:"owner_id"`
	ContentHash string          `json:"content_hash" db:"content_hash"`
	Fingerprint *uint64         `json:"fingerprint,omitempty" db:"fingerprint"`
	Grid        []uint8         `json:"-" db:"grid"` // 100x100 greyscale, row-major; nil when the image could not be decoded
	Score       float64         `json:"score" db:"score"`
	FeatureBlob json.RawMessage `json:"feature_blob" db:"feature_blob"`
	Visibility  Visibility      `json:"visibility" db:"visibility"`
	Provider    ProviderKind    `json:"provider" db:"provider"`
	ImageKey    string          `json:"image_key" db:"image_key"` // MinIO object key of the source image
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

func (r *ScoreRecord) IsPublic() bool {
	return r.Visibility == VisibilityPublic
}

// RankedScore is a public record with its 1-based position in the global ranking.
type RankedScore struct {
	Rank int `json:"rank"`
	ScoreRecord
}
