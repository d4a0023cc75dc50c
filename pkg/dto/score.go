// Package dto holds the JSON shapes of the public HTTP API.
package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Timestamp formats t the way every response does.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ScoreImageURL is the proxy path serving a score's photo.
func ScoreImageURL(id uuid.UUID) string {
	return "/v1/scores/" + id.String() + "/image"
}

type ScoreResponse struct {
	ID          uuid.UUID       `json:"id"`
	OwnerID     uuid.UUID       `json:"owner_id"`
	Score       float64         `json:"score"`
	IsPublic    bool            `json:"is_public"`
	Provider    string          `json:"provider"`
	ImageURL    string          `json:"image_url"`
	Fingerprint string          `json:"fingerprint,omitempty"`
	FeatureBlob json.RawMessage `json:"feature_blob,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

type ScoreDetail struct {
	Category    string `json:"category"`
	Score       int    `json:"score"`
	Description string `json:"description"`
}

// SubmitScoreResponse describes where a submission landed. Record is the
// canonical record, which may be an older one when the photo was a
// duplicate.
type SubmitScoreResponse struct {
	Record            ScoreResponse  `json:"record"`
	Outcome           string         `json:"outcome"`
	Similarity        float64        `json:"similarity"`
	SubmittedScore    float64        `json:"submitted_score"`
	FeatureHighlights map[string]any `json:"feature_highlights"`
	ScoreDetails      []ScoreDetail  `json:"score_details"`
}

type ScoreListResponse struct {
	Total int             `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
	Items []ScoreResponse `json:"items"`
}

type RankingEntry struct {
	Rank     int       `json:"rank"`
	ScoreID  uuid.UUID `json:"score_id"`
	OwnerID  uuid.UUID `json:"owner_id"`
	Score    float64   `json:"score"`
	ImageURL string    `json:"image_url"`
	ScoredAt string    `json:"scored_at"`
}

type RankingResponse struct {
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Items    []RankingEntry `json:"items"`
}
