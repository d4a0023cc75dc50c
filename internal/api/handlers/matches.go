package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facepk/internal/auth"
	"github.com/your-org/facepk/internal/match"
	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/storage"
	"github.com/your-org/facepk/pkg/dto"
)

type MatchHandler struct {
	resolver *match.Resolver
	store    storage.Store
}

func NewMatchHandler(resolver *match.Resolver, store storage.Store) *MatchHandler {
	return &MatchHandler{resolver: resolver, store: store}
}

// Create challenges opponent_id with the caller's score_id.
func (h *MatchHandler) Create(c *gin.Context) {
	var req dto.CreateMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.resolver.Create(c.Request.Context(), match.Request{
		ChallengerID:      auth.CallerID(c),
		OpponentID:        req.OpponentID,
		ChallengerScoreID: req.ScoreID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.MatchResponse{
		ID:          out.Match.ID,
		Challenger:  side(out.Challenger),
		Opponent:    side(out.Opponent),
		Result:      string(out.Match.Result),
		RatingDelta: out.Match.RatingDelta,
		RatingAfter: out.NewRating,
		MatchedAt:   dto.Timestamp(out.Match.MatchedAt),
	})
}

func (h *MatchHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	m, err := h.store.GetMatch(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MatchResponse{
		ID: m.ID,
		Challenger: dto.MatchSide{
			UserID: m.ChallengerID, ScoreID: m.ChallengerScoreID, Score: m.ChallengerScore,
			ImageURL: dto.ScoreImageURL(m.ChallengerScoreID),
		},
		Opponent: dto.MatchSide{
			UserID: m.OpponentID, ScoreID: m.OpponentScoreID, Score: m.OpponentScore,
			ImageURL: dto.ScoreImageURL(m.OpponentScoreID),
		},
		Result:      string(m.Result),
		RatingDelta: m.RatingDelta,
		RatingAfter: m.RatingAfter,
		MatchedAt:   dto.Timestamp(m.MatchedAt),
	})
}

// ListForUser returns a user's match history, newest first, optionally
// filtered by result (win, lose or tie) from that user's side.
func (h *MatchHandler) ListForUser(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}
	page, ok := pageParams(c)
	if !ok {
		return
	}

	var filter storage.MatchFilter
	if v := c.Query("result"); v != "" {
		r, ok := parseResult(v)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "result must be win, lose or tie"})
			return
		}
		filter.Result = &r
	}

	matches, total, err := h.store.ListMatchesForUser(c.Request.Context(), userID, filter, page)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]dto.MatchHistoryItem, 0, len(matches))
	for i := range matches {
		items = append(items, historyItem(&matches[i], userID))
	}
	c.JSON(http.StatusOK, dto.MatchListResponse{Total: total, Page: page.Number, Limit: page.Size, Items: items})
}

func side(s match.Side) dto.MatchSide {
	return dto.MatchSide{UserID: s.UserID, ScoreID: s.ScoreID, Score: s.Score, ImageURL: dto.ScoreImageURL(s.ScoreID)}
}

func historyItem(m *models.Match, userID uuid.UUID) dto.MatchHistoryItem {
	result, delta := m.Perspective(userID)
	item := dto.MatchHistoryItem{
		ID:          m.ID,
		Role:        "challenger",
		OtherUserID: m.OpponentID,
		MyScore:     m.ChallengerScore,
		TheirScore:  m.OpponentScore,
		Result:      string(result),
		RatingDelta: delta,
		MatchedAt:   dto.Timestamp(m.MatchedAt),
	}
	if userID != m.ChallengerID {
		item.Role = "opponent"
		item.OtherUserID = m.ChallengerID
		item.MyScore, item.TheirScore = m.OpponentScore, m.ChallengerScore
	}
	return item
}

func parseResult(v string) (models.MatchResult, bool) {
	for _, r := range []models.MatchResult{models.ResultWin, models.ResultLose, models.ResultTie} {
		if strings.EqualFold(v, string(r)) {
			return r, true
		}
	}
	return "", false
}
