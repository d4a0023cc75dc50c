package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facepk/internal/storage"
	"github.com/your-org/facepk/pkg/dto"
)

type RankingHandler struct {
	store storage.ScoreReader
}

func NewRankingHandler(store storage.ScoreReader) *RankingHandler {
	return &RankingHandler{store: store}
}

// Global lists public scores, highest first.
func (h *RankingHandler) Global(c *gin.Context) {
	page, ok := pageParams(c)
	if !ok {
		return
	}
	ranked, total, err := h.store.RankGlobal(c.Request.Context(), page)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]dto.RankingEntry, 0, len(ranked))
	for _, r := range ranked {
		items = append(items, dto.RankingEntry{
			Rank:     r.Rank,
			ScoreID:  r.ID,
			OwnerID:  r.OwnerID,
			Score:    r.Score,
			ImageURL: dto.ScoreImageURL(r.ID),
			ScoredAt: dto.Timestamp(r.CreatedAt),
		})
	}
	c.JSON(http.StatusOK, dto.RankingResponse{Total: total, Page: page.Number, PageSize: page.Size, Items: items})
}
