package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facepk/internal/storage"
	"github.com/your-org/facepk/pkg/dto"
)

type UserHandler struct {
	store         storage.Store
	stats         storage.StatsStore
	defaultRating int
}

func NewUserHandler(store storage.Store, stats storage.StatsStore, defaultRating int) *UserHandler {
	return &UserHandler{store: store, stats: stats, defaultRating: defaultRating}
}

// Rating reports the user's current rating; users who never played sit at
// the default.
func (h *UserHandler) Rating(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	st, err := h.store.GetRating(c.Request.Context(), id, h.defaultRating)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RatingResponse{UserID: id, Rating: st.Rating})
}

func (h *UserHandler) Stats(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	st, err := h.stats.GetStats(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := dto.StatsResponse{
		UserID:       id,
		MatchesTotal: st.MatchesTotal,
		MatchesWon:   st.MatchesWon,
		MatchesLost:  st.MatchesLost,
		MatchesTied:  st.MatchesTied,
		Submissions:  st.Submissions,
		AvgScore:     st.AvgScore(),
		HighestScore: st.HighestScore,
	}
	if !st.UpdatedAt.IsZero() {
		resp.UpdatedAt = dto.Timestamp(st.UpdatedAt)
	}
	c.JSON(http.StatusOK, resp)
}
