package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facepk/internal/apperr"
	"github.com/your-org/facepk/internal/fingerprint"
	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/storage"
	"github.com/your-org/facepk/pkg/dto"
)

const defaultPageSize = 20

// respondError maps an error kind to its status. Internal details stay in
// the log.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(kind.HTTPStatus(), gin.H{"error": err.Error(), "kind": kind.String()})
}

// paramID parses the named path parameter as a uuid.
func paramID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// pageParams reads page and limit, defaulting to the first page of 20.
func pageParams(c *gin.Context) (storage.Page, bool) {
	number, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return storage.Page{}, false
	}
	size, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return storage.Page{}, false
	}
	page, err := storage.NewPage(number, size)
	if err != nil {
		respondError(c, err)
		return storage.Page{}, false
	}
	return page, true
}

func scoreResponse(rec *models.ScoreRecord, withFeatures bool) dto.ScoreResponse {
	r := dto.ScoreResponse{
		ID:        rec.ID,
		OwnerID:   rec.OwnerID,
		Score:     rec.Score,
		IsPublic:  rec.IsPublic(),
		Provider:  string(rec.Provider),
		ImageURL:  dto.ScoreImageURL(rec.ID),
		CreatedAt: dto.Timestamp(rec.CreatedAt),
		UpdatedAt: dto.Timestamp(rec.UpdatedAt),
	}
	if rec.Fingerprint != nil {
		r.Fingerprint = fingerprint.Format(*rec.Fingerprint)
	}
	if withFeatures {
		r.FeatureBlob = rec.FeatureBlob
	}
	return r
}
