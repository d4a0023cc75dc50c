package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facepk/internal/auth"
	"github.com/your-org/facepk/internal/dedupe"
	"github.com/your-org/facepk/internal/models"
	"github.com/your-org/facepk/internal/scoring"
	"github.com/your-org/facepk/pkg/dto"
)

type ScoreHandler struct {
	svc      *scoring.Service
	maxBytes int64
}

func NewScoreHandler(svc *scoring.Service, maxBytes int64) *ScoreHandler {
	return &ScoreHandler{svc: svc, maxBytes: maxBytes}
}

// Submit accepts a multipart upload with an "image" file and an optional
// "is_public" flag (default true).
func (h *ScoreHandler) Submit(c *gin.Context) {
	public := true
	if v := c.PostForm("is_public"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid is_public"})
			return
		}
		public = b
	}

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	var r io.Reader = file
	if h.maxBytes > 0 {
		// one byte over the cap is enough for the service to reject it
		r = io.LimitReader(file, h.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read image failed"})
		return
	}

	res, err := h.svc.Submit(c.Request.Context(), scoring.SubmitRequest{
		OwnerID:    auth.CallerID(c),
		Image:      data,
		Visibility: models.VisibilityOf(public),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	details := scoring.Details(res.SubmittedScore)
	resp := dto.SubmitScoreResponse{
		Record:            scoreResponse(&res.Record, res.Record.OwnerID == auth.CallerID(c)),
		Outcome:           string(res.Outcome),
		Similarity:        res.Similarity,
		SubmittedScore:    res.SubmittedScore,
		FeatureHighlights: scoring.Highlights(res.FeatureBlob),
		ScoreDetails:      make([]dto.ScoreDetail, 0, len(details)),
	}
	for _, d := range details {
		resp.ScoreDetails = append(resp.ScoreDetails, dto.ScoreDetail(d))
	}

	status := http.StatusOK
	if res.Outcome == dedupe.OutcomeCreated {
		status = http.StatusCreated
	}
	c.JSON(status, resp)
}

func (h *ScoreHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	viewer := auth.CallerID(c)
	rec, err := h.svc.Get(c.Request.Context(), id, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, scoreResponse(rec, rec.OwnerID == viewer))
}

// Image proxies the stored photo.
func (h *ScoreHandler) Image(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	blob, err := h.svc.Image(c.Request.Context(), id, auth.CallerID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(blob.Data)
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, contentType, blob.Data)
}

// ListByOwner lists a user's scores, newest first. public_only is implied
// for anyone but the owner.
func (h *ScoreHandler) ListByOwner(c *gin.Context) {
	owner, ok := paramID(c, "id")
	if !ok {
		return
	}
	page, ok := pageParams(c)
	if !ok {
		return
	}
	publicOnly, _ := strconv.ParseBool(c.DefaultQuery("public_only", "false"))

	viewer := auth.CallerID(c)
	recs, total, err := h.svc.ListByOwner(c.Request.Context(), owner, viewer, page, publicOnly)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]dto.ScoreResponse, 0, len(recs))
	for i := range recs {
		items = append(items, scoreResponse(&recs[i], owner == viewer))
	}
	c.JSON(http.StatusOK, dto.ScoreListResponse{Total: total, Page: page.Number, Limit: page.Size, Items: items})
}
