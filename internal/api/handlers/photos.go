package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/racephoto/internal/models"
	"github.com/your-org/racephoto/internal/search"
	"github.com/your-org/racephoto/pkg/dto"
)

const maxListLimit = 500

// PhotoQuery is the read side of the photo index used by the gallery routes.
type PhotoQuery interface {
	PhotosByBib(ctx context.Context, ev models.EventRef, bib string, limit int) ([]models.Photo, error)
	PhotosByPhotographer(ctx context.Context, ev models.EventRef, photographerID string, limit int) ([]models.Photo, error)
}

// Presigner issues download URLs for stored photos.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Searcher runs a selfie search.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Match, error)
}

type PhotoHandler struct {
	index   PhotoQuery
	selfie  Searcher
	presign Presigner
	urlTTL  time.Duration
}

// NewPhotoHandler creates the gallery and search handler. presign may be
// nil, in which case summaries carry no URL.
func NewPhotoHandler(index PhotoQuery, selfie Searcher, presign Presigner, urlTTL time.Duration) *PhotoHandler {
	return &PhotoHandler{index: index, selfie: selfie, presign: presign, urlTTL: urlTTL}
}

// SearchSelfie handles POST /v1/search/selfie.
func (h *PhotoHandler) SearchSelfie(c *gin.Context) {
	var req dto.SelfieSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "request body must be a JSON object with image_b64, organizer_id and event_id")
		return
	}

	matches, err := h.selfie.Search(c.Request.Context(), search.Query{
		ImageB64: req.ImageB64,
		Bib:      req.Bib,
		TenantID: req.OrganizerID,
		EventID:  req.EventID,
	})
	if err != nil {
		if errors.Is(err, search.ErrInvalidRequest) {
			writeError(c, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		slog.Error("selfie search failed",
			"organizer_id", req.OrganizerID, "event_id", req.EventID, "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "selfie search failed")
		return
	}

	resp := dto.SelfieSearchResponse{NewPhotos: make([]dto.PhotoSummary, 0, len(matches))}
	for _, m := range matches {
		resp.NewPhotos = append(resp.NewPhotos, h.summary(c.Request.Context(), m.Photo, m.Similarity))
	}
	c.JSON(http.StatusOK, resp)
}

// ByBib handles GET /v1/events/:organizer/:event/bibs/:bib/photos.
// Passing NONE lists photos confirmed to carry no bib.
func (h *PhotoHandler) ByBib(c *gin.Context) {
	ev := eventParam(c)
	photos, err := h.index.PhotosByBib(c.Request.Context(), ev, c.Param("bib"), listLimit(c))
	if err != nil {
		slog.Error("list photos by bib failed", "event_id", ev.EventID, "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "failed to list photos")
		return
	}
	c.JSON(http.StatusOK, h.list(c.Request.Context(), photos))
}

// ByPhotographer handles GET /v1/events/:organizer/:event/photographers/:photographer/photos.
func (h *PhotoHandler) ByPhotographer(c *gin.Context) {
	ev := eventParam(c)
	photos, err := h.index.PhotosByPhotographer(c.Request.Context(), ev, c.Param("photographer"), listLimit(c))
	if err != nil {
		slog.Error("list photos by photographer failed", "event_id", ev.EventID, "error", err)
		writeError(c, http.StatusInternalServerError, "internal_error", "failed to list photos")
		return
	}
	c.JSON(http.StatusOK, h.list(c.Request.Context(), photos))
}

func (h *PhotoHandler) list(ctx context.Context, photos []models.Photo) dto.PhotoListResponse {
	resp := dto.PhotoListResponse{Photos: make([]dto.PhotoSummary, 0, len(photos)), Total: len(photos)}
	for _, p := range photos {
		resp.Photos = append(resp.Photos, h.summary(ctx, p, 0))
	}
	return resp
}

func (h *PhotoHandler) summary(ctx context.Context, p models.Photo, similarity float64) dto.PhotoSummary {
	s := Summary(p)
	s.Similarity = similarity
	if h.presign != nil {
		key := p.ProcessedKey
		if key == "" {
			key = p.RawKey
		}
		url, err := h.presign.PresignGet(ctx, p.Bucket, key, h.urlTTL)
		if err != nil {
			slog.Warn("presign photo failed", "key", key, "error", err)
		} else {
			s.URL = url
		}
	}
	return s
}

// Summary converts an index record to its API form.
func Summary(p models.Photo) dto.PhotoSummary {
	return dto.PhotoSummary{
		ImageKey:       p.ImageKey,
		OrganizerID:    p.TenantID,
		EventID:        p.EventID,
		Bib:            p.BibOrNone(),
		BibSource:      string(p.BibSource),
		Status:         string(p.Status),
		PhotographerID: p.PhotographerID,
		FaceCount:      len(p.FaceIDs),
		UploadedAt:     p.UploadedAt.Format(time.RFC3339),
	}
}

func eventParam(c *gin.Context) models.EventRef {
	return models.EventRef{TenantID: c.Param("organizer"), EventID: c.Param("event")}
}

func listLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		return 100
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: code, Message: message})
}
