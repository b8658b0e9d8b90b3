package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rangescan/internal/core/ranges"
	"rangescan/internal/domain/admin"
	"rangescan/internal/infrastructure/http/v1/dto"
)

// RangeHandler handles range administration.
type RangeHandler struct {
	*BaseHandler
	service *admin.Service
}

// NewRangeHandler creates a range handler.
func NewRangeHandler(base *BaseHandler, service *admin.Service) *RangeHandler {
	return &RangeHandler{BaseHandler: base, service: service}
}

// List returns all ranges, optionally narrowed by a CEL expression.
// GET /api/v1/ranges?where=status=="pending"
func (h *RangeHandler) List(c *gin.Context) {
	listing, err := h.service.List(c.Request.Context(), c.Query("where"))
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.RangeResponse, 0, len(listing.Ranges))
	for _, r := range listing.Ranges {
		items = append(items, dto.FromRange(r))
	}
	resp := dto.RangeListResponse{ListResponse: dto.NewListResponse(items)}
	for _, rej := range listing.Rejected {
		resp.Rejected = append(resp.Rejected, dto.RejectedRange{Key: rej.Key, Reason: rej.Err.Error()})
	}
	c.JSON(http.StatusOK, resp)
}

// Summary returns range counts per status.
// GET /api/v1/ranges/summary
func (h *RangeHandler) Summary(c *gin.Context) {
	sum, err := h.service.Summary(c.Request.Context())
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromSummary(sum))
}

// Get returns one range.
// GET /api/v1/ranges/:key
func (h *RangeHandler) Get(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromRange(r))
}

// Create adds a range.
// POST /api/v1/ranges
func (h *RangeHandler) Create(c *gin.Context) {
	var req dto.CreateRangeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	r, err := h.service.Create(c.Request.Context(), req.ToNewRange())
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromRange(r))
}

// ChangeStatus applies an operator status edit.
// PATCH /api/v1/ranges/:key/status
func (h *RangeHandler) ChangeStatus(c *gin.Context) {
	var req dto.ChangeStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	r, err := h.service.ChangeStatus(c.Request.Context(), c.Param("key"), req.Status)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromRange(r))
}

// Attempts returns attempt counts by result.
// GET /api/v1/ranges/:key/attempts
func (h *RangeHandler) Attempts(c *gin.Context) {
	counts, err := h.service.Attempts(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.Error(c, err)
		return
	}
	if counts == nil {
		counts = map[string]int64{}
	}
	c.JSON(http.StatusOK, dto.AttemptsResponse{Key: ranges.NormalizeKey(c.Param("key")), Counts: counts})
}
