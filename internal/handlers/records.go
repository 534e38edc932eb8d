package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetRecords returns a page of dispatch records, newest first
func (h *Handlers) GetRecords(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	recs, total, err := h.ledger.List(c.Request.Context(), c.Query("user_id"), offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch dispatch records",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, RecordsResponse{
		Records: recs,
		Total:   total,
		Offset:  offset,
		Limit:   limit,
	})
}

// GetRecord returns a single dispatch record by ID
func (h *Handlers) GetRecord(c *gin.Context) {
	rec, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Dispatch record not found",
			Code:    http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, rec)
}
