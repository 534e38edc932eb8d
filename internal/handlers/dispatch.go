package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"outreach-dispatch-go/internal/dispatch"
)

// Dispatch triggers one outbound send through the dispatch engine
func (h *Handlers) Dispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	res, err := h.engine.Dispatch(c.Request.Context(), dispatch.Request{
		UserID:        req.UserID,
		JobID:         req.JobID,
		ApplicationID: req.ApplicationID,
		Recipient:     req.Recipient,
		Subject:       req.Subject,
		Body:          req.Body,
		Purpose:       req.Purpose,
	})
	h.writeDispatchResult(c, res, err)
}

// DispatchApplication sends a stored application draft. For DRAFT-mode
// users this is the approval action.
func (h *Handlers) DispatchApplication(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "user_id is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	res, err := h.engine.DispatchApplication(c.Request.Context(), req.UserID, c.Param("id"))
	h.writeDispatchResult(c, res, err)
}

func (h *Handlers) writeDispatchResult(c *gin.Context, res *dispatch.Result, err error) {
	if err != nil {
		var verr *dispatch.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "validation_error",
				Message: verr.Msg,
				Code:    http.StatusBadRequest,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "dispatch_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, toDispatchResponse(res))
}

func toDispatchResponse(res *dispatch.Result) *DispatchResponse {
	if res == nil {
		return nil
	}
	out := &DispatchResponse{
		Outcome:     string(res.Outcome),
		Reason:      res.Reason,
		Record:      res.Record,
		Application: res.Application,
	}
	if res.RetryAfter > 0 {
		out.RetryAfter = res.RetryAfter.String()
	}
	return out
}
