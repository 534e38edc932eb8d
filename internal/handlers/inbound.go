package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"outreach-dispatch-go/internal/dispatch"
	"outreach-dispatch-go/internal/reply"
)

// Inbound accepts one classified inbound message and routes it.
// Redelivery of a known message id returns the DUPLICATE action.
func (h *Handlers) Inbound(c *gin.Context) {
	var req InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	action, err := h.router.Route(c.Request.Context(), reply.Inbound{
		UserID:     req.UserID,
		MessageID:  req.MessageID,
		JobID:      req.JobID,
		From:       req.From,
		Subject:    req.Subject,
		Body:       req.Body,
		ReceivedAt: req.ReceivedAt,
		Classification: reply.Classification{
			Label:   req.Classification.Label,
			Payload: req.Classification.Payload,
		},
	})
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
			Error:   "routing_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, InboundResponse{
		Action:    action.Kind,
		Interview: action.Interview,
		Dispatch:  toDispatchResponse(action.Dispatch),
	})
}

// Bounce records an asynchronous provider bounce against the matching
// sent record.
func (h *Handlers) Bounce(c *gin.Context) {
	var req BounceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body",
			Code:    http.StatusBadRequest,
		})
		return
	}

	rec, err := h.ledger.MarkBounced(c.Request.Context(), req.UserID, req.ProviderMessageID, req.Reason)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "No sent record matches this provider message id",
			Code:    http.StatusNotFound,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to record bounce",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, rec)
}
