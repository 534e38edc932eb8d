package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"outreach-dispatch-go/internal/model"
)

// UpsertJob registers a discovered job posting. Companies deduplicate
// by name and jobs by posting URL: re-submitting a known URL returns
// the existing job without touching its lifecycle status.
func (h *Handlers) UpsertJob(c *gin.Context) {
	var req UpsertJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
			Code:    http.StatusBadRequest,
		})
		return
	}

	db := h.db.WithContext(c.Request.Context())

	company := model.Company{
		ID:      uuid.NewString(),
		Name:    req.CompanyName,
		HREmail: req.HREmail,
		Website: req.Website,
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "company_name"}},
		DoNothing: true,
	}).Create(&company)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to upsert company",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	if res.RowsAffected == 0 {
		if err := db.First(&company, "company_name = ?", req.CompanyName).Error; err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "database_error",
				Message: "Failed to load company",
				Code:    http.StatusInternalServerError,
			})
			return
		}
	}

	job := model.Job{
		ID:        uuid.NewString(),
		CompanyID: company.ID,
		URL:       req.JobURL,
		Title:     req.JobTitle,
		Status:    model.JobDiscovered,
	}
	res = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "job_url"}},
		DoNothing: true,
	}).Create(&job)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "database_error",
			Message: "Failed to upsert job",
			Code:    http.StatusInternalServerError,
		})
		return
	}
	created := res.RowsAffected == 1
	if !created {
		if err := db.First(&job, "job_url = ?", req.JobURL).Error; err != nil {
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "database_error",
				Message: "Failed to load job",
				Code:    http.StatusInternalServerError,
			})
			return
		}
	}

	job.Company = &company
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, job)
}
