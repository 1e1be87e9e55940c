package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/ebookpdf/internal/services"
	"github.com/osvaldoandrade/ebookpdf/pkg/persistence"

	"github.com/gin-gonic/gin"
)

type getJobController struct{ svc services.ConversionService }

func NewGetJobController(svc services.ConversionService) *getJobController {
	return &getJobController{svc}
}

func (h *getJobController) Handle(c *gin.Context) {
	rec, err := h.svc.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		loggerFrom(c).Error("get job failed", "job_id", c.Param("id"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, rec)
}
