package controllers

import (
	"net/http"
	"strconv"

	"github.com/osvaldoandrade/ebookpdf/internal/services"

	"github.com/gin-gonic/gin"
)

type listJobsController struct{ svc services.ConversionService }

func NewListJobsController(svc services.ConversionService) *listJobsController {
	return &listJobsController{svc: svc}
}

func (h *listJobsController) Handle(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' (must be a positive integer)"})
			return
		}
		limit = n
	}
	recs, err := h.svc.ListJobs(c.Request.Context(), limit)
	if err != nil {
		loggerFrom(c).Error("list jobs failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": recs, "count": len(recs)})
}
