package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	defaultFailedJobsLimit = 50
	maxFailedJobsLimit     = 500
)

func (s *Server) GetJobCounts(c *gin.Context) {
	if s.queue == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	counts, err := s.queue.Counts(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": counts})
}

// ListFailedJobs exposes retained emission jobs that exhausted their
// attempts. They are never resubmitted automatically.
func (s *Server) ListFailedJobs(c *gin.Context) {
	if s.queue == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var query struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	limit := query.Limit
	switch {
	case limit <= 0:
		limit = defaultFailedJobsLimit
	case limit > maxFailedJobsLimit:
		limit = maxFailedJobsLimit
	}

	jobs, err := s.queue.Failed(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": jobs})
}
