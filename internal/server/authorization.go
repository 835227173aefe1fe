package server

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/referrals/internal/authorization"
)

// authorize must run after AuthRequired.
func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		err := s.authzSvc.Authorize(c.Request.Context(), c.GetString(contextUserRoleKey), object, action)
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, authorization.ErrForbidden), errors.Is(err, authorization.ErrInvalidRole):
			AbortWithError(c, ErrForbidden)
		default:
			AbortWithError(c, err)
		}
	}
}
