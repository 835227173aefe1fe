package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	restaurantdomain "github.com/smallbiznis/referrals/internal/restaurant/domain"
)

func (s *Server) RegisterRestaurant(c *gin.Context) {
	var req restaurantdomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OwnerID = userID(c)

	resp, err := s.restaurantSvc.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}
