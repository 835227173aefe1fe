package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	rewarddomain "github.com/smallbiznis/referrals/internal/reward/domain"
)

func (s *Server) ListMyRewards(c *gin.Context) {
	resp, err := s.rewardSvc.ListForUser(c.Request.Context(), userID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RedeemReward(c *gin.Context) {
	resp, err := s.rewardSvc.Redeem(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListRewards(c *gin.Context) {
	var query struct {
		pageQuery
		Status          string `form:"status"`
		BeneficiaryType string `form:"beneficiary_type"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.rewardSvc.ListAll(c.Request.Context(), rewarddomain.ListRewardRequest{
		PageToken:       query.PageToken,
		PageSize:        int32(query.PageSize),
		Status:          query.Status,
		BeneficiaryType: query.BeneficiaryType,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
