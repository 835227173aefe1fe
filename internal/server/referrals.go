package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	referraldomain "github.com/smallbiznis/referrals/internal/referral/domain"
	codedomain "github.com/smallbiznis/referrals/internal/referralcode/domain"
)

func (s *Server) ValidateReferralCode(c *gin.Context) {
	resp, err := s.codeSvc.ValidateCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetMyReferralCode(c *gin.Context) {
	code, err := s.codeSvc.GetOrCreateCode(c.Request.Context(), codedomain.GetOrCreateCodeRequest{
		UserID:   userID(c),
		UserName: userName(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": code})
}

func (s *Server) ListSentReferrals(c *gin.Context) {
	resp, err := s.referralSvc.ListSent(c.Request.Context(), userID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetReceivedReferral(c *gin.Context) {
	resp, err := s.referralSvc.GetReceived(c.Request.Context(), userID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetReferralScore(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	resp, err := s.scoringSvc.GetScore(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateReferralPipeline(c *gin.Context) {
	var req referraldomain.UpdatePipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Status != nil {
		normalized := referraldomain.PipelineStatus(strings.ToUpper(strings.TrimSpace(string(*req.Status))))
		req.Status = &normalized
	}

	resp, err := s.referralSvc.UpdatePipeline(c.Request.Context(), c.Param("id"), req, userID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) QualifyReferral(c *gin.Context) {
	resp, err := s.referralSvc.Qualify(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ExpireReferral(c *gin.Context) {
	resp, err := s.referralSvc.Expire(c.Request.Context(), c.Param("id"), userID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetReferralTimeline(c *gin.Context) {
	resp, err := s.referralSvc.GetTimeline(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListReferrals(c *gin.Context) {
	var query struct {
		pageQuery
		PipelineStatus string `form:"pipeline_status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.referralSvc.ListAll(c.Request.Context(), referraldomain.ListReferralRequest{
		PageToken:      query.PageToken,
		PageSize:       int32(query.PageSize),
		PipelineStatus: query.PipelineStatus,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
