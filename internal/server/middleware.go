package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	obscontext "github.com/smallbiznis/referrals/internal/observability/context"
	"go.uber.org/zap"
)

const (
	contextUserIDKey   = "user_id"
	contextUserRoleKey = "user_role"
	contextUserNameKey = "user_name"
)

// Claims are asserted by the upstream identity provider.
type Claims struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

var errMissingSubject = errors.New("token has no subject")

// AuthRequired verifies the HS256 bearer token and stores the caller's
// identity on the request.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := s.parseBearer(c.GetHeader("Authorization"))
		if err != nil {
			s.log.Debug("bearer token rejected", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, claims.Subject)
		c.Set(contextUserRoleKey, claims.Role)
		c.Set(contextUserNameKey, claims.Name)
		c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), claims.Subject, claims.Role))
		c.Next()
	}
}

// RequireRole must run after AuthRequired.
func (s *Server) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(contextUserRoleKey)
		for _, allowed := range roles {
			if strings.EqualFold(role, allowed) {
				c.Next()
				return
			}
		}
		AbortWithError(c, ErrForbidden)
	}
}

func (s *Server) parseBearer(header string) (*Claims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, errors.New("jwt secret not configured")
	}

	const scheme = "Bearer "
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return nil, errors.New("missing bearer token")
	}
	raw := strings.TrimSpace(header[len(scheme):])

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errMissingSubject
	}
	return claims, nil
}

func userID(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}

func userName(c *gin.Context) string {
	return c.GetString(contextUserNameKey)
}
