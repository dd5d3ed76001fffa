package authserver

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/moweilong/widgetauth/internal/pkg/errno"
	"github.com/moweilong/widgetauth/pkg/core"
	mw "github.com/moweilong/widgetauth/pkg/gin/middleware"
	"github.com/moweilong/widgetauth/pkg/jwt"
	"github.com/moweilong/widgetauth/pkg/log"
)

// TokenResponse is the body of a successful mint or refresh.
type TokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresAt int64  `json:"expires_at"`
}

// RefreshRequest is the body of a refresh.
type RefreshRequest struct {
	Token string `json:"token" binding:"required"`
}

// WhoAmIResponse describes the caller's widget token.
type WhoAmIResponse struct {
	Tenant    string `json:"tenant"`
	TokenID   string `json:"token_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// Mint exchanges the owner token in the Authorization header for a widget
// token. The header carries the raw owner token; a Bearer prefix is tolerated.
func (s *Server) Mint(c *gin.Context) {
	owner := strings.TrimSpace(c.GetHeader(mw.HeaderAuthorizationKey))
	if scheme, rest, ok := strings.Cut(owner, " "); ok && strings.EqualFold(scheme, "Bearer") {
		owner = strings.TrimSpace(rest)
	}

	tenant, ok := s.owners[owner]
	if owner == "" || !ok {
		s.metrics.observe("mint", errno.ErrInvalidOwnerToken)
		core.WriteResponse(c, nil, errno.ErrInvalidOwnerToken)
		return
	}

	token, claims, err := s.issuer.Issue(tenant)
	s.metrics.observe("mint", err)
	if err != nil {
		log.Errorw(err, "Failed to issue widget token", "tenant", tenant)
		core.WriteResponse(c, nil, errno.ErrInternal)
		return
	}

	log.Infow("Widget token minted", "tenant", tenant, "jti", claims.ID)
	core.WriteResponse(c, tokenResponse(token, claims), nil)
}

// Refresh exchanges a widget token, expired for no longer than the renew
// grace, for a new one. Each token can be refreshed once.
func (s *Server) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.metrics.observe("refresh", err)
		core.WriteResponse(c, nil, errno.ErrInvalidArgument.WithMessage("%s", err.Error()))
		return
	}

	token, claims, err := s.issuer.Renew(c.Request.Context(), req.Token)
	s.metrics.observe("refresh", err)
	if err != nil {
		core.WriteResponse(c, nil, err)
		return
	}

	log.Infow("Widget token refreshed", "tenant", claims.Tenant(), "jti", claims.ID)
	core.WriteResponse(c, tokenResponse(token, claims), nil)
}

// WhoAmI is a protected resource for exercising bearer tokens end to end.
func (s *Server) WhoAmI(c *gin.Context) {
	claims, _ := mw.GetClaims(c)
	core.WriteResponse(c, WhoAmIResponse{
		Tenant:    claims.Tenant(),
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Unix(),
	}, nil)
}

func tokenResponse(token string, claims *jwt.Claims) TokenResponse {
	return TokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: claims.ExpiresAt.Unix()}
}
