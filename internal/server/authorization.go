package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/paygate/internal/orgcontext"
)

func (s *Server) authorizeOrgAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeOrgActionWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeOrgActionWithContext(c *gin.Context, object string, action string) error {
	actor := actorFromContext(c)
	if actor == "" {
		return ErrUnauthorized
	}
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		return ErrInvalidRequest
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor, orgID, strings.TrimSpace(object), strings.TrimSpace(action))
}
