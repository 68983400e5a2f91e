package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/paygate/internal/observability/context"
	"github.com/smallbiznis/paygate/internal/orgcontext"
	"go.uber.org/zap"
)

const (
	HeaderOrg   = "X-Org-ID"
	HeaderActor = "X-Actor"

	contextActorKey = "actor"
)

// OrgContext requires the tenant header and scopes the request to it.
// Authentication happens upstream; the header is trusted as set by the gateway in front.
func (s *Server) OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := parseOrgID(c.GetHeader(HeaderOrg))
		if err != nil {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid organization"))
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ActorContext records the acting principal, "system" or "user:<id>", when present.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := strings.TrimSpace(c.GetHeader(HeaderActor))
		if actor != "" {
			c.Set(contextActorKey, actor)
			kind, id, found := strings.Cut(actor, ":")
			if !found {
				id = kind
			}
			c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), kind, id))
		}
		c.Next()
	}
}

func actorFromContext(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(contextActorKey))
}

func parseOrgID(raw string) (snowflake.ID, error) {
	parsed, err := parseOptionalSnowflakeID(raw)
	if err != nil {
		return 0, err
	}
	if parsed == nil {
		return 0, ErrInvalidRequest
	}
	return *parsed, nil
}

// WebhookRateLimit throttles callbacks per provider and client address. It
// fails open when Redis is unreachable so notifications are never lost to it.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}
		res, err := s.limiter.Allow(c.Request.Context(), c.Param("provider"), c.ClientIP())
		if err != nil {
			s.log.Warn("webhook rate limit unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
