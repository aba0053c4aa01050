package server

import (
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cooptariff/internal/observability/logger"
	"go.uber.org/zap"
)

// SweepOnRead runs the expiry pass before a read so listings never show a stale active flag.
// A failed pass is logged and the read still proceeds.
func (s *Server) SweepOnRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.sweeper != nil && s.ledger.Get().Sweep.OnRead {
			ctx := c.Request.Context()
			if _, err := s.sweeper.Run(ctx); err != nil {
				logger.WithContext(ctx, s.log).Warn("read-time sweep failed", zap.Error(err))
			}
		}
		c.Next()
	}
}
