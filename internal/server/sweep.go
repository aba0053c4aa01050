package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cooptariff/internal/expiry"
	"github.com/smallbiznis/cooptariff/internal/observability/logger"
	"go.uber.org/zap"
)

type sweepResult struct {
	RunID       string   `json:"run_id"`
	Ledger      string   `json:"ledger"`
	Checked     int      `json:"checked"`
	Deactivated []string `json:"deactivated"`
}

// RunSweep triggers an expiry pass outside the schedule.
func (s *Server) RunSweep(c *gin.Context) {
	if s.sweeper == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	ctx := c.Request.Context()
	results, err := s.sweeper.Run(ctx)
	if err != nil {
		logger.WithContext(ctx, s.log).Error("manual sweep failed", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toSweepResults(results)})
}

func toSweepResults(results []expiry.Result) []sweepResult {
	out := make([]sweepResult, 0, len(results))
	for _, result := range results {
		ids := make([]string, 0, result.Count())
		for _, id := range result.Deactivated {
			ids = append(ids, id.String())
		}
		out = append(out, sweepResult{
			RunID:       result.RunID,
			Ledger:      result.Ledger,
			Checked:     result.Checked,
			Deactivated: ids,
		})
	}
	return out
}
