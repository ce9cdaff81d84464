package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/hearth/internal/monitoring"
	"github.com/charlesng35/hearth/pkg/errors"
	"github.com/charlesng35/hearth/pkg/response"
)

const healthTimeout = 5 * time.Second

var errUnavailable = errors.New("UNAVAILABLE", "service dependencies are unavailable", http.StatusServiceUnavailable)

// Live answers as long as the process serves requests.
func Live(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": monitoring.StatusUp})
}

// Ready evaluates every registered dependency check. Degraded dependencies
// still answer 200 so load balancers keep routing.
func Ready(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(requestContext(c), healthTimeout)
		defer cancel()

		report := manager.Evaluate(ctx)
		if !report.Healthy() {
			response.ErrorWithDetails(c, errUnavailable, report)
			return
		}
		response.Success(c, http.StatusOK, report)
	}
}
