package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PaulFidika/authgate/adapters/ginutil"
	"github.com/PaulFidika/authgate/core"
	"github.com/PaulFidika/authgate/metrics"
	"github.com/PaulFidika/authgate/upstream"
)

// Upstream is the slice of the upstream client the handler needs.
type Upstream interface {
	Health(ctx context.Context) (*upstream.Result, error)
}

// HandleProtectedHealthGET proxies the upstream health check for a caller the
// bearer middleware already authenticated.
func HandleProtectedHealthGET(up Upstream, events core.AuthEventLogger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, _ := ginutil.CurrentCaller(c)
		res, err := up.Health(c.Request.Context())
		if err != nil {
			ginutil.Logger(c).WithError(err).WithField("subject", caller.Subject).Warn("upstream call failed")
			m.ObserveDependencyFailure("upstream")
			ev := ginutil.NewEvent(c, core.EventUpstreamFailed)
			ev.Subject, ev.Issuer = caller.Subject, caller.Issuer
			ev.Reason = "upstream_unavailable"
			ginutil.Emit(c, events, ev)
			ginutil.BadGateway(c, "upstream_unavailable")
			return
		}
		m.ObserveUpstream(res.Status)
		c.JSON(http.StatusOK, gin.H{
			"gateway_auth":    "success",
			"claims_subject":  caller.Subject,
			"upstream_status": res.Status,
			"upstream_body":   res.Body,
		})
	}
}
