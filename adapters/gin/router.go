// Package authgin exposes the gateway over gin.
package authgin

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/adapters/gin/handlers"
	"github.com/PaulFidika/authgate/adapters/ginutil"
	"github.com/PaulFidika/authgate/core"
	"github.com/PaulFidika/authgate/metrics"
)

// Deps are the collaborators the router wires into its routes.
type Deps struct {
	Validator Validator
	Upstream  handlers.Upstream
	Realm     string
	Limiter   ginutil.RateLimiter  // nil disables rate limiting
	Events    core.AuthEventLogger // nil disables auditing
	Metrics   *metrics.Metrics     // nil disables /metrics
	Logger    logrus.FieldLogger
}

// NewRouter builds the gateway's HTTP surface:
//
//	GET /health                 liveness, no dependencies
//	GET /api/protected/health   bearer-protected upstream health proxy
//	GET /metrics                Prometheus exposition (when metrics are on)
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), Correlation(d.Logger), RequestLogger(d.Metrics))

	r.GET("/health", handlers.HandleHealthGET())
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	protected := r.Group("/api/protected")
	protected.Use(
		RateLimit(d.Limiter, ginutil.RLProtectedRoute),
		RequireBearer(d.Validator, BearerOptions{Realm: d.Realm, Events: d.Events, Metrics: d.Metrics}),
	)
	protected.GET("/health", handlers.HandleProtectedHealthGET(d.Upstream, d.Events, d.Metrics))
	return r
}
