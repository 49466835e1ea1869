package authgin

import (
	"errors"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/adapters/ginutil"
	authhttp "github.com/PaulFidika/authgate/adapters/http"
	"github.com/PaulFidika/authgate/core"
	"github.com/PaulFidika/authgate/metrics"
)

const maxCorrelationIDSize = 128

// Validator verifies a raw bearer token.
type Validator = authhttp.Validator

// BearerOptions configures RequireBearer.
type BearerOptions struct {
	Realm   string // advertised in WWW-Authenticate; usually the issuer
	Events  core.AuthEventLogger
	Metrics *metrics.Metrics
}

// RequireBearer admits requests carrying a valid bearer token and stores the
// verified claims in the gin context.
func RequireBearer(v Validator, opts BearerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := ginutil.Logger(c)
		claims, err := authhttp.Authenticate(c.Request, v)
		if errors.Is(err, core.ErrMissingCredential) {
			log.Info("request without bearer token")
			opts.Metrics.ObserveValidation(metrics.ResultMissing, "missing_bearer_token")
			ev := ginutil.NewEvent(c, core.EventMissingCredential)
			ev.Issuer = opts.Realm
			ginutil.Emit(c, opts.Events, ev)
			ginutil.MissingToken(c, opts.Realm)
			return
		}
		if err != nil {
			ve := core.AsValidationError(err)
			authhttp.LogFailure(log, ve)
			if ve.Kind.Dependency() {
				opts.Metrics.ObserveDependencyFailure(ve.Kind.String())
			} else {
				opts.Metrics.ObserveValidation(metrics.ResultInvalid, ve.Detail)
			}
			ev := ginutil.NewEvent(c, core.EventValidationFailed)
			ev.Issuer, ev.Reason, ev.Detail = opts.Realm, ve.Kind.String(), ve.Detail
			ginutil.Emit(c, opts.Events, ev)
			ginutil.InvalidToken(c, opts.Realm, ve.Detail)
			return
		}

		opts.Metrics.ObserveValidation(metrics.ResultValid, "ok")
		ginutil.SetClaims(c, claims)
		ginutil.SetLogger(c, log.WithField("subject", claims.SubjectOr("unknown")))
		ev := ginutil.NewEvent(c, core.EventValidationSucceeded)
		ev.Subject, ev.Issuer = claims.Subject, claims.Issuer
		ginutil.Emit(c, opts.Events, ev)
		c.Next()
	}
}

// Correlation echoes a well-formed inbound X-Correlation-ID or mints
// req-<uuid>, and scopes the request logger to it.
func Correlation(log logrus.FieldLogger) gin.HandlerFunc {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(c *gin.Context) {
		id := c.GetHeader(ginutil.HeaderCorrelationID)
		if !validCorrelationID(id) {
			id = "req-" + uuid.NewString()
		}
		ginutil.SetCorrelationID(c, id)
		ginutil.SetLogger(c, log.WithField("correlation_id", id))
		c.Header(ginutil.HeaderCorrelationID, id)
		c.Next()
	}
}

func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDSize {
		return false
	}
	for _, r := range id {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || r == ' ' {
			return false
		}
	}
	return true
}

// RequestLogger writes one line per request and records its latency.
func RequestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveRequest(route, c.Request.Method, status, elapsed)
		entry := ginutil.Logger(c).WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": elapsed.Milliseconds(),
		})
		if status >= 500 {
			entry.Warn("request")
			return
		}
		entry.Info("request")
	}
}

// RateLimit rejects clients over the bucket's limit with 429.
func RateLimit(rl ginutil.RateLimiter, bucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, bucket) {
			ginutil.Logger(c).WithField("bucket", bucket).Info("rate limited")
			ginutil.TooMany(c)
			return
		}
		c.Next()
	}
}
