// Package ginutil holds the small gin helpers shared by the gateway's
// middleware and handlers: error responses, rate limiting, request-scoped
// values and audit event plumbing.
package ginutil

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	authhttp "github.com/PaulFidika/authgate/adapters/http"
	"github.com/PaulFidika/authgate/core"
	oidckit "github.com/PaulFidika/authgate/oidc"
)

// Rate limit buckets.
const (
	RLProtectedRoute = "gateway:protected"
)

// Context keys set on *gin.Context.
const (
	keyClaims        = "auth.claims"
	keyCorrelationID = "auth.correlation_id"
	keyLogger        = "auth.logger"
)

// HeaderCorrelationID carries the request correlation id in and out.
const HeaderCorrelationID = "X-Correlation-ID"

// RateLimiter is satisfied by the memory and Redis limiters.
type RateLimiter interface {
	AllowNamed(ctx context.Context, bucket, key string) (bool, error)
}

// AllowNamed applies bucket to the client IP. A nil limiter allows everything;
// limiter errors are logged and fail open.
func AllowNamed(c *gin.Context, rl RateLimiter, bucket string) bool {
	if rl == nil {
		return true
	}
	ok, err := rl.AllowNamed(c.Request.Context(), bucket, c.ClientIP())
	if err != nil {
		Logger(c).WithError(err).WithField("bucket", bucket).Warn("rate limiter unavailable, allowing request")
		return true
	}
	return ok
}

func TooMany(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
}

func BadGateway(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": code})
}

func ServerErr(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": code})
}

// MissingToken answers 401 missing_bearer_token with a bare Bearer challenge.
func MissingToken(c *gin.Context, realm string) {
	c.Header("WWW-Authenticate", Challenge(realm, "", ""))
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_bearer_token"})
}

// InvalidToken answers 401 invalid_token. detail must be one of the fixed
// core.Detail* strings.
func InvalidToken(c *gin.Context, realm, detail string) {
	c.Header("WWW-Authenticate", Challenge(realm, "invalid_token", detail))
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "detail": detail})
}

// Challenge builds an RFC 6750 WWW-Authenticate value.
func Challenge(realm, errCode, description string) string {
	return authhttp.Challenge(realm, errCode, description)
}

// SetClaims stores validated claims for downstream handlers.
func SetClaims(c *gin.Context, cl *oidckit.Claims) { c.Set(keyClaims, cl) }

// ClaimsFromGin returns the claims stored by the bearer middleware.
func ClaimsFromGin(c *gin.Context) (*oidckit.Claims, bool) {
	v, ok := c.Get(keyClaims)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*oidckit.Claims)
	return cl, ok && cl != nil
}

func SetCorrelationID(c *gin.Context, id string) { c.Set(keyCorrelationID, id) }

func CorrelationID(c *gin.Context) string { return c.GetString(keyCorrelationID) }

// SetLogger stores a request-scoped logger.
func SetLogger(c *gin.Context, l logrus.FieldLogger) { c.Set(keyLogger, l) }

// Logger returns the request-scoped logger, or the standard logger tagged
// with the correlation id.
func Logger(c *gin.Context) logrus.FieldLogger {
	if v, ok := c.Get(keyLogger); ok {
		if l, ok := v.(logrus.FieldLogger); ok {
			return l
		}
	}
	return logrus.WithField("correlation_id", CorrelationID(c))
}

// CallerView is a unified view of the caller for handlers.
type CallerView struct {
	Subject  string   `json:"subject"`
	Issuer   string   `json:"issuer,omitempty"`
	Audience []string `json:"audience,omitempty"`
	Source   string   `json:"source"` // "claims" | "none"
}

// CurrentCaller returns the authenticated caller, if any.
func CurrentCaller(c *gin.Context) (CallerView, bool) {
	if cl, ok := ClaimsFromGin(c); ok {
		return CallerView{
			Subject:  cl.SubjectOr("unknown"),
			Issuer:   cl.Issuer,
			Audience: cl.Audience,
			Source:   "claims",
		}, true
	}
	return CallerView{Source: "none"}, false
}

// NewEvent pre-fills an audit event with request metadata.
func NewEvent(c *gin.Context, typ string) core.AuthEvent {
	return core.AuthEvent{
		Type:          typ,
		ClientIP:      c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: CorrelationID(c),
		OccurredAt:    time.Now().UTC(),
	}
}

// Emit hands ev to events. Failures are logged and never affect the response.
func Emit(c *gin.Context, events core.AuthEventLogger, ev core.AuthEvent) {
	if events == nil {
		return
	}
	if err := events.LogAuthEvent(c.Request.Context(), ev); err != nil {
		Logger(c).WithError(err).WithField("event", ev.Type).Warn("audit event dropped")
	}
}
