// Package authhttp holds the framework-neutral bearer check. The gin
// middleware delegates to Authenticate; RequireBearer serves plain net/http
// services.
package authhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/authgate/core"
	oidckit "github.com/PaulFidika/authgate/oidc"
)

const bearerPrefix = "Bearer "

type ctxKey struct{}

// Validator verifies a raw bearer token.
type Validator interface {
	Validate(ctx context.Context, rawToken string) (*oidckit.Claims, error)
}

// BearerToken extracts the token after the case-sensitive "Bearer " prefix.
func BearerToken(header string) (string, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	return tok, tok != ""
}

// Authenticate validates the bearer token on r. A request without one yields
// core.ErrMissingCredential; validation failures are *core.ValidationError.
func Authenticate(r *http.Request, v Validator) (*oidckit.Claims, error) {
	raw, ok := BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, core.ErrMissingCredential
	}
	return v.Validate(r.Context(), raw)
}

// Challenge builds an RFC 6750 WWW-Authenticate value.
func Challenge(realm, errCode, description string) string {
	parts := []string{fmt.Sprintf("realm=%q", realm)}
	if errCode != "" {
		parts = append(parts, fmt.Sprintf("error=%q", errCode))
	}
	if description != "" {
		parts = append(parts, fmt.Sprintf("error_description=%q", description))
	}
	return "Bearer " + strings.Join(parts, ", ")
}

// LogFailure writes a validation failure at warn when the identity provider
// was unreachable and at info when the token itself was bad.
func LogFailure(log logrus.FieldLogger, ve *core.ValidationError) {
	entry := log.WithFields(logrus.Fields{"kind": ve.Kind.String(), "detail": ve.Detail})
	if ve.Err != nil {
		entry = entry.WithError(ve.Err)
	}
	if ve.Kind.Dependency() {
		entry.WithField("reason", "dependency").Warn("token validation failed: identity provider unavailable")
		return
	}
	entry.WithField("reason", "token").Info("token validation failed")
}

// RequireBearer rejects requests without a valid bearer token and stores the
// claims in the request context. log may be nil.
func RequireBearer(v Validator, realm string, log logrus.FieldLogger) func(http.Handler) http.Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := Authenticate(r, v)
			if errors.Is(err, core.ErrMissingCredential) {
				w.Header().Set("WWW-Authenticate", Challenge(realm, "", ""))
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing_bearer_token"})
				return
			}
			if err != nil {
				ve := core.AsValidationError(err)
				LogFailure(log, ve)
				w.Header().Set("WWW-Authenticate", Challenge(realm, "invalid_token", ve.Detail))
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_token", "detail": ve.Detail})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
		})
	}
}

// ClaimsFromContext returns the claims stored by RequireBearer.
func ClaimsFromContext(ctx context.Context) (*oidckit.Claims, bool) {
	cl, ok := ctx.Value(ctxKey{}).(*oidckit.Claims)
	return cl, ok && cl != nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
