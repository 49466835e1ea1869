package oidckit

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/authgate/core"
	jwtkit "github.com/PaulFidika/authgate/jwt"
	authtest "github.com/PaulFidika/authgate/testing"
)

func newValidator(idp *authtest.TestIssuer, audience string) *TokenValidator {
	kr := NewKeyResolver(NewMetadataResolver())
	return NewTokenValidator(ValidatorConfig{Issuer: idp.URL(), Audience: audience}, kr)
}

func requireDetail(t *testing.T, err error, kind core.FailureKind, detail string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidToken))
	ve := core.AsValidationError(err)
	assert.Equal(t, kind, ve.Kind, "kind")
	assert.Equal(t, detail, ve.Detail, "detail")
}

func TestValidateAcceptsValidToken(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()
	v := newValidator(idp, "")

	claims, err := v.Validate(context.Background(), idp.CreateTokenWithClaims("user-123", map[string]any{"email": "a@example.com"}))
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)
	assert.Equal(t, idp.URL(), claims.Issuer)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
	assert.Equal(t, "a@example.com", claims.Raw["email"])
	assert.Equal(t, idp.URL(), v.Issuer())
}

func TestValidateWithoutSubject(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()

	claims, err := newValidator(idp, "").Validate(context.Background(), idp.CreateToken(""))
	require.NoError(t, err)
	assert.Equal(t, "unknown", claims.SubjectOr("unknown"))
}

func TestValidateAudience(t *testing.T) {
	idp := authtest.NewTestIssuerWithAudience("gateway")
	defer idp.Close()

	_, err := newValidator(idp, "gateway").Validate(context.Background(), idp.CreateToken("u"))
	require.NoError(t, err)

	_, err = newValidator(idp, "other-service").Validate(context.Background(), idp.CreateToken("u"))
	requireDetail(t, err, core.KindInvalidToken, core.DetailAudienceMismatch)

	// No configured audience: any aud passes.
	_, err = newValidator(idp, "").Validate(context.Background(), idp.CreateTokenWithClaims("u", map[string]any{"aud": "whatever"}))
	require.NoError(t, err)
}

func TestValidateAudienceRequiredWhenConfigured(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()

	_, err := newValidator(idp, "gateway").Validate(context.Background(), idp.CreateToken("u"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInvalidToken))
	assert.False(t, core.AsValidationError(err).Kind.Dependency())
}

func TestValidateRejectsTimeClaims(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()
	v := newValidator(idp, "")
	future := time.Now().Add(time.Hour).Unix()

	_, err := v.Validate(context.Background(), idp.CreateExpiredToken("u"))
	requireDetail(t, err, core.KindInvalidToken, core.DetailTokenExpired)

	_, err = v.Validate(context.Background(), idp.CreateTokenWithClaims("u", map[string]any{"nbf": future}))
	requireDetail(t, err, core.KindInvalidToken, core.DetailTokenNotYetValid)

	_, err = v.Validate(context.Background(), idp.CreateTokenWithClaims("u", map[string]any{"iat": future}))
	requireDetail(t, err, core.KindInvalidToken, core.DetailTokenNotYetValid)

	_, err = v.Validate(context.Background(), idp.CreateTokenWithClaims("u", map[string]any{"exp": nil}))
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidToken, core.AsValidationError(err).Kind)
}

func TestValidateClockSkew(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()
	kr := NewKeyResolver(NewMetadataResolver())
	v := NewTokenValidator(ValidatorConfig{Issuer: idp.URL(), ClockSkew: time.Minute}, kr)

	tok := idp.CreateTokenWithClaims("u", map[string]any{"exp": time.Now().Add(-10 * time.Second).Unix()})
	_, err := v.Validate(context.Background(), tok)
	require.NoError(t, err)
}

func TestValidateIssuerMismatch(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()

	tok := idp.CreateTokenWithClaims("u", map[string]any{"iss": "https://evil.example.com"})
	_, err := newValidator(idp, "").Validate(context.Background(), tok)
	requireDetail(t, err, core.KindInvalidToken, core.DetailIssuerMismatch)
}

func TestValidateRejectsForgedSignature(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()
	v := newValidator(idp, "")

	// Same kid as the published key, different private key.
	forged := idp.SignWithUnpublishedKey("test-key-1", idp.BaseClaims("u"))
	_, err := v.Validate(context.Background(), forged)
	requireDetail(t, err, core.KindInvalidToken, core.DetailSignatureInvalid)

	// Payload swapped after signing.
	good := strings.Split(idp.CreateToken("u"), ".")
	other := strings.Split(idp.CreateToken("admin"), ".")
	_, err = v.Validate(context.Background(), good[0]+"."+other[1]+"."+good[2])
	requireDetail(t, err, core.KindInvalidToken, core.DetailSignatureInvalid)
}

func TestValidateUnknownKid(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()

	tok := idp.SignWithUnpublishedKey("rogue", idp.BaseClaims("u"))
	_, err := newValidator(idp, "").Validate(context.Background(), tok)
	requireDetail(t, err, core.KindSigningKeyUnavailable, core.DetailKeyNotFound)
}

func TestValidateRotatedKeyWithoutRestart(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()
	v := newValidator(idp, "")

	_, err := v.Validate(context.Background(), idp.CreateToken("u"))
	require.NoError(t, err)
	idp.RotateKey("test-key-2", false)
	_, err = v.Validate(context.Background(), idp.CreateToken("u"))
	require.NoError(t, err)
	assert.Equal(t, 1, idp.DiscoveryCalls())
	assert.Equal(t, 2, idp.JWKSCalls())
}

func TestValidateRejectsOtherAlgorithms(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()
	v := newValidator(idp, "")

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, idp.BaseClaims("u"))
	hs.Header["kid"] = "test-key-1"
	hsToken, err := hs.SignedString([]byte("shared-secret"))
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), hsToken)
	requireDetail(t, err, core.KindInvalidToken, core.DetailUnsupportedAlgorithm)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, idp.BaseClaims("u"))
	none.Header["kid"] = "test-key-1"
	noneToken, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), noneToken)
	require.Error(t, err)
	assert.Equal(t, core.KindInvalidToken, core.AsValidationError(err).Kind)
	assert.Zero(t, idp.JWKSCalls(), "rejected before any key lookup")
}

func TestValidateMalformed(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()
	v := newValidator(idp, "")

	for _, raw := range []string{"", "not-a-jwt", "a.b", "a.b.c"} {
		_, err := v.Validate(context.Background(), raw)
		requireDetail(t, err, core.KindInvalidToken, core.DetailMalformedToken)
	}

	noKid, err := jwtkit.NewRSASigner(2048, "")
	require.NoError(t, err)
	tok, err := noKid.Sign(context.Background(), idp.BaseClaims("u"))
	require.NoError(t, err)
	_, err = v.Validate(context.Background(), tok)
	requireDetail(t, err, core.KindInvalidToken, core.DetailMalformedToken)
}

func TestValidateProviderUnavailable(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()
	v := newValidator(idp, "")

	idp.FailDiscovery(http.StatusServiceUnavailable)
	_, err := v.Validate(context.Background(), idp.CreateToken("u"))
	requireDetail(t, err, core.KindMetadataUnavailable, core.DetailProviderUnavailable)
	assert.True(t, errors.Is(err, core.ErrMetadataUnavailable))

	idp.FailDiscovery(0)
	idp.FailJWKS(http.StatusServiceUnavailable)
	_, err = v.Validate(context.Background(), idp.CreateToken("u"))
	requireDetail(t, err, core.KindSigningKeyUnavailable, core.DetailProviderUnavailable)
	assert.True(t, errors.Is(err, core.ErrSigningKeyUnavailable))
}
