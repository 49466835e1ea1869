package oidckit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/PaulFidika/authgate/core"
)

// acceptedAlgorithm is the only signature algorithm the gateway verifies.
// The token's own alg header never widens this.
const acceptedAlgorithm = jwa.RS256

// ValidatorConfig binds a validator to one trust domain.
type ValidatorConfig struct {
	Issuer    string
	Audience  string // empty skips audience verification
	ClockSkew time.Duration
}

// TokenValidator verifies bearer tokens against an issuer's signing keys.
type TokenValidator struct {
	issuer   string
	audience string
	skew     time.Duration
	keys     *KeyResolver
}

// NewTokenValidator builds a validator that resolves keys through keys.
func NewTokenValidator(cfg ValidatorConfig, keys *KeyResolver) *TokenValidator {
	return &TokenValidator{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		skew:     cfg.ClockSkew,
		keys:     keys,
	}
}

// Issuer returns the issuer tokens must carry.
func (v *TokenValidator) Issuer() string { return v.issuer }

// Validate verifies rawToken and returns its claims. Every failure is a
// *core.ValidationError.
func (v *TokenValidator) Validate(ctx context.Context, rawToken string) (*Claims, error) {
	raw := []byte(strings.TrimSpace(rawToken))
	msg, err := jws.Parse(raw, jws.WithCompact())
	if err != nil {
		return nil, invalid(core.DetailMalformedToken, err)
	}
	sigs := msg.Signatures()
	if len(sigs) != 1 {
		return nil, invalid(core.DetailMalformedToken, errors.New("expected exactly one signature"))
	}
	hdr := sigs[0].ProtectedHeaders()
	if hdr.Algorithm() != acceptedAlgorithm {
		return nil, invalid(core.DetailUnsupportedAlgorithm, errors.New("alg "+hdr.Algorithm().String()+" not accepted"))
	}
	kid := hdr.KeyID()
	if kid == "" {
		return nil, invalid(core.DetailMalformedToken, errors.New("token header missing kid"))
	}

	ks, err := v.keys.KeySet(ctx, v.issuer)
	if err != nil {
		if errors.Is(err, core.ErrMetadataUnavailable) {
			return nil, &core.ValidationError{Kind: core.KindMetadataUnavailable, Detail: core.DetailProviderUnavailable, Err: err}
		}
		return nil, &core.ValidationError{Kind: core.KindSigningKeyUnavailable, Detail: core.DetailProviderUnavailable, Err: err}
	}
	key, err := ks.Key(ctx, kid)
	if err != nil {
		detail := core.DetailProviderUnavailable
		if isKeyNotFound(err) {
			detail = core.DetailKeyNotFound
		}
		return nil, &core.ValidationError{Kind: core.KindSigningKeyUnavailable, Detail: detail, Err: err}
	}

	opts := []jwt.ParseOption{
		jwt.WithKey(acceptedAlgorithm, key),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAcceptableSkew(v.skew),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	tok, err := jwt.Parse(raw, opts...)
	if err != nil {
		return nil, invalid(classify(err), err)
	}

	raws, err := tok.AsMap(ctx)
	if err != nil {
		return nil, invalid(core.DetailMalformedToken, err)
	}
	return &Claims{
		Subject:   tok.Subject(),
		Issuer:    tok.Issuer(),
		Audience:  tok.Audience(),
		ExpiresAt: tok.Expiration(),
		IssuedAt:  tok.IssuedAt(),
		NotBefore: tok.NotBefore(),
		Raw:       raws,
	}, nil
}

func invalid(detail string, err error) *core.ValidationError {
	return &core.ValidationError{Kind: core.KindInvalidToken, Detail: detail, Err: err}
}

func classify(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired()):
		return core.DetailTokenExpired
	case errors.Is(err, jwt.ErrTokenNotYetValid()), errors.Is(err, jwt.ErrInvalidIssuedAt()):
		return core.DetailTokenNotYetValid
	case errors.Is(err, jwt.ErrInvalidIssuer()):
		return core.DetailIssuerMismatch
	case errors.Is(err, jwt.ErrInvalidAudience()):
		return core.DetailAudienceMismatch
	case jwt.IsValidationError(err):
		return core.DetailClaimsInvalid
	default:
		return core.DetailSignatureInvalid
	}
}
