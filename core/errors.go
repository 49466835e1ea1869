package core

import "errors"

// Failure categories surfaced by the gateway.
var (
	ErrMissingCredential     = errors.New("missing bearer token")
	ErrInvalidToken          = errors.New("invalid token")
	ErrMetadataUnavailable   = errors.New("provider metadata unavailable")
	ErrSigningKeyUnavailable = errors.New("signing key unavailable")
	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
)

// Diagnostic strings returned to the token holder in the "detail" field.
// They name the failed check and never carry internal error text.
const (
	DetailMalformedToken       = "malformed_token"
	DetailUnsupportedAlgorithm = "unsupported_algorithm"
	DetailSignatureInvalid     = "signature_invalid"
	DetailIssuerMismatch       = "issuer_mismatch"
	DetailAudienceMismatch     = "audience_mismatch"
	DetailTokenExpired         = "token_expired"
	DetailTokenNotYetValid     = "token_not_yet_valid"
	DetailClaimsInvalid        = "claims_invalid"
	DetailKeyNotFound          = "key_not_found"
	DetailProviderUnavailable  = "provider_unavailable"
)

// FailureKind classifies a token validation failure.
type FailureKind int

const (
	KindInvalidToken FailureKind = iota
	KindMetadataUnavailable
	KindSigningKeyUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case KindMetadataUnavailable:
		return "metadata_unavailable"
	case KindSigningKeyUnavailable:
		return "signing_key_unavailable"
	default:
		return "invalid_token"
	}
}

// Dependency reports whether the failure came from the identity provider's
// infrastructure rather than from the token itself.
func (k FailureKind) Dependency() bool {
	return k == KindMetadataUnavailable || k == KindSigningKeyUnavailable
}

// ValidationError is the only error type returned by the token validator.
// Every ValidationError matches ErrInvalidToken; dependency kinds also match
// their own sentinel.
type ValidationError struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrInvalidToken:
		return true
	case ErrMetadataUnavailable:
		return e.Kind == KindMetadataUnavailable
	case ErrSigningKeyUnavailable:
		return e.Kind == KindSigningKeyUnavailable
	}
	return false
}

// AsValidationError extracts a *ValidationError from err. Errors of any other
// type are collapsed into a generic invalid-token failure.
func AsValidationError(err error) *ValidationError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	return &ValidationError{Kind: KindInvalidToken, Detail: DetailMalformedToken, Err: err}
}
