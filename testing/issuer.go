// Package testing provides utilities for testing the gateway against a real
// HTTP OpenID provider. TestIssuer serves a discovery document, a JWKS and a
// client-credentials token endpoint, and signs tokens that validate against
// its own key set.
//
// Example usage:
//
//	idp := authtest.NewTestIssuer()
//	defer idp.Close()
//
//	cfg.Issuer = idp.URL()
//	token := idp.CreateToken("user-123")
package testing

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	jwtkit "github.com/PaulFidika/authgate/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// JWKSPath and TokenPath mirror Keycloak's realm endpoints.
	JWKSPath  = "/protocol/openid-connect/certs"
	TokenPath = "/protocol/openid-connect/token"
)

// TestIssuer is a mock OpenID provider backed by httptest.
type TestIssuer struct {
	server   *httptest.Server
	audience string

	mu              sync.Mutex
	active          *jwtkit.RSASigner
	published       map[string]*jwtkit.RSASigner
	discoveryStatus int
	jwksStatus      int
	clientID        string
	clientSecret    string

	discoveryCalls atomic.Int64
	jwksCalls      atomic.Int64
	tokenCalls     atomic.Int64
}

// NewTestIssuer creates an issuer whose tokens carry no aud claim.
// Call Close() when done to shut down the test server.
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("")
}

// NewTestIssuerWithAudience creates an issuer whose tokens carry aud=audience.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	signer := mustSigner("test-key-1")
	ti := &TestIssuer{
		audience:  audience,
		active:    signer,
		published: map[string]*jwtkit.RSASigner{signer.KID(): signer},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", ti.handleDiscovery)
	mux.HandleFunc(JWKSPath, ti.handleJWKS)
	mux.HandleFunc(TokenPath, ti.handleToken)

	ti.server = httptest.NewServer(mux)
	return ti
}

// URL returns the issuer URL. Use it as KEYCLOAK_ISSUER.
func (ti *TestIssuer) URL() string {
	return ti.server.URL
}

// JWKSURL returns the key set endpoint advertised in discovery.
func (ti *TestIssuer) JWKSURL() string {
	return ti.server.URL + JWKSPath
}

// Audience returns the audience configured for this test issuer.
func (ti *TestIssuer) Audience() string {
	return ti.audience
}

// Client returns an HTTP client for the underlying server.
func (ti *TestIssuer) Client() *http.Client {
	return ti.server.Client()
}

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

// DiscoveryCalls returns how many times the discovery document was fetched.
func (ti *TestIssuer) DiscoveryCalls() int { return int(ti.discoveryCalls.Load()) }

// JWKSCalls returns how many times the key set was fetched.
func (ti *TestIssuer) JWKSCalls() int { return int(ti.jwksCalls.Load()) }

// TokenCalls returns how many client-credentials grants were served.
func (ti *TestIssuer) TokenCalls() int { return int(ti.tokenCalls.Load()) }

// FailDiscovery makes the discovery endpoint answer with status; 0 restores it.
func (ti *TestIssuer) FailDiscovery(status int) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.discoveryStatus = status
}

// FailJWKS makes the key set endpoint answer with status; 0 restores it.
func (ti *TestIssuer) FailJWKS(status int) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.jwksStatus = status
}

// RegisterClient enables the client-credentials grant for id/secret.
func (ti *TestIssuer) RegisterClient(id, secret string) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.clientID, ti.clientSecret = id, secret
}

// RotateKey generates a new active signing key with kid and publishes it.
// When retireOld is true the previous key is removed from the key set.
func (ti *TestIssuer) RotateKey(kid string, retireOld bool) {
	signer := mustSigner(kid)
	ti.mu.Lock()
	defer ti.mu.Unlock()
	if retireOld {
		delete(ti.published, ti.active.KID())
	}
	ti.active = signer
	ti.published[kid] = signer
}

// Publishes reports whether kid is in the served key set.
func (ti *TestIssuer) Publishes(kid string) bool {
	_, ok := ti.jwks().Find(kid)
	return ok
}

// PinnedKeysJSON renders the published keys in the PINNED_PUBLIC_KEYS format
// read by jwtkit.LoadPinnedKeys.
func (ti *TestIssuer) PinnedKeysJSON() string {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	pemByKid := make(map[string]string, len(ti.published))
	for kid, signer := range ti.published {
		b, err := signer.PublicKeyPEM()
		if err != nil {
			panic("failed to encode public key: " + err.Error())
		}
		pemByKid[kid] = string(b)
	}
	raw, _ := json.Marshal(pemByKid)
	return string(raw)
}

// ActiveSigner returns the signer used by CreateToken.
func (ti *TestIssuer) ActiveSigner() *jwtkit.RSASigner {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	return ti.active
}

// BaseClaims returns the claims CreateToken would sign for userID.
func (ti *TestIssuer) BaseClaims(userID string) jwt.MapClaims {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": ti.URL(),
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	if userID != "" {
		claims["sub"] = userID
	}
	if ti.audience != "" {
		claims["aud"] = ti.audience
	}
	return claims
}

// CreateToken creates a signed JWT token for testing.
func (ti *TestIssuer) CreateToken(userID string) string {
	return ti.CreateTokenWithClaims(userID, nil)
}

// CreateTokenWithClaims merges extraClaims over the base claims. A nil value
// removes the claim.
func (ti *TestIssuer) CreateTokenWithClaims(userID string, extraClaims map[string]any) string {
	claims := ti.BaseClaims(userID)
	for k, v := range extraClaims {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}
	return ti.Sign(claims)
}

// CreateExpiredToken creates a token that expired an hour ago.
func (ti *TestIssuer) CreateExpiredToken(userID string) string {
	return ti.CreateTokenWithClaims(userID, map[string]any{
		"exp": time.Now().Add(-time.Hour).Unix(),
		"iat": time.Now().Add(-2 * time.Hour).Unix(),
	})
}

// Sign signs claims with the active key.
func (ti *TestIssuer) Sign(claims jwt.MapClaims) string {
	token, err := ti.ActiveSigner().Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}

// SignWithUnpublishedKey signs claims with a fresh key that never appears in
// the issuer's key set, under the given kid.
func (ti *TestIssuer) SignWithUnpublishedKey(kid string, claims jwt.MapClaims) string {
	token, err := mustSigner(kid).Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}

func (ti *TestIssuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	ti.discoveryCalls.Add(1)
	ti.mu.Lock()
	status := ti.discoveryStatus
	ti.mu.Unlock()
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                ti.URL(),
		"jwks_uri":                              ti.JWKSURL(),
		"token_endpoint":                        ti.URL() + TokenPath,
		"authorization_endpoint":                ti.URL() + "/protocol/openid-connect/auth",
		"id_token_signing_alg_values_supported": []string{"RS256"},
	})
}

// handleJWKS serves the JWKS document containing the published public keys.
func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.jwksCalls.Add(1)
	ti.mu.Lock()
	status := ti.jwksStatus
	ti.mu.Unlock()
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	jwtkit.ServeJWKS(w, r, ti.jwks())
}

func (ti *TestIssuer) jwks() jwtkit.JWKS {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	pubs := make(map[string]*rsa.PublicKey, len(ti.published))
	for kid, signer := range ti.published {
		pubs[kid] = signer.PublicKey()
	}
	return jwtkit.PublicKeysToJWKS(pubs, ti.active.Algorithm())
}

func (ti *TestIssuer) handleToken(w http.ResponseWriter, r *http.Request) {
	ti.tokenCalls.Add(1)
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "invalid_request"})
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	ti.mu.Lock()
	wantID, wantSecret := ti.clientID, ti.clientSecret
	ti.mu.Unlock()
	if wantID == "" || id != wantID || secret != wantSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	claims := ti.BaseClaims("service-account-" + id)
	claims["azp"] = id
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": ti.Sign(claims),
		"token_type":   "Bearer",
		"expires_in":   300,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func mustSigner(kid string) *jwtkit.RSASigner {
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	return signer
}
