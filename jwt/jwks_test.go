package jwtkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestServeJWKSConditionalGET(t *testing.T) {
	s, err := NewRSASigner(2048, "k1")
	if err != nil {
		t.Fatal(err)
	}
	ks := JWKS{Keys: []JWK{RSAPublicToJWK(s.PublicKey(), s.KID(), s.Algorithm())}}

	rec := httptest.NewRecorder()
	ServeJWKS(rec, httptest.NewRequest(http.MethodGet, "/certs", nil), ks)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("expected ETag")
	}
	var got JWKS
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got.Keys) != 1 || got.Keys[0].Kid != "k1" || got.Keys[0].Kty != "RSA" {
		t.Fatalf("unexpected key set %+v", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/certs", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	ServeJWKS(rec, req, ks)
	if rec.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rec.Code)
	}
}
