package authhttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/PaulFidika/authgate/core"
	oidckit "github.com/PaulFidika/authgate/oidc"
	authtest "github.com/PaulFidika/authgate/testing"
)

func TestRequireBearer(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()
	v := oidckit.NewTokenValidator(oidckit.ValidatorConfig{Issuer: idp.URL()},
		oidckit.NewKeyResolver(oidckit.NewMetadataResolver()))

	h := RequireBearer(v, idp.URL(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cl, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Fatal("expected claims in context")
		}
		_, _ = w.Write([]byte(cl.Subject))
	}))

	cases := []struct {
		header string
		status int
		errStr string
	}{
		{"", http.StatusUnauthorized, "missing_bearer_token"},
		{"Bearer " + idp.CreateExpiredToken("u"), http.StatusUnauthorized, "invalid_token"},
		{"Bearer " + idp.CreateToken("user-9"), http.StatusOK, ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.status {
			t.Fatalf("expected %d, got %d", tc.status, rec.Code)
		}
		if tc.errStr == "" {
			if rec.Body.String() != "user-9" {
				t.Fatalf("unexpected body %q", rec.Body.String())
			}
			continue
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if body["error"] != tc.errStr {
			t.Fatalf("expected %s, got %v", tc.errStr, body)
		}
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"Bearer   abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Bearer", "", false},
		{"bearer abc", "", false},
		{"BEARER abc", "", false},
		{"Basic abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := BearerToken(tc.header)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("BearerToken(%q) = %q, %v; want %q, %v", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAuthenticateMissingCredential(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err := Authenticate(req, nil)
	if !errors.Is(err, core.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestLogFailureSeparatesDependencyFromToken(t *testing.T) {
	log, hook := test.NewNullLogger()

	LogFailure(log, &core.ValidationError{Kind: core.KindMetadataUnavailable, Detail: core.DetailProviderUnavailable})
	e := hook.LastEntry()
	if e.Level != logrus.WarnLevel || e.Data["reason"] != "dependency" {
		t.Fatalf("expected dependency warning, got %v %v", e.Level, e.Data)
	}

	LogFailure(log, &core.ValidationError{Kind: core.KindInvalidToken, Detail: core.DetailTokenExpired})
	e = hook.LastEntry()
	if e.Level != logrus.InfoLevel || e.Data["reason"] != "token" {
		t.Fatalf("expected token info, got %v %v", e.Level, e.Data)
	}
}

func TestRequireBearerProviderUnavailable(t *testing.T) {
	idp := authtest.NewTestIssuer()
	defer idp.Close()
	v := oidckit.NewTokenValidator(oidckit.ValidatorConfig{Issuer: idp.URL()},
		oidckit.NewKeyResolver(oidckit.NewMetadataResolver()))
	log, hook := test.NewNullLogger()
	idp.FailDiscovery(http.StatusServiceUnavailable)

	h := RequireBearer(v, idp.URL(), log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+idp.CreateToken("u"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != Challenge(idp.URL(), "invalid_token", core.DetailProviderUnavailable) {
		t.Fatalf("unexpected challenge %q", got)
	}
	if e := hook.LastEntry(); e == nil || e.Data["reason"] != "dependency" {
		t.Fatalf("expected dependency log entry, got %v", e)
	}
}
