package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	oidckit "github.com/PaulFidika/authgate/oidc"
)

// MetadataSource resolves an issuer's discovery document.
type MetadataSource interface {
	Resolve(ctx context.Context, issuer string) (*oidckit.ProviderMetadata, error)
}

// ServiceIdentity obtains client-credentials tokens for the gateway itself.
// The token endpoint is discovered on first use; tokens are reused until they
// expire. Each fetch runs under the caller's context.
type ServiceIdentity struct {
	issuer       string
	clientID     string
	clientSecret string
	metadata     MetadataSource
	client       *http.Client

	mu  sync.Mutex
	cfg *clientcredentials.Config
	tok *oauth2.Token
}

// NewServiceIdentity builds a token provider for clientID at issuer. nil
// client uses http.DefaultClient.
func NewServiceIdentity(issuer, clientID, clientSecret string, metadata MetadataSource, client *http.Client) *ServiceIdentity {
	if client == nil {
		client = http.DefaultClient
	}
	return &ServiceIdentity{
		issuer:       issuer,
		clientID:     clientID,
		clientSecret: clientSecret,
		metadata:     metadata,
		client:       client,
	}
}

// Token returns a valid access token, fetching a new one when needed.
// Concurrent callers share one fetch.
func (s *ServiceIdentity) Token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tok.Valid() {
		return s.tok, nil
	}
	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, s.client))
	if err != nil {
		return nil, err
	}
	s.tok = tok
	return tok, nil
}

// config must be called with s.mu held.
func (s *ServiceIdentity) config(ctx context.Context) (*clientcredentials.Config, error) {
	if s.cfg != nil {
		return s.cfg, nil
	}
	if s.metadata == nil {
		return nil, errors.New("no metadata source configured")
	}
	md, err := s.metadata.Resolve(ctx, s.issuer)
	if err != nil {
		return nil, err
	}
	if md.TokenEndpoint == "" {
		return nil, fmt.Errorf("issuer %s advertises no token_endpoint", s.issuer)
	}
	s.cfg = &clientcredentials.Config{
		ClientID:     s.clientID,
		ClientSecret: s.clientSecret,
		TokenURL:     md.TokenEndpoint,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return s.cfg, nil
}
