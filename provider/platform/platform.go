// Package platform implements the platform identity-delegation login
// variant backed by the network's own identity service. The platform
// client's storage, not ours, is authoritative for whether a
// delegation survived, so restore flows consult IsAuthenticated before
// trusting any persisted session record.
package platform

import (
	"context"
	"sync"

	icauth "github.com/onicai/go-icauth"
	"github.com/onicai/go-icauth/provider"
)

const (
	// DefaultIdentityURL is the production identity service.
	DefaultIdentityURL = "https://identity.ic0.app/#authorize"
)

// Config configures the platform identity provider.
type Config struct {
	// IdentityURL overrides the identity service endpoint, e.g. for a
	// local replica: http://<canister>.localhost:4943/#authorize.
	IdentityURL string

	// NewClient constructs the auth client. Memoized until Invalidate.
	NewClient provider.ClientFactory

	Logger icauth.Logger
}

// Provider is the PlatformIdentity identity provider.
type Provider struct {
	cfg    Config
	logger icauth.Logger

	mu     sync.Mutex
	client provider.AuthClient
}

var _ icauth.IdentityProvider = (*Provider)(nil)
var _ icauth.AuthStateReporter = (*Provider)(nil)

// New builds a platform identity provider.
func New(cfg Config) (*Provider, error) {
	if cfg.NewClient == nil {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"error": "auth client factory is required",
		})
	}
	if cfg.IdentityURL == "" {
		cfg.IdentityURL = DefaultIdentityURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = icauth.DefaultLogger()
	}
	return &Provider{cfg: cfg, logger: logger}, nil
}

func (p *Provider) ensureClient() (provider.AuthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := p.cfg.NewClient()
	if err != nil {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"error": err.Error(),
		})
	}
	p.client = client
	return client, nil
}

// Invalidate drops the memoized client so the next call rebuilds it.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = nil
}

// Login opens the identity service with the maximum 30 day delegation
// lifetime. A client that already holds a live identity short-circuits
// without opening a window.
func (p *Provider) Login(ctx context.Context) (icauth.Identity, error) {
	client, err := p.ensureClient()
	if err != nil {
		return nil, err
	}

	if ok, err := client.IsAuthenticated(ctx); err == nil && ok {
		if identity, err := client.Identity(ctx); err == nil {
			return identity, nil
		}
	}

	return client.Login(ctx, provider.LoginOptions{
		ProviderURL: p.cfg.IdentityURL,
		MaxTTL:      icauth.SessionTTL,
	})
}

// Resume queries the client's own isAuthenticated predicate.
func (p *Provider) Resume(ctx context.Context) (icauth.Identity, error) {
	client, err := p.ensureClient()
	if err != nil {
		return nil, err
	}
	ok, err := client.IsAuthenticated(ctx)
	if err != nil || !ok {
		return nil, nil
	}
	identity, err := client.Identity(ctx)
	if err != nil {
		return nil, nil
	}
	return identity, nil
}

// IsAuthenticated exposes the platform client's authoritative state.
func (p *Provider) IsAuthenticated(ctx context.Context) (bool, error) {
	client, err := p.ensureClient()
	if err != nil {
		return false, err
	}
	return client.IsAuthenticated(ctx)
}

// Terminate logs the platform client out.
func (p *Provider) Terminate(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Logout(ctx)
}
