// Package signer implements the delegated-signer login variant: a
// popup-window signer federation reached through a web auth client.
package signer

import (
	"context"
	"net/url"
	"sync"
	"time"

	icauth "github.com/onicai/go-icauth"
	"github.com/onicai/go-icauth/provider"
)

const (
	// DefaultSignerURL is the hosted signer federation endpoint.
	DefaultSignerURL = "https://nfid.one"

	authPath = "/authenticate/"

	// DefaultIdleTimeout is the inactivity window after which the
	// signer invalidates the delegation.
	DefaultIdleTimeout = 10 * time.Minute
)

// Config configures the delegated-signer provider.
type Config struct {
	// AppName and AppLogoURL identify the application inside the
	// signer window.
	AppName    string
	AppLogoURL string

	// SignerURL overrides the signer federation endpoint.
	SignerURL string

	IdleTimeout time.Duration

	// NewClient constructs the signer client. Construction is
	// memoized: it runs at most once until Invalidate is called.
	NewClient provider.ClientFactory

	Logger icauth.Logger
}

// Provider is the DelegatedSigner identity provider.
type Provider struct {
	cfg    Config
	logger icauth.Logger

	mu     sync.Mutex
	client provider.AuthClient
}

var _ icauth.IdentityProvider = (*Provider)(nil)
var _ icauth.AuthStateReporter = (*Provider)(nil)

// New builds a delegated-signer provider.
func New(cfg Config) (*Provider, error) {
	if cfg.NewClient == nil {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"error": "signer client factory is required",
		})
	}
	if cfg.SignerURL == "" {
		cfg.SignerURL = DefaultSignerURL
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = icauth.DefaultLogger()
	}
	return &Provider{cfg: cfg, logger: logger}, nil
}

// ensureClient memoizes the signer client; constructing it is
// moderately expensive and must not be repeated per call.
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

func (p *Provider) authURL() string {
	q := url.Values{}
	if p.cfg.AppName != "" {
		q.Set("applicationName", p.cfg.AppName)
	}
	if p.cfg.AppLogoURL != "" {
		q.Set("applicationLogo", p.cfg.AppLogoURL)
	}
	u := p.cfg.SignerURL + authPath
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u + "#authorize"
}

// Login opens the signer window and waits for a delegation. If the
// client already holds a live identity it is returned without opening
// any window.
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
		ProviderURL: p.authURL(),
		MaxTTL:      icauth.SessionTTL,
		IdleTimeout: p.cfg.IdleTimeout,
	})
}

// Resume returns the signer client's identity when it still reports an
// authenticated state, without opening any window.
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

// IsAuthenticated reports the signer client's own view of the session.
func (p *Provider) IsAuthenticated(ctx context.Context) (bool, error) {
	client, err := p.ensureClient()
	if err != nil {
		return false, err
	}
	return client.IsAuthenticated(ctx)
}

// Terminate logs the signer client out.
func (p *Provider) Terminate(ctx context.Context) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Logout(ctx)
}
