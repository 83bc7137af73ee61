// Package agent builds canister call handles over the network's HTTP
// interface. A factory bound to one host produces actors for any
// number of canisters; each actor carries one (possibly anonymous)
// identity and a descriptor of its canister's callable surface.
package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"

	icauth "github.com/onicai/go-icauth"
)

const (
	// DefaultHost is the production network gateway.
	DefaultHost = "https://ic0.app"

	// LocalHost is the conventional local replica address.
	LocalHost = "http://localhost:4943"

	// ingressExpiry bounds how long a signed request stays valid.
	ingressExpiry = 4 * time.Minute
)

// Config configures an actor factory.
type Config struct {
	// Host is the network gateway, e.g. https://ic0.app.
	Host string

	// Local marks a non-production network whose ephemeral root key
	// must be fetched before authenticated calls verify.
	Local bool

	HTTPClient *http.Client
	Logger     icauth.Logger

	// Clock supplies the time used for ingress expiries. Defaults to
	// time.Now.
	Clock func() time.Time
}

// Validate checks the factory configuration.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Host, validation.Required, is.URL),
	)
}

// Factory builds actors bound to one network host.
type Factory struct {
	cfg    Config
	client *http.Client
	logger icauth.Logger
	now    func() time.Time

	mu      sync.Mutex
	rootKey []byte
}

var _ icauth.ActorFactory = (*Factory)(nil)

// New builds an actor factory.
func New(cfg Config) (*Factory, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid agent config")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = icauth.DefaultLogger()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Factory{cfg: cfg, client: client, logger: logger, now: now}, nil
}

// Build constructs an actor for one canister. A nil identity yields an
// anonymous handle capable of queries only in practice: updates will
// be rejected by the backend's access control, not by us.
//
// On local networks the ephemeral root key is fetched first, best
// effort: a failed fetch is logged and the actor is still returned,
// since unauthenticated queries keep working and updates surface a
// normal remote call error later.
func (f *Factory) Build(canisterID string, descriptor icauth.Descriptor, identity icauth.Identity) (icauth.Actor, error) {
	canister, err := icauth.PrincipalFromText(canisterID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid canister id")
	}

	if f.cfg.Local && !f.hasRootKey() {
		if err := f.FetchRootKey(context.Background()); err != nil {
			f.logger.Error("unable to fetch root key, check that the local replica is running: %v", err)
		}
	}

	return &httpActor{
		factory:    f,
		canister:   canister,
		canisterID: canisterID,
		descriptor: descriptor,
		identity:   identity,
	}, nil
}

func (f *Factory) hasRootKey() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rootKey) > 0
}

// RootKey returns the fetched development root key, if any.
func (f *Factory) RootKey() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]byte, len(f.rootKey))
	copy(out, f.rootKey)
	return out
}

type statusResponse struct {
	RootKey []byte `cbor:"root_key"`
}

// FetchRootKey retrieves the environment's ephemeral root key. Only
// meaningful on non-production networks.
func (f *Factory) FetchRootKey(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.Host+"/api/v2/status", nil)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to build status request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "status request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return goerrors.New(fmt.Sprintf("status request returned %d", resp.StatusCode), goerrors.CategoryOperation)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to read status response")
	}

	var status statusResponse
	if err := cbor.Unmarshal(body, &status); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to decode status response")
	}
	if len(status.RootKey) == 0 {
		return goerrors.New("status response carried no root key", goerrors.CategoryOperation)
	}

	f.mu.Lock()
	f.rootKey = status.RootKey
	f.mu.Unlock()
	return nil
}
