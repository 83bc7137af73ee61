// Package wallet implements the message-signing wallet login variant:
// a Bitcoin wallet extension signs a provider-prepared message, and the
// provider canister answers with a delegation for the local session
// key. Signed-message sessions are one-time proofs and can never be
// silently resumed.
package wallet

import (
	"context"

	icauth "github.com/onicai/go-icauth"
	"github.com/onicai/go-icauth/delegation"
)

// SignScheme names the message signing scheme the wallet is asked to
// use and the provider verifies against.
type SignScheme string

const (
	SchemeECDSA        SignScheme = "ecdsa"
	SchemeBip322Simple SignScheme = "bip322-simple"
)

// Account is one wallet account.
type Account struct {
	Address      string
	PublicKeyHex string
}

// Wallet is the external signing extension. SignMessage must sign the
// exact message string it is given; the provider owns message
// formatting and rejects signatures over anything else.
type Wallet interface {
	Accounts(ctx context.Context) ([]Account, error)
	PublicKeyHex(ctx context.Context) (string, error)
	SignMessage(ctx context.Context, address, message string, scheme SignScheme) ([]byte, error)
}

// LoginDetails is the provider's successful login response.
type LoginDetails struct {
	Expiration            uint64
	UserCanisterPublicKey []byte
}

// DelegationProof is the provider's delegation response for a
// previously completed login.
type DelegationProof struct {
	Expiration any
	Targets    []string
	Signature  []byte
}

// SiwbClient is the remote sign-in-with-Bitcoin provider surface.
type SiwbClient interface {
	PrepareLogin(ctx context.Context, address string) (string, error)
	Login(ctx context.Context, signature []byte, address, publicKeyHex string, sessionPublicKey []byte, scheme SignScheme) (*LoginDetails, error)
	GetDelegation(ctx context.Context, address string, sessionPublicKey []byte, expiration uint64) (*DelegationProof, error)
}

// Config configures the wallet provider.
type Config struct {
	Wallet  Wallet
	Client  SiwbClient
	Scheme  SignScheme
	Builder *delegation.Builder
	Logger  icauth.Logger
}

// Provider is the MessageSignedWallet identity provider.
type Provider struct {
	cfg    Config
	logger icauth.Logger
}

var _ icauth.IdentityProvider = (*Provider)(nil)

// New builds a wallet provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Wallet == nil || cfg.Client == nil {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"error": "wallet and provider client are required",
		})
	}
	if cfg.Scheme == "" {
		cfg.Scheme = SchemeBip322Simple
	}
	if cfg.Builder == nil {
		cfg.Builder = delegation.NewBuilder()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = icauth.DefaultLogger()
	}
	return &Provider{cfg: cfg, logger: logger}, nil
}

// Login runs the multi-step signed-message flow. Every remote step
// short-circuits with its own user-legible failure.
func (p *Provider) Login(ctx context.Context) (icauth.Identity, error) {
	sessionKey, err := delegation.NewSessionKeyPair()
	if err != nil {
		return nil, err
	}

	accounts, err := p.cfg.Wallet.Accounts(ctx)
	if err != nil {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"step":  "accounts",
			"error": "wallet not found or not responding: " + err.Error(),
		})
	}
	if len(accounts) == 0 {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"step":  "accounts",
			"error": "wallet has no accounts",
		})
	}
	address := accounts[0].Address

	// Wallet public key is best effort; some wallets never expose it.
	publicKeyHex := accounts[0].PublicKeyHex
	if hex, err := p.cfg.Wallet.PublicKeyHex(ctx); err == nil && hex != "" {
		publicKeyHex = hex
	} else if err != nil {
		p.logger.Debug("wallet public key unavailable: %v", err)
	}

	// The provider owns message formatting; the returned string is
	// signed exactly as received.
	message, err := p.cfg.Client.PrepareLogin(ctx, address)
	if err != nil {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"step":  "prepare_login",
			"error": "provider rejected login message request: " + err.Error(),
		})
	}

	signature, err := p.cfg.Wallet.SignMessage(ctx, address, message, p.cfg.Scheme)
	if err != nil {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"step":  "sign_message",
			"error": "wallet refused to sign login message: " + err.Error(),
		})
	}

	details, err := p.cfg.Client.Login(ctx, signature, address, publicKeyHex, sessionKey.Public(), p.cfg.Scheme)
	if err != nil {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"step":  "login",
			"error": "provider rejected signature: " + err.Error(),
		})
	}

	proof, err := p.cfg.Client.GetDelegation(ctx, address, sessionKey.Public(), details.Expiration)
	if err != nil {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"step":  "get_delegation",
			"error": "delegation fetch failed: " + err.Error(),
		})
	}

	return p.cfg.Builder.Build(sessionKey, delegation.ProviderDelegation{
		Expiration: proof.Expiration,
		Targets:    proof.Targets,
	}, proof.Signature, details.UserCanisterPublicKey)
}

// Resume always reports nothing to resume: the signature was a
// one-time proof, not a renewable credential. Callers fall back to
// clearing the session and prompting a fresh interactive login.
func (p *Provider) Resume(ctx context.Context) (icauth.Identity, error) {
	return nil, nil
}

// Terminate discards nothing locally; the delegation dies with the
// session that owned it.
func (p *Provider) Terminate(ctx context.Context) error {
	return nil
}
