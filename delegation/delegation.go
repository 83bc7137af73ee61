// Package delegation builds validated delegation chain identities from
// provider-issued delegations. A chain is a cryptographically
// verifiable statement that a short-lived local session key is
// authorized to act for a longer-lived account key.
package delegation

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"time"

	goerrors "github.com/goliatone/go-errors"

	icauth "github.com/onicai/go-icauth"
)

// SessionKeyPair is the locally generated keypair whose public half is
// embedded in the provider's signing challenge before the interactive
// login begins.
type SessionKeyPair struct {
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewSessionKeyPair generates a fresh session keypair.
func NewSessionKeyPair() (*SessionKeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate session keypair")
	}
	return &SessionKeyPair{public: pub, private: priv}, nil
}

func (k *SessionKeyPair) Public() []byte { return []byte(k.public) }

func (k *SessionKeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// ProviderDelegation is the raw delegation payload returned by a
// provider's get-delegation call, before normalization.
type ProviderDelegation struct {
	// Expiration accepts whatever representation the provider used:
	// decimal string, float, signed or unsigned integer.
	Expiration any
	// Targets optionally restricts the delegation to specific
	// canisters, given as principal text.
	Targets []string
}

// Delegation is one normalized link of a chain. PublicKey is the key
// being delegated TO: the local session public key, not the provider's
// account key. The provider authorizes the session key to act on the
// account's behalf.
type Delegation struct {
	PublicKey  []byte
	Expiration uint64
	Targets    []icauth.Principal
}

// SignedDelegation pairs a delegation with the provider's signature
// over its canonical bytes.
type SignedDelegation struct {
	Delegation Delegation
	Signature  []byte
}

// Chain is a single-link delegation chain usable as a full identity:
// rooted at the provider's canister-derived account key, terminating at
// the session key. Discarded on logout.
type Chain struct {
	sessionKey *SessionKeyPair
	accountKey []byte
	Signed     SignedDelegation
}

var _ icauth.Identity = (*Chain)(nil)

// Principal derives the account principal from the provider's
// canister-derived public key.
func (c *Chain) Principal() icauth.Principal {
	return icauth.SelfAuthenticating(c.accountKey)
}

// PublicKey returns the account key the chain is rooted at.
func (c *Chain) PublicKey() []byte { return c.accountKey }

// Sign signs with the session key; the attached delegation proves the
// session key speaks for the account.
func (c *Chain) Sign(msg []byte) ([]byte, error) {
	return c.sessionKey.Sign(msg), nil
}

// SessionPublicKey returns the delegated-to key, for verification.
func (c *Chain) SessionPublicKey() []byte { return c.sessionKey.Public() }

const delegationDomainSeparator = "\x1aic-request-auth-delegation"

// CanonicalBytes computes the deterministic byte encoding the provider
// signs: the domain separator followed by a hash over the delegation's
// fields in a fixed order.
func (d Delegation) CanonicalBytes() []byte {
	h := sha256.New()
	h.Write(hashField("pubkey", d.PublicKey))
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], d.Expiration)
	h.Write(hashField("expiration", exp[:]))
	if len(d.Targets) > 0 {
		th := sha256.New()
		for _, t := range d.Targets {
			sum := sha256.Sum256(t.Raw())
			th.Write(sum[:])
		}
		h.Write(hashField("targets", th.Sum(nil)))
	}

	out := make([]byte, 0, len(delegationDomainSeparator)+sha256.Size)
	out = append(out, delegationDomainSeparator...)
	out = append(out, h.Sum(nil)...)
	return out
}

func hashField(name string, value []byte) []byte {
	kh := sha256.Sum256([]byte(name))
	vh := sha256.Sum256(value)
	joined := make([]byte, 0, len(kh)+len(vh))
	joined = append(joined, kh[:]...)
	joined = append(joined, vh[:]...)
	sum := sha256.Sum256(joined)
	return sum[:]
}

// Builder validates provider delegations into chains. Pure except for
// the injected clock; no I/O, deterministic given inputs.
type Builder struct {
	now func() time.Time
}

// BuilderOption customizes a Builder.
type BuilderOption func(*Builder)

// WithClock injects a custom clock, for tests.
func WithClock(clock func() time.Time) BuilderOption {
	return func(b *Builder) {
		if clock != nil {
			b.now = clock
		}
	}
}

// NewBuilder returns a Builder using the wall clock.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build validates the provider's delegation and signature and produces
// a chain whose delegated key is the local session public key. Any
// malformed input is fatal to the login attempt; the caller must
// restart the interactive flow rather than retry the same bytes.
func (b *Builder) Build(sessionKey *SessionKeyPair, provided ProviderDelegation, signature, delegatedPublicKey []byte) (*Chain, error) {
	if sessionKey == nil || len(sessionKey.Public()) != ed25519.PublicKeySize {
		return nil, icauth.WithMeta(icauth.ErrMalformedDelegation, map[string]any{
			"reason": "missing or malformed session key",
		})
	}
	if len(signature) == 0 {
		return nil, icauth.WithMeta(icauth.ErrMalformedDelegation, map[string]any{
			"reason": "empty signature",
		})
	}
	if len(delegatedPublicKey) == 0 {
		return nil, icauth.WithMeta(icauth.ErrMalformedDelegation, map[string]any{
			"reason": "zero-length delegated public key",
		})
	}

	expiration, err := icauth.NormalizeTimestamp(provided.Expiration)
	if err != nil {
		return nil, icauth.WithMeta(icauth.ErrMalformedDelegation, map[string]any{
			"reason": "unparseable expiration",
			"error":  err.Error(),
		})
	}
	if expiration <= uint64(b.now().UnixNano()) {
		return nil, icauth.WithMeta(icauth.ErrMalformedDelegation, map[string]any{
			"reason":     "expiration is not forward-looking",
			"expiration": expiration,
		})
	}

	targets := make([]icauth.Principal, 0, len(provided.Targets))
	for _, text := range provided.Targets {
		p, err := icauth.PrincipalFromText(text)
		if err != nil {
			return nil, icauth.WithMeta(icauth.ErrMalformedDelegation, map[string]any{
				"reason": "invalid target principal",
				"target": text,
			})
		}
		targets = append(targets, p)
	}

	sig := make([]byte, len(signature))
	copy(sig, signature)
	accountKey := make([]byte, len(delegatedPublicKey))
	copy(accountKey, delegatedPublicKey)

	return &Chain{
		sessionKey: sessionKey,
		accountKey: accountKey,
		Signed: SignedDelegation{
			Delegation: Delegation{
				PublicKey:  sessionKey.Public(),
				Expiration: expiration,
				Targets:    targets,
			},
			Signature: sig,
		},
	}, nil
}
