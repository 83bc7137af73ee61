package icauth

import (
	"context"
	"fmt"
	"strings"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Error(format string, args ...any)
}

// Identity is the signing capability produced by exactly one identity
// provider per session. It is owned by the active session and replaced
// wholesale on re-login, never shared.
type Identity interface {
	Principal() Principal
	PublicKey() []byte
	Sign(msg []byte) ([]byte, error)
}

// LoginType tags which identity provider variant produced a session.
// The values double as the persisted loginType strings, so they must
// stay stable across releases.
type LoginType string

const (
	LoginDelegatedSigner     LoginType = "nfid"
	LoginPlatformIdentity    LoginType = "internetidentity"
	LoginMessageSignedWallet LoginType = "bitcoin"
)

// ParseLoginType maps a persisted loginType string back to its variant.
func ParseLoginType(s string) (LoginType, error) {
	switch LoginType(strings.ToLower(strings.TrimSpace(s))) {
	case LoginDelegatedSigner:
		return LoginDelegatedSigner, nil
	case LoginPlatformIdentity:
		return LoginPlatformIdentity, nil
	case LoginMessageSignedWallet:
		return LoginMessageSignedWallet, nil
	}
	return "", fmt.Errorf("unknown login type %q", s)
}

func (t LoginType) Valid() bool {
	_, err := ParseLoginType(string(t))
	return err == nil
}

// IdentityProvider is the closed contract all three login variants
// implement. Login is interactive and may block indefinitely on the
// user. Resume attempts to re-establish the identity without user
// interaction and returns (nil, nil) when the variant has nothing to
// resume. Terminate revokes the provider side of the session.
type IdentityProvider interface {
	Login(ctx context.Context) (Identity, error)
	Resume(ctx context.Context) (Identity, error)
	Terminate(ctx context.Context) error
}

// MethodKind distinguishes read-only queries from state-changing calls.
type MethodKind string

const (
	MethodQuery  MethodKind = "query"
	MethodUpdate MethodKind = "update"
)

// Descriptor describes the callable surface of one canister interface.
type Descriptor struct {
	Name    string
	Methods map[string]MethodKind
}

func (d Descriptor) Kind(method string) (MethodKind, bool) {
	k, ok := d.Methods[method]
	return k, ok
}

// Actor is a typed remote procedure handle bound to one canister and
// one (possibly anonymous) identity.
type Actor interface {
	Query(ctx context.Context, method string, args, reply any) error
	Update(ctx context.Context, method string, args, reply any) error
}

// ActorFactory builds canister call handles. A nil identity yields an
// anonymous, read-only-capable handle.
type ActorFactory interface {
	Build(canisterID string, descriptor Descriptor, identity Identity) (Actor, error)
	FetchRootKey(ctx context.Context) error
}

// Store persists the session record between page loads / process runs.
// Load returns (nil, nil) when no record exists. LegacyLoginType is the
// compatibility read of the old isAuthed flag, consulted only when the
// record itself is absent.
type Store interface {
	Load(ctx context.Context) (*SessionRecord, error)
	Save(ctx context.Context, rec *SessionRecord) error
	Clear(ctx context.Context) error
	LegacyLoginType(ctx context.Context) (LoginType, bool, error)
}

// DependentInitializer discovers and constructs the secondary canister
// actors that belong to the authenticated user.
type DependentInitializer interface {
	Discover(ctx context.Context, primary Actor, identity Identity) ([]DependentActor, error)
}

// CanisterInfo is the enriched metadata for one discovered secondary
// canister. Enrichment is best effort: a failed status or statistics
// call sets HasError without removing the entry.
type CanisterInfo struct {
	Address        string
	Status         string
	Kind           string
	UIStatus       string
	CycleBalance   uint64
	BurnedCycles   uint64
	BurnRate       uint64
	BurnRateLabel  string
	LLMCanisters   []string
	LLMSetupStatus string
	HasError       bool
}

// DependentActor pairs a discovered canister's metadata with its call
// handle. Actor is nil for entries that have no address yet (unlocked
// canisters awaiting creation).
type DependentActor struct {
	Info  CanisterInfo
	Actor Actor
}

// DefaultLogger returns the fallback printf logger used when a
// component is constructed without one.
func DefaultLogger() Logger { return defLogger{} }

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ICAUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ICAUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ICAUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
