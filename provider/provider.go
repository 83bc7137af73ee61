// Package provider holds the pieces shared by the delegated-signer and
// platform-identity login variants: the auth client contract and a
// loopback web client that receives delegations handed back by an
// external identity window.
package provider

import (
	"context"
	"time"

	icauth "github.com/onicai/go-icauth"
)

// LoginOptions parameterize one interactive login.
type LoginOptions struct {
	// ProviderURL is the identity provider page to open.
	ProviderURL string
	// MaxTTL is the maximum delegation lifetime requested from the
	// provider.
	MaxTTL time.Duration
	// IdleTimeout, when set, asks the provider to invalidate the
	// delegation after a period of inactivity.
	IdleTimeout time.Duration
}

// AuthClient is the shape both window-based providers wrap: it can run
// an interactive login, report whether a previously obtained identity
// is still live, hand that identity back, and drop it.
type AuthClient interface {
	Login(ctx context.Context, opts LoginOptions) (icauth.Identity, error)
	IsAuthenticated(ctx context.Context) (bool, error)
	Identity(ctx context.Context) (icauth.Identity, error)
	Logout(ctx context.Context) error
}

// ClientFactory constructs an AuthClient. Construction is moderately
// expensive, so providers memoize the result and only rebuild after an
// explicit invalidation.
type ClientFactory func() (AuthClient, error)
