package wallet_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	icauth "github.com/onicai/go-icauth"
	"github.com/onicai/go-icauth/delegation"
	"github.com/onicai/go-icauth/provider/wallet"
)

type fakeWallet struct {
	accounts    []wallet.Account
	accountsErr error
	pubKeyHex   string
	pubKeyErr   error
	signature   []byte
	signErr     error

	signedMessage string
	signedScheme  wallet.SignScheme
}

func (f *fakeWallet) Accounts(ctx context.Context) ([]wallet.Account, error) {
	return f.accounts, f.accountsErr
}

func (f *fakeWallet) PublicKeyHex(ctx context.Context) (string, error) {
	return f.pubKeyHex, f.pubKeyErr
}

func (f *fakeWallet) SignMessage(ctx context.Context, address, message string, scheme wallet.SignScheme) ([]byte, error) {
	f.signedMessage = message
	f.signedScheme = scheme
	return f.signature, f.signErr
}

type fakeSiwbClient struct {
	message    string
	prepareErr error

	details  *wallet.LoginDetails
	loginErr error

	proof    *wallet.DelegationProof
	proofErr error

	loginSignature  []byte
	loginSessionKey []byte
}

func (f *fakeSiwbClient) PrepareLogin(ctx context.Context, address string) (string, error) {
	return f.message, f.prepareErr
}

func (f *fakeSiwbClient) Login(ctx context.Context, signature []byte, address, publicKeyHex string, sessionPublicKey []byte, scheme wallet.SignScheme) (*wallet.LoginDetails, error) {
	f.loginSignature = signature
	f.loginSessionKey = sessionPublicKey
	return f.details, f.loginErr
}

func (f *fakeSiwbClient) GetDelegation(ctx context.Context, address string, sessionPublicKey []byte, expiration uint64) (*wallet.DelegationProof, error) {
	return f.proof, f.proofErr
}

func workingFixtures() (*fakeWallet, *fakeSiwbClient) {
	expiration := uint64(time.Now().Add(time.Hour).UnixNano())
	w := &fakeWallet{
		accounts:  []wallet.Account{{Address: "bc1qexample", PublicKeyHex: "02abcd"}},
		signature: []byte("wallet signature"),
	}
	c := &fakeSiwbClient{
		message: "example.com wants you to sign in",
		details: &wallet.LoginDetails{
			Expiration:            expiration,
			UserCanisterPublicKey: []byte("user canister key"),
		},
		proof: &wallet.DelegationProof{
			Expiration: expiration,
			Signature:  []byte("canister signature"),
		},
	}
	return w, c
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := wallet.New(wallet.Config{Client: &fakeSiwbClient{}})
	assert.ErrorIs(t, err, icauth.ErrProviderUnavailable)

	_, err = wallet.New(wallet.Config{Wallet: &fakeWallet{}})
	assert.ErrorIs(t, err, icauth.ErrProviderUnavailable)
}

func TestLoginHappyPath(t *testing.T) {
	w, c := workingFixtures()
	p, err := wallet.New(wallet.Config{Wallet: w, Client: c})
	require.NoError(t, err)

	identity, err := p.Login(context.Background())
	require.NoError(t, err)
	require.NotNil(t, identity)

	// The identity's principal derives from the user canister key.
	want := icauth.SelfAuthenticating([]byte("user canister key"))
	assert.True(t, identity.Principal().Equal(want))

	// The wallet signed the exact provider message, default scheme.
	assert.Equal(t, "example.com wants you to sign in", w.signedMessage)
	assert.Equal(t, wallet.SchemeBip322Simple, w.signedScheme)

	// The provider saw the wallet signature and the session key the
	// delegation later names.
	assert.Equal(t, []byte("wallet signature"), c.loginSignature)
	chain, ok := identity.(*delegation.Chain)
	require.True(t, ok)
	assert.Equal(t, c.loginSessionKey, chain.SessionPublicKey())
}

func TestLoginStepFailuresShortCircuit(t *testing.T) {
	tests := []struct {
		name    string
		step    string
		corrupt func(w *fakeWallet, c *fakeSiwbClient)
	}{
		{"wallet missing", "accounts", func(w *fakeWallet, c *fakeSiwbClient) {
			w.accountsErr = errors.New("extension not installed")
		}},
		{"no accounts", "accounts", func(w *fakeWallet, c *fakeSiwbClient) {
			w.accounts = nil
		}},
		{"prepare rejected", "prepare_login", func(w *fakeWallet, c *fakeSiwbClient) {
			c.prepareErr = errors.New("address banned")
		}},
		{"signing refused", "sign_message", func(w *fakeWallet, c *fakeSiwbClient) {
			w.signErr = errors.New("user rejected")
		}},
		{"signature rejected", "login", func(w *fakeWallet, c *fakeSiwbClient) {
			c.loginErr = errors.New("bad signature")
		}},
		{"delegation fetch failed", "get_delegation", func(w *fakeWallet, c *fakeSiwbClient) {
			c.proofErr = errors.New("unknown address")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, c := workingFixtures()
			tt.corrupt(w, c)

			p, err := wallet.New(wallet.Config{Wallet: w, Client: c})
			require.NoError(t, err)

			identity, err := p.Login(context.Background())
			assert.Nil(t, identity)
			require.ErrorIs(t, err, icauth.ErrProviderUnavailable)

			var rich *goerrors.Error
			require.ErrorAs(t, err, &rich)
			assert.Equal(t, tt.step, rich.Metadata["step"])
			assert.Nil(t, icauth.ErrProviderUnavailable.Metadata)
		})
	}
}

func TestLoginMalformedDelegation(t *testing.T) {
	w, c := workingFixtures()
	c.proof.Signature = nil

	p, err := wallet.New(wallet.Config{Wallet: w, Client: c})
	require.NoError(t, err)

	_, err = p.Login(context.Background())
	assert.ErrorIs(t, err, icauth.ErrMalformedDelegation)
}

func TestResumeAlwaysReturnsNothing(t *testing.T) {
	w, c := workingFixtures()
	p, err := wallet.New(wallet.Config{Wallet: w, Client: c})
	require.NoError(t, err)

	// Even immediately after a successful login there is nothing to
	// silently resume.
	_, err = p.Login(context.Background())
	require.NoError(t, err)

	identity, err := p.Resume(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, identity)

	assert.NoError(t, p.Terminate(context.Background()))
}

func TestProviderDescriptor(t *testing.T) {
	d := wallet.ProviderDescriptor()

	kind, ok := d.Kind("siwb_prepare_login")
	require.True(t, ok)
	assert.Equal(t, icauth.MethodUpdate, kind)

	kind, ok = d.Kind("siwb_login")
	require.True(t, ok)
	assert.Equal(t, icauth.MethodUpdate, kind)

	kind, ok = d.Kind("siwb_get_delegation")
	require.True(t, ok)
	assert.Equal(t, icauth.MethodQuery, kind)
}
