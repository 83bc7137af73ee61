package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	icauth "github.com/onicai/go-icauth"
	"github.com/onicai/go-icauth/delegation"
)

// OpenURLFunc opens the identity provider page, typically in the
// system browser.
type OpenURLFunc func(url string) error

// WebClientConfig configures a WebClient.
type WebClientConfig struct {
	// OpenURL is required: it presents the provider page to the user.
	OpenURL OpenURLFunc
	// ListenAddr is the loopback address the callback server binds to.
	// Defaults to an ephemeral port on 127.0.0.1.
	ListenAddr string
	Builder    *delegation.Builder
	Logger     icauth.Logger
	Clock      func() time.Time
}

// WebClient implements AuthClient by opening the provider URL and
// waiting on a local loopback HTTP server for the delegation hand-back.
// The wait has no enforced timeout: the flow blocks until the user
// finishes, cancels, or the context is cancelled.
type WebClient struct {
	cfg    WebClientConfig
	logger icauth.Logger
	now    func() time.Time

	mu       sync.Mutex
	identity *delegation.Chain
}

var _ AuthClient = (*WebClient)(nil)

// NewWebClient builds a loopback web auth client.
func NewWebClient(cfg WebClientConfig) (*WebClient, error) {
	if cfg.OpenURL == nil {
		return nil, fmt.Errorf("web client: OpenURL is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.Builder == nil {
		cfg.Builder = delegation.NewBuilder()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = icauth.DefaultLogger()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &WebClient{cfg: cfg, logger: logger, now: now}, nil
}

// callbackPayload is the JSON body the provider page posts back to the
// loopback server once the user finished (or abandoned) the flow.
type callbackPayload struct {
	Nonce      string `json:"nonce"`
	Cancelled  bool   `json:"cancelled"`
	Expiration string `json:"expiration"`
	// Signature and UserPublicKey are standard base64.
	Signature     string   `json:"signature"`
	UserPublicKey string   `json:"userPublicKey"`
	Targets       []string `json:"targets,omitempty"`
}

// Login opens the provider page and blocks until the callback arrives.
func (c *WebClient) Login(ctx context.Context, opts LoginOptions) (icauth.Identity, error) {
	sessionKey, err := delegation.NewSessionKeyPair()
	if err != nil {
		return nil, err
	}

	nonce := uuid.NewString()
	results := make(chan callbackPayload, 1)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Post("/callback", func(fc *fiber.Ctx) error {
		var payload callbackPayload
		if err := fc.BodyParser(&payload); err != nil {
			return fc.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed callback"})
		}
		if payload.Nonce != nonce {
			return fc.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "unknown nonce"})
		}
		select {
		case results <- payload:
		default:
		}
		return fc.JSON(fiber.Map{"ok": true})
	})

	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "failed to start login callback server")
	}
	go func() {
		if err := app.Listener(ln); err != nil {
			c.logger.Debug("callback server stopped: %v", err)
		}
	}()
	defer func() {
		if err := app.Shutdown(); err != nil {
			c.logger.Debug("callback server shutdown: %v", err)
		}
	}()

	loginURL, err := buildLoginURL(opts, sessionKey.Public(), nonce, ln.Addr().String())
	if err != nil {
		return nil, err
	}

	if err := c.cfg.OpenURL(loginURL); err != nil {
		return nil, icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"error": err.Error(),
		})
	}

	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "login interrupted")
	case payload := <-results:
		return c.adopt(sessionKey, payload)
	}
}

func (c *WebClient) adopt(sessionKey *delegation.SessionKeyPair, payload callbackPayload) (icauth.Identity, error) {
	if payload.Cancelled {
		return nil, icauth.ErrUserCancelled
	}

	signature, err := base64.StdEncoding.DecodeString(payload.Signature)
	if err != nil {
		return nil, icauth.WithMeta(icauth.ErrMalformedDelegation, map[string]any{
			"reason": "undecodable signature",
		})
	}
	userKey, err := base64.StdEncoding.DecodeString(payload.UserPublicKey)
	if err != nil {
		return nil, icauth.WithMeta(icauth.ErrMalformedDelegation, map[string]any{
			"reason": "undecodable user public key",
		})
	}

	chain, err := c.cfg.Builder.Build(sessionKey, delegation.ProviderDelegation{
		Expiration: payload.Expiration,
		Targets:    payload.Targets,
	}, signature, userKey)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.identity = chain
	c.mu.Unlock()
	return chain, nil
}

func buildLoginURL(opts LoginOptions, sessionPublicKey []byte, nonce, callbackAddr string) (string, error) {
	parsed, err := url.Parse(opts.ProviderURL)
	if err != nil {
		return "", icauth.WithMeta(icauth.ErrProviderUnavailable, map[string]any{
			"error": fmt.Sprintf("bad provider url: %v", err),
		})
	}

	q := parsed.Query()
	q.Set("sessionPublicKey", base64.RawURLEncoding.EncodeToString(sessionPublicKey))
	q.Set("nonce", nonce)
	q.Set("redirectUri", "http://"+callbackAddr+"/callback")
	if opts.MaxTTL > 0 {
		q.Set("maxTimeToLive", strconv.FormatInt(opts.MaxTTL.Nanoseconds(), 10))
	}
	if opts.IdleTimeout > 0 {
		q.Set("idleTimeout", strconv.FormatInt(opts.IdleTimeout.Nanoseconds(), 10))
	}
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// IsAuthenticated reports whether a previously obtained delegation is
// still live.
func (c *WebClient) IsAuthenticated(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return false, nil
	}
	return c.identity.Signed.Delegation.Expiration > uint64(c.now().UnixNano()), nil
}

// Identity returns the live identity, if any.
func (c *WebClient) Identity(ctx context.Context) (icauth.Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.identity == nil {
		return nil, icauth.ErrNotAuthenticated
	}
	if c.identity.Signed.Delegation.Expiration <= uint64(c.now().UnixNano()) {
		return nil, icauth.ErrSessionExpired
	}
	return c.identity, nil
}

// Logout drops the stored identity.
func (c *WebClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = nil
	return nil
}
