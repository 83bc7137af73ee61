package icauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
)

// State is the coarse position of the authentication state machine.
type State string

const (
	StateLoggedOut      State = "logged_out"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
)

// AuthStateReporter is implemented by providers whose own storage is
// authoritative for delegation survival. The manager consults it on
// restore before trusting the persisted record.
type AuthStateReporter interface {
	IsAuthenticated(ctx context.Context) (bool, error)
}

// CanisterRole names one primary canister the session depends on.
type CanisterRole struct {
	ID         string
	Descriptor Descriptor
}

// ManagerConfig wires the session manager's collaborators.
type ManagerConfig struct {
	Factory   ActorFactory
	Store     Store
	Providers map[LoginType]IdentityProvider

	// Primary maps role names ("backend", "gameState", ...) to the
	// canisters rebuilt on every authentication.
	Primary map[string]CanisterRole

	// DiscoveryRole is the primary actor handed to the Initializer.
	// Required when Initializer is set.
	DiscoveryRole string
	Initializer   DependentInitializer

	Logger Logger
	Clock  func() time.Time

	// RefreshCheckInterval overrides the timer period, for tests.
	RefreshCheckInterval time.Duration
}

func (c ManagerConfig) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.Store, validation.Required),
		validation.Field(&c.Providers, validation.Required),
	); err != nil {
		return err
	}
	if c.Factory == nil {
		return fmt.Errorf("manager config: actor factory is required")
	}
	for t := range c.Providers {
		if !t.Valid() {
			return fmt.Errorf("manager config: invalid login type %q", t)
		}
	}
	if c.Initializer != nil && c.DiscoveryRole == "" {
		return fmt.Errorf("manager config: discovery role is required with an initializer")
	}
	if c.DiscoveryRole != "" {
		if _, ok := c.Primary[c.DiscoveryRole]; !ok {
			return fmt.Errorf("manager config: discovery role %q has no primary canister", c.DiscoveryRole)
		}
	}
	return nil
}

// SessionManager owns the authentication state machine. All mutable
// session state lives here, guarded by one mutex; there are no
// package-level singletons. At most one identity is active at any time
// and re-authentication always replaces the primary actor set
// wholesale, never patches it.
type SessionManager struct {
	cfg    ManagerConfig
	logger Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	loginType  LoginType
	identity   Identity
	record     *SessionRecord
	primary    map[string]Actor
	dependents []DependentActor

	// generation increments on every session adoption and disconnect.
	// Completions of long-running flows compare against it so a stale
	// refresh can never resurrect a cleared session.
	generation uint64

	timerStop chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan StateChange
	nextSub int
}

// NewSessionManager validates cfg and returns a logged-out manager.
func NewSessionManager(cfg ManagerConfig) (*SessionManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid session manager config")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = defLogger{}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	if cfg.RefreshCheckInterval <= 0 {
		cfg.RefreshCheckInterval = RefreshCheckInterval
	}

	return &SessionManager{
		cfg:     cfg,
		logger:  logger,
		now:     now,
		state:   StateLoggedOut,
		primary: map[string]Actor{},
		subs:    map[int]chan StateChange{},
	}, nil
}

// State returns the current machine state.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ActiveLoginType returns the variant of the active session.
func (m *SessionManager) ActiveLoginType() (LoginType, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginType, m.state == StateAuthenticated
}

// CurrentIdentity returns the active identity.
func (m *SessionManager) CurrentIdentity() (Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated || m.identity == nil {
		return nil, ErrNotAuthenticated
	}
	return m.identity, nil
}

// CurrentRecord returns a copy of the persisted session record.
func (m *SessionManager) CurrentRecord() (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.record == nil {
		return SessionRecord{}, ErrNotAuthenticated
	}
	return *m.record, nil
}

// PrimaryActor returns the actor bound to one canister role.
func (m *SessionManager) PrimaryActor(role string) (Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.primary[role]
	if !ok {
		return nil, goerrors.New(fmt.Sprintf("no actor for role %q", role), goerrors.CategoryNotFound).
			WithCode(goerrors.CodeNotFound)
	}
	return a, nil
}

// PrimaryActors returns a copy of the role to actor mapping.
func (m *SessionManager) PrimaryActors() map[string]Actor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Actor, len(m.primary))
	for k, v := range m.primary {
		out[k] = v
	}
	return out
}

// DependentActors returns a copy of the discovered secondary actors.
// The list may be stale between explicit reloads.
func (m *SessionManager) DependentActors() []DependentActor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DependentActor, len(m.dependents))
	copy(out, m.dependents)
	return out
}

// Connect establishes a session with the given provider variant. When
// sessionRestore is true only a silent resume is attempted; a provider
// that cannot resume transitions to LoggedOut with a session-expired
// notice instead of silently re-prompting the user.
func (m *SessionManager) Connect(ctx context.Context, variant LoginType, sessionRestore bool) error {
	provider, ok := m.cfg.Providers[variant]
	if !ok {
		return WithMeta(ErrUnknownLoginType, map[string]any{"loginType": string(variant)})
	}

	m.mu.Lock()
	startGen := m.generation
	alreadyAuthed := m.state == StateAuthenticated
	if !alreadyAuthed {
		m.state = StateAuthenticating
	}
	prevIdentity := m.identity
	m.mu.Unlock()

	// A refresh of a live session never leaves Authenticated, so
	// subscribers see no intermediate transition.
	if !alreadyAuthed {
		m.publish(StateChange{State: StateAuthenticating, LoginType: variant})
	}

	identity, err := m.obtainIdentity(ctx, provider, sessionRestore)
	if err != nil {
		return m.failConnect(ctx, startGen, variant, err)
	}

	// Refresh path: the resumed identity must still belong to the
	// session it is extending.
	if sessionRestore && prevIdentity != nil {
		if !prevIdentity.Principal().Equal(identity.Principal()) {
			m.logger.Error("principal mismatch on session refresh: active=%s resolved=%s",
				prevIdentity.Principal(), identity.Principal())
			return WithMeta(ErrPrincipalMismatch, map[string]any{
				"active":   prevIdentity.Principal().String(),
				"resolved": identity.Principal().String(),
			})
		}
	}

	primary, err := m.buildPrimaryActors(identity)
	if err != nil {
		return m.failConnect(ctx, startGen, variant, err)
	}

	dependents := m.discoverDependents(ctx, primary, identity)

	record := NewSessionRecord(variant, m.now())

	m.mu.Lock()
	if m.generation != startGen {
		m.mu.Unlock()
		m.logger.Info("abandoning stale %s login completion", variant)
		return nil
	}
	m.generation++
	adoptedGen := m.generation
	m.state = StateAuthenticated
	m.loginType = variant
	m.identity = identity
	m.record = record
	m.primary = primary
	m.dependents = dependents
	m.startRefreshTimerLocked()
	m.mu.Unlock()

	if err := m.cfg.Store.Save(ctx, record); err != nil {
		m.logger.Error("failed to persist session record: %v", err)
	}

	// A disconnect may have raced the persist; in that case the write
	// above re-created a record for a session that no longer exists
	// and must be taken back.
	m.mu.Lock()
	stale := m.generation != adoptedGen
	m.mu.Unlock()
	if stale {
		m.logger.Info("%s session cleared during login completion, removing record", variant)
		if err := m.cfg.Store.Clear(ctx); err != nil {
			m.logger.Error("failed to clear session record: %v", err)
		}
		return nil
	}

	m.publish(StateChange{State: StateAuthenticated, LoginType: variant, Principal: identity.Principal()})
	m.logger.Info("%s is authed", variant)
	return nil
}

func (m *SessionManager) obtainIdentity(ctx context.Context, provider IdentityProvider, sessionRestore bool) (Identity, error) {
	if sessionRestore {
		identity, err := provider.Resume(ctx)
		if err != nil {
			return nil, err
		}
		if identity == nil {
			return nil, ErrSessionExpired
		}
		return identity, nil
	}
	return provider.Login(ctx)
}

func (m *SessionManager) failConnect(ctx context.Context, startGen uint64, variant LoginType, cause error) error {
	m.mu.Lock()
	if m.generation != startGen {
		m.mu.Unlock()
		return cause
	}
	m.generation++
	m.stopRefreshTimerLocked()
	m.state = StateLoggedOut
	m.loginType = ""
	m.identity = nil
	m.record = nil
	m.primary = map[string]Actor{}
	m.dependents = nil
	m.mu.Unlock()

	if clearErr := m.cfg.Store.Clear(ctx); clearErr != nil {
		m.logger.Error("failed to clear session record: %v", clearErr)
	}

	change := StateChange{State: StateLoggedOut, LoginType: variant}
	switch {
	case errors.Is(cause, ErrUserCancelled):
		// User closed the window; back to logged out without a notice.
		m.logger.Debug("%s login cancelled by user", variant)
	case errors.Is(cause, ErrSessionExpired):
		change.Notice = "Your session has expired, please log in again."
		change.Err = cause
	default:
		change.Notice = "Authentication failed."
		change.Err = cause
		m.logger.Error("%s login failed: %v", variant, cause)
	}
	m.publish(change)
	return cause
}

func (m *SessionManager) buildPrimaryActors(identity Identity) (map[string]Actor, error) {
	actors := make(map[string]Actor, len(m.cfg.Primary))
	for role, canister := range m.cfg.Primary {
		actor, err := m.cfg.Factory.Build(canister.ID, canister.Descriptor, identity)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryOperation,
				fmt.Sprintf("failed to build %q actor", role))
		}
		actors[role] = actor
	}
	return actors, nil
}

func (m *SessionManager) discoverDependents(ctx context.Context, primary map[string]Actor, identity Identity) []DependentActor {
	if m.cfg.Initializer == nil {
		return nil
	}
	dependents, err := m.cfg.Initializer.Discover(ctx, primary[m.cfg.DiscoveryRole], identity)
	if err != nil {
		// Discovery failure leaves the session usable with no
		// dependents; a reload can be requested later.
		m.logger.Error("dependent canister discovery failed: %v", err)
		return nil
	}
	return dependents
}

// ReloadDependents re-runs discovery for the active session.
func (m *SessionManager) ReloadDependents(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.identity == nil {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	identity := m.identity
	primary := m.primary
	startGen := m.generation
	m.mu.Unlock()

	dependents := m.discoverDependents(ctx, primary, identity)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != startGen {
		return nil
	}
	m.dependents = dependents
	return nil
}

// RestoreOnStartup re-establishes a persisted session, if any, without
// prompting the user. An absent, corrupt, or expired record leaves the
// manager logged out.
func (m *SessionManager) RestoreOnStartup(ctx context.Context) error {
	record, err := m.cfg.Store.Load(ctx)
	if err != nil {
		m.logger.Error("failed to load session record, clearing: %v", err)
		if clearErr := m.cfg.Store.Clear(ctx); clearErr != nil {
			m.logger.Error("failed to clear session record: %v", clearErr)
		}
		return nil
	}

	if record == nil {
		return m.restoreLegacy(ctx)
	}

	if !record.LoginType.Valid() {
		m.logger.Info("stored session has unknown login type %q, clearing", record.LoginType)
		return m.clearAndStayLoggedOut(ctx)
	}

	// The platform client's own storage decides whether its delegation
	// survived; check it before trusting our record.
	if record.LoginType == LoginPlatformIdentity {
		ok, err := m.providerReportsAuthenticated(ctx, record.LoginType)
		if err != nil || !ok {
			m.logger.Info("platform client no longer authenticated, clearing session")
			return m.clearAndStayLoggedOut(ctx)
		}
	}

	if record.Expired(m.now()) {
		m.logger.Info("stored session has expired, clearing session info")
		if err := m.clearAndStayLoggedOut(ctx); err != nil {
			return err
		}
		m.publish(StateChange{
			State:  StateLoggedOut,
			Notice: "Your session has expired, please log in again.",
			Err:    ErrSessionExpired,
		})
		return nil
	}

	return m.Connect(ctx, record.LoginType, true)
}

func (m *SessionManager) restoreLegacy(ctx context.Context) error {
	loginType, ok, err := m.cfg.Store.LegacyLoginType(ctx)
	if err != nil || !ok {
		return nil
	}
	if !loginType.Valid() {
		return m.clearAndStayLoggedOut(ctx)
	}
	m.logger.Info("%s connection detected (legacy)", loginType)
	return m.Connect(ctx, loginType, true)
}

func (m *SessionManager) providerReportsAuthenticated(ctx context.Context, variant LoginType) (bool, error) {
	provider, ok := m.cfg.Providers[variant]
	if !ok {
		return false, ErrUnknownLoginType
	}
	reporter, ok := provider.(AuthStateReporter)
	if !ok {
		return true, nil
	}
	return reporter.IsAuthenticated(ctx)
}

func (m *SessionManager) clearAndStayLoggedOut(ctx context.Context) error {
	if err := m.cfg.Store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear session record: %v", err)
	}
	return nil
}

// Refresh extends the session when it is inside the refresh window.
// Outside the window it is a no-op with no provider call. Invoked by
// the background timer and callable directly.
func (m *SessionManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.record == nil {
		m.mu.Unlock()
		return nil
	}
	record := *m.record
	variant := m.loginType
	m.mu.Unlock()

	if !record.NeedsRefresh(m.now()) {
		return nil
	}

	m.logger.Info("refreshing %s session", variant)
	return m.Connect(ctx, variant, true)
}

// Disconnect terminates the active provider session, clears all state
// and stops the refresh timer. It is idempotent and unconditionally
// clears state regardless of any in-flight connect or refresh.
func (m *SessionManager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	m.stopRefreshTimerLocked()
	var provider IdentityProvider
	if m.loginType != "" {
		provider = m.cfg.Providers[m.loginType]
	}
	variant := m.loginType
	m.state = StateLoggedOut
	m.loginType = ""
	m.identity = nil
	m.record = nil
	m.primary = map[string]Actor{}
	m.dependents = nil
	m.mu.Unlock()

	if err := m.cfg.Store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear session record: %v", err)
	}

	if provider != nil {
		if err := provider.Terminate(ctx); err != nil {
			m.logger.Error("%s disconnect error: %v", variant, err)
		}
	}

	m.publish(StateChange{State: StateLoggedOut})
	return nil
}

// startRefreshTimerLocked replaces any live timer with a fresh one.
// Callers hold m.mu.
func (m *SessionManager) startRefreshTimerLocked() {
	m.stopRefreshTimerLocked()
	stop := make(chan struct{})
	m.timerStop = stop

	go func() {
		ticker := time.NewTicker(m.cfg.RefreshCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := m.Refresh(context.Background()); err != nil {
					m.logger.Error("session refresh failed: %v", err)
				}
			}
		}
	}()
}

func (m *SessionManager) stopRefreshTimerLocked() {
	if m.timerStop != nil {
		close(m.timerStop)
		m.timerStop = nil
	}
}
