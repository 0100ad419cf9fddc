package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/space-symphony/authclient"
	"github.com/jrsteele09/space-symphony/browser"
	"github.com/jrsteele09/space-symphony/callback"
	"github.com/jrsteele09/space-symphony/credentials"
	apperrors "github.com/jrsteele09/space-symphony/internal/errors"
	"github.com/jrsteele09/space-symphony/token"
	"github.com/rs/zerolog/log"
)

const (
	DefaultCallbackTimeout = 120 * time.Second
	defaultEventBuffer     = 8
)

// Dependencies are the collaborators the coordinator drives.
type Dependencies struct {
	Client   authclient.Client
	Store    credentials.Store
	Launcher browser.Launcher
}

// Settings fix where the callback is received and how long to wait for it.
type Settings struct {
	AppID           string
	CallbackAddr    string
	CallbackPath    string
	CallbackTimeout time.Duration
}

// Coordinator runs login attempts: at most one at a time, each owning the loopback
// port for its whole lifetime. Completion is reported through the attempt itself and
// through Events, never through shared state.
type Coordinator struct {
	deps     Dependencies
	settings Settings
	nowTime  func() time.Time
	newState func() string
	events   chan Event

	baseCtx  context.Context
	shutdown context.CancelFunc
	running  sync.WaitGroup

	// mu guards attempt and closed, and serialises every store write made by the coordinator.
	mu      sync.Mutex
	attempt *Attempt
	closed  bool
}

// Option defines a function type to modify the Coordinator instance.
type Option func(*Coordinator)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Coordinator) {
		c.nowTime = nowFunc
	}
}

// WithStateGenerator replaces the OAuth state generator.
func WithStateGenerator(gen func() string) Option {
	return func(c *Coordinator) {
		c.newState = gen
	}
}

// WithEventBuffer sets how many undelivered events are kept before new ones are dropped.
func WithEventBuffer(size int) Option {
	return func(c *Coordinator) {
		c.events = make(chan Event, size)
	}
}

func New(deps Dependencies, settings Settings, options ...Option) (*Coordinator, error) {
	if deps.Client == nil {
		return nil, errors.New("[flow.New] authorization client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[flow.New] credential store is required")
	}
	if deps.Launcher == nil {
		return nil, errors.New("[flow.New] browser launcher is required")
	}
	if err := credentials.ValidateAppID(settings.AppID); err != nil {
		return nil, err
	}
	if settings.CallbackAddr == "" {
		return nil, errors.New("[flow.New] callback address is required")
	}
	if settings.CallbackTimeout <= 0 {
		settings.CallbackTimeout = DefaultCallbackTimeout
	}

	c := &Coordinator{
		deps:     deps,
		settings: settings,
		nowTime:  time.Now,
		newState: uuid.NewString,
		events:   make(chan Event, defaultEventBuffer),
	}
	for _, opt := range options {
		opt(c)
	}
	c.baseCtx, c.shutdown = context.WithCancel(context.Background())
	return c, nil
}

// Events delivers LoginCompleted / LoginFailed / LoginNotPersisted for every attempt,
// after the attempt's store write (if any) has completed.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Current returns the in-flight attempt, or nil.
func (c *Coordinator) Current() *Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempt
}

// StartLogin begins a login attempt and returns without waiting for it.
// A second call while one is pending returns ErrAlreadyInProgress with no side effects.
// A bind failure is returned directly and also reported as LoginFailed.
// Cancelling ctx abandons the attempt.
func (c *Coordinator) StartLogin(ctx context.Context) (*Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, newError(Cancelled, "coordinator is shut down", nil)
	}
	if c.attempt != nil {
		return nil, newError(AlreadyInProgress, "attempt "+c.attempt.id, nil)
	}

	listener, err := callback.Start(c.settings.CallbackAddr, c.settings.CallbackPath)
	if err != nil {
		authErr := newError(BindFailed, c.settings.CallbackAddr, err)
		log.Err(err).Str("addr", c.settings.CallbackAddr).Msg("Cannot bind callback listener")
		c.emit(eventFor("", authErr))
		return nil, authErr
	}

	attemptCtx, cancel := context.WithCancel(c.baseCtx)
	stopAfter := context.AfterFunc(ctx, cancel)

	a := &Attempt{
		id:        uuid.NewString(),
		state:     c.newState(),
		startedAt: c.nowTime(),
		listener:  listener,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	a.authURL = c.deps.Client.BuildAuthorizationURL(a.state)
	c.attempt = a

	log.Info().Str("attempt", a.id).Str("callback", listener.Addr().String()).Msg("Login attempt started")

	c.running.Add(1)
	go func() {
		defer c.running.Done()
		defer stopAfter()
		defer cancel()
		c.run(attemptCtx, a)
	}()
	return a, nil
}

func (c *Coordinator) run(ctx context.Context, a *Attempt) {
	if err := c.deps.Launcher.Open(a.authURL); err != nil {
		log.Warn().Err(err).Str("url", a.authURL).Msg("Could not open browser, open the URL manually")
	}

	err := c.await(ctx, a)
	if stopErr := a.listener.Stop(); stopErr != nil {
		log.Err(stopErr).Str("attempt", a.id).Msg("Callback listener did not stop cleanly")
	}
	c.finish(a, err)
}

// await waits for the callback, exchanges the code and saves the record.
func (c *Coordinator) await(ctx context.Context, a *Attempt) error {
	timer := time.NewTimer(c.settings.CallbackTimeout)
	defer timer.Stop()

	var req callback.Request
	select {
	case req = <-a.listener.Requests():
	case <-timer.C:
		return newError(Timeout, c.settings.CallbackTimeout.String(), nil)
	case <-ctx.Done():
		return newError(Cancelled, "", ctx.Err())
	}

	// Release the port before the network round trip.
	_ = a.listener.Stop()
	log.Info().Str("attempt", a.id).Bool("code", req.HasCode()).Str("error", req.Error).Msg("Callback received")

	switch {
	case req.HasError():
		reason := req.Error
		if req.ErrorDescription != "" {
			reason += " (" + req.ErrorDescription + ")"
		}
		return newError(ProviderDenied, reason, nil)
	case req.State != a.state:
		return newError(InvalidCallback, "state mismatch", nil)
	case !req.HasCode():
		return newError(InvalidCallback, "missing code", nil)
	}

	rec, err := c.deps.Client.ExchangeCode(ctx, req.Code)
	if err != nil {
		if ctx.Err() != nil {
			return newError(Cancelled, "during token exchange", ctx.Err())
		}
		return newError(ExchangeFailed, "", err)
	}
	rec.LoginState = token.LoggedIn
	if err := rec.Validate(); err != nil {
		return newError(ExchangeFailed, "unusable token", err)
	}

	return c.commit(ctx, a, rec)
}

// commit saves rec unless the attempt was cancelled first. Holding mu makes the
// cancellation check and the write one step with respect to Logout.
func (c *Coordinator) commit(ctx context.Context, a *Attempt, rec token.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return newError(Cancelled, "before saving credentials", err)
	}
	if err := c.deps.Store.Save(context.WithoutCancel(ctx), c.settings.AppID, rec); err != nil {
		log.Err(err).Str("attempt", a.id).Msg("Failed to save credentials")
		return newError(StoreFailed, "", err)
	}
	return nil
}

func (c *Coordinator) finish(a *Attempt, err error) {
	c.mu.Lock()
	if c.attempt == a {
		c.attempt = nil
	}
	c.mu.Unlock()

	a.resolve(err)
	if err != nil {
		log.Err(err).Str("attempt", a.id).Dur("elapsed", c.nowTime().Sub(a.startedAt)).Msg("Login attempt failed")
	} else {
		log.Info().Str("attempt", a.id).Msg("Login completed")
	}
	c.emit(eventFor(a.id, err))
}

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("event", ev.Type.String()).Msg("Event buffer full, dropping event")
	}
}

// Cancel abandons the in-flight attempt, if any, and waits for it to release the port.
func (c *Coordinator) Cancel(ctx context.Context) error {
	a := c.Current()
	if a == nil {
		return nil
	}
	a.cancel()
	select {
	case <-a.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logout cancels any in-flight attempt and overwrites the stored record with a
// logged-out one. It never contacts the provider and is safe to repeat.
func (c *Coordinator) Logout(ctx context.Context) error {
	if err := c.Cancel(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.deps.Store.Save(ctx, c.settings.AppID, token.LoggedOutRecord()); err != nil {
		log.Err(err).Msg("Logout: failed to save credentials")
		return newError(StoreFailed, "logout", err)
	}
	log.Info().Msg("Logged out")
	return nil
}

// Refresh trades the stored refresh token for a new access token. The new record is
// only saved if the session did not change (logout, new login) while the request ran.
func (c *Coordinator) Refresh(ctx context.Context) error {
	current, err := c.deps.Store.Load(ctx, c.settings.AppID)
	if err != nil {
		return newError(StoreFailed, "load credentials", err)
	}
	if !current.IsLoggedIn() || current.RefreshToken == nil {
		return apperrors.ErrNotLoggedIn
	}

	rec, err := c.deps.Client.Refresh(ctx, *current.RefreshToken)
	if err != nil {
		return newError(ExchangeFailed, "refresh", err)
	}
	rec.LoginState = token.LoggedIn
	if rec.RefreshToken == nil {
		rec.RefreshToken = current.RefreshToken
	}
	if err := rec.Validate(); err != nil {
		return newError(ExchangeFailed, "unusable token", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	latest, err := c.deps.Store.Load(ctx, c.settings.AppID)
	if err != nil {
		return newError(StoreFailed, "reload credentials", err)
	}
	if !latest.IsLoggedIn() || latest.AccessToken != current.AccessToken {
		return apperrors.Wrapf(apperrors.ErrNotLoggedIn, "session changed during refresh")
	}
	if err := c.deps.Store.Save(ctx, c.settings.AppID, rec); err != nil {
		return newError(StoreFailed, "refresh", err)
	}
	log.Info().Msg("Access token refreshed")
	return nil
}

// Shutdown cancels any in-flight attempt, waits for it to finish and rejects new ones.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.shutdown()
	c.running.Wait()
}
