package flow_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jrsteele09/space-symphony/authclient"
	"github.com/jrsteele09/space-symphony/browser"
	"github.com/jrsteele09/space-symphony/credentials/repofake"
	"github.com/jrsteele09/space-symphony/flow"
	apperrors "github.com/jrsteele09/space-symphony/internal/errors"
	"github.com/jrsteele09/space-symphony/internal/utils"
	"github.com/jrsteele09/space-symphony/token"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	testAppID    = "space.symphony"
	callbackPath = "/success"
	providerURL  = "https://accounts.example.test/authorize"
)

type testFixture struct {
	addr        string
	client      *authclient.MockClient
	store       *repofake.FakeCredentialRepo
	coordinator *flow.Coordinator
}

// freeAddr finds a loopback address nobody is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func setupTestFixture(t *testing.T, launcher browser.Launcher, timeout time.Duration) *testFixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	f := &testFixture{
		addr:   freeAddr(t),
		client: authclient.NewMockClient(ctrl),
		store:  repofake.NewFakeCredentialRepo(),
	}
	f.client.EXPECT().BuildAuthorizationURL(gomock.Any()).DoAndReturn(func(state string) string {
		return providerURL + "?" + url.Values{"state": {state}}.Encode()
	}).AnyTimes()

	c, err := flow.New(flow.Dependencies{
		Client:   f.client,
		Store:    f.store,
		Launcher: launcher,
	}, flow.Settings{
		AppID:           testAppID,
		CallbackAddr:    f.addr,
		CallbackPath:    callbackPath,
		CallbackTimeout: timeout,
	})
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	f.coordinator = c
	return f
}

func stateOf(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func redirect(addr string, query url.Values) {
	resp, err := http.Get("http://" + addr + callbackPath + "?" + query.Encode())
	if err == nil {
		resp.Body.Close()
	}
}

// providerRedirects behaves like a browser that completes login at the provider.
func providerRedirects(addr func() string, extra url.Values) browser.Launcher {
	return browser.Func(func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}
		q := url.Values{"state": {u.Query().Get("state")}}
		for k, v := range extra {
			q[k] = v
		}
		redirect(addr(), q)
		return nil
	})
}

func idleBrowser() browser.Launcher {
	return browser.Func(func(string) error { return nil })
}

func wait(t *testing.T, a *flow.Attempt) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "attempt did not resolve")
	return err
}

func nextEvent(t *testing.T, c *flow.Coordinator) flow.Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return flow.Event{}
	}
}

func requirePortFree(t *testing.T, addr string) {
	t.Helper()
	l, err := net.Listen("tcp", addr)
	require.NoError(t, err, "callback port still held")
	require.NoError(t, l.Close())
}

func issuedRecord() token.Record {
	return token.Record{
		AccessToken:  "access-abc",
		ExpiresIn:    3600,
		ExpiresAt:    utils.Ptr(time.Date(2026, 10, 15, 13, 0, 0, 0, time.UTC)),
		RefreshToken: utils.Ptr("refresh-xyz"),
		Scopes:       token.NewScopes("user-read-recently-played"),
		LoginState:   token.LoggedIn,
	}
}

func existingRecord() token.Record {
	rec := issuedRecord()
	rec.AccessToken = "existing-access"
	return rec
}

func TestStartLogin_Success(t *testing.T) {
	var f *testFixture
	f = setupTestFixture(t, providerRedirects(func() string { return f.addr }, url.Values{"code": {"ABC123"}}), time.Minute)
	f.client.EXPECT().ExchangeCode(gomock.Any(), "ABC123").Return(issuedRecord(), nil)

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, a.ID())
	require.Contains(t, a.AuthURL(), providerURL)

	require.NoError(t, wait(t, a))
	require.Equal(t, flow.Succeeded, a.Outcome())

	ev := nextEvent(t, f.coordinator)
	require.Equal(t, flow.LoginCompleted, ev.Type)
	require.Equal(t, a.ID(), ev.AttemptID)

	got, err := f.store.Load(context.Background(), testAppID)
	require.NoError(t, err)
	require.True(t, issuedRecord().Equal(*got))
	require.Equal(t, token.LoggedIn, got.LoginState)
	require.Equal(t, 1, f.store.Saves())
	require.Nil(t, f.coordinator.Current())
	requirePortFree(t, f.addr)
}

func TestStartLogin_ProviderDeniedNeverWrites(t *testing.T) {
	var f *testFixture
	f = setupTestFixture(t, providerRedirects(func() string { return f.addr }, url.Values{"error": {"access_denied"}}), time.Minute)
	f.store.Seed(testAppID, existingRecord())

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	err = wait(t, a)
	require.ErrorIs(t, err, flow.ErrProviderDenied)
	require.Contains(t, err.Error(), "access_denied")
	require.Equal(t, flow.Failed, a.Outcome())

	ev := nextEvent(t, f.coordinator)
	require.Equal(t, flow.LoginFailed, ev.Type)
	require.ErrorIs(t, ev.Err, flow.ErrProviderDenied)

	require.Zero(t, f.store.Saves())
	got, err := f.store.Load(context.Background(), testAppID)
	require.NoError(t, err)
	require.True(t, existingRecord().Equal(*got))
	requirePortFree(t, f.addr)
}

func TestStartLogin_ExchangeFailureKeepsExistingSession(t *testing.T) {
	var f *testFixture
	f = setupTestFixture(t, providerRedirects(func() string { return f.addr }, url.Values{"code": {"ABC123"}}), time.Minute)
	f.store.Seed(testAppID, existingRecord())
	f.client.EXPECT().ExchangeCode(gomock.Any(), "ABC123").Return(token.Record{}, errors.New("invalid_grant"))

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	err = wait(t, a)
	require.ErrorIs(t, err, flow.ErrExchangeFailed)
	require.Equal(t, flow.ExchangeFailed, flow.KindOf(err))

	require.Zero(t, f.store.Saves())
	got, err := f.store.Load(context.Background(), testAppID)
	require.NoError(t, err)
	require.True(t, existingRecord().Equal(*got))
}

func TestStartLogin_EmptyAccessTokenIsExchangeFailure(t *testing.T) {
	var f *testFixture
	f = setupTestFixture(t, providerRedirects(func() string { return f.addr }, url.Values{"code": {"ABC123"}}), time.Minute)
	f.client.EXPECT().ExchangeCode(gomock.Any(), "ABC123").Return(token.Record{Scopes: token.NewScopes()}, nil)

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, wait(t, a), flow.ErrExchangeFailed)
	require.Zero(t, f.store.Saves())
}

func TestStartLogin_Timeout(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), 150*time.Millisecond)
	f.store.Seed(testAppID, existingRecord())

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	require.ErrorIs(t, wait(t, a), flow.ErrTimeout)
	requirePortFree(t, f.addr)
	require.Zero(t, f.store.Saves())

	ev := nextEvent(t, f.coordinator)
	require.Equal(t, flow.LoginFailed, ev.Type)
	require.ErrorIs(t, ev.Err, flow.ErrTimeout)
}

func TestStartLogin_StrayRequestsDoNotExtendTimeout(t *testing.T) {
	const timeout = 300 * time.Millisecond
	f := setupTestFixture(t, idleBrowser(), timeout)

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	stop := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		base := "http://" + f.addr
		for {
			select {
			case <-stop:
				return
			case <-time.After(40 * time.Millisecond):
			}
			if resp, err := http.Get(base + "/favicon.ico"); err == nil {
				resp.Body.Close()
			}
			if resp, err := http.Post(base+callbackPath+"?code=ABC123", "text/plain", strings.NewReader("")); err == nil {
				resp.Body.Close()
			}
		}
	}()

	start := time.Now()
	err = wait(t, a)
	elapsed := time.Since(start)
	close(stop)
	<-stopped

	require.ErrorIs(t, err, flow.ErrTimeout)
	require.Less(t, elapsed, timeout+time.Second)
	requirePortFree(t, f.addr)
	require.Zero(t, f.store.Saves())
}

func TestStartLogin_AlreadyInProgress(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)
	f.client.EXPECT().ExchangeCode(gomock.Any(), "ABC123").Return(issuedRecord(), nil)

	first, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	second, err := f.coordinator.StartLogin(context.Background())
	require.Nil(t, second)
	require.ErrorIs(t, err, flow.ErrAlreadyInProgress)
	require.Same(t, first, f.coordinator.Current())

	select {
	case ev := <-f.coordinator.Events():
		t.Fatalf("rejected start produced event %v", ev.Type)
	default:
	}

	redirect(f.addr, url.Values{"code": {"ABC123"}, "state": {stateOf(t, first.AuthURL())}})
	require.NoError(t, wait(t, first))
	require.Equal(t, 1, f.store.Saves())
}

func TestStartLogin_CanRetryAfterFailure(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), 100*time.Millisecond)

	first, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, wait(t, first), flow.ErrTimeout)

	second, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first.ID(), second.ID())
	require.ErrorIs(t, wait(t, second), flow.ErrTimeout)
}

func TestStartLogin_StateMismatch(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	redirect(f.addr, url.Values{"code": {"ABC123"}, "state": {"forged"}})
	err = wait(t, a)
	require.ErrorIs(t, err, flow.ErrInvalidCallback)
	require.Zero(t, f.store.Saves())
}

func TestStartLogin_CallbackWithoutCode(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	redirect(f.addr, url.Values{"state": {stateOf(t, a.AuthURL())}})
	require.ErrorIs(t, wait(t, a), flow.ErrInvalidCallback)
}

func TestStartLogin_BindError(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)

	taken, err := net.Listen("tcp", f.addr)
	require.NoError(t, err)
	defer taken.Close()

	a, err := f.coordinator.StartLogin(context.Background())
	require.Nil(t, a)
	require.ErrorIs(t, err, flow.ErrBindFailed)
	require.Nil(t, f.coordinator.Current())

	ev := nextEvent(t, f.coordinator)
	require.Equal(t, flow.LoginFailed, ev.Type)
	require.ErrorIs(t, ev.Err, flow.ErrBindFailed)
}

func TestStartLogin_BrowserFailureIsNotFatal(t *testing.T) {
	f := setupTestFixture(t, browser.Func(func(string) error { return errors.New("no display") }), time.Minute)
	f.client.EXPECT().ExchangeCode(gomock.Any(), "ABC123").Return(issuedRecord(), nil)

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	redirect(f.addr, url.Values{"code": {"ABC123"}, "state": {stateOf(t, a.AuthURL())}})
	require.NoError(t, wait(t, a))
}

func TestStartLogin_BrowserMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	launcher := browser.NewMockLauncher(ctrl)
	f := setupTestFixture(t, launcher, 100*time.Millisecond)

	launcher.EXPECT().Open(gomock.Cond(func(u string) bool {
		return strings.HasPrefix(u, providerURL)
	})).Return(nil).Times(1)

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, wait(t, a), flow.ErrTimeout)
}

func TestStartLogin_StoreFailureIsReportedDistinctly(t *testing.T) {
	var f *testFixture
	f = setupTestFixture(t, providerRedirects(func() string { return f.addr }, url.Values{"code": {"ABC123"}}), time.Minute)
	f.client.EXPECT().ExchangeCode(gomock.Any(), "ABC123").Return(issuedRecord(), nil)
	f.store.FailSaves(errors.New("disk full"))

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	require.ErrorIs(t, wait(t, a), flow.ErrStoreFailed)
	ev := nextEvent(t, f.coordinator)
	require.Equal(t, flow.LoginNotPersisted, ev.Type)
}

func TestStartLogin_CallerCancellation(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	a, err := f.coordinator.StartLogin(ctx)
	require.NoError(t, err)

	cancel()
	require.ErrorIs(t, wait(t, a), flow.ErrCancelled)
	requirePortFree(t, f.addr)
}

func TestCancel_DuringExchangeDoesNotSave(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)
	exchanging := make(chan struct{})
	f.client.EXPECT().ExchangeCode(gomock.Any(), "ABC123").DoAndReturn(func(ctx context.Context, _ string) (token.Record, error) {
		close(exchanging)
		<-ctx.Done()
		return token.Record{}, ctx.Err()
	})

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	go redirect(f.addr, url.Values{"code": {"ABC123"}, "state": {stateOf(t, a.AuthURL())}})
	<-exchanging
	require.NoError(t, f.coordinator.Cancel(context.Background()))

	require.ErrorIs(t, a.Err(), flow.ErrCancelled)
	require.Zero(t, f.store.Saves())
}

func TestLogout_IsIdempotent(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)
	f.store.Seed(testAppID, existingRecord())

	for i := 0; i < 2; i++ {
		require.NoError(t, f.coordinator.Logout(context.Background()))

		got, err := f.store.Load(context.Background(), testAppID)
		require.NoError(t, err)
		require.Equal(t, token.LoggedOut, got.LoginState)
		require.Empty(t, got.AccessToken)
		require.Nil(t, got.RefreshToken)
	}
}

func TestLogout_CancelsPendingLogin(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.coordinator.Logout(context.Background()))
	require.ErrorIs(t, a.Err(), flow.ErrCancelled)
	require.Equal(t, 1, f.store.Saves())
	requirePortFree(t, f.addr)

	got, err := f.store.Load(context.Background(), testAppID)
	require.NoError(t, err)
	require.Equal(t, token.LoggedOut, got.LoginState)
}

func TestLogout_StoreFailure(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)
	f.store.FailSaves(errors.New("read-only"))

	require.ErrorIs(t, f.coordinator.Logout(context.Background()), flow.ErrStoreFailed)
}

func TestRefresh_SavesNewTokenAndKeepsRefreshToken(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)
	f.store.Seed(testAppID, existingRecord())

	refreshed := token.Record{
		AccessToken: "access-new",
		ExpiresIn:   1800,
		Scopes:      token.NewScopes("user-read-recently-played"),
	}
	f.client.EXPECT().Refresh(gomock.Any(), "refresh-xyz").Return(refreshed, nil)

	require.NoError(t, f.coordinator.Refresh(context.Background()))

	got, err := f.store.Load(context.Background(), testAppID)
	require.NoError(t, err)
	require.Equal(t, "access-new", got.AccessToken)
	require.Equal(t, token.LoggedIn, got.LoginState)
	require.Equal(t, "refresh-xyz", *got.RefreshToken)
}

func TestRefresh_RequiresSession(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)
	require.ErrorIs(t, f.coordinator.Refresh(context.Background()), apperrors.ErrNotLoggedIn)

	f.store.Seed(testAppID, token.LoggedOutRecord())
	require.ErrorIs(t, f.coordinator.Refresh(context.Background()), apperrors.ErrNotLoggedIn)
}

func TestRefresh_ProviderFailure(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)
	f.store.Seed(testAppID, existingRecord())
	f.client.EXPECT().Refresh(gomock.Any(), "refresh-xyz").Return(token.Record{}, errors.New("invalid_grant"))

	require.ErrorIs(t, f.coordinator.Refresh(context.Background()), flow.ErrExchangeFailed)
	require.Zero(t, f.store.Saves())
}

func TestShutdown_CancelsAttemptAndRejectsNewOnes(t *testing.T) {
	f := setupTestFixture(t, idleBrowser(), time.Minute)

	a, err := f.coordinator.StartLogin(context.Background())
	require.NoError(t, err)

	f.coordinator.Shutdown()
	require.ErrorIs(t, a.Err(), flow.ErrCancelled)
	requirePortFree(t, f.addr)

	_, err = f.coordinator.StartLogin(context.Background())
	require.ErrorIs(t, err, flow.ErrCancelled)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := flow.New(flow.Dependencies{}, flow.Settings{AppID: testAppID, CallbackAddr: "127.0.0.1:8088"})
	require.Error(t, err)
}
