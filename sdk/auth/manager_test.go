package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/spotifyauth/tokenkeeper/internal/auth/spotify"
	"github.com/spotifyauth/tokenkeeper/internal/config"
	"github.com/spotifyauth/tokenkeeper/internal/store"
	"golang.org/x/sync/errgroup"
)

type fakeExchanger struct {
	mu            sync.Mutex
	refreshCalls  int
	exchangeCalls int
	lastRefresh   string

	// started receives once per refresh call; release, when set, holds the call.
	started chan struct{}
	release chan struct{}

	refresh  func(refreshToken string) (*spotify.TokenRecord, error)
	exchange func(code string) (*spotify.TokenRecord, error)
}

func (f *fakeExchanger) RefreshTokens(_ context.Context, refreshToken string) (*spotify.TokenRecord, error) {
	f.mu.Lock()
	f.refreshCalls++
	f.lastRefresh = refreshToken
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	return f.refresh(refreshToken)
}

func (f *fakeExchanger) ExchangeCodeForTokens(_ context.Context, code string) (*spotify.TokenRecord, error) {
	f.mu.Lock()
	f.exchangeCalls++
	f.mu.Unlock()
	return f.exchange(code)
}

func (f *fakeExchanger) calls() (refresh, exchange int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls, f.exchangeCalls
}

func issued(access, refresh string) func(string) (*spotify.TokenRecord, error) {
	return func(string) (*spotify.TokenRecord, error) {
		return &spotify.TokenRecord{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer", ExpiresAt: testNow.Add(time.Hour)}, nil
	}
}

// newExpiringManager returns a manager whose cache holds AT0/RT0 expiring in one minute.
func newExpiringManager(t *testing.T, fx *fakeExchanger) (*Manager, *TokenCache) {
	t.Helper()
	cache := NewTokenCache(store.NewMemoryStore()).WithClock((&clock{now: testNow}).Now)
	if err := cache.Store(context.Background(), &spotify.TokenRecord{AccessToken: "AT0", RefreshToken: "RT0", ExpiresAt: testNow.Add(time.Minute)}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	return NewManager(cache, fx, nil), cache
}

func (m *Manager) queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

func waitQueued(t *testing.T, m *Manager, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.queued() < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d callers queued", m.queued(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestValidTokenReturnsFreshToken(t *testing.T) {
	fx := &fakeExchanger{refresh: issued("unused", "")}
	cache := NewTokenCache(store.NewMemoryStore()).WithClock((&clock{now: testNow}).Now)
	_ = cache.Store(context.Background(), &spotify.TokenRecord{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: testNow.Add(time.Hour)})
	m := NewManager(cache, fx, nil)

	token, err := m.ValidToken(context.Background())
	if err != nil || token != "AT1" {
		t.Fatalf("ValidToken = %q, %v", token, err)
	}
	if refresh, _ := fx.calls(); refresh != 0 {
		t.Fatalf("unexpected refresh calls: %d", refresh)
	}
	if !m.IsSignedIn(context.Background()) {
		t.Fatal("expected signed in")
	}
}

func TestSingleFlightRefresh(t *testing.T) {
	const callers = 25
	fx := &fakeExchanger{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		refresh: issued("AT1", ""),
	}
	m, cache := newExpiringManager(t, fx)
	ctx := context.Background()

	var g errgroup.Group
	tokens := make([]string, callers)
	for i := 0; i < callers; i++ {
		ch := m.Acquire(ctx)
		if i == 0 {
			<-fx.started
		}
		g.Go(func() error {
			r := <-ch
			tokens[i] = r.AccessToken
			return r.Err
		})
	}
	waitQueued(t, m, callers)
	close(fx.release)

	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, token := range tokens {
		if token != "AT1" {
			t.Fatalf("caller %d got %q", i, token)
		}
	}
	if refresh, _ := fx.calls(); refresh != 1 {
		t.Fatalf("refresh calls = %d, want 1", refresh)
	}
	if fx.lastRefresh != "RT0" {
		t.Fatalf("refreshed with %q", fx.lastRefresh)
	}
	if token, _ := cache.CurrentAccessToken(ctx); token != "AT1" {
		t.Fatalf("cached token = %q", token)
	}
	if refresh, _ := cache.StoredRefreshToken(ctx); refresh != "RT0" {
		t.Fatalf("refresh token not retained: %q", refresh)
	}
}

func TestConcurrentCallersSingleRefresh(t *testing.T) {
	fx := &fakeExchanger{refresh: issued("AT1", "RT1")}
	m, _ := newExpiringManager(t, fx)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 50; i++ {
		g.Go(func() error {
			token, err := m.ValidToken(ctx)
			if err == nil && token != "AT1" {
				return errors.New("unexpected token " + token)
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refresh, _ := fx.calls(); refresh != 1 {
		t.Fatalf("refresh calls = %d, want 1", refresh)
	}
}

func TestWaitersReleasedInArrivalOrder(t *testing.T) {
	const callers = 10
	fx := &fakeExchanger{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		refresh: issued("AT1", ""),
	}
	m, _ := newExpiringManager(t, fx)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		m.WithValidToken(context.Background(), func(token string, err error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
		if i == 0 {
			<-fx.started
		}
	}
	close(fx.release)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("release order = %v", order)
		}
	}
}

func TestRefreshFailureIsNonDestructive(t *testing.T) {
	fx := &fakeExchanger{refresh: func(string) (*spotify.TokenRecord, error) {
		return nil, &spotify.AuthFailure{Kind: spotify.KindServerError, StatusCode: http.StatusInternalServerError}
	}}
	m, cache := newExpiringManager(t, fx)
	ctx := context.Background()

	_, err := m.ValidToken(ctx)
	if !errors.Is(err, spotify.ServerError(http.StatusInternalServerError)) {
		t.Fatalf("expected serverError(500), got %v", err)
	}
	if refresh, ok := cache.StoredRefreshToken(ctx); !ok || refresh != "RT0" {
		t.Fatalf("refresh token lost: %q, %v", refresh, ok)
	}
	if token, _ := cache.CurrentAccessToken(ctx); token != "AT0" {
		t.Fatalf("access token changed: %q", token)
	}

	_, _ = m.ValidToken(ctx)
	if refresh, _ := fx.calls(); refresh != 2 {
		t.Fatalf("refresh calls = %d, want 2", refresh)
	}
}

func TestRefreshFailureReachesEveryWaiter(t *testing.T) {
	fx := &fakeExchanger{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		refresh: func(string) (*spotify.TokenRecord, error) {
			return nil, &spotify.AuthFailure{Kind: spotify.KindNetworkError, Cause: errors.New("timeout")}
		},
	}
	m, _ := newExpiringManager(t, fx)

	first := m.Acquire(context.Background())
	<-fx.started
	second := m.Acquire(context.Background())
	close(fx.release)

	for _, ch := range []<-chan TokenResult{first, second} {
		if r := <-ch; !errors.Is(r.Err, spotify.ErrNetwork) {
			t.Fatalf("expected networkError, got %v", r.Err)
		}
	}
}

func TestMissingCredentials(t *testing.T) {
	fx := &fakeExchanger{refresh: issued("AT1", "")}
	cache := NewTokenCache(store.NewMemoryStore()).WithClock((&clock{now: testNow}).Now)
	m := NewManager(cache, fx, nil)
	ctx := context.Background()

	if _, err := m.ValidToken(ctx); !errors.Is(err, spotify.ErrMissingToken) {
		t.Fatalf("expected missingToken, got %v", err)
	}

	_ = store.SaveString(ctx, cache.store, KeyAccessToken, "AT0")
	if _, err := m.ValidToken(ctx); !errors.Is(err, spotify.ErrMissingRefreshToken) {
		t.Fatalf("expected missingRefreshToken, got %v", err)
	}
	if refresh, _ := fx.calls(); refresh != 0 {
		t.Fatalf("unexpected network calls: %d", refresh)
	}
	if m.IsSignedIn(ctx) {
		t.Fatal("expected signed out")
	}
}

func TestPersistFailureStillDeliversToken(t *testing.T) {
	fx := &fakeExchanger{refresh: issued("AT1", "")}
	backend := &failingStore{SecretStore: store.NewMemoryStore()}
	cache := NewTokenCache(backend).WithClock((&clock{now: testNow}).Now)
	_ = cache.Store(context.Background(), &spotify.TokenRecord{AccessToken: "AT0", RefreshToken: "RT0", ExpiresAt: testNow})
	backend.failKey = KeyAccessToken
	m := NewManager(cache, fx, nil)

	token, err := m.ValidToken(context.Background())
	if err != nil || token != "AT1" {
		t.Fatalf("ValidToken = %q, %v", token, err)
	}
	_, _ = m.ValidToken(context.Background())
	if refresh, _ := fx.calls(); refresh != 2 {
		t.Fatalf("refresh calls = %d, want 2 (stale storage forces a new refresh)", refresh)
	}
}

func TestCallerCancellationDoesNotAbortRefresh(t *testing.T) {
	fx := &fakeExchanger{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		refresh: issued("AT1", ""),
	}
	m, cache := newExpiringManager(t, fx)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.ValidToken(ctx)
		done <- err
	}()
	<-fx.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	waiter := m.Acquire(context.Background())
	close(fx.release)
	if r := <-waiter; r.AccessToken != "AT1" {
		t.Fatalf("queued caller got %+v", r)
	}
	if token, _ := cache.CurrentAccessToken(context.Background()); token != "AT1" {
		t.Fatalf("cached token = %q", token)
	}
}

func TestSignInDuringRefreshWins(t *testing.T) {
	fx := &fakeExchanger{
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
		refresh:  issued("AT-refresh", ""),
		exchange: issued("AT-signin", "RT-signin"),
	}
	m, cache := newExpiringManager(t, fx)
	ctx := context.Background()

	pending := m.Acquire(ctx)
	<-fx.started
	if err := m.Exchange(ctx, "code"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(fx.release)
	<-pending

	if token, _ := cache.CurrentAccessToken(ctx); token != "AT-signin" {
		t.Fatalf("cached token = %q, want sign-in token", token)
	}
	if refresh, _ := cache.StoredRefreshToken(ctx); refresh != "RT-signin" {
		t.Fatalf("refresh token = %q", refresh)
	}
}

func TestExchangeCodeForTokenEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "abc123" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"AT1","token_type":"Bearer","scope":"user-read-private","expires_in":3600,"refresh_token":"RT1"}`))
	}))
	defer srv.Close()

	cfg := &config.Config{RedirectURI: config.DefaultRedirectURI, Scopes: []string{config.DefaultScope}, AuthURL: config.DefaultAuthURL, TokenURL: srv.URL}
	client := spotify.NewSpotifyAuthWithClient(cfg, config.ClientCredentials{ClientID: "id", ClientSecret: "secret"}, srv.Client())
	cache := NewTokenCache(store.NewMemoryStore())
	m := NewManager(cache, client, client)

	done := make(chan error, 1)
	m.ExchangeCodeForToken(context.Background(), "abc123", func(err error) { done <- err })
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	if token, ok := cache.CurrentAccessToken(ctx); !ok || token != "AT1" {
		t.Fatalf("CurrentAccessToken = %q, %v", token, ok)
	}
	if cache.IsExpiringSoon(ctx) {
		t.Fatal("fresh token should not be expiring")
	}
	if refresh, _ := cache.StoredRefreshToken(ctx); refresh != "RT1" {
		t.Fatalf("refresh token = %q", refresh)
	}
	if url := m.SignInURL("s"); url == "" {
		t.Fatal("expected sign-in URL")
	}
}

func TestExchangeFailureLeavesStateUntouched(t *testing.T) {
	fx := &fakeExchanger{exchange: func(string) (*spotify.TokenRecord, error) {
		return nil, &spotify.AuthFailure{Kind: spotify.KindServerError, StatusCode: http.StatusBadRequest}
	}}
	m, cache := newExpiringManager(t, fx)

	err := m.Exchange(context.Background(), "stale-code")
	if !errors.Is(err, spotify.ErrServerError) {
		t.Fatalf("expected serverError, got %v", err)
	}
	if token, _ := cache.CurrentAccessToken(context.Background()); token != "AT0" {
		t.Fatalf("access token changed: %q", token)
	}
}

func TestTokenSource(t *testing.T) {
	fx := &fakeExchanger{refresh: issued("AT1", "")}
	m, _ := newExpiringManager(t, fx)

	tok, err := m.TokenSource(context.Background()).Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.AccessToken != "AT1" || tok.TokenType != "Bearer" || !tok.Expiry.Equal(testNow.Add(time.Hour - ExpirySkew)) {
		t.Fatalf("unexpected token %+v", tok)
	}
	if tok.RefreshToken != "" {
		t.Fatal("token source must not expose the refresh token")
	}
}

// gatedStore holds every Save until gate is closed or the write context ends.
type gatedStore struct {
	store.SecretStore
	once    sync.Once
	entered chan struct{}
	gate    chan struct{}
}

func newGatedStore(backend store.SecretStore) *gatedStore {
	return &gatedStore{SecretStore: backend, entered: make(chan struct{}), gate: make(chan struct{})}
}

func (s *gatedStore) Save(ctx context.Context, key string, value []byte) error {
	s.once.Do(func() { close(s.entered) })
	select {
	case <-s.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.SecretStore.Save(ctx, key, value)
}

func waitEntered(t *testing.T, s *gatedStore) {
	t.Helper()
	select {
	case <-s.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("store write never started")
	}
}

func TestSlowSignInWriteDoesNotBlockCallers(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore()
	seed := NewTokenCache(backend)
	if err := seed.Store(ctx, &spotify.TokenRecord{AccessToken: "AT0", RefreshToken: "RT0", ExpiresAt: testNow.Add(time.Hour)}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	gated := newGatedStore(backend)
	cache := NewTokenCache(gated).WithClock((&clock{now: testNow}).Now)
	m := NewManager(cache, &fakeExchanger{exchange: issued("AT9", "RT9")}, nil)

	errc := make(chan error, 1)
	go func() { errc <- m.Exchange(ctx, "code") }()
	waitEntered(t, gated)

	got := make(chan string, 1)
	start := time.Now()
	m.WithValidToken(ctx, func(token string, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		got <- token
	})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("WithValidToken blocked its caller for %v", elapsed)
	}
	select {
	case token := <-got:
		if token != "AT0" {
			t.Fatalf("token = %q, want AT0", token)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not invoked while the sign-in write was pending")
	}

	close(gated.gate)
	if err := <-errc; err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if token, ok := cache.CurrentAccessToken(ctx); !ok || token != "AT9" {
		t.Fatalf("cached token = %q, %v", token, ok)
	}
}

func TestSlowRefreshWriteQueuesCallers(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemoryStore()
	seed := NewTokenCache(backend)
	if err := seed.Store(ctx, &spotify.TokenRecord{AccessToken: "AT0", RefreshToken: "RT0", ExpiresAt: testNow.Add(time.Minute)}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	gated := newGatedStore(backend)
	cache := NewTokenCache(gated).WithClock((&clock{now: testNow}).Now)
	fx := &fakeExchanger{refresh: issued("AT1", "RT1")}
	m := NewManager(cache, fx, nil)

	first := m.Acquire(ctx)
	waitEntered(t, gated)

	start := time.Now()
	second := m.Acquire(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Acquire blocked its caller for %v", elapsed)
	}
	waitQueued(t, m, 2)

	close(gated.gate)
	for i, ch := range []<-chan TokenResult{first, second} {
		select {
		case r := <-ch:
			if r.Err != nil || r.AccessToken != "AT1" {
				t.Fatalf("caller %d got %+v", i, r)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("caller %d never released", i)
		}
	}
	if refresh, _ := fx.calls(); refresh != 1 {
		t.Fatalf("refresh calls = %d, want 1", refresh)
	}
}

func TestStoreTimeoutBoundsSignInWrite(t *testing.T) {
	gated := newGatedStore(store.NewMemoryStore())
	cache := NewTokenCache(gated).WithClock((&clock{now: testNow}).Now).WithStoreTimeout(50 * time.Millisecond)
	m := NewManager(cache, &fakeExchanger{exchange: issued("AT9", "RT9")}, nil)

	start := time.Now()
	err := m.Exchange(context.Background(), "code")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Exchange took %v despite the store timeout", elapsed)
	}
}
