package vault

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/quantumlife/planner/internal/core"
	"github.com/quantumlife/planner/internal/storage"
	"github.com/quantumlife/planner/internal/testutil"
	"github.com/quantumlife/planner/internal/testutil/mockservers"
)

var epoch = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func testOAuth(tokenURL string) ConfigFunc {
	return func(p core.Provider) (*oauth2.Config, error) {
		return &oauth2.Config{
			ClientID: "client-" + string(p),
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}, nil
	}
}

type fixture struct {
	vault   *Vault
	records storage.Records
	tokens  *mockservers.TokenServer
	clock   *testutil.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		records: testutil.TestRecords(t),
		tokens:  mockservers.NewTokenServer(t),
		clock:   testutil.NewFakeClock(epoch),
	}
	f.vault = New(f.records, Options{
		OAuth: testOAuth(f.tokens.URL()),
		Now:   f.clock.Now,
	})
	return f
}

func (f *fixture) connect(t *testing.T, p core.Provider, expiresAt time.Time) {
	t.Helper()
	err := f.vault.Store(testutil.TestContext(t), p, core.TokenSession{
		AccessToken:  "stored-access",
		RefreshToken: "refresh-0",
		ExpiresAt:    expiresAt,
	})
	testutil.AssertNoError(t, err)
}

func TestGetValidAccessToken_Cached(t *testing.T) {
	f := newFixture(t)
	f.connect(t, core.ProviderGoogle, epoch.Add(time.Hour))

	token, err := f.vault.GetValidAccessToken(testutil.TestContext(t), core.ProviderGoogle)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, token, "stored-access")
	testutil.AssertEqual(t, f.tokens.Calls("refresh_token"), 0)
}

func TestGetValidAccessToken_RefreshesAtMargin(t *testing.T) {
	f := newFixture(t)
	ctx := testutil.TestContext(t)
	f.connect(t, core.ProviderGoogle, epoch.Add(time.Hour))

	// One second before the margin the cached token is still used
	f.clock.Set(epoch.Add(time.Hour - core.TokenExpiryMargin - time.Second))
	token, err := f.vault.GetValidAccessToken(ctx, core.ProviderGoogle)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, token, "stored-access")

	// At the margin exactly one refresh happens
	f.clock.Set(epoch.Add(time.Hour - core.TokenExpiryMargin))
	token, err = f.vault.GetValidAccessToken(ctx, core.ProviderGoogle)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, token, "access-1")
	testutil.AssertEqual(t, f.tokens.Calls("refresh_token"), 1)

	form := f.tokens.LastRequest()
	testutil.AssertEqual(t, form.Get("refresh_token"), "refresh-0")
	testutil.AssertEqual(t, form.Get("client_id"), "client-google")
	if form.Get("client_secret") != "" {
		t.Error("public client must not send a client secret")
	}

	session := f.vault.Session(core.ProviderGoogle)
	// The provider omitted a new refresh token, so the old one is kept
	testutil.AssertEqual(t, session.RefreshToken, "refresh-0")
	wantExpiry := f.clock.Now().Add(3600*time.Second - core.TokenExpiryMargin)
	if !session.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, wantExpiry)
	}

	// Renewed session was persisted before returning
	reloaded := New(f.records, Options{})
	testutil.AssertNoError(t, reloaded.Load(ctx))
	testutil.AssertEqual(t, reloaded.Session(core.ProviderGoogle).AccessToken, "access-1")
}

func TestGetValidAccessToken_RotatedRefreshToken(t *testing.T) {
	f := newFixture(t)
	f.tokens.Update(func(s *mockservers.TokenServer) { s.RotateRefresh = true })
	f.connect(t, core.ProviderOutlook, epoch)

	_, err := f.vault.GetValidAccessToken(testutil.TestContext(t), core.ProviderOutlook)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, f.vault.Session(core.ProviderOutlook).RefreshToken, "refresh-1")
}

func TestGetValidAccessToken_ConcurrentCallersShareRefresh(t *testing.T) {
	f := newFixture(t)
	f.tokens.Update(func(s *mockservers.TokenServer) { s.Delay = 50 * time.Millisecond })
	f.connect(t, core.ProviderGoogle, epoch)

	ctx := testutil.TestContext(t)
	var wg sync.WaitGroup
	results := make([]string, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.vault.GetValidAccessToken(ctx, core.ProviderGoogle)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d error = %v", i, errs[i])
		}
		testutil.AssertEqual(t, results[i], "access-1")
	}
	testutil.AssertEqual(t, f.tokens.Calls("refresh_token"), 1)
}

func TestGetValidAccessToken_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture(t)
	f.tokens.Update(func(s *mockservers.TokenServer) { s.Delay = 100 * time.Millisecond })
	f.connect(t, core.ProviderGoogle, epoch)

	firstCtx, cancel := context.WithCancel(testutil.TestContext(t))
	defer cancel()

	var wg sync.WaitGroup
	var first, second string
	var firstErr, secondErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		first, firstErr = f.vault.GetValidAccessToken(firstCtx, core.ProviderGoogle)
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		defer wg.Done()
		second, secondErr = f.vault.GetValidAccessToken(testutil.TestContext(t), core.ProviderGoogle)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	if secondErr != nil {
		t.Fatalf("second caller error = %v", secondErr)
	}
	testutil.AssertEqual(t, second, "access-1")
	if firstErr == nil {
		testutil.AssertEqual(t, first, "access-1")
	}
	testutil.AssertEqual(t, f.tokens.Calls("refresh_token"), 1)
	testutil.AssertEqual(t, f.vault.Session(core.ProviderGoogle).AccessToken, "access-1")
}

func TestGetValidAccessToken_RefreshRejected(t *testing.T) {
	f := newFixture(t)
	f.tokens.Update(func(s *mockservers.TokenServer) { s.FailRefresh = true })
	f.connect(t, core.ProviderGoogle, epoch)

	_, err := f.vault.GetValidAccessToken(testutil.TestContext(t), core.ProviderGoogle)
	if !errors.Is(err, core.ErrTokenRefreshFailed) {
		t.Fatalf("error = %v, want ErrTokenRefreshFailed", err)
	}
	// The failed refresh leaves the session for the caller to disconnect
	testutil.AssertEqual(t, f.vault.Session(core.ProviderGoogle).AccessToken, "stored-access")
}

func TestGetValidAccessToken_NotConnected(t *testing.T) {
	f := newFixture(t)
	_, err := f.vault.GetValidAccessToken(testutil.TestContext(t), core.ProviderOutlook)
	if !errors.Is(err, core.ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
}

func TestSessionFromToken(t *testing.T) {
	now := epoch

	tests := []struct {
		name string
		tok  *oauth2.Token
		want time.Time
	}{
		{"expires_in", &oauth2.Token{AccessToken: "a", ExpiresIn: 600}, now.Add(10*time.Minute - core.TokenExpiryMargin)},
		{"expiry only", &oauth2.Token{AccessToken: "a", Expiry: now.Add(time.Hour)}, now.Add(time.Hour - core.TokenExpiryMargin)},
		{"no expiry", &oauth2.Token{AccessToken: "a"}, now.Add(DefaultTokenLifetime - core.TokenExpiryMargin)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SessionFromToken(tt.tok, now)
			if !got.ExpiresAt.Equal(tt.want) {
				t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, tt.want)
			}
		})
	}
}

// recordingDropper captures what Disconnect hands to the event store
type recordingDropper struct {
	records storage.Records
	source  core.Source
	extra   []storage.Mutation
	err     error
}

func (d *recordingDropper) DropPartition(ctx context.Context, source core.Source, extra ...storage.Mutation) error {
	d.source, d.extra = source, extra
	if d.err != nil {
		return d.err
	}
	return d.records.Apply(ctx, append(extra, storage.Delete(storage.EventsKey(string(source))))...)
}

func TestDisconnect(t *testing.T) {
	ctx := testutil.TestContext(t)
	records := storage.NewMemoryRecords()
	dropper := &recordingDropper{records: records}
	v := New(records, Options{Events: dropper})

	testutil.AssertNoError(t, v.Store(ctx, core.ProviderOutlook, core.TokenSession{AccessToken: "a", RefreshToken: "r"}))
	testutil.AssertNoError(t, records.Apply(ctx, storage.Put(storage.EventsKey("outlook"), []byte("[]"))))

	settings := storage.Put(storage.KeySettings, []byte(`{"connected":{}}`))
	testutil.AssertNoError(t, v.Disconnect(ctx, core.ProviderOutlook, settings))

	testutil.AssertEqual(t, dropper.source, core.SourceOutlook)
	testutil.AssertEqual(t, len(dropper.extra), 2)
	if v.HasSession(core.ProviderOutlook) {
		t.Error("session should be forgotten")
	}
	for _, key := range []string{storage.SessionKey("outlook"), storage.EventsKey("outlook")} {
		if _, ok, _ := records.Get(ctx, key); ok {
			t.Errorf("%s should be deleted", key)
		}
	}
	if _, ok, _ := records.Get(ctx, storage.KeySettings); !ok {
		t.Error("settings update should be applied in the same step")
	}
}

func TestDisconnect_FailureKeepsSession(t *testing.T) {
	ctx := testutil.TestContext(t)
	records := storage.NewMemoryRecords()
	v := New(records, Options{Events: &recordingDropper{records: records, err: errors.New("disk full")}})

	testutil.AssertNoError(t, v.Store(ctx, core.ProviderGoogle, core.TokenSession{AccessToken: "a"}))
	testutil.AssertError(t, v.Disconnect(ctx, core.ProviderGoogle))

	if !v.HasSession(core.ProviderGoogle) {
		t.Error("failed disconnect should keep the session")
	}
}

// =============================================================================
// Sealing Tests
// =============================================================================

func TestSealedSessions(t *testing.T) {
	ctx := testutil.TestContext(t)
	records := storage.NewMemoryRecords()

	sealer, err := OpenSealer(ctx, records, "correct horse")
	testutil.AssertNoError(t, err)
	v := New(records, Options{Sealer: sealer})
	testutil.AssertNoError(t, v.Store(ctx, core.ProviderGoogle, core.TokenSession{
		AccessToken:  "very-secret-access",
		RefreshToken: "very-secret-refresh",
		ExpiresAt:    epoch,
	}))

	raw, _, _ := records.Get(ctx, storage.SessionKey("google"))
	if bytes.Contains(raw, []byte("very-secret")) {
		t.Fatal("sealed record should not contain token material")
	}

	// Same passphrase reuses the stored salt
	again, err := OpenSealer(ctx, records, "correct horse")
	testutil.AssertNoError(t, err)
	reloaded := New(records, Options{Sealer: again})
	testutil.AssertNoError(t, reloaded.Load(ctx))
	testutil.AssertEqual(t, reloaded.Session(core.ProviderGoogle).RefreshToken, "very-secret-refresh")

	wrong, err := OpenSealer(ctx, records, "battery staple")
	testutil.AssertNoError(t, err)
	if err := New(records, Options{Sealer: wrong}).Load(ctx); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Load() with wrong passphrase error = %v", err)
	}

	if err := New(records, Options{}).Load(ctx); err == nil {
		t.Error("Load() of sealed sessions without a passphrase should fail")
	}
}

func TestOpenSealer_EmptyPassphrase(t *testing.T) {
	sealer, err := OpenSealer(context.Background(), storage.NewMemoryRecords(), "")
	if err != nil || sealer != nil {
		t.Errorf("OpenSealer(\"\") = %v, %v; want nil, nil", sealer, err)
	}
}

func TestSealer_RejectsTampering(t *testing.T) {
	sealer, err := NewSealer("pass", []byte("0123456789abcdef0123456789abcdef"))
	testutil.AssertNoError(t, err)

	sealed, err := sealer.Seal([]byte("payload"))
	testutil.AssertNoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	if _, err := sealer.Open(sealed); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Open() of tampered data error = %v", err)
	}
	if _, err := sealer.Open([]byte("short")); !errors.Is(err, ErrWrongPassphrase) {
		t.Errorf("Open() of short data error = %v", err)
	}
}
