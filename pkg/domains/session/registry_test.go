package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/finbot/pkg/bus"
	"github.com/finbot/pkg/config"
	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/entities"
	"github.com/finbot/pkg/msgcontext"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeProvider records calls and hands the captured callbacks back to the
// test so it can play the platform side of the conversation.
type fakeProvider struct {
	mu          sync.Mutex
	cb          provider.Callbacks
	initCalls   int
	disconnects int
	connected   bool
	sends       []string

	// connectOnInit makes Initialize report connected before returning, the
	// way a long-poll adapter does once its poll loop is up.
	connectOnInit bool
}

func (f *fakeProvider) Initialize(ctx context.Context, cfg provider.InitConfig, cb provider.Callbacks) error {
	f.mu.Lock()
	f.cb = cb
	f.initCalls++
	connectNow := f.connectOnInit
	if connectNow {
		f.connected = true
	}
	f.mu.Unlock()

	if connectNow && cb.OnConnected != nil {
		cb.OnConnected()
	}
	return nil
}

func (f *fakeProvider) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeProvider) SendText(ctx context.Context, target, text string, opts *provider.SendOptions) provider.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, "text:"+target)
	return provider.Sent("1")
}

func (f *fakeProvider) SendImage(ctx context.Context, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	return provider.Sent("1")
}

func (f *fakeProvider) SendAudio(ctx context.Context, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	return provider.Sent("1")
}

func (f *fakeProvider) SendDocument(ctx context.Context, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	return provider.Sent("1")
}

func (f *fakeProvider) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeProvider) callbacks() provider.Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *fakeProvider) initCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

func (f *fakeProvider) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

// fakeCredStore keeps credential state in memory and records wipes.
type fakeCredStore struct {
	mu           sync.Mutex
	dir          string
	states       map[string]provider.CredentialState
	wipes        []string
	integrityErr map[string]error
}

func newFakeCredStore(dir string) *fakeCredStore {
	return &fakeCredStore{
		dir:          dir,
		states:       make(map[string]provider.CredentialState),
		integrityErr: make(map[string]error),
	}
}

func (f *fakeCredStore) Load(ctx context.Context, sessionID string) (provider.CredentialState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[sessionID], nil
}

func (f *fakeCredStore) Save(ctx context.Context, sessionID string, state provider.CredentialState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[sessionID] = state
	return nil
}

func (f *fakeCredStore) DebouncedSave(sessionID string, state provider.CredentialState) {
	f.Save(context.Background(), sessionID, state)
}

func (f *fakeCredStore) ValidateIntegrity(ctx context.Context, sessionID string, platform entities.Platform) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.integrityErr[sessionID]
}

func (f *fakeCredStore) Wipe(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, sessionID)
	f.wipes = append(f.wipes, sessionID)
	return nil
}

func (f *fakeCredStore) DevicePath(sessionID string) string {
	return filepath.Join(f.dir, sessionID+".db")
}

func (f *fakeCredStore) FlushAll() {}

func (f *fakeCredStore) wipeCount(sessionID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.wipes {
		if id == sessionID {
			n++
		}
	}
	return n
}

func (f *fakeCredStore) stored(sessionID string) (provider.CredentialState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[sessionID]
	return state, ok
}

type fixture struct {
	t      *testing.T
	repo   Repository
	creds  *fakeCredStore
	router *msgcontext.Router
	reg    *Registry
	events <-chan bus.Event

	mu          sync.Mutex
	providers   []*fakeProvider
	syncConnect bool
}

func newFixture(t *testing.T, mutate func(*config.Sessions)) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "sessions.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entities.Session{}))

	cfg := config.Sessions{
		StoreDir:       t.TempDir(),
		QRTimeout:      config.Duration(time.Hour),
		ConnectTimeout: config.Duration(time.Hour),
		RestoreDelay:   config.Duration(5 * time.Millisecond),
		Restart: config.Restart{
			MaxAttempts: 5,
			BaseDelay:   config.Duration(time.Minute),
		},
		Ban: config.Ban{
			MaxAttempts: 10,
			BaseDelay:   config.Duration(time.Minute),
			Multiplier:  2,
			MaxDelay:    config.Duration(time.Hour),
		},
		Credentials: config.Credentials{DebounceWindow: config.Duration(time.Millisecond)},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	events := bus.New(64)
	router := msgcontext.NewRouter(time.Hour, time.Hour)
	t.Cleanup(router.Close)

	f := &fixture{
		t:      t,
		repo:   NewRepo(db),
		creds:  newFakeCredStore(cfg.StoreDir),
		router: router,
	}
	f.reg = NewRegistry(f.repo, f.creds, router, events, cfg, f.factory, zerolog.Nop())
	f.events = events.Subscribe()
	return f
}

func (f *fixture) factory(platform entities.Platform, log zerolog.Logger) provider.Provider {
	f.mu.Lock()
	p := &fakeProvider{connectOnInit: f.syncConnect}
	f.providers = append(f.providers, p)
	f.mu.Unlock()
	return p
}

func (f *fixture) lastProvider() *fakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.providers, "no provider was constructed")
	return f.providers[len(f.providers)-1]
}

func (f *fixture) providerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.providers)
}

func (f *fixture) session(sessionID string) entities.Session {
	f.t.Helper()
	sess, err := f.repo.FindBySessionID(context.Background(), sessionID)
	require.NoError(f.t, err)
	return sess
}

func (f *fixture) startedSession(platform entities.Platform, token string) (string, *fakeProvider) {
	f.t.Helper()
	ctx := context.Background()
	sess, err := f.reg.CreateSession(ctx, platform, "", token)
	require.NoError(f.t, err)
	require.NoError(f.t, f.reg.StartSession(ctx, sess.SessionID))
	return sess.SessionID, f.lastProvider()
}

func (f *fixture) drainEvents() []bus.Event {
	var out []bus.Event
	for {
		select {
		case e := <-f.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func hasAdvisory(events []bus.Event, kind string) bool {
	for _, e := range events {
		if e.Type == bus.EventAdvisory && e.Advisory == kind {
			return true
		}
	}
	return false
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.reg.CreateSession(ctx, entities.PlatformTelegram, "", "")
	assert.ErrorIs(t, err, ErrTokenRequired)

	_, err = f.reg.CreateSession(ctx, "discord", "", "")
	assert.Error(t, err)

	sess, err := f.reg.CreateSession(ctx, entities.PlatformWhatsApp, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)
	assert.Equal(t, entities.StatusInactive, sess.Status)
}

func TestCreateTelegramSessionStoresToken(t *testing.T) {
	f := newFixture(t, nil)

	sess, err := f.reg.CreateSession(context.Background(), entities.PlatformTelegram, "tg-1", "123:abc")
	require.NoError(t, err)

	state, ok := f.creds.stored(sess.SessionID)
	require.True(t, ok)
	assert.Equal(t, "123:abc", state.Token)
	assert.Equal(t, entities.PlatformTelegram, state.Platform)
}

func TestStartSessionIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, p := f.startedSession(entities.PlatformWhatsApp, "")

	sess := f.session(id)
	assert.Equal(t, entities.StatusConnecting, sess.Status)
	assert.True(t, sess.IsActive)

	// A second start while the first handle is live must not build a
	// second driver.
	require.NoError(t, f.reg.StartSession(ctx, id))
	assert.Equal(t, 1, p.initCount())
	assert.Equal(t, 1, f.providerCount())
}

func TestStartSurvivesSynchronousConnectCallback(t *testing.T) {
	f := newFixture(t, nil)
	f.mu.Lock()
	f.syncConnect = true
	f.mu.Unlock()
	ctx := context.Background()

	sess, err := f.reg.CreateSession(ctx, entities.PlatformTelegram, "", "123:abc")
	require.NoError(t, err)

	// Long-poll adapters fire OnConnected from inside Initialize; the start
	// path must not be holding the runtime lock at that point.
	done := make(chan error, 1)
	go func() { done <- f.reg.StartSession(ctx, sess.SessionID) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StartSession blocked on a connect callback fired during Initialize")
	}

	assert.Equal(t, entities.StatusConnected, f.session(sess.SessionID).Status)
	info, ok := f.reg.Runtime(sess.SessionID)
	require.True(t, ok)
	assert.True(t, info.EverConnected)
	assert.False(t, info.ReconnectPending)
}

func TestStartUnknownSession(t *testing.T) {
	f := newFixture(t, nil)
	err := f.reg.StartSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestQRPendingLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnQR("qr-code-1")

	assert.Equal(t, entities.StatusQRPending, f.session(id).Status)
	code, ok := f.reg.LastQR(id)
	require.True(t, ok)
	assert.Equal(t, "qr-code-1", code)

	p.callbacks().OnConnected()
	assert.Equal(t, entities.StatusConnected, f.session(id).Status)
	_, ok = f.reg.LastQR(id)
	assert.False(t, ok, "pairing code must be dropped once connected")
}

func TestQRExpiryIsAdvisoryOnly(t *testing.T) {
	f := newFixture(t, func(cfg *config.Sessions) {
		cfg.QRTimeout = config.Duration(20 * time.Millisecond)
	})

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnQR("qr-1")
	f.drainEvents()

	assert.Eventually(t, func() bool {
		return hasAdvisory(f.drainEvents(), bus.AdvisoryQRExpired)
	}, time.Second, 5*time.Millisecond)

	// No scan: the code went stale, but the session is not torn down.
	assert.Equal(t, entities.StatusQRPending, f.session(id).Status)
	info, ok := f.reg.Runtime(id)
	require.True(t, ok)
	assert.True(t, info.Live)
}

func TestConnectedResetsRetryCounters(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnConnected()
	p.callbacks().OnDisconnected(provider.ReasonConnectionClosed)

	info, ok := f.reg.Runtime(id)
	require.True(t, ok)
	assert.Equal(t, 1, info.RestartAttempts)
	assert.True(t, info.ReconnectPending)

	// The registry builds a fresh handle on restart; simulate the scheduled
	// reconnect firing, then a successful connection.
	require.NoError(t, f.reg.StartSession(context.Background(), id))
	f.lastProvider().callbacks().OnConnected()

	info, ok = f.reg.Runtime(id)
	require.True(t, ok)
	assert.Zero(t, info.RestartAttempts)
	assert.Zero(t, info.BanAttempts)
	assert.True(t, info.EverConnected)
}

func TestGenericDisconnectSchedulesReconnect(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformTelegram, "123:abc")
	p.callbacks().OnConnected()
	f.drainEvents()

	p.callbacks().OnDisconnected(provider.ReasonConnectionClosed)

	sess := f.session(id)
	assert.Equal(t, entities.StatusDisconnected, sess.Status)
	assert.True(t, sess.IsActive, "transient disconnects must not clear operator intent")
	assert.Equal(t, 1, p.disconnectCount())

	info, ok := f.reg.Runtime(id)
	require.True(t, ok)
	assert.True(t, info.ReconnectPending)
	assert.Equal(t, 1, info.RestartAttempts)
	assert.Zero(t, f.creds.wipeCount(id))
}

func TestDuplicateDisconnectEventsAreNoOps(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnConnected()

	cb := p.callbacks()
	cb.OnDisconnected(provider.ReasonConnectionClosed)
	// The driver fires a second event for the same drop.
	cb.OnDisconnected(provider.ReasonConnectionLost)
	cb.OnDisconnected(provider.ReasonTimedOut)

	info, ok := f.reg.Runtime(id)
	require.True(t, ok)
	assert.Equal(t, 1, info.RestartAttempts, "only the first event may consume retry budget")
}

func TestTemporaryBanUsesBanCounter(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnConnected()
	p.callbacks().OnDisconnected(provider.ReasonTemporaryBan)

	info, ok := f.reg.Runtime(id)
	require.True(t, ok)
	assert.Equal(t, 1, info.BanAttempts)
	assert.Zero(t, info.RestartAttempts)
	assert.True(t, info.ReconnectPending)
	assert.False(t, info.LastBanAt.IsZero())
	assert.Zero(t, f.creds.wipeCount(id), "a rate-limited account keeps its credentials")
}

func TestBanBeforePairingWipesCredentials(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	// Never connected: the ban hit mid-handshake.
	p.callbacks().OnDisconnected(provider.ReasonTemporaryBan)

	sess := f.session(id)
	assert.Equal(t, entities.StatusInactive, sess.Status)
	assert.False(t, sess.IsActive)
	assert.Equal(t, 1, f.creds.wipeCount(id))

	_, ok := f.reg.Runtime(id)
	assert.False(t, ok, "permanent stop drops the runtime record")
}

func TestBanCeilingStopsPermanently(t *testing.T) {
	f := newFixture(t, func(cfg *config.Sessions) {
		cfg.Ban.MaxAttempts = 1
	})

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnConnected()
	p.callbacks().OnDisconnected(provider.ReasonTemporaryBan)

	// First ban is within budget; restart and get banned again.
	require.NoError(t, f.reg.StartSession(context.Background(), id))
	p2 := f.lastProvider()
	p2.callbacks().OnConnected()

	// Counters reset on connect, so force the ceiling with a fresh pair of
	// bans without an intervening connect.
	p2.callbacks().OnDisconnected(provider.ReasonTemporaryBan)
	require.NoError(t, f.reg.StartSession(context.Background(), id))
	p3 := f.lastProvider()
	f.drainEvents()
	p3.callbacks().OnDisconnected(provider.ReasonTemporaryBan)

	sess := f.session(id)
	assert.Equal(t, entities.StatusInactive, sess.Status)
	assert.False(t, sess.IsActive)
	assert.Zero(t, f.creds.wipeCount(id), "the ceiling keeps credentials for manual recovery")
	assert.True(t, hasAdvisory(f.drainEvents(), bus.AdvisoryBanCeiling))
}

func TestLoggedOutStopsAndWipes(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnConnected()
	f.drainEvents()

	p.callbacks().OnDisconnected(provider.ReasonLoggedOut)

	sess := f.session(id)
	assert.Equal(t, entities.StatusInactive, sess.Status)
	assert.False(t, sess.IsActive)
	assert.Equal(t, 1, f.creds.wipeCount(id))

	_, ok := f.reg.Runtime(id)
	assert.False(t, ok)
}

func TestRetryExhaustionEndsInError(t *testing.T) {
	f := newFixture(t, func(cfg *config.Sessions) {
		cfg.Restart.MaxAttempts = -1 // first transient disconnect exceeds the budget
	})

	id, p := f.startedSession(entities.PlatformTelegram, "123:abc")
	p.callbacks().OnConnected()
	f.drainEvents()

	p.callbacks().OnDisconnected(provider.ReasonConnectionClosed)

	sess := f.session(id)
	assert.Equal(t, entities.StatusError, sess.Status)
	assert.False(t, sess.IsActive)
	assert.Zero(t, f.creds.wipeCount(id))
	assert.True(t, hasAdvisory(f.drainEvents(), bus.AdvisoryRetryExhausted))
}

func TestPollerConflictStopsKeepingCredentials(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformTelegram, "123:abc")
	p.callbacks().OnConnected()
	f.drainEvents()

	p.callbacks().OnConnectionUpdate(entities.StatusError, provider.ReasonConnectionReplaced, false)

	sess := f.session(id)
	assert.Equal(t, entities.StatusError, sess.Status)
	assert.False(t, sess.IsActive)
	assert.Zero(t, f.creds.wipeCount(id), "the bot token is still valid; only the poll slot is contended")
	assert.True(t, hasAdvisory(f.drainEvents(), bus.AdvisoryPollerConflict))

	info, ok := f.reg.Runtime(id)
	assert.False(t, ok, "conflict stop must drop the runtime record, got %+v", info)
}

func TestStopSessionPreservesBackoffState(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnConnected()
	p.callbacks().OnDisconnected(provider.ReasonConnectionClosed)

	require.NoError(t, f.reg.StopSession(context.Background(), id, false))

	sess := f.session(id)
	assert.Equal(t, entities.StatusDisconnected, sess.Status)
	assert.True(t, sess.IsActive)

	info, ok := f.reg.Runtime(id)
	require.True(t, ok, "non-permanent stop keeps the runtime record")
	assert.False(t, info.Live)
	assert.False(t, info.ReconnectPending)
	assert.Equal(t, 1, info.RestartAttempts)
}

func TestStopWithoutRuntimeClearsActiveFlag(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// The row carries isActive=true from a previous process, but nothing has
	// started the session in this one. Deactivation must still land.
	sess, err := f.reg.CreateSession(ctx, entities.PlatformWhatsApp, "", "")
	require.NoError(t, err)
	require.NoError(t, f.repo.SetActive(ctx, sess.SessionID, true))

	require.NoError(t, f.reg.StopSession(ctx, sess.SessionID, true))

	stored := f.session(sess.SessionID)
	assert.False(t, stored.IsActive)
	assert.Equal(t, entities.StatusInactive, stored.Status)

	// A session that never existed is still an error.
	assert.ErrorIs(t, f.reg.StopSession(ctx, "missing", true), ErrSessionNotFound)
}

func TestPermanentStopClearsEverything(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnConnected()

	require.NoError(t, f.reg.StopSession(context.Background(), id, true))

	sess := f.session(id)
	assert.Equal(t, entities.StatusInactive, sess.Status)
	assert.False(t, sess.IsActive)

	_, ok := f.reg.Runtime(id)
	assert.False(t, ok)
	assert.Equal(t, 1, p.disconnectCount())
}

func TestDeleteSessionRemovesRowAndCredentials(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, p := f.startedSession(entities.PlatformTelegram, "123:abc")
	p.callbacks().OnConnected()

	require.NoError(t, f.reg.DeleteSession(ctx, id))

	_, err := f.repo.FindBySessionID(ctx, id)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Equal(t, 1, f.creds.wipeCount(id))

	assert.ErrorIs(t, f.reg.DeleteSession(ctx, id), ErrSessionNotFound)
}

func TestResetAuthWipesAndStops(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnConnected()

	require.NoError(t, f.reg.ResetAuth(ctx, id))
	assert.Equal(t, 1, f.creds.wipeCount(id))
	assert.Equal(t, entities.StatusInactive, f.session(id).Status)
}

func TestSendRequiresLiveSession(t *testing.T) {
	f := newFixture(t, nil)

	res := f.reg.SendText(context.Background(), "missing", "42", "hi", nil)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrSessionNotFound)

	id, p := f.startedSession(entities.PlatformTelegram, "123:abc")
	p.callbacks().OnConnected()
	p.callbacks().OnDisconnected(provider.ReasonConnectionClosed)

	res = f.reg.SendText(context.Background(), id, "42", "hi", nil)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNotConnected)
}

func TestInboundMessageRegistersRouteAndSendRenewsIt(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformTelegram, "123:abc")
	p.callbacks().OnConnected()
	f.drainEvents()

	p.callbacks().OnMessage(provider.RawInboundMessage{
		Platform: entities.PlatformTelegram,
		ChatID:   "777",
		SenderID: "777",
	})

	entry, ok := f.router.Lookup("777")
	require.True(t, ok)
	assert.Equal(t, id, entry.SessionID)
	assert.Equal(t, entities.PlatformTelegram, entry.Platform)

	events := f.drainEvents()
	require.Len(t, events, 1)
	assert.Equal(t, bus.EventMessageReceived, events[0].Type)
	require.NotNil(t, events[0].Message)
	assert.Equal(t, "777", events[0].Message.ChatID)

	res := f.reg.SendText(context.Background(), id, "777", "reply", nil)
	assert.True(t, res.Success)
	_, ok = f.router.Lookup("777")
	assert.True(t, ok)
}

func TestCredsUpdateGoesThroughDebouncedSave(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnCredsUpdate(provider.CredentialState{
		Platform: entities.PlatformWhatsApp,
		JID:      "123@s.whatsapp.net",
		NoiseKey: []byte{1, 2, 3},
	})

	state, ok := f.creds.stored(id)
	require.True(t, ok)
	assert.Equal(t, "123@s.whatsapp.net", state.JID)
}

func TestCallbackPanicsBecomeAdvisories(t *testing.T) {
	f := newFixture(t, nil)

	id, _ := f.startedSession(entities.PlatformWhatsApp, "")
	f.drainEvents()

	// A driver bug panicking inside a callback must not take the process
	// down with it.
	assert.NotPanics(t, func() {
		f.reg.safe(id, func() { panic(errors.New("driver bug")) })
	})
	assert.True(t, hasAdvisory(f.drainEvents(), bus.AdvisoryProviderError))

	// The session itself is untouched.
	info, ok := f.reg.Runtime(id)
	require.True(t, ok)
	assert.True(t, info.Live)
}

func TestShutdownPreservesOperatorIntent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, p := f.startedSession(entities.PlatformWhatsApp, "")
		p.callbacks().OnConnected()
		ids = append(ids, id)
	}

	f.reg.Shutdown(ctx)

	for _, id := range ids {
		sess := f.session(id)
		assert.True(t, sess.IsActive, "shutdown must not look like deactivation")
		assert.Equal(t, entities.StatusDisconnected, sess.Status)
		_, ok := f.reg.Runtime(id)
		assert.False(t, ok)
	}
	f.mu.Lock()
	for _, p := range f.providers {
		assert.Equal(t, 1, p.disconnectCount())
	}
	f.mu.Unlock()
}

func TestScheduledReconnectGuardIsSingleFlight(t *testing.T) {
	f := newFixture(t, nil)

	id, p := f.startedSession(entities.PlatformWhatsApp, "")
	p.callbacks().OnConnected()
	p.callbacks().OnDisconnected(provider.ReasonConnectionClosed)

	before := f.providerCount()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.reg.restartSession(id)
		}()
	}
	wg.Wait()

	// The CAS guard plus start idempotency allow at most one new handle.
	assert.Equal(t, before+1, f.providerCount())
}
