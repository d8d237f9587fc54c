package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finbot/pkg/bus"
	"github.com/finbot/pkg/config"
	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/entities"
	"github.com/finbot/pkg/msgcontext"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotConnected    = errors.New("session is not connected")
	ErrTokenRequired   = errors.New("telegram sessions require a bot token")
)

// CredentialStore is the slice of the credential adapter the registry uses.
type CredentialStore interface {
	Load(ctx context.Context, sessionID string) (provider.CredentialState, error)
	Save(ctx context.Context, sessionID string, state provider.CredentialState) error
	DebouncedSave(sessionID string, state provider.CredentialState)
	ValidateIntegrity(ctx context.Context, sessionID string, platform entities.Platform) error
	Wipe(ctx context.Context, sessionID string) error
	DevicePath(sessionID string) string
	FlushAll()
}

// ProviderFactory constructs a fresh adapter for the platform. Injected so
// tests can substitute fakes.
type ProviderFactory func(platform entities.Platform, log zerolog.Logger) provider.Provider

// runtime is the in-memory record for one session. It is never persisted;
// the registry owns it exclusively.
type runtime struct {
	mu        sync.Mutex
	sessionID string
	platform  entities.Platform

	handle provider.Provider
	// live is true while a handle is supposed to be connecting or connected.
	// A disconnect claims the record by flipping it false, which makes
	// duplicate disconnect events for the same drop no-ops.
	live          bool
	everConnected bool
	lastQR        string

	restartAttempts int
	banAttempts     int
	lastBanAt       time.Time

	reconnectInProgress atomic.Bool

	qrTimer        *time.Timer
	connectTimer   *time.Timer
	reconnectTimer *time.Timer
}

// clearTimersLocked stops every pending timer. Must hold rt.mu. Called on
// every state exit so stale callbacks cannot act on a superseded record.
func (rt *runtime) clearTimersLocked() {
	if rt.qrTimer != nil {
		rt.qrTimer.Stop()
		rt.qrTimer = nil
	}
	if rt.connectTimer != nil {
		rt.connectTimer.Stop()
		rt.connectTimer = nil
	}
	if rt.reconnectTimer != nil {
		rt.reconnectTimer.Stop()
		rt.reconnectTimer = nil
	}
}

// RuntimeInfo is a read-only snapshot of a runtime record.
type RuntimeInfo struct {
	SessionID        string
	Platform         entities.Platform
	Live             bool
	Connected        bool
	EverConnected    bool
	RestartAttempts  int
	BanAttempts      int
	LastBanAt        time.Time
	ReconnectPending bool
}

// Registry owns one runtime record per session and is the only writer of
// status/isActive on the durable row.
type Registry struct {
	repo        Repository
	creds       CredentialStore
	router      *msgcontext.Router
	events      *bus.Bus
	newProvider ProviderFactory
	policy      Policy
	qrTimeout   time.Duration
	connTimeout time.Duration
	log         zerolog.Logger

	mu       sync.RWMutex
	runtimes map[string]*runtime
}

func NewRegistry(repo Repository, creds CredentialStore, router *msgcontext.Router, events *bus.Bus,
	cfg config.Sessions, factory ProviderFactory, log zerolog.Logger) *Registry {
	return &Registry{
		repo:        repo,
		creds:       creds,
		router:      router,
		events:      events,
		newProvider: factory,
		policy:      PolicyFromConfig(cfg),
		qrTimeout:   cfg.QRTimeout.Std(),
		connTimeout: cfg.ConnectTimeout.Std(),
		log:         log.With().Str("component", "registry").Logger(),
		runtimes:    make(map[string]*runtime),
	}
}

// PolicyFromConfig maps the config section onto the recovery policy.
func PolicyFromConfig(cfg config.Sessions) Policy {
	return Policy{
		MaxRestartAttempts: cfg.Restart.MaxAttempts,
		RestartBaseDelay:   cfg.Restart.BaseDelay.Std(),
		MaxBanAttempts:     cfg.Ban.MaxAttempts,
		BanBaseDelay:       cfg.Ban.BaseDelay.Std(),
		BanMultiplier:      cfg.Ban.Multiplier,
		BanMaxDelay:        cfg.Ban.MaxDelay.Std(),
	}
}

// CreateSession registers a new durable session. For telegram the bot token
// is stored as the session's credentials right away.
func (r *Registry) CreateSession(ctx context.Context, platform entities.Platform, sessionID, token string) (entities.Session, error) {
	if platform != entities.PlatformWhatsApp && platform != entities.PlatformTelegram {
		return entities.Session{}, fmt.Errorf("unsupported platform %q", platform)
	}
	if platform == entities.PlatformTelegram && token == "" {
		return entities.Session{}, ErrTokenRequired
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sess := entities.Session{
		SessionID: sessionID,
		Platform:  platform,
		Status:    entities.StatusInactive,
	}
	if err := r.repo.Create(ctx, sess); err != nil {
		return entities.Session{}, err
	}

	if platform == entities.PlatformTelegram {
		state := provider.CredentialState{Platform: platform, Token: token}
		if err := r.creds.Save(ctx, sessionID, state); err != nil {
			return entities.Session{}, err
		}
	}

	r.log.Info().Str("session_id", sessionID).Str("platform", string(platform)).Msg("session created")
	return sess, nil
}

// StartSession opens the session through its platform adapter. Starting an
// already-running session is a no-op.
func (r *Registry) StartSession(ctx context.Context, sessionID string) error {
	sess, err := r.repo.FindBySessionID(ctx, sessionID)
	if err == gorm.ErrRecordNotFound {
		return ErrSessionNotFound
	}
	if err != nil {
		return err
	}

	rt := r.getOrCreateRuntime(sessionID, sess.Platform)
	rt.mu.Lock()
	if rt.live {
		rt.mu.Unlock()
		return nil
	}
	rt.live = true
	rt.lastQR = ""
	rt.mu.Unlock()

	state, err := r.creds.Load(ctx, sessionID)
	if err != nil {
		r.releaseStartClaim(rt)
		return err
	}

	if err := r.repo.SetActive(ctx, sessionID, true); err != nil {
		r.releaseStartClaim(rt)
		return err
	}
	if err := r.repo.UpdateStatus(ctx, sessionID, entities.StatusConnecting); err != nil {
		r.releaseStartClaim(rt)
		return err
	}

	handle := r.newProvider(sess.Platform, r.log)
	initCfg := provider.InitConfig{
		SessionID: sessionID,
		Token:     state.Token,
		StorePath: r.creds.DevicePath(sessionID),
	}

	rt.mu.Lock()
	rt.handle = handle
	r.armStartupTimersLocked(rt, sess.Platform)
	rt.mu.Unlock()

	// Initialize runs without rt.mu held: adapters may fire lifecycle
	// callbacks synchronously from inside it, and those handlers take the
	// same lock.
	if err := handle.Initialize(ctx, initCfg, r.callbacksFor(sessionID, sess.Platform)); err != nil {
		rt.mu.Lock()
		rt.clearTimersLocked()
		// A callback may already have claimed the record (e.g. a synchronous
		// disconnect); only roll back if this handle is still installed.
		if rt.handle == handle {
			rt.handle = nil
			rt.live = false
		}
		rt.mu.Unlock()
		r.repo.UpdateStatus(ctx, sessionID, entities.StatusError)
		return fmt.Errorf("initialize %s session %s: %w", sess.Platform, sessionID, err)
	}

	r.log.Info().Str("session_id", sessionID).Str("platform", string(sess.Platform)).Msg("session starting")
	return nil
}

// releaseStartClaim undoes the live claim when a start fails before the
// provider handle is installed.
func (r *Registry) releaseStartClaim(rt *runtime) {
	rt.mu.Lock()
	rt.live = false
	rt.mu.Unlock()
}

// StopSession tears the session down. A permanent stop also drops the
// runtime record (retry counters included) and clears the operator-intent
// flag; a non-permanent stop preserves the record so backoff state survives
// the stop/start cycle.
func (r *Registry) StopSession(ctx context.Context, sessionID string, permanent bool) error {
	if _, err := r.repo.FindBySessionID(ctx, sessionID); err == gorm.ErrRecordNotFound {
		return ErrSessionNotFound
	} else if err != nil {
		return err
	}

	final := entities.StatusDisconnected
	if permanent {
		final = entities.StatusInactive
	}
	return r.stopInternal(ctx, sessionID, permanent, final)
}

// stopInternal tears down whatever runtime state exists and persists the
// outcome. A missing runtime record is not an error: the durable row may
// still carry isActive=true from a previous process, and the stop must clear
// it regardless.
func (r *Registry) stopInternal(ctx context.Context, sessionID string, permanent bool, final entities.Status) error {
	if rt := r.runtime(sessionID); rt != nil {
		rt.mu.Lock()
		rt.clearTimersLocked()
		handle := rt.handle
		rt.handle = nil
		rt.live = false
		rt.lastQR = ""
		rt.mu.Unlock()

		if handle != nil {
			handle.Disconnect()
		}
	}

	if permanent {
		r.mu.Lock()
		delete(r.runtimes, sessionID)
		r.mu.Unlock()
		if err := r.repo.SetActive(ctx, sessionID, false); err != nil {
			return err
		}
	}
	return r.repo.UpdateStatus(ctx, sessionID, final)
}

// DeleteSession permanently stops the session, purges its credentials and
// removes the durable row.
func (r *Registry) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.repo.FindBySessionID(ctx, sessionID); err == gorm.ErrRecordNotFound {
		return ErrSessionNotFound
	} else if err != nil {
		return err
	}

	if err := r.stopInternal(ctx, sessionID, true, entities.StatusInactive); err != nil {
		return err
	}
	if err := r.creds.Wipe(ctx, sessionID); err != nil {
		return err
	}
	return r.repo.Delete(ctx, sessionID)
}

// ResetAuth wipes the session's credentials so the next start requires a
// fresh pairing.
func (r *Registry) ResetAuth(ctx context.Context, sessionID string) error {
	if _, err := r.repo.FindBySessionID(ctx, sessionID); err == gorm.ErrRecordNotFound {
		return ErrSessionNotFound
	} else if err != nil {
		return err
	}

	if err := r.stopInternal(ctx, sessionID, true, entities.StatusInactive); err != nil {
		return err
	}
	return r.creds.Wipe(ctx, sessionID)
}

// LastQR returns the most recent pairing code, if one is pending.
func (r *Registry) LastQR(sessionID string) (string, bool) {
	rt := r.runtime(sessionID)
	if rt == nil {
		return "", false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.lastQR, rt.lastQR != ""
}

// Runtime returns a snapshot of the in-memory record.
func (r *Registry) Runtime(sessionID string) (RuntimeInfo, bool) {
	rt := r.runtime(sessionID)
	if rt == nil {
		return RuntimeInfo{}, false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	connected := rt.handle != nil && rt.handle.IsConnected()
	return RuntimeInfo{
		SessionID:        rt.sessionID,
		Platform:         rt.platform,
		Live:             rt.live,
		Connected:        connected,
		EverConnected:    rt.everConnected,
		RestartAttempts:  rt.restartAttempts,
		BanAttempts:      rt.banAttempts,
		LastBanAt:        rt.lastBanAt,
		ReconnectPending: rt.reconnectTimer != nil,
	}, true
}

// Shutdown disconnects every live session best-effort without touching the
// durable isActive flag, so the next process start resumes them. This is the
// deliberate "process exiting" path, distinct from "account deactivated".
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	runtimes := make([]*runtime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		runtimes = append(runtimes, rt)
	}
	r.runtimes = make(map[string]*runtime)
	r.mu.Unlock()

	for _, rt := range runtimes {
		rt.mu.Lock()
		rt.clearTimersLocked()
		handle := rt.handle
		rt.handle = nil
		rt.live = false
		rt.mu.Unlock()

		if handle != nil {
			handle.Disconnect()
		}
		r.repo.UpdateStatus(ctx, rt.sessionID, entities.StatusDisconnected)
	}

	r.creds.FlushAll()
	r.log.Info().Int("sessions", len(runtimes)).Msg("registry shut down")
}

func (r *Registry) SendText(ctx context.Context, sessionID, target, text string, opts *provider.SendOptions) provider.SendResult {
	handle, err := r.liveHandle(sessionID)
	if err != nil {
		return provider.Failure(err)
	}
	res := handle.SendText(ctx, target, text, opts)
	if res.Success {
		r.router.Renew(target)
	}
	return res
}

func (r *Registry) SendImage(ctx context.Context, sessionID, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	handle, err := r.liveHandle(sessionID)
	if err != nil {
		return provider.Failure(err)
	}
	res := handle.SendImage(ctx, target, data, opts)
	if res.Success {
		r.router.Renew(target)
	}
	return res
}

func (r *Registry) SendAudio(ctx context.Context, sessionID, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	handle, err := r.liveHandle(sessionID)
	if err != nil {
		return provider.Failure(err)
	}
	res := handle.SendAudio(ctx, target, data, opts)
	if res.Success {
		r.router.Renew(target)
	}
	return res
}

func (r *Registry) SendDocument(ctx context.Context, sessionID, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	handle, err := r.liveHandle(sessionID)
	if err != nil {
		return provider.Failure(err)
	}
	res := handle.SendDocument(ctx, target, data, opts)
	if res.Success {
		r.router.Renew(target)
	}
	return res
}

func (r *Registry) liveHandle(sessionID string) (provider.Provider, error) {
	rt := r.runtime(sessionID)
	if rt == nil {
		return nil, ErrSessionNotFound
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.live || rt.handle == nil {
		return nil, ErrNotConnected
	}
	return rt.handle, nil
}

func (r *Registry) runtime(sessionID string) *runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runtimes[sessionID]
}

func (r *Registry) getOrCreateRuntime(sessionID string, platform entities.Platform) *runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rt, ok := r.runtimes[sessionID]; ok {
		return rt
	}
	rt := &runtime{sessionID: sessionID, platform: platform}
	r.runtimes[sessionID] = rt
	return rt
}

// armStartupTimersLocked arms the QR-expiry and stuck-connecting timers.
// Must hold rt.mu.
func (r *Registry) armStartupTimersLocked(rt *runtime, platform entities.Platform) {
	sessionID := rt.sessionID

	if platform == entities.PlatformWhatsApp {
		rt.qrTimer = time.AfterFunc(r.qrTimeout, func() {
			// Advisory only: QR expiry does not force a state change.
			r.events.Publish(bus.Event{
				Type:      bus.EventAdvisory,
				SessionID: sessionID,
				Platform:  platform,
				Advisory:  bus.AdvisoryQRExpired,
			})
		})
	}

	rt.connectTimer = time.AfterFunc(r.connTimeout, func() {
		r.log.Warn().Str("session_id", sessionID).Msg("stuck connecting, forcing disconnect path")
		r.handleDisconnect(sessionID, provider.ReasonTimeoutConnecting)
	})
}

// callbacksFor wires the canonical callbacks for one session. Every handler
// is wrapped so a panic inside becomes an error signal instead of crashing
// handling for unrelated sessions.
func (r *Registry) callbacksFor(sessionID string, platform entities.Platform) provider.Callbacks {
	return provider.Callbacks{
		OnQR: func(code string) {
			r.safe(sessionID, func() { r.onQR(sessionID, platform, code) })
		},
		OnConnected: func() {
			r.safe(sessionID, func() { r.onConnected(sessionID, platform) })
		},
		OnDisconnected: func(reason provider.DisconnectReason) {
			r.safe(sessionID, func() { r.handleDisconnect(sessionID, reason) })
		},
		OnConnectionUpdate: func(status entities.Status, reason provider.DisconnectReason, shouldReconnect bool) {
			r.safe(sessionID, func() { r.onConnectionUpdate(sessionID, platform, status, reason, shouldReconnect) })
		},
		OnMessage: func(msg provider.RawInboundMessage) {
			r.safe(sessionID, func() { r.onMessage(sessionID, msg) })
		},
		OnError: func(err error) {
			r.safe(sessionID, func() { r.onProviderError(sessionID, platform, err) })
		},
		OnCredsUpdate: func(state provider.CredentialState) {
			r.safe(sessionID, func() { r.creds.DebouncedSave(sessionID, state) })
		},
	}
}

func (r *Registry) safe(sessionID string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic in session callback: %v", rec)
			r.onProviderError(sessionID, "", err)
		}
	}()
	fn()
}

func (r *Registry) onQR(sessionID string, platform entities.Platform, code string) {
	rt := r.runtime(sessionID)
	if rt == nil {
		return
	}

	rt.mu.Lock()
	if !rt.live {
		rt.mu.Unlock()
		return
	}
	rt.lastQR = code
	// The adapter is alive and waiting on a human; the stuck-connecting
	// timer no longer applies. QR rotation re-arms the expiry advisory.
	if rt.connectTimer != nil {
		rt.connectTimer.Stop()
		rt.connectTimer = nil
	}
	if rt.qrTimer != nil {
		rt.qrTimer.Reset(r.qrTimeout)
	}
	rt.mu.Unlock()

	r.repo.UpdateStatus(context.Background(), sessionID, entities.StatusQRPending)
	r.events.Publish(bus.Event{
		Type:      bus.EventQRGenerated,
		SessionID: sessionID,
		Platform:  platform,
		QRCode:    code,
	})
}

func (r *Registry) onConnected(sessionID string, platform entities.Platform) {
	rt := r.runtime(sessionID)
	if rt == nil {
		return
	}

	rt.mu.Lock()
	rt.clearTimersLocked()
	rt.everConnected = true
	rt.restartAttempts = 0
	rt.banAttempts = 0
	rt.lastQR = ""
	rt.mu.Unlock()

	ctx := context.Background()
	r.repo.UpdateStatus(ctx, sessionID, entities.StatusConnected)
	r.repo.UpdateLastSeen(ctx, sessionID)
	r.events.Publish(bus.Event{
		Type:      bus.EventSessionConnected,
		SessionID: sessionID,
		Platform:  platform,
	})
	r.log.Info().Str("session_id", sessionID).Msg("session connected")
}

// handleDisconnect is the central decision function. It claims the runtime
// record (duplicate events for the same drop become no-ops), classifies the
// reason and applies the differentiated recovery policy.
func (r *Registry) handleDisconnect(sessionID string, reason provider.DisconnectReason) {
	rt := r.runtime(sessionID)
	if rt == nil {
		return
	}

	rt.mu.Lock()
	if !rt.live {
		rt.mu.Unlock()
		return
	}
	rt.live = false
	rt.clearTimersLocked()
	handle := rt.handle
	rt.handle = nil
	rt.lastQR = ""

	switch reason {
	case provider.ReasonTemporaryBan:
		rt.banAttempts++
		rt.lastBanAt = time.Now()
	case provider.ReasonLoggedOut, provider.ReasonConnectionReplaced,
		provider.ReasonCorruptedCredentials, provider.ReasonBadSession:
		// Terminal causes do not consume retry budget.
	default:
		rt.restartAttempts++
	}
	restartAttempts := rt.restartAttempts
	banAttempts := rt.banAttempts
	everConnected := rt.everConnected
	platform := rt.platform
	rt.mu.Unlock()

	if handle != nil {
		handle.Disconnect()
	}

	ctx := context.Background()
	r.repo.UpdateStatus(ctx, sessionID, entities.StatusDisconnected)
	r.repo.UpdateLastSeen(ctx, sessionID)
	r.events.Publish(bus.Event{
		Type:      bus.EventSessionDisconnected,
		SessionID: sessionID,
		Platform:  platform,
		Reason:    string(reason),
	})

	decision := Decide(reason, restartAttempts, banAttempts, everConnected, r.policy)
	log := r.log.With().Str("session_id", sessionID).Str("reason", string(reason)).Logger()

	switch decision.Action {
	case ActionStopWipeCreds:
		r.finishPermanentStop(ctx, sessionID, entities.StatusInactive)
		if err := r.creds.Wipe(ctx, sessionID); err != nil {
			log.Error().Err(err).Msg("credential wipe failed")
		}
		r.advise(sessionID, platform, bus.AdvisoryCorruptedCreds, decision.Advisory)
		log.Warn().Str("advisory", decision.Advisory).Msg("session stopped, credentials wiped")

	case ActionStopKeepCreds:
		final := entities.StatusInactive
		if decision.FinalStatus != "" {
			final = decision.FinalStatus
		}
		r.finishPermanentStop(ctx, sessionID, final)
		kind := bus.AdvisoryRetryExhausted
		if reason == provider.ReasonTemporaryBan {
			kind = bus.AdvisoryBanCeiling
		}
		r.advise(sessionID, platform, kind, decision.Advisory)
		log.Warn().Str("advisory", decision.Advisory).Msg("session stopped, credentials kept, manual attention required")

	case ActionReconnect:
		rt.mu.Lock()
		if rt.reconnectTimer != nil {
			rt.reconnectTimer.Stop()
		}
		rt.reconnectTimer = time.AfterFunc(decision.Delay, func() {
			r.restartSession(sessionID)
		})
		rt.mu.Unlock()
		log.Info().Dur("delay", decision.Delay).
			Int("restart_attempts", restartAttempts).
			Int("ban_attempts", banAttempts).
			Msg("reconnect scheduled")
	}
}

func (r *Registry) onConnectionUpdate(sessionID string, platform entities.Platform, status entities.Status, reason provider.DisconnectReason, shouldReconnect bool) {
	if shouldReconnect {
		r.handleDisconnect(sessionID, reason)
		return
	}

	// The adapter declared the condition unrecoverable (e.g. a conflicting
	// poller it cannot resolve locally). Stop for good, keep credentials.
	ctx := context.Background()
	if err := r.stopInternal(ctx, sessionID, true, entities.StatusError); err != nil {
		r.log.Error().Err(err).Str("session_id", sessionID).Msg("forced stop failed")
	}
	kind := bus.AdvisoryProviderError
	if reason == provider.ReasonConnectionReplaced {
		kind = bus.AdvisoryPollerConflict
	}
	r.advise(sessionID, platform, kind, string(reason))
	r.log.Warn().Str("session_id", sessionID).Str("reason", string(reason)).Str("adapter_status", string(status)).Msg("adapter reported unrecoverable condition")
}

// restartSession is the scheduled reconnect entry point. It is a no-op while
// a reconnect for the same session is already in flight; the guard is cleared
// whether the restart succeeds or fails.
func (r *Registry) restartSession(sessionID string) {
	rt := r.runtime(sessionID)
	if rt == nil {
		return
	}
	if !rt.reconnectInProgress.CompareAndSwap(false, true) {
		return
	}
	defer rt.reconnectInProgress.Store(false)

	rt.mu.Lock()
	rt.reconnectTimer = nil
	rt.mu.Unlock()

	if err := r.StartSession(context.Background(), sessionID); err != nil {
		r.log.Error().Err(err).Str("session_id", sessionID).Msg("scheduled reconnect failed")
	}
}

func (r *Registry) onMessage(sessionID string, msg provider.RawInboundMessage) {
	r.router.Register(msg.ChatID, sessionID, msg.Platform, "")
	r.repo.UpdateLastSeen(context.Background(), sessionID)
	m := msg
	r.events.Publish(bus.Event{
		Type:      bus.EventMessageReceived,
		SessionID: sessionID,
		Platform:  msg.Platform,
		Message:   &m,
	})
}

func (r *Registry) onProviderError(sessionID string, platform entities.Platform, err error) {
	r.log.Error().Err(err).Str("session_id", sessionID).Msg("provider error")
	r.advise(sessionID, platform, bus.AdvisoryProviderError, err.Error())
}

func (r *Registry) finishPermanentStop(ctx context.Context, sessionID string, final entities.Status) {
	r.mu.Lock()
	delete(r.runtimes, sessionID)
	r.mu.Unlock()

	if err := r.repo.SetActive(ctx, sessionID, false); err != nil {
		r.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to clear active flag")
	}
	if err := r.repo.UpdateStatus(ctx, sessionID, final); err != nil {
		r.log.Error().Err(err).Str("session_id", sessionID).Msg("failed to persist final status")
	}
}

func (r *Registry) advise(sessionID string, platform entities.Platform, kind, detail string) {
	r.events.Publish(bus.Event{
		Type:      bus.EventAdvisory,
		SessionID: sessionID,
		Platform:  platform,
		Advisory:  kind,
		Detail:    detail,
	})
}
