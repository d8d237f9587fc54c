package session

import (
	"context"
	"sync"
	"time"

	"github.com/finbot/pkg/bus"
	"github.com/finbot/pkg/config"
	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/entities"
	"github.com/rs/zerolog"
)

// Manager is the thin supervisory façade above the registry: one start/stop/
// send surface regardless of platform, a process-wide already-active marker,
// and the boot-time restorer.
type Manager struct {
	registry     *Registry
	restoreDelay time.Duration
	log          zerolog.Logger

	mu     sync.Mutex
	active map[string]bool
}

func NewManager(registry *Registry, cfg config.Sessions, log zerolog.Logger) *Manager {
	return &Manager{
		registry:     registry,
		restoreDelay: cfg.RestoreDelay.Std(),
		log:          log.With().Str("component", "session_manager").Logger(),
		active:       make(map[string]bool),
	}
}

func (m *Manager) CreateSession(ctx context.Context, platform entities.Platform, sessionID, token string) (entities.Session, error) {
	return m.registry.CreateSession(ctx, platform, sessionID, token)
}

// StartSession activates the session. The marker map guards against double
// activation of the same logical session; the registry's own idempotency
// covers the rest.
func (m *Manager) StartSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	if m.active[sessionID] {
		if info, ok := m.registry.Runtime(sessionID); ok && info.Live {
			m.mu.Unlock()
			m.log.Debug().Str("session_id", sessionID).Msg("session already active, ignoring start")
			return nil
		}
	}
	m.active[sessionID] = true
	m.mu.Unlock()

	if err := m.registry.StartSession(ctx, sessionID); err != nil {
		m.mu.Lock()
		delete(m.active, sessionID)
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) StopSession(ctx context.Context, sessionID string, permanent bool) error {
	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()
	return m.registry.StopSession(ctx, sessionID, permanent)
}

func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()
	return m.registry.DeleteSession(ctx, sessionID)
}

func (m *Manager) ResetAuth(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.active, sessionID)
	m.mu.Unlock()
	return m.registry.ResetAuth(ctx, sessionID)
}

func (m *Manager) LastQR(sessionID string) (string, bool) {
	return m.registry.LastQR(sessionID)
}

func (m *Manager) Runtime(sessionID string) (RuntimeInfo, bool) {
	return m.registry.Runtime(sessionID)
}

func (m *Manager) SendText(ctx context.Context, sessionID, target, text string, opts *provider.SendOptions) provider.SendResult {
	return m.registry.SendText(ctx, sessionID, target, text, opts)
}

func (m *Manager) SendImage(ctx context.Context, sessionID, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	return m.registry.SendImage(ctx, sessionID, target, data, opts)
}

func (m *Manager) SendAudio(ctx context.Context, sessionID, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	return m.registry.SendAudio(ctx, sessionID, target, data, opts)
}

func (m *Manager) SendDocument(ctx context.Context, sessionID, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	return m.registry.SendDocument(ctx, sessionID, target, data, opts)
}

// RestoreActiveSessions re-establishes every durable session flagged active,
// throttled by a short inter-session delay so boot does not turn into a
// connection storm. Sessions whose stored credentials fail the integrity
// check are treated as having none: wiped, then started fresh (pairing
// required).
func (m *Manager) RestoreActiveSessions(ctx context.Context) error {
	sessions, err := m.registry.repo.FindActive(ctx)
	if err != nil {
		return err
	}

	for i, sess := range sessions {
		if i > 0 {
			select {
			case <-time.After(m.restoreDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if sess.Platform == entities.PlatformWhatsApp {
			if err := m.registry.creds.ValidateIntegrity(ctx, sess.SessionID, sess.Platform); err != nil {
				m.log.Warn().Err(err).Str("session_id", sess.SessionID).Msg("stored credentials failed integrity check, requiring fresh pairing")
				m.registry.advise(sess.SessionID, sess.Platform, bus.AdvisoryCorruptedCreds, err.Error())
				if wipeErr := m.registry.creds.Wipe(ctx, sess.SessionID); wipeErr != nil {
					m.log.Error().Err(wipeErr).Str("session_id", sess.SessionID).Msg("credential wipe failed during restore")
					continue
				}
			}
		}

		if err := m.StartSession(ctx, sess.SessionID); err != nil {
			m.log.Error().Err(err).Str("session_id", sess.SessionID).Msg("failed to restore session")
		}
	}

	m.log.Info().Int("count", len(sessions)).Msg("session restore pass completed")
	return nil
}

// Shutdown disconnects all sessions without altering operator intent.
func (m *Manager) Shutdown(ctx context.Context) {
	m.registry.Shutdown(ctx)
	m.mu.Lock()
	m.active = make(map[string]bool)
	m.mu.Unlock()
}

// List and Stats pass through to the durable store for the operator surface.
func (m *Manager) List(ctx context.Context) ([]entities.Session, error) {
	return m.registry.repo.List(ctx)
}

func (m *Manager) ListPage(ctx context.Context, page int) ([]entities.Session, int, error) {
	return m.registry.repo.ListPage(ctx, page)
}

func (m *Manager) Find(ctx context.Context, sessionID string) (entities.Session, error) {
	sess, err := m.registry.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return entities.Session{}, err
	}
	return sess, nil
}

func (m *Manager) Stats(ctx context.Context) (map[entities.Status]int64, error) {
	return m.registry.repo.CountByStatus(ctx)
}

// IsKnownInactive reports whether the marker map considers the session
// stopped. Exposed for the HTTP surface's duplicate-start diagnostics.
func (m *Manager) IsKnownInactive(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.active[sessionID]
}
