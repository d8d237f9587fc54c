package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/entities"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ErrIntegrity marks stored credentials that are present but structurally
// unusable. The registry treats this exactly like "no credentials".
var ErrIntegrity = errors.New("credential integrity check failed")

// Store persists per-session auth material. It owns the byte-level encoding
// of the blob: binary key material is base64-wrapped by the JSON encoder
// before the bytea write.
type Store struct {
	db       *gorm.DB
	storeDir string
	window   time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingSave
}

// pendingSave is a single-slot delayed write: rescheduling replaces the
// state, it never queues. Handshake bursts collapse to the latest value.
type pendingSave struct {
	timer *time.Timer
	state provider.CredentialState
}

func New(db *gorm.DB, storeDir string, debounceWindow time.Duration, log zerolog.Logger) *Store {
	return &Store{
		db:       db,
		storeDir: storeDir,
		window:   debounceWindow,
		log:      log.With().Str("component", "credstore").Logger(),
		pending:  make(map[string]*pendingSave),
	}
}

// Load returns the stored credential state for the session. A missing row is
// the normal "new session" case and yields an empty state with no error.
func (s *Store) Load(ctx context.Context, sessionID string) (provider.CredentialState, error) {
	var row entities.SessionCredential
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return provider.CredentialState{}, nil
	}
	if err != nil {
		return provider.CredentialState{}, fmt.Errorf("load credentials for %s: %w", sessionID, err)
	}

	var state provider.CredentialState
	if err := json.Unmarshal(row.Blob, &state); err != nil {
		return provider.CredentialState{}, fmt.Errorf("decode credentials for %s: %w", sessionID, err)
	}
	return state, nil
}

// Save serializes the state and upserts the row immediately.
func (s *Store) Save(ctx context.Context, sessionID string, state provider.CredentialState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode credentials for %s: %w", sessionID, err)
	}

	var row entities.SessionCredential
	err = s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		row = entities.SessionCredential{SessionID: sessionID, Blob: blob}
		return s.db.WithContext(ctx).Create(&row).Error
	}
	if err != nil {
		return fmt.Errorf("save credentials for %s: %w", sessionID, err)
	}

	row.Blob = blob
	return s.db.WithContext(ctx).Save(&row).Error
}

// DebouncedSave coalesces rapid credential rotations into at most one write
// per debounce window per session. The latest state wins.
func (s *Store) DebouncedSave(sessionID string, state provider.CredentialState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[sessionID]; ok {
		p.state = state
		p.timer.Reset(s.window)
		return
	}

	p := &pendingSave{state: state}
	p.timer = time.AfterFunc(s.window, func() {
		s.flush(sessionID)
	})
	s.pending[sessionID] = p
}

func (s *Store) flush(sessionID string) {
	s.mu.Lock()
	p, ok := s.pending[sessionID]
	if ok {
		delete(s.pending, sessionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := s.Save(context.Background(), sessionID, p.state); err != nil {
		s.log.Error().Err(err).Str("session_id", sessionID).Msg("debounced credential save failed")
	}
}

// FlushAll writes out every pending debounced save. Called on shutdown so a
// burst in flight is not lost.
func (s *Store) FlushAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pending))
	for id, p := range s.pending {
		p.timer.Stop()
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.flush(id)
	}
}

// ValidateIntegrity checks that the stored state carries the fields its
// platform needs before the registry trusts it for a reconnect.
func (s *Store) ValidateIntegrity(ctx context.Context, sessionID string, platform entities.Platform) error {
	state, err := s.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	if state.Empty() {
		return fmt.Errorf("%w: no credentials stored for %s", ErrIntegrity, sessionID)
	}

	switch platform {
	case entities.PlatformTelegram:
		if state.Token == "" {
			return fmt.Errorf("%w: missing bot token for %s", ErrIntegrity, sessionID)
		}
	case entities.PlatformWhatsApp:
		if state.JID == "" {
			return fmt.Errorf("%w: missing device JID for %s", ErrIntegrity, sessionID)
		}
		if len(state.NoiseKey) == 0 || len(state.IdentityKey) == 0 {
			return fmt.Errorf("%w: missing key material for %s", ErrIntegrity, sessionID)
		}
		if _, err := os.Stat(s.DevicePath(sessionID)); err != nil {
			return fmt.Errorf("%w: device store missing for %s", ErrIntegrity, sessionID)
		}
	default:
		return fmt.Errorf("%w: unknown platform %q", ErrIntegrity, platform)
	}
	return nil
}

// Wipe removes the credential row and the session's device store file. Used
// for terminal-identity and corrupted-state disconnects; the next start
// requires fresh pairing.
func (s *Store) Wipe(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if p, ok := s.pending[sessionID]; ok {
		p.timer.Stop()
		delete(s.pending, sessionID)
	}
	s.mu.Unlock()

	// Hard delete: a soft-deleted row would still hold the unique session_id
	// slot and block the re-pair save.
	err := s.db.WithContext(ctx).Unscoped().
		Where("session_id = ?", sessionID).
		Delete(&entities.SessionCredential{}).Error
	if err != nil {
		return fmt.Errorf("wipe credentials for %s: %w", sessionID, err)
	}

	if rmErr := os.Remove(s.DevicePath(sessionID)); rmErr != nil && !os.IsNotExist(rmErr) {
		s.log.Warn().Err(rmErr).Str("session_id", sessionID).Msg("failed to remove device store file")
	}
	return nil
}

// DevicePath returns the sqlite device store location for a whatsapp session.
func (s *Store) DevicePath(sessionID string) string {
	return filepath.Join(s.storeDir, sessionID+".db")
}

// EnsureStoreDir creates the device store directory if needed.
func (s *Store) EnsureStoreDir() error {
	return os.MkdirAll(s.storeDir, 0o755)
}
