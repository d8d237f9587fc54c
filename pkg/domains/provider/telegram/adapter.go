package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/entities"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Options tunes the polling and retry behavior.
type Options struct {
	// ConflictThreshold is how many consecutive 409 responses are tolerated
	// before the adapter gives up on a poller conflict it cannot resolve.
	ConflictThreshold int
	// SendRetries bounds delivery retries for transport-timeout errors.
	SendRetries int
	// RetryBaseDelay is the first retry delay; it doubles per attempt.
	RetryBaseDelay time.Duration
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// PollRetryDelay is the pause before polling again after a failed
	// getUpdates call.
	PollRetryDelay time.Duration
}

func (o *Options) defaults() {
	if o.ConflictThreshold <= 0 {
		o.ConflictThreshold = 3
	}
	if o.SendRetries <= 0 {
		o.SendRetries = 3
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 30
	}
	if o.PollRetryDelay <= 0 {
		o.PollRetryDelay = 3 * time.Second
	}
}

// Adapter implements the provider contract over the Bot API's long-poll
// transport. There is no QR flow; the static token is the whole credential.
type Adapter struct {
	log  zerolog.Logger
	opts Options

	bot       *tgbotapi.BotAPI
	cb        provider.Callbacks
	sessionID string
	cancel    context.CancelFunc
	running   atomic.Bool
}

func New(log zerolog.Logger, opts Options) *Adapter {
	opts.defaults()
	return &Adapter{
		log:  log.With().Str("adapter", "telegram").Logger(),
		opts: opts,
	}
}

func (a *Adapter) Initialize(ctx context.Context, cfg provider.InitConfig, cb provider.Callbacks) error {
	if cfg.Token == "" {
		return errors.New("bot token is required")
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return fmt.Errorf("failed to authenticate bot: %w", err)
	}

	a.bot = bot
	a.cb = cb
	a.sessionID = cfg.SessionID
	a.log = a.log.With().Str("session_id", cfg.SessionID).Str("bot", bot.Self.UserName).Logger()

	pollCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.running.Store(true)

	if cb.OnCredsUpdate != nil {
		cb.OnCredsUpdate(provider.CredentialState{
			Platform: entities.PlatformTelegram,
			Token:    cfg.Token,
		})
	}

	go a.pollLoop(pollCtx)

	if cb.OnConnected != nil {
		cb.OnConnected()
	}
	return nil
}

func (a *Adapter) Disconnect() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.running.Store(false)
}

func (a *Adapter) IsConnected() bool {
	return a.running.Load() && a.bot != nil
}

// pollLoop drives getUpdates. Consecutive 409s past the threshold mean a
// second process is polling with the same token; that cannot be resolved
// locally, so the adapter stops itself instead of retry-looping.
func (a *Adapter) pollLoop(ctx context.Context) {
	update := tgbotapi.NewUpdate(0)
	update.Timeout = a.opts.PollTimeout

	conflicts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		updates, err := a.bot.GetUpdates(update)
		if err != nil {
			if isConflict(err) {
				conflicts++
				a.log.Warn().Int("consecutive", conflicts).Msg("conflicting poller detected")
				if conflicts >= a.opts.ConflictThreshold {
					a.running.Store(false)
					if a.cb.OnError != nil {
						a.cb.OnError(fmt.Errorf("poller conflict: another process is polling with this token: %w", err))
					}
					if a.cb.OnConnectionUpdate != nil {
						a.cb.OnConnectionUpdate(entities.StatusError, provider.ReasonConnectionReplaced, false)
					}
					return
				}
			} else {
				conflicts = 0
				a.log.Error().Err(err).Msg("getUpdates failed")
				if a.cb.OnError != nil {
					a.cb.OnError(err)
				}
			}

			select {
			case <-time.After(a.opts.PollRetryDelay):
			case <-ctx.Done():
				return
			}
			continue
		}
		conflicts = 0

		for _, upd := range updates {
			if upd.UpdateID >= update.Offset {
				update.Offset = upd.UpdateID + 1
			}
			if upd.Message == nil {
				continue
			}
			if a.cb.OnMessage != nil {
				u := upd
				a.cb.OnMessage(provider.RawInboundMessage{
					Platform: entities.PlatformTelegram,
					ChatID:   strconv.FormatInt(u.Message.Chat.ID, 10),
					SenderID: strconv.FormatInt(u.Message.From.ID, 10),
					Native:   &u,
				})
			}
		}
	}
}

func (a *Adapter) SendText(ctx context.Context, target string, text string, opts *provider.SendOptions) provider.SendResult {
	chatID, err := parseChatID(target)
	if err != nil {
		return provider.Failure(err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	return a.sendWithRetry(ctx, msg)
}

func (a *Adapter) SendImage(ctx context.Context, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	chatID, err := parseChatID(target)
	if err != nil {
		return provider.Failure(err)
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: fileName(opts, "image"), Bytes: data})
	if opts != nil {
		photo.Caption = opts.Caption
	}
	return a.sendWithRetry(ctx, photo)
}

func (a *Adapter) SendAudio(ctx context.Context, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	chatID, err := parseChatID(target)
	if err != nil {
		return provider.Failure(err)
	}
	audio := tgbotapi.NewAudio(chatID, tgbotapi.FileBytes{Name: fileName(opts, "audio"), Bytes: data})
	if opts != nil {
		audio.Caption = opts.Caption
	}
	return a.sendWithRetry(ctx, audio)
}

func (a *Adapter) SendDocument(ctx context.Context, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	chatID, err := parseChatID(target)
	if err != nil {
		return provider.Failure(err)
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: fileName(opts, "document"), Bytes: data})
	if opts != nil {
		doc.Caption = opts.Caption
	}
	return a.sendWithRetry(ctx, doc)
}

// sendWithRetry retries transport-timeout failures with doubling delay.
// Semantic Bot API errors are returned immediately; retrying them cannot
// succeed.
func (a *Adapter) sendWithRetry(ctx context.Context, msg tgbotapi.Chattable) provider.SendResult {
	if a.bot == nil {
		return provider.Failure(errors.New("telegram bot not initialized"))
	}

	delay := a.opts.RetryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= a.opts.SendRetries; attempt++ {
		sent, err := a.bot.Send(msg)
		if err == nil {
			return provider.Sent(strconv.Itoa(sent.MessageID))
		}
		lastErr = err

		if !isTransient(err) {
			return provider.Failure(err)
		}
		if attempt == a.opts.SendRetries {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return provider.Failure(ctx.Err())
		}
		delay *= 2
	}
	return provider.Failure(fmt.Errorf("send failed after %d attempts: %w", a.opts.SendRetries, lastErr))
}

func parseChatID(target string) (int64, error) {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q: %w", target, err)
	}
	return chatID, nil
}

func fileName(opts *provider.SendOptions, fallback string) string {
	if opts != nil && opts.FileName != "" {
		return opts.FileName
	}
	return fallback
}

// isConflict recognizes the Bot API 409 response.
func isConflict(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 409
	}
	return false
}

// isTransient classifies transport-timeout-class errors, the only kind a
// delivery retry can fix.
func isTransient(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		// Bot API answered: the failure is semantic, not transport.
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
