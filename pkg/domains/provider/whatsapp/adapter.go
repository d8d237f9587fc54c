package whatsapp

import (
	"context"
	"fmt"
	"sync"

	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/entities"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// restartStreamCode is the stream error the platform sends when it wants the
// client to reconnect. It is distinct from a temporary ban, which whatsmeow
// surfaces as its own event.
const restartStreamCode = "515"

// Adapter wraps the whatsmeow multi-device client behind the provider
// contract. Native events are translated into the canonical callback
// vocabulary; message payloads are forwarded untouched.
type Adapter struct {
	log zerolog.Logger

	mu        sync.Mutex
	sessionID string
	client    *whatsmeow.Client
	container *sqlstore.Container
	cb        provider.Callbacks
	ctx       context.Context
	cancel    context.CancelFunc
	evtChan   chan interface{}
}

func New(log zerolog.Logger) *Adapter {
	return &Adapter{
		log: log.With().Str("adapter", "whatsapp").Logger(),
	}
}

func (a *Adapter) Initialize(ctx context.Context, cfg provider.InitConfig, cb provider.Callbacks) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return fmt.Errorf("adapter for session %s already initialized", a.sessionID)
	}

	a.sessionID = cfg.SessionID
	a.cb = cb
	a.log = a.log.With().Str("session_id", cfg.SessionID).Logger()
	a.ctx, a.cancel = context.WithCancel(context.Background())

	clientLog := waLog.Zerolog(a.log)
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", cfg.StorePath)
	container, err := sqlstore.New(a.ctx, "sqlite", dsn, clientLog)
	if err != nil {
		a.cancel()
		return fmt.Errorf("failed to open device store: %w", err)
	}
	a.container = container

	deviceStore, err := container.GetFirstDevice(a.ctx)
	if err != nil {
		container.Close()
		a.cancel()
		return fmt.Errorf("failed to get device: %w", err)
	}

	a.client = whatsmeow.NewClient(deviceStore, clientLog)
	// The registry owns all recovery decisions; the driver must not race it
	// with its own reconnect loop.
	a.client.EnableAutoReconnect = false

	a.evtChan = make(chan interface{}, 100)
	a.client.AddEventHandler(func(evt interface{}) {
		select {
		case a.evtChan <- evt:
		default:
			a.log.Warn().Msg("event channel full, dropping event")
		}
	})
	go a.eventLoop(a.ctx, a.evtChan)

	if a.client.Store.ID == nil {
		// Never paired: get the QR channel before connecting, as the driver
		// requires.
		qrChan, err := a.client.GetQRChannel(a.ctx)
		if err != nil {
			container.Close()
			a.cancel()
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		go a.qrLoop(qrChan, cfg.EchoQR)
	}

	if err := a.client.Connect(); err != nil {
		container.Close()
		a.cancel()
		a.client = nil
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// Disconnect is best-effort and idempotent.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	client := a.client
	container := a.container
	cancel := a.cancel
	a.client = nil
	a.container = nil
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		client.Disconnect()
	}
	if container != nil {
		container.Close()
	}
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	return client != nil && client.IsConnected()
}

// eventLoop drains native events off the driver's dispatch path so a slow
// callback cannot stall the socket reader.
func (a *Adapter) eventLoop(ctx context.Context, evtChan chan interface{}) {
	for {
		select {
		case evt := <-evtChan:
			a.handleEvent(evt)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Adapter) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		a.emitCreds()
		if a.cb.OnConnected != nil {
			a.cb.OnConnected()
		}
	case *events.PairSuccess:
		a.emitCreds()
	case *events.Message:
		if a.cb.OnMessage != nil {
			a.cb.OnMessage(provider.RawInboundMessage{
				Platform: entities.PlatformWhatsApp,
				ChatID:   v.Info.Chat.String(),
				SenderID: v.Info.Sender.String(),
				Native:   v,
			})
		}
	case *events.LoggedOut:
		a.emitDisconnected(provider.ReasonLoggedOut)
	case *events.StreamReplaced:
		a.emitDisconnected(provider.ReasonConnectionReplaced)
	case *events.TemporaryBan:
		a.log.Warn().Str("code", v.Code.String()).Dur("expire", v.Expire).Msg("temporary ban signaled")
		a.emitDisconnected(provider.ReasonTemporaryBan)
	case *events.StreamError:
		if v.Code == restartStreamCode {
			a.emitDisconnected(provider.ReasonRestartRequired)
		} else {
			a.emitDisconnected(provider.ReasonUnknown)
		}
	case *events.ClientOutdated:
		a.emitDisconnected(provider.ReasonBadSession)
	case *events.KeepAliveTimeout:
		a.emitDisconnected(provider.ReasonTimedOut)
	case *events.Disconnected:
		a.emitDisconnected(provider.ReasonConnectionClosed)
	case *events.ConnectFailure:
		if a.cb.OnError != nil {
			a.cb.OnError(fmt.Errorf("connect failure: %s", v.Reason))
		}
		a.emitDisconnected(provider.ReasonConnectionLost)
	}
}

func (a *Adapter) qrLoop(qrChan <-chan whatsmeow.QRChannelItem, echo bool) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			if echo {
				a.log.Info().Str("qr", evt.Code).Msg("pairing code issued")
			}
			if a.cb.OnQR != nil {
				a.cb.OnQR(evt.Code)
			}
		case "success":
			// PairSuccess and Connected arrive through the event stream;
			// nothing to do here.
		case "timeout":
			a.emitDisconnected(provider.ReasonTimedOut)
			return
		case "error":
			if a.cb.OnError != nil {
				a.cb.OnError(fmt.Errorf("QR channel error: %v", evt.Error))
			}
			return
		}
	}
}

func (a *Adapter) emitDisconnected(reason provider.DisconnectReason) {
	if a.cb.OnDisconnected != nil {
		a.cb.OnDisconnected(reason)
	}
}

// emitCreds reports a registration snapshot of the paired device so the
// registry can persist it immediately.
func (a *Adapter) emitCreds() {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil || a.cb.OnCredsUpdate == nil {
		return
	}

	device := client.Store
	state := provider.CredentialState{
		Platform:       entities.PlatformWhatsApp,
		RegistrationID: device.RegistrationID,
	}
	if device.ID != nil {
		state.JID = device.ID.String()
	}
	if device.NoiseKey != nil && device.NoiseKey.Pub != nil {
		state.NoiseKey = device.NoiseKey.Pub[:]
	}
	if device.IdentityKey != nil && device.IdentityKey.Pub != nil {
		state.IdentityKey = device.IdentityKey.Pub[:]
	}
	if device.SignedPreKey != nil && device.SignedPreKey.Pub != nil {
		state.SignedPreKey = device.SignedPreKey.Pub[:]
	}
	a.cb.OnCredsUpdate(state)
}

func (a *Adapter) SendText(ctx context.Context, target string, text string, opts *provider.SendOptions) provider.SendResult {
	client, jid, res := a.sendTarget(target)
	if res != nil {
		return *res
	}

	msg := &waProto.Message{
		Conversation: proto.String(text),
	}
	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return provider.Failure(fmt.Errorf("failed to send message: %w", err))
	}
	return provider.Sent(string(resp.ID))
}

func (a *Adapter) SendImage(ctx context.Context, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	return a.sendMedia(ctx, target, data, whatsmeow.MediaImage, opts)
}

func (a *Adapter) SendAudio(ctx context.Context, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	return a.sendMedia(ctx, target, data, whatsmeow.MediaAudio, opts)
}

func (a *Adapter) SendDocument(ctx context.Context, target string, data []byte, opts *provider.SendOptions) provider.SendResult {
	return a.sendMedia(ctx, target, data, whatsmeow.MediaDocument, opts)
}

func (a *Adapter) sendMedia(ctx context.Context, target string, data []byte, mediaType whatsmeow.MediaType, opts *provider.SendOptions) provider.SendResult {
	client, jid, res := a.sendTarget(target)
	if res != nil {
		return *res
	}

	uploaded, err := client.Upload(ctx, data, mediaType)
	if err != nil {
		return provider.Failure(fmt.Errorf("failed to upload media: %w", err))
	}

	var (
		caption  string
		mimeType string
		fileName string
	)
	if opts != nil {
		caption = opts.Caption
		mimeType = opts.MimeType
		fileName = opts.FileName
	}

	var msg *waProto.Message
	switch mediaType {
	case whatsmeow.MediaImage:
		msg = &waProto.Message{
			ImageMessage: &waProto.ImageMessage{
				URL:           &uploaded.URL,
				Mimetype:      &mimeType,
				Caption:       &caption,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				FileEncSHA256: uploaded.FileEncSHA256,
			},
		}
	case whatsmeow.MediaAudio:
		msg = &waProto.Message{
			AudioMessage: &waProto.AudioMessage{
				URL:           &uploaded.URL,
				Mimetype:      &mimeType,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				FileEncSHA256: uploaded.FileEncSHA256,
			},
		}
	default:
		msg = &waProto.Message{
			DocumentMessage: &waProto.DocumentMessage{
				URL:           &uploaded.URL,
				Mimetype:      &mimeType,
				Title:         &fileName,
				FileSHA256:    uploaded.FileSHA256,
				FileLength:    &uploaded.FileLength,
				DirectPath:    &uploaded.DirectPath,
				MediaKey:      uploaded.MediaKey,
				FileEncSHA256: uploaded.FileEncSHA256,
			},
		}
	}

	resp, err := client.SendMessage(ctx, jid, msg)
	if err != nil {
		return provider.Failure(fmt.Errorf("failed to send media message: %w", err))
	}
	return provider.Sent(string(resp.ID))
}

// sendTarget resolves the live client and target JID, or a ready failure.
func (a *Adapter) sendTarget(target string) (*whatsmeow.Client, waTypes.JID, *provider.SendResult) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client == nil || !client.IsConnected() {
		res := provider.Failure(fmt.Errorf("whatsapp client not connected"))
		return nil, waTypes.JID{}, &res
	}

	jid, err := waTypes.ParseJID(target)
	if err != nil {
		res := provider.Failure(fmt.Errorf("invalid target %q: %w", target, err))
		return nil, waTypes.JID{}, &res
	}
	return client, jid, nil
}
