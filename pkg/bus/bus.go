package bus

import (
	"sync"

	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/entities"
)

type EventType string

const (
	EventMessageReceived     EventType = "message_received"
	EventQRGenerated         EventType = "qr_generated"
	EventSessionConnected    EventType = "session_connected"
	EventSessionDisconnected EventType = "session_disconnected"
	EventAdvisory            EventType = "advisory"
)

// Advisory kinds surfaced for operator visibility.
const (
	AdvisoryBanCeiling     = "ban_ceiling_reached"
	AdvisoryCorruptedCreds = "corrupted_credentials"
	AdvisoryQRExpired      = "qr_expired"
	AdvisoryPollerConflict = "poller_conflict"
	AdvisoryRetryExhausted = "retry_budget_exhausted"
	AdvisoryProviderError  = "provider_error"
)

// Event is what the core publishes to the surrounding application. Emission
// is one-directional; the core consumes nothing back from the bus.
type Event struct {
	Type      EventType
	SessionID string
	Platform  entities.Platform
	Reason    string
	QRCode    string
	Advisory  string
	Detail    string
	Message   *provider.RawInboundMessage
}

// Bus fans events out to subscriber channels. Publish never blocks: a
// subscriber that falls behind loses events rather than stalling session
// handling.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{buffer: buffer}
}

func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
