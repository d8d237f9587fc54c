package bus

import (
	"testing"

	"github.com/finbot/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOutToAllSubscribers(t *testing.T) {
	b := New(4)
	first := b.Subscribe()
	second := b.Subscribe()

	b.Publish(Event{Type: EventSessionConnected, SessionID: "s1", Platform: entities.PlatformWhatsApp})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case evt := <-ch:
			assert.Equal(t, EventSessionConnected, evt.Type)
			assert.Equal(t, "s1", evt.SessionID)
		default:
			t.Fatal("subscriber did not receive the event")
		}
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := New(1)
	ch := b.Subscribe()

	// Nobody reads; the second publish must be dropped, not stall.
	b.Publish(Event{Type: EventSessionConnected, SessionID: "first"})
	b.Publish(Event{Type: EventSessionDisconnected, SessionID: "second"})

	evt := <-ch
	assert.Equal(t, "first", evt.SessionID)
	select {
	case <-ch:
		t.Fatal("overflow event should have been dropped")
	default:
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New(0)
	require.NotPanics(t, func() {
		b.Publish(Event{Type: EventAdvisory, Advisory: AdvisoryQRExpired})
	})
}
