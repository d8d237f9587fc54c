package session

import (
	"testing"
	"time"

	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		MaxRestartAttempts: 5,
		RestartBaseDelay:   5 * time.Second,
		MaxBanAttempts:     10,
		BanBaseDelay:       5 * time.Second,
		BanMultiplier:      2,
		BanMaxDelay:        30 * time.Minute,
	}
}

func TestDecideCorruptedCredentialsWipes(t *testing.T) {
	for _, reason := range []provider.DisconnectReason{
		provider.ReasonCorruptedCredentials,
		provider.ReasonBadSession,
	} {
		d := Decide(reason, 0, 0, true, testPolicy())
		assert.Equal(t, ActionStopWipeCreds, d.Action, "reason %s", reason)
		assert.Equal(t, "corrupted_credentials", d.Advisory)
	}
}

func TestDecideTerminalIdentityLossWipes(t *testing.T) {
	for _, reason := range []provider.DisconnectReason{
		provider.ReasonLoggedOut,
		provider.ReasonConnectionReplaced,
	} {
		// Even with no budget consumed and a previously healthy connection,
		// identity loss is never retried.
		d := Decide(reason, 0, 0, true, testPolicy())
		assert.Equal(t, ActionStopWipeCreds, d.Action, "reason %s", reason)
		assert.Equal(t, string(reason), d.Advisory)
	}
}

func TestDecideTemporaryBanBacksOffExponentially(t *testing.T) {
	p := testPolicy()

	expected := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
	}
	for i, want := range expected {
		d := Decide(provider.ReasonTemporaryBan, 0, i+1, true, p)
		require.Equal(t, ActionReconnect, d.Action)
		assert.Equal(t, want, d.Delay, "attempt %d", i+1)
	}
}

func TestDecideTemporaryBanDelayIsCapped(t *testing.T) {
	p := testPolicy()
	p.MaxBanAttempts = 100

	d := Decide(provider.ReasonTemporaryBan, 0, 50, true, p)
	require.Equal(t, ActionReconnect, d.Action)
	assert.Equal(t, p.BanMaxDelay, d.Delay)
}

func TestDecideBanCeilingStopsKeepingCreds(t *testing.T) {
	p := testPolicy()
	p.MaxBanAttempts = 3

	d := Decide(provider.ReasonTemporaryBan, 0, 4, true, p)
	assert.Equal(t, ActionStopKeepCreds, d.Action)
	assert.Equal(t, "ban_ceiling_reached", d.Advisory)
}

func TestDecideBanBeforePairingWipes(t *testing.T) {
	// A ban during an incomplete handshake leaves half-written credentials
	// behind; they must not be reused.
	d := Decide(provider.ReasonTemporaryBan, 0, 1, false, testPolicy())
	assert.Equal(t, ActionStopWipeCreds, d.Action)
	assert.Equal(t, "ban_before_pairing", d.Advisory)
}

func TestDecideGenericBacksOffLinearly(t *testing.T) {
	p := testPolicy()

	for attempt := 1; attempt <= p.MaxRestartAttempts; attempt++ {
		d := Decide(provider.ReasonConnectionClosed, attempt, 0, true, p)
		require.Equal(t, ActionReconnect, d.Action, "attempt %d", attempt)
		assert.Equal(t, p.RestartBaseDelay*time.Duration(attempt), d.Delay)
	}
}

func TestDecideGenericExhaustionEndsInError(t *testing.T) {
	p := testPolicy()

	d := Decide(provider.ReasonConnectionLost, p.MaxRestartAttempts+1, 0, true, p)
	assert.Equal(t, ActionStopKeepCreds, d.Action)
	assert.Equal(t, "retry_budget_exhausted", d.Advisory)
	assert.Equal(t, entities.StatusError, d.FinalStatus)
}

func TestDecideCountersAreIndependent(t *testing.T) {
	p := testPolicy()
	p.MaxRestartAttempts = 1

	// A session that burned its whole restart budget still gets the ban
	// schedule on a ban, and vice versa.
	d := Decide(provider.ReasonTemporaryBan, 5, 1, true, p)
	assert.Equal(t, ActionReconnect, d.Action)
	assert.Equal(t, p.BanBaseDelay, d.Delay)

	d = Decide(provider.ReasonConnectionClosed, 1, 99, true, p)
	assert.Equal(t, ActionReconnect, d.Action)
}

func TestDecideUnknownReasonFollowsGenericPath(t *testing.T) {
	d := Decide(provider.ReasonUnknown, 1, 0, false, testPolicy())
	assert.Equal(t, ActionReconnect, d.Action)
}
