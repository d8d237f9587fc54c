package session

import (
	"math"
	"time"

	"github.com/finbot/pkg/domains/provider"
	"github.com/finbot/pkg/entities"
)

// Action is what the registry does with a session after a disconnect.
type Action int

const (
	// ActionReconnect schedules a reconnect after Decision.Delay.
	ActionReconnect Action = iota
	// ActionStopKeepCreds stops permanently but leaves credentials intact
	// (rate-limited account, or retry budget exhausted).
	ActionStopKeepCreds
	// ActionStopWipeCreds stops permanently and wipes credentials; the next
	// start requires fresh pairing.
	ActionStopWipeCreds
)

// Policy carries the configured recovery parameters. All values are
// deployment-profile dependent and must come from config, never literals.
type Policy struct {
	MaxRestartAttempts int
	RestartBaseDelay   time.Duration
	MaxBanAttempts     int
	BanBaseDelay       time.Duration
	BanMultiplier      float64
	BanMaxDelay        time.Duration
}

// Decision is the outcome of classifying one disconnect.
type Decision struct {
	Action   Action
	Delay    time.Duration
	Advisory string
	// FinalStatus overrides the durable status a permanent stop leaves
	// behind; zero means the registry's default (INACTIVE).
	FinalStatus entities.Status
}

// Decide maps (reason, attempt counts, prior connected state) to a recovery
// action. It is a pure function: the registry increments the counter that
// matches the reason before calling, and passes the post-increment value.
//
// The two counters are independent on purpose: a generic disconnect must not
// consume ban budget and vice versa.
func Decide(reason provider.DisconnectReason, restartAttempts, banAttempts int, everConnected bool, p Policy) Decision {
	switch reason {
	case provider.ReasonCorruptedCredentials, provider.ReasonBadSession:
		// Structurally invalid state is never retried with the same material.
		return Decision{Action: ActionStopWipeCreds, Advisory: "corrupted_credentials"}

	case provider.ReasonLoggedOut, provider.ReasonConnectionReplaced:
		// Terminal identity loss. Never auto-reconnect.
		return Decision{Action: ActionStopWipeCreds, Advisory: string(reason)}

	case provider.ReasonTemporaryBan:
		if banAttempts > p.MaxBanAttempts {
			// The account is rate-limited, not invalid: give up but keep
			// the credentials for manual recovery.
			return Decision{Action: ActionStopKeepCreds, Advisory: "ban_ceiling_reached"}
		}
		if !everConnected {
			// The ban interrupted an incomplete handshake; the partially
			// written credentials are unreliable.
			return Decision{Action: ActionStopWipeCreds, Advisory: "ban_before_pairing"}
		}
		return Decision{Action: ActionReconnect, Delay: banDelay(banAttempts, p)}

	default:
		// Transient transport causes.
		if restartAttempts > p.MaxRestartAttempts {
			return Decision{Action: ActionStopKeepCreds, Advisory: "retry_budget_exhausted", FinalStatus: entities.StatusError}
		}
		return Decision{Action: ActionReconnect, Delay: restartDelay(restartAttempts, p)}
	}
}

// restartDelay grows linearly: base * attempt.
func restartDelay(attempt int, p Policy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.RestartBaseDelay * time.Duration(attempt)
}

// banDelay grows exponentially: min(base * multiplier^(attempt-1), ceiling).
func banDelay(attempt int, p Policy) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(p.BanBaseDelay) * math.Pow(p.BanMultiplier, float64(attempt-1)))
	if delay > p.BanMaxDelay || delay <= 0 {
		return p.BanMaxDelay
	}
	return delay
}
