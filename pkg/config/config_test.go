package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDurationUnmarshal(t *testing.T) {
	var s Sessions
	err := yaml.Unmarshal([]byte("qr_timeout: 90s\nconnect_timeout: 2m\n"), &s)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, s.QRTimeout.Std())
	assert.Equal(t, 2*time.Minute, s.ConnectTimeout.Std())

	err = yaml.Unmarshal([]byte("qr_timeout: ninety\n"), &s)
	assert.Error(t, err)
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	var c Config
	c.applyDefaults()

	assert.Equal(t, 120*time.Second, c.Sessions.QRTimeout.Std())
	assert.Equal(t, 60*time.Second, c.Sessions.ConnectTimeout.Std())
	assert.Equal(t, 2*time.Second, c.Sessions.RestoreDelay.Std())
	assert.Equal(t, 5, c.Sessions.Restart.MaxAttempts)
	assert.Equal(t, 5*time.Second, c.Sessions.Restart.BaseDelay.Std())
	assert.Equal(t, 10, c.Sessions.Ban.MaxAttempts)
	assert.Equal(t, float64(2), c.Sessions.Ban.Multiplier)
	assert.Equal(t, 30*time.Minute, c.Sessions.Ban.MaxDelay.Std())
	assert.Equal(t, 2*time.Second, c.Sessions.Credentials.DebounceWindow.Std())
	assert.Equal(t, 3, c.Telegram.ConflictThreshold)
	assert.Equal(t, 3*time.Second, c.Telegram.PollRetryDelay.Std())
	assert.Equal(t, time.Hour, c.Context.TTL.Std())
	assert.Equal(t, 5*time.Minute, c.Context.SweepInterval.Std())
	assert.Equal(t, "info", c.Log.Level)
}

func TestApplyDefaultsKeepsConfiguredValues(t *testing.T) {
	c := Config{
		Sessions: Sessions{
			QRTimeout: Duration(10 * time.Second),
			Ban:       Ban{MaxAttempts: 2},
		},
	}
	c.applyDefaults()

	assert.Equal(t, 10*time.Second, c.Sessions.QRTimeout.Std())
	assert.Equal(t, 2, c.Sessions.Ban.MaxAttempts)
}
