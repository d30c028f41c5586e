package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_SessionDefaults(t *testing.T) {
	t.Setenv("TICK_INTERVAL", "")
	t.Setenv("CHECKPOINT_EVERY_TICKS", "")
	t.Setenv("EXPIRY_GRACE_SECONDS", "")

	cfg := Load()
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 30, cfg.CheckpointEveryTicks)
	assert.Equal(t, 5*time.Second, cfg.ExpiryGrace)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TICK_INTERVAL", "250ms")
	t.Setenv("EXPIRY_SWEEP_INTERVAL", "not-a-duration")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 30*time.Second, cfg.ExpirySweepInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}
