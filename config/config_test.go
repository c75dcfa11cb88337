package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arcade-server/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadServerConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8766, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.RoomIdleGrace)
	assert.Equal(t, 5*time.Minute, cfg.RoomMaxIdle)
	assert.Equal(t, 12*time.Second, cfg.JoinTimeout)
}

func TestLoadServerConfig_EnvOverrides(t *testing.T) {
	t.Setenv("ARCADE_PORT", "9100")
	t.Setenv("ARCADE_ROOM_GRACE", "2s")
	t.Setenv("ARCADE_INPUT_RATE", "not-a-number")

	cfg, err := config.LoadServerConfig("")
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.RoomIdleGrace)
	assert.Equal(t, 30.0, cfg.InputRate, "invalid values keep the default")
}

func TestLoadBalancerConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arcade.yaml")
	content := `
balancer:
  port: 9000
  backends: ["ws://a:1", "ws://b:2"]
  backend_capacity: 8
  join_timeout: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.LoadBalancerConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, []string{"ws://a:1", "ws://b:2"}, cfg.Backends)
	assert.Equal(t, 8, cfg.BackendCapacity)
	assert.Equal(t, 4, cfg.SessionThreshold())
	assert.Equal(t, 3*time.Second, cfg.JoinTimeout)
	assert.Equal(t, time.Second, cfg.HelloTimeout, "unset keys keep defaults")
}

func TestLoadBalancerConfig_EnvBackends(t *testing.T) {
	t.Setenv("ARCADE_BACKENDS", " ws://x:1 , ,ws://y:2")

	cfg, err := config.LoadBalancerConfig("")
	require.NoError(t, err)
	assert.Equal(t, []string{"ws://x:1", "ws://y:2"}, cfg.Backends)
}

func TestBalancerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.BalancerConfig)
		wantErr bool
	}{
		{
			name:    "no backends and no autoscale",
			mutate:  func(c *config.BalancerConfig) {},
			wantErr: true,
		},
		{
			name:   "static backends",
			mutate: func(c *config.BalancerConfig) { c.Backends = []string{"ws://a:1"} },
		},
		{
			name: "autoscale without placeholder",
			mutate: func(c *config.BalancerConfig) {
				c.Auto = true
				c.LaunchCmd = "arcade-server serve"
			},
			wantErr: true,
		},
		{
			name: "autoscale max below min",
			mutate: func(c *config.BalancerConfig) {
				c.Auto = true
				c.MinBackends = 3
				c.MaxBackends = 1
			},
			wantErr: true,
		},
		{
			name: "zero capacity",
			mutate: func(c *config.BalancerConfig) {
				c.Backends = []string{"ws://a:1"}
				c.BackendCapacity = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultBalancerConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, config.ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "room", "abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"room":"abc"`)
}
