package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInit 测试从文件加载配置并叠加默认值
func TestInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
serial:
  driver: tarm
  port: /dev/ttyACM3
  mock_boards:
    RELAY: [0, 3]
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	require.NoError(t, Init(path))
	cfg := Get()
	require.NotNil(t, cfg)

	assert.Equal(t, "tarm", cfg.Serial.Driver)
	assert.Equal(t, "/dev/ttyACM3", cfg.Serial.Port)
	assert.Equal(t, []int{0, 3}, cfg.Serial.MockBoards["relay"])
	assert.Equal(t, "debug", cfg.Log.Level)

	// 未配置项使用默认值
	assert.Equal(t, "2E8A", cfg.Serial.VID)
	assert.Equal(t, "10E3", cfg.Serial.PID)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 20*time.Second, cfg.Serial.ReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.Serial.BlockIdleTimeout)
	assert.Equal(t, 10*time.Millisecond, cfg.Serial.PollInterval)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

// TestValidate 测试配置校验
func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{Serial: SerialConfig{
			VID:              "2E8A",
			PID:              "10E3",
			Driver:           "bugst",
			ReadTimeout:      20 * time.Second,
			BlockIdleTimeout: 5 * time.Second,
			PollInterval:     10 * time.Millisecond,
		}}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"默认配置", func(c *Config) {}, false},
		{"tarm驱动", func(c *Config) { c.Serial.Driver = "tarm" }, false},
		{"未知驱动", func(c *Config) { c.Serial.Driver = "ftdi" }, true},
		{"VID长度错误", func(c *Config) { c.Serial.VID = "2E8" }, true},
		{"VID非十六进制", func(c *Config) { c.Serial.VID = "ZZZZ" }, true},
		{"PID非十六进制", func(c *Config) { c.Serial.PID = "10G3" }, true},
		{"小写十六进制", func(c *Config) { c.Serial.VID = "2e8a" }, false},
		{"超时为0", func(c *Config) { c.Serial.ReadTimeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
