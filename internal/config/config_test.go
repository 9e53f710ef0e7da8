package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), conf)
	assert.NoError(t, conf.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "tally.yaml", `
listen: "127.0.0.1:8080"
dataDir: /var/lib/tally
engine: bolt
keyBits: 1024
recognizeTimeout: 5s
ocr:
  enabled: false
`)
	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", conf.Listen)
	assert.Equal(t, "bolt", conf.Engine)
	assert.Equal(t, 1024, conf.KeyBits)
	assert.Equal(t, 5*time.Second, conf.RecognizeTimeout)
	assert.False(t, conf.OCR.Enabled)
	assert.Equal(t, int64(100), conf.Scale, "unset keys keep their default")
}

func TestLoadYAMLRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "tally.yml", "keybits: 1024\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "tally.toml", `
dataDir = "/srv/tally"
scale = 1000
adminToken = "hunter2"

[ocr]
language = "deu"
`)
	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/tally", conf.DataDir)
	assert.Equal(t, int64(1000), conf.Scale)
	assert.Equal(t, "hunter2", conf.AdminToken)
	assert.Equal(t, "deu", conf.OCR.Language)
	assert.Equal(t, "tesseract", conf.OCR.Binary)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"small key", func(c *Config) { c.KeyBits = 128 }},
		{"odd key", func(c *Config) { c.KeyBits = 1025 }},
		{"zero scale", func(c *Config) { c.Scale = 0 }},
		{"engine", func(c *Config) { c.Engine = "leveldb" }},
		{"data dir", func(c *Config) { c.DataDir = "" }},
		{"negative limit", func(c *Config) { c.MaxUploadBytes = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conf := Default()
			tc.mutate(&conf)
			assert.Error(t, conf.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
