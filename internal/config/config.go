// Package config loads the service configuration from YAML or TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

const minKeyBits = 256

type Config struct {
	Listen        string `yaml:"listen" toml:"listen"`
	DataDir       string `yaml:"dataDir" toml:"dataDir"`
	Engine        string `yaml:"engine" toml:"engine"`
	MinimumFreeGB uint   `yaml:"minimumFreeGB" toml:"minimumFreeGB"`
	KeyBits       int    `yaml:"keyBits" toml:"keyBits"`
	Scale         int64  `yaml:"scale" toml:"scale"`
	Workers       int    `yaml:"workers" toml:"workers"`
	// AdminToken guards decrypt, clear and audit. Empty disables them.
	AdminToken       string        `yaml:"adminToken" toml:"adminToken"`
	MaxUploadBytes   int64         `yaml:"maxUploadBytes" toml:"maxUploadBytes"`
	RecognizeTimeout time.Duration `yaml:"recognizeTimeout" toml:"recognizeTimeout"`
	OCR              OCR           `yaml:"ocr" toml:"ocr"`
	LogLevel         string        `yaml:"logLevel" toml:"logLevel"`
}

type OCR struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Binary   string `yaml:"binary" toml:"binary"`
	Language string `yaml:"language" toml:"language"`
}

func Default() Config {
	return Config{
		Listen:           ":3000",
		DataDir:          "./data",
		Engine:           "badger",
		KeyBits:          2048,
		Scale:            100,
		MaxUploadBytes:   10 << 20,
		RecognizeTimeout: 60 * time.Second,
		OCR: OCR{
			Enabled:  true,
			Binary:   "tesseract",
			Language: "eng",
		},
		LogLevel: "info",
	}
}

// Load reads path on top of the defaults. The format follows the file
// extension; ".toml" is TOML and everything else is YAML. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	conf := Default()
	if path == "" {
		return conf, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), &conf); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.UnmarshalStrict(data, &conf); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := conf.Validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

func (c Config) Validate() error {
	if c.KeyBits < minKeyBits || c.KeyBits%2 != 0 {
		return fmt.Errorf("keyBits must be even and at least %d, got %d", minKeyBits, c.KeyBits)
	}
	if c.Scale <= 0 {
		return fmt.Errorf("scale must be positive, got %d", c.Scale)
	}
	switch strings.ToLower(c.Engine) {
	case "", "badger", "bolt":
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must be set")
	}
	if c.MaxUploadBytes < 0 || c.RecognizeTimeout < 0 || c.Workers < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}
