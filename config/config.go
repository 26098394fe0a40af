package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"chorewheel/logging"
)

type Config struct {
	AppName        string `json:"app_name" yaml:"app_name"`
	ListenIP       string `json:"listen_ip" yaml:"listen_ip"`
	ListenPort     int    `json:"listen_port" yaml:"listen_port"`
	SessionKey     string `json:"session_key" yaml:"session_key"`
	DatabasePath   string `json:"database_path" yaml:"database_path"`
	LogLevel       string `json:"log_level" yaml:"log_level"`
	SecureCookies  bool   `json:"secure_cookies" yaml:"secure_cookies"`
	CaptchaEnabled bool   `json:"captcha_enabled" yaml:"captcha_enabled"`
}

var AppConfig = Default()

// Default is the configuration used when no file sets a field.
func Default() Config {
	return Config{
		AppName:      "Chore Wheel",
		ListenIP:     "127.0.0.1",
		ListenPort:   8080,
		DatabasePath: "./chorewheel.db",
		LogLevel:     "info",
	}
}

// LoadConfig reads a JSON or YAML (by extension) file into AppConfig, on top
// of the defaults, then applies environment overrides.
func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.ensureSessionKey(); err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// UseDefaults sets AppConfig from the defaults and the environment alone.
func UseDefaults() error {
	cfg := Default()
	cfg.applyEnvOverrides()
	if err := cfg.ensureSessionKey(); err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CHOREWHEEL_SESSION_KEY"); v != "" {
		c.SessionKey = v
	}
	if v := os.Getenv("CHOREWHEEL_DATABASE_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("CHOREWHEEL_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// If no key is provided or it's the placeholder, generate a random one.
func (c *Config) ensureSessionKey() error {
	if c.SessionKey != "" && c.SessionKey != "CHANGE_ME_IN_PRODUCTION" {
		return nil
	}
	logging.L().Warn("no session key configured, generating a random key; sessions will be invalidated on restart")
	randomKey := make([]byte, 32)
	if _, err := rand.Read(randomKey); err != nil {
		return err
	}
	c.SessionKey = hex.EncodeToString(randomKey)
	return nil
}
