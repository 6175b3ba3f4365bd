package config

import (
	"time"

	"wgsession/pkg/logger"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env     string        `yaml:"env" toml:"env" env:"APP_ENV" env-default:"production" env-description:"Environment [production, local]"`
	Logger  logger.Config `yaml:"logger" toml:"logger"`
	Tunnel  Tunnel        `yaml:"tunnel" toml:"tunnel"`
	Profile Profile       `yaml:"profile" toml:"profile"`
	Metrics Metrics       `yaml:"metrics" toml:"metrics"`
	Storage Storage       `yaml:"storage" toml:"storage"`
	Debug   bool          `yaml:"debug" toml:"debug" env:"APP_DEBUG" env-default:"false" env-description:"Enables debug mode"`
}

type Tunnel struct {
	Name             string        `yaml:"name" toml:"name" env:"TUNNEL_NAME" env-default:"wg0" env-description:"Interface name (utunN on macOS)"`
	Session          string        `yaml:"session" toml:"session" env:"TUNNEL_SESSION" env-default:"WireGuard-Tunnel" env-description:"Session name shown to the user"`
	EstablishTimeout time.Duration `yaml:"establish_timeout" toml:"establish_timeout" env:"TUNNEL_ESTABLISH_TIMEOUT" env-default:"5s" env-description:"Bound on interface creation"`
	ActivateTimeout  time.Duration `yaml:"activate_timeout" toml:"activate_timeout" env:"TUNNEL_ACTIVATE_TIMEOUT" env-default:"5s" env-description:"Bound on engine activation"`
	TeardownTimeout  time.Duration `yaml:"teardown_timeout" toml:"teardown_timeout" env:"TUNNEL_TEARDOWN_TIMEOUT" env-default:"5s" env-description:"Bound on engine deactivation"`
}

type Profile struct {
	Path           string `yaml:"path" toml:"path" env:"PROFILE_PATH" env-description:"Tunnel profile (.toml or wg-quick .conf); defaults to the storage profile"`
	KeyringService string `yaml:"keyring_service" toml:"keyring_service" env:"PROFILE_KEYRING_SERVICE" env-default:"wgsession" env-description:"Keyring service holding private keys"`
}

type Metrics struct {
	Addr string `yaml:"addr" toml:"addr" env:"METRICS_ADDR" env-description:"Prometheus listen address, empty to disable"`
}

type Storage struct {
	BaseDir string `yaml:"base_dir" toml:"base_dir" env:"STORAGE_BASE_DIR" env-description:"Application data directory"`
}

// New reads configPath (YAML or TOML, by extension) and applies
// environment overrides. With skipConfig only the environment is read.
func New(configPath string, skipConfig bool) (*Config, error) {
	cfg := &Config{}

	if skipConfig {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Usage describes every environment variable.
func Usage() (string, error) {
	return cleanenv.GetDescription(&Config{}, nil)
}
