package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env         string `toml:"Env"`
	DataDir     string `toml:"DataDir"`
	GenesisFile string `toml:"GenesisFile"`

	Gateway   GatewayConfig   `toml:"gateway"`
	Keeper    KeeperConfig    `toml:"keeper"`
	Identity  IdentityConfig  `toml:"identity"`
	Credit    CreditConfig    `toml:"credit"`
	Notify    NotifyConfig    `toml:"notify"`
	Store     StoreConfig     `toml:"store"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// Defaults returns the development configuration.
func Defaults() *Config {
	return &Config{
		Env:         EnvDevelopment,
		DataDir:     "./dework-data",
		GenesisFile: "genesis.json",
		Gateway: GatewayConfig{
			ListenAddress:         ":8000",
			CORSOrigins:           []string{"http://localhost:3000"},
			JWTIssuer:             "dework",
			RequestsPerMinute:     120,
			Burst:                 20,
			AdminRequestsPerMin:   30,
			ReadHeaderTimeoutSecs: 10,
			ShutdownTimeoutSecs:   15,
			LogRequests:           true,
			FaucetLimit:           "10000000000",
			RevocationPath:        "revoked-tokens",
		},
		Keeper: KeeperConfig{
			Enabled:              true,
			ScanIntervalSeconds:  60,
			SettlementsPerSecond: 5,
		},
		Identity: IdentityConfig{TimeoutSeconds: 5},
		Credit:   CreditConfig{TimeoutSeconds: 5},
		Notify:   NotifyConfig{MaxAttempts: 5},
		Store:    StoreConfig{Driver: "sqlite", DSN: "dework-index.db"},
		Logging:  LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
	}
}

// Load reads the TOML file at path over the defaults, writing the defaults
// out first when the file does not exist. A .env file next to the process is
// loaded and environment overrides are applied last. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	loadDotEnv()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Production reports whether the node runs with production safeguards.
func (c *Config) Production() bool { return c.Env == EnvProduction }

// ResolvePath anchors a relative path under DataDir.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
