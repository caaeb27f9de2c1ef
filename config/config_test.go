package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvVarEnv, EnvVarCORSOrigins, EnvVarPort, EnvVarJWTSecret,
		EnvVarNoditSecret, EnvVarNotifySecret, EnvVarStoreDSN, EnvVarLogLevel, EnvVarOTLP} {
		t.Setenv(key, "")
	}
}

func TestLoadWritesDefaultsWhenMissing(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8000", cfg.Gateway.ListenAddress)
	require.Equal(t, EnvDevelopment, cfg.Env)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Gateway, again.Gateway)
	require.Equal(t, cfg.Store, again.Store)
}

func TestLoadParsesFileAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `Env = "development"
DataDir = "/var/lib/dework"
GenesisFile = "genesis.json"

[gateway]
ListenAddress = "127.0.0.1:9000"
CORSOrigins = ["https://a.example"]
JWTSecret = "file-secret"

[keeper]
Enabled = true
ScanIntervalSeconds = 15

[store]
Driver = "postgres"
DSN = "postgres://localhost/dework"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Gateway.ListenAddress)
	require.Equal(t, []string{"https://a.example"}, cfg.Gateway.CORSOrigins)
	require.Equal(t, 15, cfg.Keeper.ScanIntervalSeconds)
	require.Equal(t, "postgres", cfg.Store.Driver)
	require.Equal(t, "/var/lib/dework/index.db", cfg.ResolvePath("index.db"))
	require.NoError(t, cfg.Validate())

	t.Setenv(EnvVarPort, "8123")
	t.Setenv(EnvVarCORSOrigins, "https://b.example, https://c.example")
	t.Setenv(EnvVarJWTSecret, "env-secret")
	t.Setenv(EnvVarNoditSecret, "nodit")

	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8123", cfg.Gateway.ListenAddress)
	require.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.Gateway.CORSOrigins)
	require.Equal(t, "env-secret", cfg.Gateway.JWTSecret)
	require.Equal(t, "nodit", cfg.Keeper.NoditSecret)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Gateway.JWTSecret = "dev"
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"unknown env":           func(c *Config) { c.Env = "staging" },
		"missing secret":        func(c *Config) { c.Gateway.JWTSecret = "" },
		"bad listen":            func(c *Config) { c.Gateway.ListenAddress = "8000" },
		"bad driver":            func(c *Config) { c.Store.Driver = "mysql" },
		"bad faucet limit":      func(c *Config) { c.Gateway.EnableFaucet = true; c.Gateway.FaucetLimit = "-1" },
		"notify without secret": func(c *Config) { c.Notify.Endpoint = "https://ops.example/hooks" },
		"short prod secret": func(c *Config) {
			c.Env = EnvProduction
			c.Keeper.NoditSecret = "x"
		},
		"prod faucet": func(c *Config) {
			c.Env = EnvProduction
			c.Gateway.JWTSecret = "0123456789abcdef0123456789abcdef"
			c.Keeper.NoditSecret = "x"
			c.Gateway.EnableFaucet = true
		},
		"prod wildcard cors": func(c *Config) {
			c.Env = EnvProduction
			c.Gateway.JWTSecret = "0123456789abcdef0123456789abcdef"
			c.Keeper.NoditSecret = "x"
			c.Gateway.CORSOrigins = []string{"*"}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	prod := valid()
	prod.Env = EnvProduction
	prod.Gateway.JWTSecret = "0123456789abcdef0123456789abcdef"
	prod.Keeper.NoditSecret = "x"
	require.NoError(t, prod.Validate())
}

func TestFaucetLimit(t *testing.T) {
	cfg := Defaults()
	require.Nil(t, cfg.FaucetLimit())
	cfg.Gateway.EnableFaucet = true
	require.Equal(t, "10000000000", cfg.FaucetLimit().String())
}
