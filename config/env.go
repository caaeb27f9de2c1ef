package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables honoured on top of the file.
const (
	EnvVarEnv          = "DEWORK_ENV"
	EnvVarCORSOrigins  = "CORS_ORIGINS"
	EnvVarPort         = "BACKEND_PORT"
	EnvVarJWTSecret    = "DEWORK_JWT_SECRET"
	EnvVarNoditSecret  = "DEWORK_NODIT_SECRET"
	EnvVarNotifySecret = "DEWORK_NOTIFY_SECRET"
	EnvVarStoreDSN     = "DEWORK_STORE_DSN"
	EnvVarLogLevel     = "DEWORK_LOG_LEVEL"
	EnvVarOTLP         = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

func loadDotEnv() {
	_ = godotenv.Load()
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Env, EnvVarEnv)
	setStr(&cfg.Gateway.JWTSecret, EnvVarJWTSecret)
	setStr(&cfg.Keeper.NoditSecret, EnvVarNoditSecret)
	setStr(&cfg.Notify.Secret, EnvVarNotifySecret)
	setStr(&cfg.Store.DSN, EnvVarStoreDSN)
	setStr(&cfg.Logging.Level, EnvVarLogLevel)
	if v := strings.TrimSpace(os.Getenv(EnvVarOTLP)); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Traces = true
	}
	if v := strings.TrimSpace(os.Getenv(EnvVarCORSOrigins)); v != "" {
		cfg.Gateway.CORSOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvVarPort)); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			cfg.Gateway.ListenAddress = ":" + strconv.Itoa(port)
		}
	}
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
