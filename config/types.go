package config

// GatewayConfig configures the HTTP API.
type GatewayConfig struct {
	ListenAddress         string   `toml:"ListenAddress"`
	CORSOrigins           []string `toml:"CORSOrigins"`
	JWTSecret             string   `toml:"JWTSecret"`
	JWTIssuer             string   `toml:"JWTIssuer"`
	RequestsPerMinute     float64  `toml:"RequestsPerMinute"`
	Burst                 int      `toml:"Burst"`
	AdminRequestsPerMin   float64  `toml:"AdminRequestsPerMinute"`
	ReadHeaderTimeoutSecs int      `toml:"ReadHeaderTimeoutSeconds"`
	ShutdownTimeoutSecs   int      `toml:"ShutdownTimeoutSeconds"`
	LogRequests           bool     `toml:"LogRequests"`
	EnableFaucet          bool     `toml:"EnableFaucet"`
	FaucetLimit           string   `toml:"FaucetLimit"`
	// RevocationPath holds revoked token ids. Empty disables revocation.
	RevocationPath string `toml:"RevocationPath"`
}

// KeeperConfig configures scheduled releases.
type KeeperConfig struct {
	Enabled              bool    `toml:"Enabled"`
	NoditSecret          string  `toml:"NoditSecret"`
	ScanIntervalSeconds  int     `toml:"ScanIntervalSeconds"`
	SettlementsPerSecond float64 `toml:"SettlementsPerSecond"`
}

// IdentityConfig selects the proof-of-personhood sources. Both may be set.
type IdentityConfig struct {
	RegistryPath   string `toml:"RegistryPath"`
	VerifierURL    string `toml:"VerifierURL"`
	APIKey         string `toml:"APIKey"`
	TimeoutSeconds int    `toml:"TimeoutSeconds"`
}

// CreditConfig selects the credit oracle. OracleURL wins over StaticFile.
type CreditConfig struct {
	OracleURL      string `toml:"OracleURL"`
	APIKey         string `toml:"APIKey"`
	StaticFile     string `toml:"StaticFile"`
	TimeoutSeconds int    `toml:"TimeoutSeconds"`
}

// NotifyConfig forwards committed events to an operator webhook.
type NotifyConfig struct {
	Endpoint    string   `toml:"Endpoint"`
	Secret      string   `toml:"Secret"`
	Events      []string `toml:"Events"`
	MaxAttempts int      `toml:"MaxAttempts"`
}

// StoreConfig configures the SQL receipt index.
type StoreConfig struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

type LoggingConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}
