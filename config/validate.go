package config

import (
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
)

const minJWTSecretLen = 32

// Validate checks the configuration for internal consistency. Production
// mode additionally requires real secrets and explicit CORS origins.
func (c *Config) Validate() error {
	var errs []error
	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("env: unknown value %q", c.Env))
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("DataDir required"))
	}
	if strings.TrimSpace(c.GenesisFile) == "" {
		errs = append(errs, errors.New("GenesisFile required"))
	}
	if _, _, err := net.SplitHostPort(c.Gateway.ListenAddress); err != nil {
		errs = append(errs, fmt.Errorf("gateway.ListenAddress: %w", err))
	}
	if c.Gateway.RequestsPerMinute < 0 || c.Gateway.AdminRequestsPerMin < 0 || c.Gateway.Burst < 0 {
		errs = append(errs, errors.New("gateway: rate limits must be non-negative"))
	}
	if c.Gateway.EnableFaucet {
		limit, ok := new(big.Int).SetString(strings.TrimSpace(c.Gateway.FaucetLimit), 10)
		if !ok || limit.Sign() <= 0 {
			errs = append(errs, errors.New("gateway.FaucetLimit must be a positive integer"))
		}
	}
	if c.Keeper.ScanIntervalSeconds < 0 || c.Keeper.SettlementsPerSecond < 0 {
		errs = append(errs, errors.New("keeper: intervals must be non-negative"))
	}
	if c.Store.Driver != "" && c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		errs = append(errs, fmt.Errorf("store.Driver: unsupported %q", c.Store.Driver))
	}
	if strings.TrimSpace(c.Notify.Endpoint) != "" && c.Notify.Secret == "" {
		errs = append(errs, errors.New("notify.Secret required when Endpoint is set"))
	}
	if c.Identity.RegistryPath != "" && c.Identity.VerifierURL == "" && c.Production() {
		errs = append(errs, errors.New("identity: production requires VerifierURL"))
	}
	if c.Production() {
		if len(c.Gateway.JWTSecret) < minJWTSecretLen {
			errs = append(errs, fmt.Errorf("gateway.JWTSecret must be at least %d bytes in production", minJWTSecretLen))
		}
		if c.Gateway.EnableFaucet {
			errs = append(errs, errors.New("gateway.EnableFaucet not allowed in production"))
		}
		for _, origin := range c.Gateway.CORSOrigins {
			if strings.TrimSpace(origin) == "*" {
				errs = append(errs, errors.New("gateway.CORSOrigins: wildcard not allowed in production"))
			}
		}
		if c.Keeper.Enabled && c.Keeper.NoditSecret == "" {
			errs = append(errs, errors.New("keeper.NoditSecret required in production"))
		}
	} else if strings.TrimSpace(c.Gateway.JWTSecret) == "" {
		errs = append(errs, errors.New("gateway.JWTSecret required"))
	}
	return errors.Join(errs...)
}

// FaucetLimit parses the faucet cap. Nil when the faucet is disabled.
func (c *Config) FaucetLimit() *big.Int {
	if !c.Gateway.EnableFaucet {
		return nil
	}
	limit, ok := new(big.Int).SetString(strings.TrimSpace(c.Gateway.FaucetLimit), 10)
	if !ok || limit.Sign() <= 0 {
		return nil
	}
	return limit
}
