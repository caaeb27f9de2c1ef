package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"dework/config"
	"dework/crypto"
	"dework/gateway/auth"
)

var stdout io.Writer = os.Stdout

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the dework config file")
	secret := fs.String("secret", "", "JWT secret (defaults to DEWORK_JWT_SECRET or the config file)")
	subject := fs.String("subject", "", "Address the token acts for")
	scopes := fs.String("scope", auth.ScopeTenant, "Comma separated scopes")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.ParseAddress(*subject)
	if err != nil {
		return fmt.Errorf("subject: %w", err)
	}
	key, err := resolveSecret(*secret, *configPath)
	if err != nil {
		return err
	}
	token, err := auth.Issue(key, addr, splitScopes(*scopes), *ttl, time.Now())
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

func resolveSecret(flagValue, configPath string) (string, error) {
	if secret := strings.TrimSpace(flagValue); secret != "" {
		return secret, nil
	}
	if secret := strings.TrimSpace(os.Getenv("DEWORK_JWT_SECRET")); secret != "" {
		return secret, nil
	}
	if _, err := os.Stat(configPath); err == nil {
		cfg, err := config.Load(configPath)
		if err != nil {
			return "", fmt.Errorf("load config: %w", err)
		}
		if secret := strings.TrimSpace(cfg.Gateway.JWTSecret); secret != "" {
			return secret, nil
		}
	}
	return "", errors.New("no JWT secret: pass -secret, set DEWORK_JWT_SECRET or configure gateway.JWTSecret")
}

func splitScopes(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if scope := strings.TrimSpace(part); scope != "" {
			out = append(out, scope)
		}
	}
	return out
}

// simpleGet builds a command that fetches a fixed path.
func simpleGet(name, path string) func(args []string) error {
	return func(args []string) error {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		connect := remoteFlags(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}
		raw, err := connect().get(context.Background(), path)
		if err != nil {
			return err
		}
		return printJSON(stdout, raw)
	}
}

func runPool(args []string) error      { return simpleGet("pool", "/v1/pool")(args) }
func runParams(args []string) error    { return simpleGet("params", "/v1/params")(args) }
func runPositions(args []string) error { return simpleGet("positions", "/v1/positions")(args) }

func runReceipts(args []string) error {
	fs := flag.NewFlagSet("receipts", flag.ContinueOnError)
	connect := remoteFlags(fs)
	limit := fs.Int("limit", 50, "Maximum receipts returned")
	format := fs.String("format", "json", "Output format: json, csv or jsonl")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := url.Values{"limit": {strconv.Itoa(*limit)}, "format": {*format}}
	raw, err := connect().get(context.Background(), "/v1/receipts?"+query.Encode())
	if err != nil {
		return err
	}
	if *format != "json" {
		_, err = stdout.Write(raw)
		return err
	}
	return printJSON(stdout, raw)
}

func runBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	connect := remoteFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: dwctl balance <address>")
	}
	addr, err := crypto.ParseAddress(fs.Arg(0))
	if err != nil {
		return err
	}
	raw, err := connect().get(context.Background(), "/v1/token/balance/"+addr.Hex())
	if err != nil {
		return err
	}
	return printJSON(stdout, raw)
}

func positionArg(fs *flag.FlagSet, usage string) (uint64, error) {
	if fs.NArg() != 1 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	id, err := strconv.ParseUint(fs.Arg(0), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid position id %q", fs.Arg(0))
	}
	return id, nil
}

func runPosition(args []string) error {
	fs := flag.NewFlagSet("position", flag.ContinueOnError)
	connect := remoteFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := positionArg(fs, "dwctl position <id>")
	if err != nil {
		return err
	}
	c := connect()
	ctx := context.Background()
	raw, err := c.get(ctx, fmt.Sprintf("/v1/positions/%d", id))
	if err != nil {
		return err
	}
	if err := printJSON(stdout, raw); err != nil {
		return err
	}
	value, err := c.get(ctx, fmt.Sprintf("/v1/positions/%d/value", id))
	if err != nil {
		return err
	}
	return printJSON(stdout, value)
}

func runApprove(args []string) error {
	fs := flag.NewFlagSet("approve", flag.ContinueOnError)
	connect := remoteFlags(fs)
	amount := fs.String("amount", "", "Allowance in base units")
	spender := fs.String("spender", "", "Spender address (defaults to the registry)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*amount) == "" {
		return errors.New("-amount is required")
	}
	raw, err := connect().post(context.Background(), "/v1/token/approve", map[string]string{
		"amount":  *amount,
		"spender": *spender,
	})
	if err != nil {
		return err
	}
	return printJSON(stdout, raw)
}

func runOpen(args []string) error {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	connect := remoteFlags(fs)
	landlord := fs.String("landlord", "", "Landlord address")
	principal := fs.String("principal", "", "Deposit in base units")
	duration := fs.Duration("duration", 0, "Lease duration, e.g. 720h")
	metadata := fs.String("metadata", "", "Lease metadata URI")
	share := fs.Uint("share", 0, "Interest share percent for the tenant")
	idempotencyKey := fs.String("idempotency-key", "", "Idempotency-Key header for safe retries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := crypto.ParseAddress(*landlord); err != nil {
		return fmt.Errorf("landlord: %w", err)
	}
	if *duration <= 0 {
		return errors.New("-duration must be positive")
	}
	if *share > 100 {
		return errors.New("-share must be between 0 and 100")
	}
	body := map[string]any{
		"landlord":             *landlord,
		"principal":            *principal,
		"durationSeconds":      uint64(duration.Seconds()),
		"metadataUri":          *metadata,
		"interestSharePercent": *share,
	}
	headers := map[string]string{}
	if key := strings.TrimSpace(*idempotencyKey); key != "" {
		headers["Idempotency-Key"] = key
	}
	raw, err := connect().do(context.Background(), http.MethodPost, "/v1/positions", body, headers)
	if err != nil {
		return err
	}
	return printJSON(stdout, raw)
}

// settleCommand posts to /v1/positions/{id}/{action} without a body.
func settleCommand(action string) func(args []string) error {
	return func(args []string) error {
		fs := flag.NewFlagSet(action, flag.ContinueOnError)
		connect := remoteFlags(fs)
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := positionArg(fs, "dwctl "+action+" <id>")
		if err != nil {
			return err
		}
		raw, err := connect().post(context.Background(), fmt.Sprintf("/v1/positions/%d/%s", id, action), nil)
		if err != nil {
			return err
		}
		return printJSON(stdout, raw)
	}
}

func runResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	connect := remoteFlags(fs)
	favorTenant := fs.Bool("favor-tenant", false, "Award the disputed value to the tenant")
	if err := fs.Parse(args); err != nil {
		return err
	}
	id, err := positionArg(fs, "dwctl resolve [-favor-tenant] <id>")
	if err != nil {
		return err
	}
	raw, err := connect().post(context.Background(), fmt.Sprintf("/v1/positions/%d/resolve", id), map[string]bool{"favorTenant": *favorTenant})
	if err != nil {
		return err
	}
	return printJSON(stdout, raw)
}

func runSetFee(args []string) error {
	fs := flag.NewFlagSet("set-fee", flag.ContinueOnError)
	connect := remoteFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: dwctl set-fee <percent>")
	}
	percent, err := strconv.ParseUint(fs.Arg(0), 10, 8)
	if err != nil {
		return fmt.Errorf("invalid percent %q", fs.Arg(0))
	}
	raw, err := connect().do(context.Background(), http.MethodPut, "/v1/admin/params/fee", map[string]uint64{"percent": percent}, nil)
	if err != nil {
		return err
	}
	return printJSON(stdout, raw)
}

func runPause(args []string) error {
	fs := flag.NewFlagSet("pause", flag.ContinueOnError)
	connect := remoteFlags(fs)
	resume := fs.Bool("resume", false, "Resume instead of pausing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	raw, err := connect().post(context.Background(), "/v1/admin/pause", map[string]bool{"paused": !*resume})
	if err != nil {
		return err
	}
	return printJSON(stdout, raw)
}

func runLogout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	connect := remoteFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	c := connect()
	if c.token == "" {
		return errors.New("no token to revoke: pass -token or set " + tokenEnv)
	}
	raw, err := c.post(context.Background(), "/v1/auth/revoke", nil)
	if err != nil {
		return err
	}
	return printJSON(stdout, raw)
}
