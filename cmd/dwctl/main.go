package main

import (
	"fmt"
	"os"
)

const (
	defaultEndpoint = "http://localhost:8000"
	defaultConfig   = "./config.toml"
	endpointEnv     = "DWCTL_ENDPOINT"
	tokenEnv        = "DWCTL_TOKEN"
)

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"token", "mint a bearer token from the configured JWT secret", runToken},
		{"pool", "show the pooled fund snapshot", runPool},
		{"params", "show registry parameters", runParams},
		{"balance", "show token balance and registry allowance of an address", runBalance},
		{"position", "show a position and its current value", runPosition},
		{"positions", "list active positions visible to the caller", runPositions},
		{"approve", "approve the registry to pull deposit tokens", runApprove},
		{"open", "open a deposit position", runOpen},
		{"end", "end a lease normally", settleCommand("end")},
		{"release", "release a due position", settleCommand("release")},
		{"dispute", "raise a dispute on a position", settleCommand("dispute")},
		{"terminate", "terminate a lease early (landlord)", settleCommand("terminate")},
		{"resolve", "resolve a dispute (admin)", runResolve},
		{"set-fee", "update the platform fee percent (admin)", runSetFee},
		{"pause", "pause or resume user operations (admin)", runPause},
		{"receipts", "list settlement receipts for the caller", runReceipts},
		{"logout", "revoke the bearer token in use", runLogout},
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	name := os.Args[1]
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if err := cmd.run(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	usage()
	os.Exit(1)
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: dwctl <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", cmd.name, cmd.summary)
	}
}
