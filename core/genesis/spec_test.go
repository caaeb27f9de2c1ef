package genesis

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"dework/core/state"
	"dework/crypto"
	"dework/native/deposit"
	"dework/native/pool"
	"dework/native/token"
	"dework/native/yield"
	"dework/storage"
)

var (
	adminAddr    = crypto.ModuleAddress("genesis/admin")
	treasuryAddr = crypto.ModuleAddress("genesis/treasury")
	tenantAddr   = crypto.ModuleAddress("genesis/tenant")
)

func sampleSpec() map[string]any {
	bech, err := crypto.FormatBech32(tenantAddr)
	if err != nil {
		panic(err)
	}
	return map[string]any{
		"genesisTime": "2025-01-01T00:00:00Z",
		"token":       map[string]any{"symbol": "usdc", "decimals": 6},
		"params": map[string]any{
			"admin":                adminAddr.Hex(),
			"treasury":             treasuryAddr.Hex(),
			"platformFeePercent":   10,
			"disputeWindowSeconds": 7 * 24 * 60 * 60,
		},
		"venues": []any{
			map[string]any{"name": "fixed", "kind": "fixed", "rateBps": 500, "reserve": "1000000000"},
			map[string]any{"name": "market", "kind": "lending", "lending": map[string]any{
				"slope1": 0.04, "slope2": 0.75, "kink": 0.8, "utilisationBps": 6000, "reserveFactorBps": 1000,
			}},
		},
		"venue": "fixed",
		"alloc": map[string]string{bech: "5000000"},
	}
}

func writeSpec(t *testing.T, doc map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestLoadGenesisSpecAndApply(t *testing.T) {
	spec, err := LoadGenesisSpec(writeSpec(t, sampleSpec()))
	require.NoError(t, err)
	require.Equal(t, int64(1_735_689_600), spec.GenesisTimestamp().Unix())
	require.Equal(t, adminAddr, spec.DepositParams().Admin)

	manager := state.NewManager(storage.NewMemDB())
	tx, err := manager.Begin()
	require.NoError(t, err)

	tok := token.NewEngine(spec.Token.Symbol)
	tok.SetState(tx)
	venues := yield.NewRegistry(tok)
	venues.SetState(tx)
	require.NoError(t, BuildVenues(spec, venues))
	require.Equal(t, []string{"fixed", "market"}, venues.Names())

	ledger := pool.NewLedger(tok, venues, deposit.ModuleAddress())
	ledger.SetState(tx)
	engine := deposit.NewEngine(tok, nil, ledger)
	engine.SetState(tx)
	modules := Modules{Token: tok, Venues: venues, Ledger: ledger, Deposit: engine}

	applied, err := Apply(spec, tx, modules)
	require.NoError(t, err)
	require.True(t, applied)
	require.NoError(t, tx.Commit())

	tx, err = manager.Begin()
	require.NoError(t, err)
	defer tx.Discard()
	tok.SetState(tx)
	venues.SetState(tx)
	ledger.SetState(tx)
	engine.SetState(tx)

	applied, err = Apply(spec, tx, modules)
	require.NoError(t, err)
	require.False(t, applied, "second apply must be a no-op")

	marker, ok, err := Applied(tx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fixed", marker.Venue)
	require.Equal(t, "USDC", marker.Symbol)

	bal, err := tok.BalanceOf(tenantAddr)
	require.NoError(t, err)
	require.Equal(t, int64(5_000_000), bal.Int64())
	reserve, err := tok.BalanceOf(yield.VenueAddress("fixed"))
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000_000), reserve.Int64())

	params, err := engine.Params()
	require.NoError(t, err)
	require.Equal(t, uint8(10), params.PlatformFeePercent)
	snap, err := ledger.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "fixed", snap.Venue)
}

func TestGenesisSpecValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(doc map[string]any)
		msg    string
	}{
		{"missing time", func(doc map[string]any) { delete(doc, "genesisTime") }, "genesisTime"},
		{"wrong decimals", func(doc map[string]any) { doc["token"] = map[string]any{"symbol": "USDC", "decimals": 18} }, "decimals"},
		{"fee above cap", func(doc map[string]any) { doc["params"].(map[string]any)["platformFeePercent"] = 31 }, "platform fee"},
		{"window too short", func(doc map[string]any) { doc["params"].(map[string]any)["disputeWindowSeconds"] = 60 }, "dispute window"},
		{"bad admin", func(doc map[string]any) { doc["params"].(map[string]any)["admin"] = "0x12" }, "admin"},
		{"unknown binding", func(doc map[string]any) { doc["venue"] = "missing" }, "binding"},
		{"no venues", func(doc map[string]any) { doc["venues"] = []any{} }, "at least one venue"},
		{"bad kind", func(doc map[string]any) {
			doc["venues"] = []any{map[string]any{"name": "fixed", "kind": "vault"}}
		}, "unsupported kind"},
		{"duplicate venue", func(doc map[string]any) {
			doc["venues"] = []any{
				map[string]any{"name": "fixed", "kind": "fixed"},
				map[string]any{"name": "FIXED", "kind": "fixed"},
			}
		}, "duplicate name"},
		{"negative alloc", func(doc map[string]any) {
			doc["alloc"] = map[string]string{tenantAddr.Hex(): "-1"}
		}, "negative"},
		{"unknown field", func(doc map[string]any) { doc["chainId"] = 7 }, "unknown field"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := sampleSpec()
			tc.mutate(doc)
			raw, err := json.Marshal(doc)
			require.NoError(t, err)
			_, err = ParseGenesisSpec(raw)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestShippedGenesisLoads(t *testing.T) {
	spec, err := LoadGenesisSpec(filepath.Join("..", "..", "genesis.json"))
	require.NoError(t, err)
	require.Equal(t, "fixed", spec.Venue)
	require.Len(t, spec.Venues, 2)
	require.NotEqual(t, spec.DepositParams().Admin, spec.DepositParams().Treasury)
}
