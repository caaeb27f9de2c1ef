package genesis

import (
	"fmt"
	"sort"
	"strings"

	"dework/crypto"
	"dework/native/deposit"
	"dework/native/pool"
	"dework/native/token"
	"dework/native/yield"
)

var markerKey = []byte("genesis/applied")

// Marker records when and how genesis was applied.
type Marker struct {
	Timestamp uint64
	Venue     string
	Symbol    string
}

type markerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Modules are the engines genesis seeds. They must already be bound to the
// state transaction passed to Apply.
type Modules struct {
	Token   *token.Engine
	Venues  *yield.Registry
	Ledger  *pool.Ledger
	Deposit *deposit.Engine
}

// BuildVenues constructs the configured venue adapters and registers them.
// Venues live in memory; their records live in state.
func BuildVenues(spec *GenesisSpec, registry *yield.Registry) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if registry == nil {
		return fmt.Errorf("venue registry must not be nil")
	}
	for _, v := range spec.Venues {
		var venue yield.Venue
		switch strings.ToLower(strings.TrimSpace(v.Kind)) {
		case VenueKindFixed:
			venue = yield.NewFixedRateVenue(registry.Env(), v.Name, v.RateBps)
		case VenueKindLending:
			venue = yield.NewLendingVenue(registry.Env(), v.Name, yield.LendingConfig{
				Model:            yield.NewInterestModel(v.Lending.BaseRate, v.Lending.Slope1, v.Lending.Slope2, v.Lending.Kink),
				UtilisationBps:   v.Lending.UtilisationBps,
				ReserveFactorBps: v.Lending.ReserveFactorBps,
			})
		default:
			return fmt.Errorf("venue %q: unsupported kind %q", v.Name, v.Kind)
		}
		if err := registry.Register(venue); err != nil {
			return err
		}
	}
	return nil
}

// Applied reports the genesis marker, if any.
func Applied(st markerState) (*Marker, bool, error) {
	var marker Marker
	ok, err := st.KVGet(markerKey, &marker)
	if err != nil || !ok {
		return nil, false, err
	}
	return &marker, true, nil
}

// Apply seeds registry params, the venue binding, venue reserves and dev
// allocations. It runs once per database; later calls return false.
func Apply(spec *GenesisSpec, st markerState, m Modules) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("genesis spec must not be nil")
	}
	if spec.genesisTimestamp.IsZero() {
		if err := spec.validate(); err != nil {
			return false, err
		}
	}
	if _, ok, err := Applied(st); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}

	// 1) Registry params
	if err := m.Deposit.InitParams(spec.params); err != nil {
		return false, fmt.Errorf("init params: %w", err)
	}

	// 2) Venue binding
	if err := m.Ledger.Initialise(spec.Venue); err != nil {
		return false, fmt.Errorf("bind venue %q: %w", spec.Venue, err)
	}

	// 3) Venue reserves (sorted by name)
	venues := append([]VenueSpec(nil), spec.Venues...)
	sort.Slice(venues, func(i, j int) bool {
		return strings.ToLower(venues[i].Name) < strings.ToLower(venues[j].Name)
	})
	for _, v := range venues {
		if v.reserveAmt == nil || v.reserveAmt.Sign() == 0 {
			continue
		}
		if err := m.Token.Mint(yield.VenueAddress(v.Name), v.reserveAmt); err != nil {
			return false, fmt.Errorf("venue %q reserve: %w", v.Name, err)
		}
	}

	// 4) Allocations (sorted by address)
	accounts := make([]crypto.Address, 0, len(spec.alloc))
	for addr := range spec.alloc {
		accounts = append(accounts, addr)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return strings.Compare(accounts[i].Hex(), accounts[j].Hex()) < 0
	})
	for _, addr := range accounts {
		amount := spec.alloc[addr]
		if amount.Sign() == 0 {
			continue
		}
		if err := m.Token.Mint(addr, amount); err != nil {
			return false, fmt.Errorf("alloc[%s]: %w", addr.Hex(), err)
		}
	}

	var ts uint64
	if unix := spec.genesisTimestamp.Unix(); unix > 0 {
		ts = uint64(unix)
	}
	marker := &Marker{
		Timestamp: ts,
		Venue:     spec.Venue,
		Symbol:    m.Token.Symbol(),
	}
	if err := st.KVPut(markerKey, marker); err != nil {
		return false, fmt.Errorf("write genesis marker: %w", err)
	}
	return true, nil
}
