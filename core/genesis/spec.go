package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"dework/crypto"
	"dework/native/deposit"
	"dework/native/token"
)

const (
	VenueKindFixed   = "fixed"
	VenueKindLending = "lending"
)

type GenesisSpec struct {
	GenesisTime string            `json:"genesisTime"`
	Token       TokenSpec         `json:"token"`
	Params      ParamsSpec        `json:"params"`
	Venues      []VenueSpec       `json:"venues"`
	Venue       string            `json:"venue"`
	Alloc       map[string]string `json:"alloc,omitempty"` // addr -> amount

	genesisTimestamp time.Time
	params           deposit.Params
	alloc            map[crypto.Address]*big.Int
}

type TokenSpec struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals,omitempty"`
}

type ParamsSpec struct {
	Admin                string `json:"admin"`
	Treasury             string `json:"treasury"`
	Keeper               string `json:"keeper,omitempty"`
	PlatformFeePercent   uint8  `json:"platformFeePercent"`
	DisputeWindowSeconds uint64 `json:"disputeWindowSeconds"`
	IdentityRequired     bool   `json:"identityRequired,omitempty"`
}

type VenueSpec struct {
	Name    string       `json:"name"`
	Kind    string       `json:"kind"`
	RateBps uint64       `json:"rateBps,omitempty"`
	Lending *LendingSpec `json:"lending,omitempty"`
	// Reserve is minted to the venue to fund the yield it reports.
	Reserve string `json:"reserve,omitempty"`

	reserveAmt *big.Int
}

type LendingSpec struct {
	BaseRate         float64 `json:"baseRate"`
	Slope1           float64 `json:"slope1"`
	Slope2           float64 `json:"slope2"`
	Kink             float64 `json:"kink"`
	UtilisationBps   uint64  `json:"utilisationBps"`
	ReserveFactorBps uint64  `json:"reserveFactorBps"`
}

func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	return ParseGenesisSpec(raw)
}

// ParseGenesisSpec decodes and validates a JSON genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// DepositParams returns the validated registry configuration.
func (s *GenesisSpec) DepositParams() deposit.Params { return s.params }

// Validate checks the spec. It is idempotent.
func (s *GenesisSpec) Validate() error { return s.validate() }

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if err := s.Token.validate(); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	params, err := s.Params.resolve()
	if err != nil {
		return fmt.Errorf("params: %w", err)
	}
	s.params = params

	if len(s.Venues) == 0 {
		return fmt.Errorf("venues: at least one venue must be configured")
	}
	names := make(map[string]struct{}, len(s.Venues))
	for i := range s.Venues {
		v := &s.Venues[i]
		if err := v.validate(); err != nil {
			return fmt.Errorf("venue[%d]: %w", i, err)
		}
		key := strings.ToLower(strings.TrimSpace(v.Name))
		if _, exists := names[key]; exists {
			return fmt.Errorf("venue[%d]: duplicate name %q", i, v.Name)
		}
		names[key] = struct{}{}
	}
	if _, ok := names[strings.ToLower(strings.TrimSpace(s.Venue))]; !ok {
		return fmt.Errorf("venue: binding %q is not configured", s.Venue)
	}

	s.alloc = make(map[crypto.Address]*big.Int, len(s.Alloc))
	accounts := make([]string, 0, len(s.Alloc))
	for account := range s.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		addr, err := crypto.ParseAddress(account)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		if _, dup := s.alloc[addr]; dup {
			return fmt.Errorf("alloc[%q]: duplicate account", account)
		}
		amount, err := parseAmountString(s.Alloc[account])
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		s.alloc[addr] = amount
	}
	return nil
}

func (t *TokenSpec) validate() error {
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("symbol must be provided")
	}
	if t.Decimals != 0 && t.Decimals != token.Decimals {
		return fmt.Errorf("decimals must be %d", token.Decimals)
	}
	return nil
}

func (p *ParamsSpec) resolve() (deposit.Params, error) {
	var out deposit.Params
	admin, err := crypto.ParseAddress(p.Admin)
	if err != nil {
		return out, fmt.Errorf("admin: %w", err)
	}
	treasury, err := crypto.ParseAddress(p.Treasury)
	if err != nil {
		return out, fmt.Errorf("treasury: %w", err)
	}
	var keeper crypto.Address
	if strings.TrimSpace(p.Keeper) != "" {
		if keeper, err = crypto.ParseAddress(p.Keeper); err != nil {
			return out, fmt.Errorf("keeper: %w", err)
		}
	}
	out = deposit.Params{
		Admin:                admin,
		Treasury:             treasury,
		Keeper:               keeper,
		PlatformFeePercent:   p.PlatformFeePercent,
		DisputeWindowSeconds: p.DisputeWindowSeconds,
		IdentityRequired:     p.IdentityRequired,
	}
	if err := out.Validate(); err != nil {
		return deposit.Params{}, err
	}
	return out, nil
}

func (v *VenueSpec) validate() error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("name must be provided")
	}
	switch strings.ToLower(strings.TrimSpace(v.Kind)) {
	case VenueKindFixed:
		if v.RateBps > 10_000 {
			return fmt.Errorf("rateBps must be 10_000 or fewer")
		}
		if v.Lending != nil {
			return fmt.Errorf("lending settings only apply to lending venues")
		}
	case VenueKindLending:
		if v.Lending == nil {
			return fmt.Errorf("lending settings must be provided")
		}
		if v.Lending.UtilisationBps > 10_000 || v.Lending.ReserveFactorBps > 10_000 {
			return fmt.Errorf("lending bps values must be 10_000 or fewer")
		}
		if v.Lending.Kink < 0 || v.Lending.Kink > 1 {
			return fmt.Errorf("lending kink must be between 0 and 1")
		}
	default:
		return fmt.Errorf("unsupported kind %q", v.Kind)
	}
	reserve, err := parseAmountString(v.Reserve)
	if err != nil {
		return fmt.Errorf("reserve: %w", err)
	}
	v.reserveAmt = reserve
	return nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
