package deposit

import (
	"math/big"

	"dework/crypto"
)

const (
	// ModuleName keys the pause flag of the registry.
	ModuleName = "deposit"

	MaxPlatformFeePercent = 30
	MaxSharePercent       = 100
	MinDisputeWindow      = 24 * 60 * 60
	MaxDisputeWindow      = 30 * MinDisputeWindow
	MaxMetadataLength     = 2048
)

// ModuleAddress is the account the registry holds deposits in transit under.
func ModuleAddress() crypto.Address { return crypto.ModuleAddress(ModuleName) }

// SettlementPath names the transition that settled a position.
type SettlementPath string

const (
	PathNormalEnd        SettlementPath = "normal_end"
	PathScheduled        SettlementPath = "scheduled_release"
	PathEarlyTermination SettlementPath = "early_termination"
	PathDisputeTenant    SettlementPath = "dispute_tenant"
	PathDisputeLandlord  SettlementPath = "dispute_landlord"
)

// Position is one lease deposit. Shares are the pool ownership units minted
// for the principal. Times are unix seconds.
type Position struct {
	ID                   uint64
	Tenant               crypto.Address
	Landlord             crypto.Address
	Principal            *big.Int
	Shares               *big.Int
	InterestSharePercent uint8
	StartTime            uint64
	EndTime              uint64
	ReleaseTime          uint64
	Active               bool
	InDispute            bool
	MetadataURI          string
	VerifiedAtCreation   bool
	SettledAt            uint64
	SettlementPath       string
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Principal != nil {
		clone.Principal = new(big.Int).Set(p.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	if p.Shares != nil {
		clone.Shares = new(big.Int).Set(p.Shares)
	}
	return &clone
}

// Status collapses the active/inDispute flags into a label.
func (p *Position) Status() string {
	switch {
	case p == nil:
		return ""
	case !p.Active:
		return "settled"
	case p.InDispute:
		return "disputed"
	default:
		return "active"
	}
}

// Params is the registry configuration held in state.
type Params struct {
	Admin                crypto.Address
	Treasury             crypto.Address
	Keeper               crypto.Address
	PlatformFeePercent   uint8
	DisputeWindowSeconds uint64
	IdentityRequired     bool
}

// Validate checks the bounds enforced by the admin setters.
func (p Params) Validate() error {
	if p.Admin == crypto.ZeroAddress {
		return ErrInvalidAddress
	}
	if p.Treasury == crypto.ZeroAddress {
		return ErrInvalidAddress
	}
	if p.PlatformFeePercent > MaxPlatformFeePercent {
		return ErrInvalidFeePercent
	}
	if p.DisputeWindowSeconds < MinDisputeWindow || p.DisputeWindowSeconds > MaxDisputeWindow {
		return ErrInvalidDisputeWindow
	}
	return nil
}

// OpenRequest carries the caller-supplied terms of a new position.
type OpenRequest struct {
	Tenant                crypto.Address
	Landlord              crypto.Address
	Principal             *big.Int
	DurationSeconds       uint64
	MetadataURI           string
	RequestedSharePercent uint8
}

// Settlement records how a position's value was distributed.
type Settlement struct {
	PositionID     uint64
	Path           SettlementPath
	Principal      *big.Int
	Value          *big.Int
	Fee            *big.Int
	TenantAmount   *big.Int
	LandlordAmount *big.Int
	SettledAt      uint64
}
