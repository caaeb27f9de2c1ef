package deposit

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"dework/core/events"
	"dework/core/types"
	"dework/crypto"
	"dework/native/common"
	"dework/native/pool"
)

const (
	positionSequence = "deposit/positions"
	activeIndex      = "deposit/active"
)

var paramsKey = []byte("deposit/params")

func positionKey(id uint64) []byte {
	return []byte("deposit/position/" + strconv.FormatUint(id, 10))
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	NextSequence(name string) (uint64, error)
	IndexMembers(name string) ([]uint64, error)
	IndexAdd(name string, id uint64) error
	IndexRemove(name string, id uint64) error
	IsPaused(module string) bool
	SetPaused(module string, paused bool) error
}

type depositToken interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
	TransferFrom(spender, from, to crypto.Address, amount *big.Int) error
}

type positionToken interface {
	Mint(id uint64, owner crypto.Address) error
	Burn(id uint64) error
	SetMetadata(id uint64, uri string) error
}

type fundLedger interface {
	Deposit(caller crypto.Address, nominal *big.Int) (*big.Int, error)
	Withdraw(caller crypto.Address, nominal, shares *big.Int) (*big.Int, error)
	ValueOf(shares *big.Int) (*big.Int, error)
	Migrate(caller crypto.Address, venue string) (*pool.Migration, error)
	EmergencyDrain(caller, to crypto.Address) (*big.Int, error)
}

// IdentityGate reports whether an address passed proof-of-personhood.
type IdentityGate interface {
	IsVerified(ctx context.Context, addr crypto.Address) (bool, error)
}

// CreditOracle recommends the maximum interest share for a tenant.
type CreditOracle interface {
	InterestSharingPercentage(ctx context.Context, addr crypto.Address) (uint8, error)
}

// Engine is the position registry: it opens lease deposits into the pooled
// ledger and settles each exactly once along one termination path.
type Engine struct {
	state     engineState
	token     depositToken
	positions positionToken
	ledger    fundLedger
	identity  IdentityGate
	oracle    CreditOracle
	emitter   events.Emitter
	nowFn     func() int64
	guard     common.ReentrancyGuard
}

// NewEngine wires the registry to its token, position token and ledger.
func NewEngine(token depositToken, positions positionToken, ledger fundLedger) *Engine {
	return &Engine{
		token:     token,
		positions: positions,
		ledger:    ledger,
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetIdentityGate installs the identity collaborator. Nil disables it.
func (e *Engine) SetIdentityGate(gate IdentityGate) { e.identity = gate }

// SetCreditOracle installs the credit collaborator. Nil disables it.
func (e *Engine) SetCreditOracle(oracle CreditOracle) { e.oracle = oracle }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(depositEvent{evt: event})
}

func (e *Engine) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// InitParams stores the genesis configuration. It is only valid once.
func (e *Engine) InitParams(p Params) error {
	if e.state == nil {
		return errNilState
	}
	if err := p.Validate(); err != nil {
		return err
	}
	exists, err := e.state.KVGet(paramsKey, nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("deposit engine: params already initialised")
	}
	return e.state.KVPut(paramsKey, &p)
}

// Params returns the stored registry configuration.
func (e *Engine) Params() (*Params, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var p Params
	ok, err := e.state.KVGet(paramsKey, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrParamsNotInitialised
	}
	return &p, nil
}

func (e *Engine) storeParams(p *Params) error {
	return e.state.KVPut(paramsKey, p)
}

func (e *Engine) loadPosition(id uint64) (*Position, error) {
	if e.state == nil {
		return nil, errNilState
	}
	var pos Position
	ok, err := e.state.KVGet(positionKey(id), &pos)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	if pos.Principal == nil {
		pos.Principal = big.NewInt(0)
	}
	if pos.Active && (pos.Shares == nil || pos.Shares.Sign() <= 0) {
		return nil, fmt.Errorf("deposit: position %d has no pool shares", id)
	}
	if pos.Shares == nil {
		pos.Shares = big.NewInt(0)
	}
	return &pos, nil
}

func (e *Engine) storePosition(pos *Position) error {
	return e.state.KVPut(positionKey(pos.ID), pos)
}

// Screening is a tenant's identity and credit standing, read from the
// collaborators before any state is touched. Only Screen builds one.
type Screening struct {
	tenant      crypto.Address
	gated       bool
	verified    bool
	gateErr     error
	scored      bool
	recommended uint8
}

// Screen queries the identity gate and credit oracle for tenant. It reads no
// state, so callers can run it without holding the node lock.
func (e *Engine) Screen(ctx context.Context, tenant crypto.Address) *Screening {
	s := &Screening{tenant: tenant}
	if e.identity != nil {
		s.gated = true
		s.verified, s.gateErr = e.identity.IsVerified(ctx, tenant)
	}
	if e.oracle != nil {
		recommended, err := e.oracle.InterestSharingPercentage(ctx, tenant)
		if err == nil && recommended <= MaxSharePercent {
			s.scored = true
			s.recommended = recommended
		}
	}
	return s
}

// Open screens the tenant and opens the position.
func (e *Engine) Open(ctx context.Context, req OpenRequest) (*Position, error) {
	return e.OpenScreened(req, e.Screen(ctx, req.Tenant))
}

// OpenScreened validates the terms, pulls the principal from the tenant under
// its allowance to the registry, places it with the pooled ledger, mints the
// position token and records the position.
func (e *Engine) OpenScreened(req OpenRequest, screening *Screening) (*Position, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.state, ModuleName); err != nil {
		return nil, err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	if req.Principal == nil || req.Principal.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.DurationSeconds == 0 {
		return nil, ErrInvalidDuration
	}
	if req.RequestedSharePercent > MaxSharePercent {
		return nil, ErrInvalidSharePercent
	}
	if req.Tenant == crypto.ZeroAddress {
		return nil, ErrInvalidAddress
	}
	if req.Landlord == crypto.ZeroAddress || req.Landlord == req.Tenant {
		return nil, ErrInvalidLandlord
	}
	if len(req.MetadataURI) > MaxMetadataLength {
		return nil, ErrMetadataTooLong
	}
	if screening == nil || screening.tenant != req.Tenant {
		return nil, fmt.Errorf("%w: tenant was not screened", ErrNotVerified)
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}

	verified, err := screening.identity(params.IdentityRequired)
	if err != nil {
		return nil, err
	}
	share := screening.share(req.RequestedSharePercent)

	now := e.now()
	if req.DurationSeconds > math.MaxUint64-now-params.DisputeWindowSeconds {
		return nil, ErrInvalidDuration
	}
	endTime := now + req.DurationSeconds

	id, err := e.state.NextSequence(positionSequence)
	if err != nil {
		return nil, err
	}
	pos := &Position{
		ID:                   id,
		Tenant:               req.Tenant,
		Landlord:             req.Landlord,
		Principal:            new(big.Int).Set(req.Principal),
		InterestSharePercent: share,
		StartTime:            now,
		EndTime:              endTime,
		ReleaseTime:          endTime + params.DisputeWindowSeconds,
		Active:               true,
		MetadataURI:          req.MetadataURI,
		VerifiedAtCreation:   verified,
	}

	registry := ModuleAddress()
	if err := e.token.TransferFrom(registry, req.Tenant, registry, pos.Principal); err != nil {
		return nil, err
	}
	shares, err := e.ledger.Deposit(registry, pos.Principal)
	if err != nil {
		return nil, err
	}
	pos.Shares = shares
	if err := e.positions.Mint(id, req.Tenant); err != nil {
		return nil, err
	}
	if pos.MetadataURI != "" {
		if err := e.positions.SetMetadata(id, pos.MetadataURI); err != nil {
			return nil, err
		}
	}
	if err := e.storePosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.IndexAdd(activeIndex, id); err != nil {
		return nil, err
	}
	e.emit(NewOpenedEvent(pos))
	return pos.Clone(), nil
}

// identity applies the gate result. Failures only matter when verification is
// required; otherwise the snapshot records false.
func (s *Screening) identity(required bool) (bool, error) {
	if !s.gated {
		if required {
			return false, fmt.Errorf("%w: no identity gate configured", ErrNotVerified)
		}
		return false, nil
	}
	if s.gateErr != nil {
		if required {
			return false, fmt.Errorf("%w: %v", ErrNotVerified, s.gateErr)
		}
		return false, nil
	}
	if required && !s.verified {
		return false, ErrNotVerified
	}
	return s.verified, nil
}

// share is min(requested, recommendation). Oracle failures and out of range
// recommendations leave the request untouched.
func (s *Screening) share(requested uint8) uint8 {
	if s.scored && s.recommended < requested {
		return s.recommended
	}
	return requested
}

func (e *Engine) isAdmin(params *Params, caller crypto.Address) bool {
	return caller == params.Admin
}

// NormalEnd settles a position after its lease ended. The tenant must also wait
// out the dispute window; the landlord and admin need not.
func (e *Engine) NormalEnd(caller crypto.Address, id uint64) (*Settlement, error) {
	return e.settleGuarded(id, func(pos *Position, params *Params) (SettlementPath, error) {
		isTenant := caller == pos.Tenant
		if !isTenant && caller != pos.Landlord && !e.isAdmin(params, caller) {
			return "", ErrUnauthorized
		}
		if pos.InDispute {
			return "", ErrInDispute
		}
		now := e.now()
		if now < pos.EndTime {
			return "", ErrLeaseNotEnded
		}
		if isTenant && !e.isAdmin(params, caller) && now < pos.ReleaseTime {
			return "", ErrReleaseNotReached
		}
		return PathNormalEnd, nil
	})
}

// SettleIfDue is the scheduler entry point: the keeper (or admin) settles a
// position once its release time passed without a dispute.
func (e *Engine) SettleIfDue(caller crypto.Address, id uint64) (*Settlement, error) {
	return e.settleGuarded(id, func(pos *Position, params *Params) (SettlementPath, error) {
		if caller != params.Keeper && !e.isAdmin(params, caller) {
			return "", ErrUnauthorized
		}
		if pos.InDispute {
			return "", ErrInDispute
		}
		if e.now() < pos.ReleaseTime {
			return "", ErrReleaseNotReached
		}
		return PathScheduled, nil
	})
}

// TerminateEarly lets the landlord end an undisputed lease at any time. The
// tenant is refunded principal plus its interest share.
func (e *Engine) TerminateEarly(caller crypto.Address, id uint64) (*Settlement, error) {
	return e.settleGuarded(id, func(pos *Position, _ *Params) (SettlementPath, error) {
		if caller != pos.Landlord {
			return "", ErrUnauthorized
		}
		if pos.InDispute {
			return "", ErrInDispute
		}
		return PathEarlyTermination, nil
	})
}

// ResolveDispute settles a disputed position in favour of one party. The
// winner receives the full value less the platform fee.
func (e *Engine) ResolveDispute(caller crypto.Address, id uint64, favorTenant bool) (*Settlement, error) {
	return e.settleGuarded(id, func(pos *Position, params *Params) (SettlementPath, error) {
		if !e.isAdmin(params, caller) {
			return "", ErrUnauthorized
		}
		if !pos.InDispute {
			return "", ErrNotInDispute
		}
		if favorTenant {
			return PathDisputeTenant, nil
		}
		return PathDisputeLandlord, nil
	})
}

// RaiseDispute flags an active position before its release time.
func (e *Engine) RaiseDispute(caller crypto.Address, id uint64) (*Position, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.state, ModuleName); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, ErrNotActive
	}
	if caller != pos.Tenant {
		return nil, ErrUnauthorized
	}
	if pos.InDispute {
		return nil, ErrInDispute
	}
	if e.now() >= pos.ReleaseTime {
		return nil, ErrDisputeWindowClosed
	}
	pos.InDispute = true
	if err := e.storePosition(pos); err != nil {
		return nil, err
	}
	e.emit(NewDisputedEvent(pos))
	return pos.Clone(), nil
}

type transitionCheck func(pos *Position, params *Params) (SettlementPath, error)

func (e *Engine) settleGuarded(id uint64, check transitionCheck) (*Settlement, error) {
	if e.state == nil {
		return nil, errNilState
	}
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()

	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, ErrNotActive
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	path, err := check(pos, params)
	if err != nil {
		return nil, err
	}
	if path != PathDisputeTenant && path != PathDisputeLandlord {
		if err := common.Guard(e.state, ModuleName); err != nil {
			return nil, err
		}
	}
	return e.settle(pos, params, path)
}

// settle marks the position settled and burns its token before any funds move.
func (e *Engine) settle(pos *Position, params *Params, path SettlementPath) (*Settlement, error) {
	now := e.now()
	pos.Active = false
	pos.SettledAt = now
	pos.SettlementPath = string(path)
	if err := e.storePosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.IndexRemove(activeIndex, pos.ID); err != nil {
		return nil, err
	}
	if err := e.positions.Burn(pos.ID); err != nil {
		return nil, err
	}

	registry := ModuleAddress()
	value, err := e.ledger.Withdraw(registry, pos.Principal, pos.Shares)
	if err != nil {
		return nil, err
	}
	split := ComputeSplit(value, pos.Principal, params.PlatformFeePercent, pos.InterestSharePercent)
	tenantAmount, landlordAmount := split.payouts(path, pos.Principal)

	if err := e.pay(registry, params.Treasury, split.Fee); err != nil {
		return nil, err
	}
	if err := e.pay(registry, pos.Tenant, tenantAmount); err != nil {
		return nil, err
	}
	if err := e.pay(registry, pos.Landlord, landlordAmount); err != nil {
		return nil, err
	}

	settlement := &Settlement{
		PositionID:     pos.ID,
		Path:           path,
		Principal:      new(big.Int).Set(pos.Principal),
		Value:          split.Value,
		Fee:            split.Fee,
		TenantAmount:   tenantAmount,
		LandlordAmount: landlordAmount,
		SettledAt:      now,
	}
	e.emit(NewSettledEvent(pos, settlement))
	return settlement, nil
}

func (e *Engine) pay(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	return e.token.Transfer(from, to, amount)
}

// UpdateInterestShare lets the landlord change the tenant's share while the
// position is active.
func (e *Engine) UpdateInterestShare(caller crypto.Address, id uint64, percent uint8) (*Position, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.state, ModuleName); err != nil {
		return nil, err
	}
	if percent > MaxSharePercent {
		return nil, ErrInvalidSharePercent
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, ErrNotActive
	}
	if caller != pos.Landlord {
		return nil, ErrUnauthorized
	}
	previous := pos.InterestSharePercent
	pos.InterestSharePercent = percent
	if err := e.storePosition(pos); err != nil {
		return nil, err
	}
	e.emit(NewShareUpdatedEvent(pos, previous))
	return pos.Clone(), nil
}

// UpdateMetadata replaces the metadata URI of an active position and mirrors
// it onto the position token.
func (e *Engine) UpdateMetadata(caller crypto.Address, id uint64, uri string) (*Position, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := common.Guard(e.state, ModuleName); err != nil {
		return nil, err
	}
	if len(uri) > MaxMetadataLength {
		return nil, ErrMetadataTooLong
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, ErrNotActive
	}
	if caller != pos.Tenant && caller != pos.Landlord {
		return nil, ErrUnauthorized
	}
	pos.MetadataURI = uri
	if err := e.storePosition(pos); err != nil {
		return nil, err
	}
	if err := e.positions.SetMetadata(id, uri); err != nil {
		return nil, err
	}
	e.emit(NewMetadataUpdatedEvent(pos))
	return pos.Clone(), nil
}

// Position returns a snapshot of the position.
func (e *Engine) Position(id uint64) (*Position, error) {
	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// CurrentValue returns what the position's principal is worth in the pool now.
func (e *Engine) CurrentValue(id uint64) (*big.Int, error) {
	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	if !pos.Active {
		return nil, ErrNotActive
	}
	return e.ledger.ValueOf(pos.Shares)
}

// ActivePositions lists unsettled positions in opening order.
func (e *Engine) ActivePositions() ([]*Position, error) {
	if e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.IndexMembers(activeIndex)
	if err != nil {
		return nil, err
	}
	out := make([]*Position, 0, len(ids))
	for _, id := range ids {
		pos, err := e.loadPosition(id)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// DuePositions returns ids of undisputed positions whose release time is at or
// before now.
func (e *Engine) DuePositions(now int64) ([]uint64, error) {
	active, err := e.ActivePositions()
	if err != nil {
		return nil, err
	}
	due := make([]uint64, 0)
	for _, pos := range active {
		if pos.InDispute {
			continue
		}
		if now >= 0 && uint64(now) >= pos.ReleaseTime {
			due = append(due, pos.ID)
		}
	}
	return due, nil
}
