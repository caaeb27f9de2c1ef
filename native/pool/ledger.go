package pool

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"dework/crypto"
	"dework/native/yield"
)

var (
	ErrNilState           = errors.New("pool: state not configured")
	ErrNotInitialised     = errors.New("pool: venue binding not initialised")
	ErrUnauthorized       = errors.New("pool: caller is not the controller")
	ErrInvalidAmount      = errors.New("pool: amount must be positive")
	ErrExceedsNominal     = errors.New("pool: nominal exceeds pool total")
	ErrExceedsShares      = errors.New("pool: shares exceed pool total")
	ErrSameVenue          = errors.New("pool: venue already bound")
	ErrDrained            = errors.New("pool: drained")
	ErrAlreadyInitialised = errors.New("pool: already initialised")
)

// sharePrecision scales proportional ownership before it is applied to the
// venue total.
var sharePrecision = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

var recordKey = []byte("pool/ledger")

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// TokenLedger is the subset of the deposit token the ledger moves custody with.
type TokenLedger interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) (*big.Int, error)
}

// Record is the persisted ledger state. TotalNominal moves only by deposited
// and withdrawn nominal amounts; TotalShares tracks the ownership units that
// value is attributed by.
type Record struct {
	TotalNominal *big.Int
	TotalShares  *big.Int
	Venue        string
	Drained      bool
}

// Snapshot summarises the pool for queries.
type Snapshot struct {
	TotalNominal *big.Int
	TotalShares  *big.Int
	TotalValue   *big.Int
	Venue        string
	APYBps       uint64
	Drained      bool
}

// Migration describes a completed venue rebinding.
type Migration struct {
	From   string
	To     string
	Amount *big.Int
}

// Ledger tracks nominal deposits across all positions and attributes the
// bound venue's value to them proportionally. Custody sits with the
// venue; the ledger account only holds funds in transit.
type Ledger struct {
	state      ledgerState
	token      TokenLedger
	venues     *yield.Registry
	controller crypto.Address
}

// Address is the ledger's transit account.
func Address() crypto.Address { return crypto.ModuleAddress("pool") }

// NewLedger creates a ledger that only accepts calls from controller.
func NewLedger(token TokenLedger, venues *yield.Registry, controller crypto.Address) *Ledger {
	return &Ledger{token: token, venues: venues, controller: controller}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

func (l *Ledger) load() (*Record, error) {
	if l.state == nil {
		return nil, ErrNilState
	}
	rec := &Record{}
	ok, err := l.state.KVGet(recordKey, rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialised
	}
	if rec.TotalNominal == nil {
		rec.TotalNominal = big.NewInt(0)
	}
	if rec.TotalShares == nil {
		rec.TotalShares = big.NewInt(0)
	}
	return rec, nil
}

func (l *Ledger) store(rec *Record) error {
	return l.state.KVPut(recordKey, rec)
}

func (l *Ledger) authorize(caller crypto.Address) error {
	if caller != l.controller {
		return ErrUnauthorized
	}
	return nil
}

// Initialise binds the first venue. It fails once a binding exists.
func (l *Ledger) Initialise(venue string) error {
	if l.state == nil {
		return ErrNilState
	}
	if _, err := l.load(); err == nil {
		return ErrAlreadyInitialised
	} else if !errors.Is(err, ErrNotInitialised) {
		return err
	}
	v, err := l.venues.Get(venue)
	if err != nil {
		return err
	}
	return l.store(&Record{TotalNominal: big.NewInt(0), TotalShares: big.NewInt(0), Venue: v.Name()})
}

func (l *Ledger) venue(rec *Record) (yield.Venue, error) {
	return l.venues.Get(rec.Venue)
}

// Deposit pulls nominal from the controller, places it with the venue and
// returns the ownership units minted for it. Units are priced at the pool's
// value before the deposit, so a later entrant never dilutes interest already
// earned. An empty pool mints one unit per nominal.
func (l *Ledger) Deposit(caller crypto.Address, nominal *big.Int) (*big.Int, error) {
	if err := l.authorize(caller); err != nil {
		return nil, err
	}
	if nominal == nil || nominal.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	rec, err := l.load()
	if err != nil {
		return nil, err
	}
	if rec.Drained {
		return nil, ErrDrained
	}
	v, err := l.venue(rec)
	if err != nil {
		return nil, err
	}
	before, err := v.TotalValue()
	if err != nil {
		return nil, err
	}
	shares := new(big.Int).Set(nominal)
	if rec.TotalShares.Sign() > 0 && before.Sign() > 0 {
		shares.Mul(nominal, rec.TotalShares)
		shares.Quo(shares, before)
	}
	if shares.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if err := l.token.Transfer(caller, Address(), nominal); err != nil {
		return nil, err
	}
	if err := v.Deposit(Address(), nominal); err != nil {
		return nil, err
	}
	rec.TotalNominal.Add(rec.TotalNominal, nominal)
	rec.TotalShares.Add(rec.TotalShares, shares)
	if err := l.store(rec); err != nil {
		return nil, err
	}
	return shares, nil
}

// Withdraw redeems shares for their current value, reduces the pool totals by
// nominal and shares, and returns what the venue actually delivered to the
// controller.
func (l *Ledger) Withdraw(caller crypto.Address, nominal, shares *big.Int) (*big.Int, error) {
	if err := l.authorize(caller); err != nil {
		return nil, err
	}
	if nominal == nil || nominal.Sign() <= 0 || shares == nil || shares.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	rec, err := l.load()
	if err != nil {
		return nil, err
	}
	if nominal.Cmp(rec.TotalNominal) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrExceedsNominal, nominal, rec.TotalNominal)
	}
	if shares.Cmp(rec.TotalShares) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrExceedsShares, shares, rec.TotalShares)
	}
	v, err := l.venue(rec)
	if err != nil {
		return nil, err
	}
	value, err := l.valueOf(rec, v, shares)
	if err != nil {
		return nil, err
	}
	rec.TotalNominal.Sub(rec.TotalNominal, nominal)
	rec.TotalShares.Sub(rec.TotalShares, shares)
	if err := l.store(rec); err != nil {
		return nil, err
	}
	actual := big.NewInt(0)
	if value.Sign() > 0 {
		actual, err = v.Withdraw(Address(), value)
		if err != nil {
			return nil, err
		}
	}
	if actual.Sign() > 0 {
		if err := l.token.Transfer(Address(), caller, actual); err != nil {
			return nil, err
		}
	}
	return actual, nil
}

// ValueOf converts ownership units into their current value. An empty pool
// returns the input unchanged.
func (l *Ledger) ValueOf(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	rec, err := l.load()
	if err != nil {
		return nil, err
	}
	v, err := l.venue(rec)
	if err != nil {
		return nil, err
	}
	return l.valueOf(rec, v, shares)
}

// valueOf floors twice: share = units*1e18/total, value = share*venueTotal/1e18.
func (l *Ledger) valueOf(rec *Record, v yield.Venue, units *big.Int) (*big.Int, error) {
	if rec.TotalShares.Sign() == 0 {
		return new(big.Int).Set(units), nil
	}
	total, err := v.TotalValue()
	if err != nil {
		return nil, err
	}
	share := new(big.Int).Mul(units, sharePrecision)
	share.Quo(share, rec.TotalShares)
	value := share.Mul(share, total)
	return value.Quo(value, sharePrecision), nil
}

// TotalValue returns the bound venue's value.
func (l *Ledger) TotalValue() (*big.Int, error) {
	rec, err := l.load()
	if err != nil {
		return nil, err
	}
	v, err := l.venue(rec)
	if err != nil {
		return nil, err
	}
	return v.TotalValue()
}

// CurrentAPY returns the bound venue's APY in basis points.
func (l *Ledger) CurrentAPY() (uint64, error) {
	rec, err := l.load()
	if err != nil {
		return 0, err
	}
	v, err := l.venue(rec)
	if err != nil {
		return 0, err
	}
	return v.CurrentAPY()
}

// TotalNominal returns the sum of outstanding nominal deposits.
func (l *Ledger) TotalNominal() (*big.Int, error) {
	rec, err := l.load()
	if err != nil {
		return nil, err
	}
	return rec.TotalNominal, nil
}

// Migrate moves all custody from the bound venue to the named one.
func (l *Ledger) Migrate(caller crypto.Address, name string) (*Migration, error) {
	if err := l.authorize(caller); err != nil {
		return nil, err
	}
	rec, err := l.load()
	if err != nil {
		return nil, err
	}
	if rec.Drained {
		return nil, ErrDrained
	}
	from, err := l.venue(rec)
	if err != nil {
		return nil, err
	}
	to, err := l.venues.Get(name)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(from.Name(), to.Name()) {
		return nil, ErrSameVenue
	}
	moved, err := from.WithdrawAll(Address())
	if err != nil {
		return nil, err
	}
	rec.Venue = to.Name()
	if err := l.store(rec); err != nil {
		return nil, err
	}
	if moved.Sign() > 0 {
		if err := to.Deposit(Address(), moved); err != nil {
			return nil, err
		}
	}
	return &Migration{From: from.Name(), To: to.Name(), Amount: moved}, nil
}

// EmergencyDrain withdraws everything from the venue and sends it, together
// with any transit balance, to the recipient. The pool refuses deposits
// afterwards.
func (l *Ledger) EmergencyDrain(caller, to crypto.Address) (*big.Int, error) {
	if err := l.authorize(caller); err != nil {
		return nil, err
	}
	if to == crypto.ZeroAddress {
		return nil, fmt.Errorf("pool: drain recipient required")
	}
	rec, err := l.load()
	if err != nil {
		return nil, err
	}
	v, err := l.venue(rec)
	if err != nil {
		return nil, err
	}
	rec.Drained = true
	if err := l.store(rec); err != nil {
		return nil, err
	}
	if _, err := v.WithdrawAll(Address()); err != nil {
		return nil, err
	}
	balance, err := l.token.BalanceOf(Address())
	if err != nil {
		return nil, err
	}
	if balance.Sign() > 0 {
		if err := l.token.Transfer(Address(), to, balance); err != nil {
			return nil, err
		}
	}
	return balance, nil
}

// Snapshot reports the ledger totals and binding.
func (l *Ledger) Snapshot() (*Snapshot, error) {
	rec, err := l.load()
	if err != nil {
		return nil, err
	}
	v, err := l.venue(rec)
	if err != nil {
		return nil, err
	}
	total, err := v.TotalValue()
	if err != nil {
		return nil, err
	}
	apy, err := v.CurrentAPY()
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		TotalNominal: new(big.Int).Set(rec.TotalNominal),
		TotalShares:  new(big.Int).Set(rec.TotalShares),
		TotalValue:   total,
		Venue:        rec.Venue,
		APYBps:       apy,
		Drained:      rec.Drained,
	}, nil
}
