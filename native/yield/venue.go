package yield

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"dework/crypto"
)

// SecondsPerYear is the accrual year used by every venue.
const SecondsPerYear = 31_536_000

var (
	ErrNilState       = errors.New("yield: state not configured")
	ErrNilToken       = errors.New("yield: token not configured")
	ErrInvalidAmount  = errors.New("yield: amount must be positive")
	ErrUnknownVenue   = errors.New("yield: unknown venue")
	ErrDuplicateVenue = errors.New("yield: venue already registered")
)

// Venue is one external yield source holding custody of pooled deposits.
type Venue interface {
	Name() string
	Address() crypto.Address
	// Deposit pulls amount from the depositor into the venue.
	Deposit(from crypto.Address, amount *big.Int) error
	// Withdraw sends up to amount to the recipient and returns what was
	// actually delivered. Under-delivery is not an error.
	Withdraw(to crypto.Address, amount *big.Int) (*big.Int, error)
	WithdrawAll(to crypto.Address) (*big.Int, error)
	// TotalValue is the accounted value including accrual up to now.
	TotalValue() (*big.Int, error)
	// CurrentAPY is expressed in basis points.
	CurrentAPY() (uint64, error)
}

type venueState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// TokenLedger is the subset of the deposit token used by venues.
type TokenLedger interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
	BalanceOf(addr crypto.Address) (*big.Int, error)
}

// Env carries the collaborators shared by every venue of a registry.
type Env struct {
	state venueState
	token TokenLedger
	nowFn func() int64
}

func (e *Env) now() uint64 {
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Env) ready() error {
	if e.state == nil {
		return ErrNilState
	}
	if e.token == nil {
		return ErrNilToken
	}
	return nil
}

// VenueAddress derives the custody account of a named venue.
func VenueAddress(name string) crypto.Address {
	return crypto.ModuleAddress("yield/" + name)
}

func venueKey(name string) []byte {
	return []byte("yield/venue/" + strings.ToLower(name))
}

// Registry holds the venues known to the node by name.
type Registry struct {
	env    *Env
	venues map[string]Venue
}

// NewRegistry returns an empty registry whose venues transfer with token.
func NewRegistry(token TokenLedger) *Registry {
	return &Registry{
		env:    &Env{token: token, nowFn: func() int64 { return time.Now().Unix() }},
		venues: make(map[string]Venue),
	}
}

// Env exposes the shared environment venues are constructed with.
func (r *Registry) Env() *Env { return r.env }

// SetState configures the state backend used by every venue.
func (r *Registry) SetState(state venueState) { r.env.state = state }

// SetNowFunc overrides the clock used for accrual.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	r.env.nowFn = now
}

// Register adds a venue. Names are case-insensitive.
func (r *Registry) Register(v Venue) error {
	key := strings.ToLower(v.Name())
	if _, exists := r.venues[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateVenue, v.Name())
	}
	r.venues[key] = v
	return nil
}

// Get returns the venue registered under name.
func (r *Registry) Get(name string) (Venue, error) {
	v, ok := r.venues[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVenue, name)
	}
	return v, nil
}

// Names lists registered venue names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.venues))
	for _, v := range r.venues {
		names = append(names, v.Name())
	}
	sort.Strings(names)
	return names
}

func minBig(values ...*big.Int) *big.Int {
	out := new(big.Int).Set(values[0])
	for _, v := range values[1:] {
		if v.Cmp(out) < 0 {
			out.Set(v)
		}
	}
	return out
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
