package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"dework/crypto"
)

// Decimals is the fixed precision of the deposit token.
const Decimals uint8 = 6

var (
	ErrNilState              = errors.New("token: state not configured")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrOverflow              = errors.New("token: amount exceeds 256 bits")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrZeroAddress           = errors.New("token: zero address")
)

var supplyKey = []byte("token/supply")

type tokenState interface {
	TokenBalance(addr crypto.Address) (*big.Int, error)
	SetTokenBalance(addr crypto.Address, amount *big.Int) error
	TokenAllowance(owner, spender crypto.Address) (*big.Int, error)
	SetTokenAllowance(owner, spender crypto.Address, amount *big.Int) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// ReceiveHook is invoked after tokens are credited to a hooked recipient. A
// returned error aborts the surrounding operation.
type ReceiveHook func(from, to crypto.Address, amount *big.Int) error

// Engine implements the fungible deposit token: balances, allowances and
// transfers over 256-bit unsigned amounts.
type Engine struct {
	state  tokenState
	symbol string
	hooks  map[crypto.Address]ReceiveHook
}

// NewEngine returns a token engine with the supplied ticker symbol.
func NewEngine(symbol string) *Engine {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		symbol = "USDC"
	}
	return &Engine{symbol: symbol, hooks: make(map[crypto.Address]ReceiveHook)}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state tokenState) { e.state = state }

func (e *Engine) Symbol() string  { return e.symbol }
func (e *Engine) Decimals() uint8 { return Decimals }

// SetReceiveHook registers hook for credits to addr. A nil hook removes it.
func (e *Engine) SetReceiveHook(addr crypto.Address, hook ReceiveHook) {
	if hook == nil {
		delete(e.hooks, addr)
		return
	}
	e.hooks[addr] = hook
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

func positive(amount *big.Int) (*uint256.Int, error) {
	value, err := toUint256(amount)
	if err != nil {
		return nil, err
	}
	if value.IsZero() {
		return nil, ErrInvalidAmount
	}
	return value, nil
}

func (e *Engine) balance(addr crypto.Address) (*uint256.Int, error) {
	raw, err := e.state.TokenBalance(addr)
	if err != nil {
		return nil, err
	}
	return toUint256(raw)
}

// BalanceOf returns the balance held by addr.
func (e *Engine) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	return e.state.TokenBalance(addr)
}

// Allowance returns the amount spender may still move on behalf of owner.
func (e *Engine) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	return e.state.TokenAllowance(owner, spender)
}

// TotalSupply returns the amount minted so far.
func (e *Engine) TotalSupply() (*big.Int, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	supply := new(big.Int)
	if _, err := e.state.KVGet(supplyKey, supply); err != nil {
		return nil, err
	}
	return supply, nil
}

// Approve sets the allowance granted by owner to spender. A zero amount
// revokes the allowance.
func (e *Engine) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if e.state == nil {
		return ErrNilState
	}
	if owner == crypto.ZeroAddress || spender == crypto.ZeroAddress {
		return ErrZeroAddress
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	return e.state.SetTokenAllowance(owner, spender, value.ToBig())
}

// Transfer moves amount from one account to another.
func (e *Engine) Transfer(from, to crypto.Address, amount *big.Int) error {
	if e.state == nil {
		return ErrNilState
	}
	value, err := positive(amount)
	if err != nil {
		return err
	}
	if err := e.move(from, to, value); err != nil {
		return err
	}
	return e.notify(from, to, value)
}

// TransferFrom moves amount from one account to another on behalf of spender,
// consuming spender's allowance. An account moving its own funds needs none.
func (e *Engine) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if e.state == nil {
		return ErrNilState
	}
	value, err := positive(amount)
	if err != nil {
		return err
	}
	if spender != from {
		rawAllowance, err := e.state.TokenAllowance(from, spender)
		if err != nil {
			return err
		}
		allowance, err := toUint256(rawAllowance)
		if err != nil {
			return err
		}
		if allowance.Lt(value) {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance.Dec(), value.Dec())
		}
		remaining := new(uint256.Int).Sub(allowance, value)
		if err := e.state.SetTokenAllowance(from, spender, remaining.ToBig()); err != nil {
			return err
		}
	}
	if err := e.move(from, to, value); err != nil {
		return err
	}
	return e.notify(from, to, value)
}

// Mint credits freshly issued tokens to the recipient.
func (e *Engine) Mint(to crypto.Address, amount *big.Int) error {
	if e.state == nil {
		return ErrNilState
	}
	if to == crypto.ZeroAddress {
		return ErrZeroAddress
	}
	value, err := positive(amount)
	if err != nil {
		return err
	}
	rawSupply, err := e.TotalSupply()
	if err != nil {
		return err
	}
	supply, err := toUint256(rawSupply)
	if err != nil {
		return err
	}
	nextSupply, overflow := new(uint256.Int).AddOverflow(supply, value)
	if overflow {
		return ErrOverflow
	}
	bal, err := e.balance(to)
	if err != nil {
		return err
	}
	nextBal, overflow := new(uint256.Int).AddOverflow(bal, value)
	if overflow {
		return ErrOverflow
	}
	if err := e.state.KVPut(supplyKey, nextSupply.ToBig()); err != nil {
		return err
	}
	return e.state.SetTokenBalance(to, nextBal.ToBig())
}

func (e *Engine) move(from, to crypto.Address, value *uint256.Int) error {
	if to == crypto.ZeroAddress {
		return ErrZeroAddress
	}
	fromBal, err := e.balance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(value) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal.Dec(), value.Dec())
	}
	if from == to {
		return nil
	}
	toBal, err := e.balance(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBal, value)
	if overflow {
		return ErrOverflow
	}
	if err := e.state.SetTokenBalance(from, new(uint256.Int).Sub(fromBal, value).ToBig()); err != nil {
		return err
	}
	return e.state.SetTokenBalance(to, credited.ToBig())
}

func (e *Engine) notify(from, to crypto.Address, value *uint256.Int) error {
	hook, ok := e.hooks[to]
	if !ok {
		return nil
	}
	return hook(from, to, value.ToBig())
}
