package positiontoken

import (
	"errors"
	"fmt"
	"strconv"

	"dework/crypto"
)

var (
	ErrNilState      = errors.New("position token: state not configured")
	ErrTokenNotFound = errors.New("position token: token not found")
	ErrTokenExists   = errors.New("position token: token already minted")
	ErrSoulbound     = errors.New("position token: transfers disabled")
	ErrZeroOwner     = errors.New("position token: zero owner")
)

const supplyCounter = "positiontoken/supply"

type tokenState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	Counter(name string) (uint64, error)
	SetCounter(name string, value uint64) error
}

// Record is the persisted form of a minted token.
type Record struct {
	ID    uint64
	Owner crypto.Address
	URI   string
}

func recordKey(id uint64) []byte {
	return []byte("positiontoken/record/" + strconv.FormatUint(id, 10))
}

func burnedKey(id uint64) []byte {
	return []byte("positiontoken/burned/" + strconv.FormatUint(id, 10))
}

// Engine issues one non-transferable token per deposit position. Token ids are
// supplied by the caller so they match the position id; a burned id is never
// minted again.
type Engine struct {
	state tokenState
}

func NewEngine() *Engine { return &Engine{} }

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state tokenState) { e.state = state }

func (e *Engine) load(id uint64) (*Record, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	var rec Record
	ok, err := e.state.KVGet(recordKey(id), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrTokenNotFound, id)
	}
	return &rec, nil
}

// Mint issues token id to owner.
func (e *Engine) Mint(id uint64, owner crypto.Address) error {
	if e.state == nil {
		return ErrNilState
	}
	if owner == crypto.ZeroAddress {
		return ErrZeroOwner
	}
	exists, err := e.state.KVGet(recordKey(id), nil)
	if err != nil {
		return err
	}
	burned, err := e.state.KVGet(burnedKey(id), nil)
	if err != nil {
		return err
	}
	if exists || burned {
		return fmt.Errorf("%w: %d", ErrTokenExists, id)
	}
	if err := e.state.KVPut(recordKey(id), &Record{ID: id, Owner: owner}); err != nil {
		return err
	}
	supply, err := e.state.Counter(supplyCounter)
	if err != nil {
		return err
	}
	return e.state.SetCounter(supplyCounter, supply+1)
}

// Burn destroys token id. Burning twice fails with ErrTokenNotFound.
func (e *Engine) Burn(id uint64) error {
	if _, err := e.load(id); err != nil {
		return err
	}
	if err := e.state.KVDelete(recordKey(id)); err != nil {
		return err
	}
	if err := e.state.KVPut(burnedKey(id), true); err != nil {
		return err
	}
	supply, err := e.state.Counter(supplyCounter)
	if err != nil {
		return err
	}
	if supply > 0 {
		supply--
	}
	return e.state.SetCounter(supplyCounter, supply)
}

// SetMetadata replaces the metadata URI of token id.
func (e *Engine) SetMetadata(id uint64, uri string) error {
	rec, err := e.load(id)
	if err != nil {
		return err
	}
	rec.URI = uri
	return e.state.KVPut(recordKey(id), rec)
}

// OwnerOf returns the holder of token id.
func (e *Engine) OwnerOf(id uint64) (crypto.Address, error) {
	rec, err := e.load(id)
	if err != nil {
		return crypto.ZeroAddress, err
	}
	return rec.Owner, nil
}

// TokenURI returns the metadata URI of token id.
func (e *Engine) TokenURI(id uint64) (string, error) {
	rec, err := e.load(id)
	if err != nil {
		return "", err
	}
	return rec.URI, nil
}

// Supply returns the number of live tokens.
func (e *Engine) Supply() (uint64, error) {
	if e.state == nil {
		return 0, ErrNilState
	}
	return e.state.Counter(supplyCounter)
}

// Transfer always fails: position tokens are bound to the tenant.
func (e *Engine) Transfer(from, to crypto.Address, id uint64) error {
	return ErrSoulbound
}
