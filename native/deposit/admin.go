package deposit

import (
	"math/big"
	"strconv"

	"dework/crypto"
)

func (e *Engine) adminParams(caller crypto.Address) (*Params, error) {
	if e.state == nil {
		return nil, errNilState
	}
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	if !e.isAdmin(params, caller) {
		return nil, ErrUnauthorized
	}
	return params, nil
}

// SetPlatformFeePercent changes the fee charged on interest. Capped at 30.
func (e *Engine) SetPlatformFeePercent(caller crypto.Address, percent uint8) error {
	params, err := e.adminParams(caller)
	if err != nil {
		return err
	}
	if percent > MaxPlatformFeePercent {
		return ErrInvalidFeePercent
	}
	params.PlatformFeePercent = percent
	if err := e.storeParams(params); err != nil {
		return err
	}
	e.emit(NewParamsUpdatedEvent("platformFeePercent", strconv.FormatUint(uint64(percent), 10)))
	return nil
}

// SetDisputeWindow changes the window applied to positions opened afterwards.
func (e *Engine) SetDisputeWindow(caller crypto.Address, seconds uint64) error {
	params, err := e.adminParams(caller)
	if err != nil {
		return err
	}
	if seconds < MinDisputeWindow || seconds > MaxDisputeWindow {
		return ErrInvalidDisputeWindow
	}
	params.DisputeWindowSeconds = seconds
	if err := e.storeParams(params); err != nil {
		return err
	}
	e.emit(NewParamsUpdatedEvent("disputeWindowSeconds", strconv.FormatUint(seconds, 10)))
	return nil
}

func (e *Engine) SetIdentityRequired(caller crypto.Address, required bool) error {
	params, err := e.adminParams(caller)
	if err != nil {
		return err
	}
	params.IdentityRequired = required
	if err := e.storeParams(params); err != nil {
		return err
	}
	e.emit(NewParamsUpdatedEvent("identityRequired", strconv.FormatBool(required)))
	return nil
}

func (e *Engine) SetTreasury(caller, treasury crypto.Address) error {
	params, err := e.adminParams(caller)
	if err != nil {
		return err
	}
	if treasury == crypto.ZeroAddress {
		return ErrInvalidAddress
	}
	params.Treasury = treasury
	if err := e.storeParams(params); err != nil {
		return err
	}
	e.emit(NewParamsUpdatedEvent("treasury", treasury.Hex()))
	return nil
}

// SetKeeper authorises the scheduler account. The zero address disables it.
func (e *Engine) SetKeeper(caller, keeper crypto.Address) error {
	params, err := e.adminParams(caller)
	if err != nil {
		return err
	}
	params.Keeper = keeper
	if err := e.storeParams(params); err != nil {
		return err
	}
	e.emit(NewParamsUpdatedEvent("keeper", keeper.Hex()))
	return nil
}

// SetPaused blocks or unblocks tenant and landlord entry points.
func (e *Engine) SetPaused(caller crypto.Address, paused bool) error {
	if _, err := e.adminParams(caller); err != nil {
		return err
	}
	if err := e.state.SetPaused(ModuleName, paused); err != nil {
		return err
	}
	e.emit(NewParamsUpdatedEvent("paused", strconv.FormatBool(paused)))
	return nil
}

// MigrateYieldVenue moves all pooled custody to the named venue.
func (e *Engine) MigrateYieldVenue(caller crypto.Address, venue string) error {
	if _, err := e.adminParams(caller); err != nil {
		return err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	migration, err := e.ledger.Migrate(ModuleAddress(), venue)
	if err != nil {
		return err
	}
	e.emit(NewPoolMigratedEvent(migration))
	return nil
}

// EmergencyDrain pulls all custody out of the venue to the recipient (the
// admin when zero) and pauses the registry. It returns the amount sent.
func (e *Engine) EmergencyDrain(caller, to crypto.Address) (*big.Int, error) {
	if _, err := e.adminParams(caller); err != nil {
		return nil, err
	}
	release, err := e.guard.Enter()
	if err != nil {
		return nil, err
	}
	defer release()
	if to == crypto.ZeroAddress {
		to = caller
	}
	if err := e.state.SetPaused(ModuleName, true); err != nil {
		return nil, err
	}
	amount, err := e.ledger.EmergencyDrain(ModuleAddress(), to)
	if err != nil {
		return nil, err
	}
	e.emit(NewPoolDrainedEvent(to.Hex(), amount.String()))
	return amount, nil
}
