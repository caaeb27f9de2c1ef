package deposit

import (
	"strconv"

	"dework/core/types"
	"dework/native/pool"
)

const (
	EventTypeOpened          = "deposit.opened"
	EventTypeDisputed        = "deposit.disputed"
	EventTypeSettled         = "deposit.settled"
	EventTypeShareUpdated    = "deposit.share_updated"
	EventTypeMetadataUpdated = "deposit.metadata_updated"
	EventTypePoolMigrated    = "pool.migrated"
	EventTypePoolDrained     = "pool.drained"
	EventTypeParamsUpdated   = "params.updated"
)

type depositEvent struct {
	evt *types.Event
}

func (e depositEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e depositEvent) Event() *types.Event { return e.evt }

func positionAttrs(p *Position) map[string]string {
	attrs := make(map[string]string)
	if p == nil {
		return attrs
	}
	attrs["id"] = strconv.FormatUint(p.ID, 10)
	attrs["tenant"] = p.Tenant.Hex()
	attrs["landlord"] = p.Landlord.Hex()
	attrs["principal"] = p.Principal.String()
	attrs["interestSharePercent"] = strconv.FormatUint(uint64(p.InterestSharePercent), 10)
	attrs["status"] = p.Status()
	return attrs
}

// NewOpenedEvent is emitted when a position is recorded.
func NewOpenedEvent(p *Position) *types.Event {
	attrs := positionAttrs(p)
	attrs["endTime"] = strconv.FormatUint(p.EndTime, 10)
	attrs["releaseTime"] = strconv.FormatUint(p.ReleaseTime, 10)
	attrs["verified"] = strconv.FormatBool(p.VerifiedAtCreation)
	return &types.Event{Type: EventTypeOpened, Attributes: attrs}
}

func NewDisputedEvent(p *Position) *types.Event {
	return &types.Event{Type: EventTypeDisputed, Attributes: positionAttrs(p)}
}

// NewSettledEvent carries the full distribution of a settlement.
func NewSettledEvent(p *Position, s *Settlement) *types.Event {
	attrs := positionAttrs(p)
	attrs["path"] = string(s.Path)
	attrs["value"] = s.Value.String()
	attrs["fee"] = s.Fee.String()
	attrs["tenantAmount"] = s.TenantAmount.String()
	attrs["landlordAmount"] = s.LandlordAmount.String()
	attrs["settledAt"] = strconv.FormatUint(s.SettledAt, 10)
	return &types.Event{Type: EventTypeSettled, Attributes: attrs}
}

func NewShareUpdatedEvent(p *Position, previous uint8) *types.Event {
	attrs := positionAttrs(p)
	attrs["previousSharePercent"] = strconv.FormatUint(uint64(previous), 10)
	return &types.Event{Type: EventTypeShareUpdated, Attributes: attrs}
}

func NewMetadataUpdatedEvent(p *Position) *types.Event {
	attrs := positionAttrs(p)
	attrs["metadataURI"] = p.MetadataURI
	return &types.Event{Type: EventTypeMetadataUpdated, Attributes: attrs}
}

func NewPoolMigratedEvent(m *pool.Migration) *types.Event {
	return &types.Event{Type: EventTypePoolMigrated, Attributes: map[string]string{
		"from":   m.From,
		"to":     m.To,
		"amount": m.Amount.String(),
	}}
}

func NewPoolDrainedEvent(to string, amount string) *types.Event {
	return &types.Event{Type: EventTypePoolDrained, Attributes: map[string]string{
		"recipient": to,
		"amount":    amount,
	}}
}

// NewParamsUpdatedEvent reports a single admin change.
func NewParamsUpdatedEvent(field, value string) *types.Event {
	return &types.Event{Type: EventTypeParamsUpdated, Attributes: map[string]string{
		"field": field,
		"value": value,
	}}
}
