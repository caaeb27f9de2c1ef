// Package keeper settles positions whose release time has passed, either on
// a Nodit webhook delivery or from a periodic scan.
package keeper

import (
	"context"
	"errors"
	"log/slog"

	"dework/crypto"
	"dework/native/deposit"
	"dework/observability/logging"
	"dework/observability/metrics"
)

const (
	SourceWebhook = "webhook"
	SourceScan    = "scan"
)

// Settler is the slice of the node the keeper drives.
type Settler interface {
	SettleIfDue(caller crypto.Address, id uint64) (*deposit.Settlement, error)
	DuePositions() ([]uint64, error)
}

// Outcome reports what happened to one position id.
type Outcome struct {
	ID       uint64 `json:"id"`
	Status   string `json:"status"`
	Path     string `json:"path,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
	Landlord string `json:"landlordAmount,omitempty"`
	Tenant   string `json:"tenantAmount,omitempty"`
}

// Keeper holds what the webhook handler and scanner share.
type Keeper struct {
	node    Settler
	address crypto.Address
	logger  *slog.Logger
	metrics *metrics.KeeperMetrics
}

// New builds a keeper acting as address.
func New(node Settler, address crypto.Address, logger *slog.Logger) (*Keeper, error) {
	if node == nil {
		return nil, errors.New("keeper: node required")
	}
	if address == crypto.ZeroAddress {
		return nil, errors.New("keeper: address required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		node:    node,
		address: address,
		logger:  logging.Component(logger, "keeper"),
		metrics: metrics.Keeper(),
	}, nil
}

// Address returns the caller identity used for settlements.
func (k *Keeper) Address() crypto.Address { return k.address }

// Settle attempts one scheduled release. Guard failures are reported in the
// outcome and leave the position untouched.
func (k *Keeper) Settle(source string, id uint64) Outcome {
	settlement, err := k.node.SettleIfDue(k.address, id)
	if err != nil {
		kind := deposit.Classify(err)
		k.metrics.IncFailure(source, string(kind))
		level := slog.LevelDebug
		if kind == deposit.KindInternal {
			level = slog.LevelError
		}
		k.logger.Log(context.Background(), level, "settlement skipped",
			slog.String("source", source),
			slog.Uint64("position", id),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		return Outcome{ID: id, Status: "rejected", Kind: string(kind), Error: err.Error()}
	}
	k.metrics.IncSettled(source)
	k.logger.Info("position released",
		slog.String("source", source),
		slog.Uint64("position", id),
		slog.String("landlord_amount", settlement.LandlordAmount.String()),
	)
	return Outcome{
		ID:       id,
		Status:   "settled",
		Path:     string(settlement.Path),
		Landlord: settlement.LandlordAmount.String(),
		Tenant:   settlement.TenantAmount.String(),
	}
}
