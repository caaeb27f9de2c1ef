package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"dework/core/types"
	"dework/native/deposit"
	"dework/observability/logging"
)

const (
	defaultIndexBatch    = 200
	defaultIndexInterval = 5 * time.Second
)

// EventSource is the node's durable, sequence ordered event log.
type EventSource interface {
	EventsAfter(after uint64, limit int) ([]*types.Event, error)
}

// Indexer mirrors the node event log into the store. The store's highest
// audit sequence is the cursor, so a restart or a failed write resumes where
// indexing stopped.
type Indexer struct {
	store    *Store
	source   EventSource
	logger   *slog.Logger
	batch    int
	interval time.Duration
}

func NewIndexer(store *Store, source EventSource, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    store,
		source:   source,
		logger:   logging.Component(logger, "indexer"),
		batch:    defaultIndexBatch,
		interval: defaultIndexInterval,
	}
}

// Run catches up with the event log on start, whenever wake delivers and on a
// fixed interval, until ctx is done. wake only signals new commits; missed
// deliveries are recovered from the log.
func (i *Indexer) Run(ctx context.Context, wake <-chan *types.Event) error {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()
	for {
		if err := i.CatchUp(ctx); err != nil && ctx.Err() == nil {
			i.logger.Error("index catch-up failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
				continue
			}
			drainPending(wake)
		}
	}
}

func drainPending(wake <-chan *types.Event) {
	for {
		select {
		case _, ok := <-wake:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// CatchUp indexes every logged event after the store's cursor, in order. It
// stops at the first failure so no sequence is skipped.
func (i *Indexer) CatchUp(ctx context.Context) error {
	if i.source == nil {
		return errors.New("indexer: no event source")
	}
	cursor, err := i.store.LastSequence(ctx)
	if err != nil {
		return err
	}
	for ctx.Err() == nil {
		batch, err := i.source.EventsAfter(cursor, i.batch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		for _, evt := range batch {
			if err := i.Index(ctx, evt); err != nil {
				return err
			}
			cursor = evt.Sequence
		}
	}
	return ctx.Err()
}

// Index writes the audit entry for evt and, for settlements, its receipt.
func (i *Indexer) Index(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	occurred := time.Unix(evt.Timestamp, 0).UTC()
	entry := &AuditEntry{
		Sequence:   evt.Sequence,
		Type:       evt.Type,
		Attributes: string(attrs),
		OccurredAt: occurred,
	}
	if id, err := strconv.ParseUint(evt.Attributes["id"], 10, 64); err == nil {
		entry.PositionID = &id
	}
	if evt.Type != deposit.EventTypeSettled || entry.PositionID == nil {
		return i.store.Record(ctx, entry, nil)
	}
	settledAt := occurred
	if raw, err := strconv.ParseInt(evt.Attributes["settledAt"], 10, 64); err == nil {
		settledAt = time.Unix(raw, 0).UTC()
	}
	return i.store.Record(ctx, entry, &Receipt{
		PositionID:     *entry.PositionID,
		Sequence:       evt.Sequence,
		Path:           evt.Attributes["path"],
		Tenant:         evt.Attributes["tenant"],
		Landlord:       evt.Attributes["landlord"],
		Principal:      evt.Attributes["principal"],
		Value:          evt.Attributes["value"],
		Fee:            evt.Attributes["fee"],
		TenantAmount:   evt.Attributes["tenantAmount"],
		LandlordAmount: evt.Attributes["landlordAmount"],
		SettledAt:      settledAt,
	})
}
