package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"dework/core/events"
	"dework/core/genesis"
	"dework/core/state"
	"dework/core/types"
	"dework/crypto"
	"dework/native/deposit"
	"dework/native/pool"
	"dework/native/positiontoken"
	"dework/native/token"
	"dework/native/yield"
	"dework/observability"
	"dework/observability/logging"
	"dework/storage"
)

// ErrFaucetDisabled is returned by Faucet unless the node was built with one.
var ErrFaucetDisabled = errors.New("node: faucet disabled")

// Node is the central controller, wiring all components together. Every
// operation runs under one mutex inside one state transaction, so operations
// are totally ordered and all-or-nothing. Events are buffered while the
// transaction is open and published only after it commits.
type Node struct {
	mu sync.Mutex

	db        storage.Database
	manager   *state.Manager
	token     *token.Engine
	positions *positiontoken.Engine
	venues    *yield.Registry
	ledger    *pool.Ledger
	deposit   *deposit.Engine

	buffer      *events.Buffer
	broadcaster *events.Broadcaster
	nowFn       func() int64
	logger      *slog.Logger
	metrics     *observability.DepositMetrics
	faucetLimit *big.Int

	current *state.Tx
}

// Option customises a node at construction.
type Option func(*Node)

// WithClock overrides the unix-seconds time source shared by every engine.
func WithClock(now func() int64) Option {
	return func(n *Node) {
		if now != nil {
			n.nowFn = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

func WithIdentityGate(gate deposit.IdentityGate) Option {
	return func(n *Node) { n.deposit.SetIdentityGate(gate) }
}

func WithCreditOracle(oracle deposit.CreditOracle) Option {
	return func(n *Node) { n.deposit.SetCreditOracle(oracle) }
}

// WithBroadcaster shares an existing broadcaster instead of creating one.
func WithBroadcaster(b *events.Broadcaster) Option {
	return func(n *Node) {
		if b != nil {
			n.broadcaster = b
		}
	}
}

// WithMetrics records prometheus module metrics for committed operations.
func WithMetrics() Option {
	return func(n *Node) { n.metrics = observability.Deposit() }
}

// WithFaucet enables Faucet for development networks, capping each call.
func WithFaucet(limit *big.Int) Option {
	return func(n *Node) {
		if limit != nil && limit.Sign() > 0 {
			n.faucetLimit = new(big.Int).Set(limit)
		}
	}
}

// NewNode wires the engines over db and applies genesis on first start.
func NewNode(db storage.Database, spec *genesis.GenesisSpec, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		db:          db,
		manager:     state.NewManager(db),
		buffer:      &events.Buffer{},
		broadcaster: events.NewBroadcaster(),
		nowFn:       func() int64 { return time.Now().Unix() },
		logger:      logging.Discard(),
	}
	n.token = token.NewEngine(spec.Token.Symbol)
	n.positions = positiontoken.NewEngine()
	n.venues = yield.NewRegistry(n.token)
	n.ledger = pool.NewLedger(n.token, n.venues, deposit.ModuleAddress())
	n.deposit = deposit.NewEngine(n.token, n.positions, n.ledger)
	n.deposit.SetEmitter(n.buffer)

	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	n.logger = logging.Component(n.logger, "node")
	n.venues.SetNowFunc(n.nowFn)
	n.deposit.SetNowFunc(n.nowFn)

	if err := genesis.BuildVenues(spec, n.venues); err != nil {
		return nil, err
	}
	var applied bool
	err := n.execute("genesis", func() error {
		var err error
		applied, err = genesis.Apply(spec, n.tx(), genesis.Modules{
			Token:   n.token,
			Venues:  n.venues,
			Ledger:  n.ledger,
			Deposit: n.deposit,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		n.logger.Info("genesis applied", slog.String("venue", spec.Venue), slog.String("symbol", n.token.Symbol()))
	}
	return n, nil
}

// Close releases the database.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.db.Close()
}

// Broadcaster exposes the committed event stream.
func (n *Node) Broadcaster() *events.Broadcaster { return n.broadcaster }

// Subscribe registers for committed events.
func (n *Node) Subscribe(buffer int) (<-chan *types.Event, func()) {
	return n.broadcaster.Subscribe(buffer)
}

// EventsAfter reads up to limit committed events with sequence greater than
// after from the durable event log, oldest first.
func (n *Node) EventsAfter(after uint64, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []*types.Event
	err := n.view(func() error {
		var err error
		out, err = n.tx().EventsAfter(after, limit)
		return err
	})
	return out, err
}

// EventHead returns the sequence of the newest committed event.
func (n *Node) EventHead() (uint64, error) {
	var head uint64
	err := n.view(func() error {
		var err error
		head, err = n.tx().EventHead()
		return err
	})
	return head, err
}

// Now returns the node clock in unix seconds.
func (n *Node) Now() int64 { return n.nowFn() }

// Symbol is the deposit token ticker.
func (n *Node) Symbol() string { return n.token.Symbol() }

// VenueNames lists the configured yield venues.
func (n *Node) VenueNames() []string { return n.venues.Names() }

// tx returns the transaction bound by execute or view. Only valid while the
// node mutex is held.
func (n *Node) tx() *state.Tx { return n.current }

func (n *Node) bind(tx *state.Tx) {
	n.current = tx
	n.token.SetState(tx)
	n.positions.SetState(tx)
	n.venues.SetState(tx)
	n.ledger.SetState(tx)
	n.deposit.SetState(tx)
}

// execute runs fn inside a write transaction. On error every staged write and
// buffered event is dropped.
func (n *Node) execute(op string, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	tx, err := n.manager.Begin()
	if err != nil {
		return err
	}
	n.bind(tx)
	if err := fn(); err != nil {
		tx.Discard()
		n.buffer.Reset()
		n.recordRejection(op, err)
		return err
	}
	pending := n.buffer.Drain()
	now := n.nowFn()
	for _, evt := range pending {
		evt.Timestamp = now
		if err := tx.AppendEvent(evt); err != nil {
			tx.Discard()
			n.logger.Error("event log append failed", slog.String("op", op), slog.Any("error", err))
			return fmt.Errorf("log %s events: %w", op, err)
		}
	}
	n.observePool()
	if err := tx.Commit(); err != nil {
		n.logger.Error("commit failed", slog.String("op", op), slog.Any("error", err))
		return fmt.Errorf("commit %s: %w", op, err)
	}
	n.publish(op, pending)
	return nil
}

// view runs fn against a read-only snapshot.
func (n *Node) view(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	tx := n.manager.View()
	defer tx.Discard()
	n.bind(tx)
	return fn()
}

func (n *Node) publish(op string, pending []*types.Event) {
	if len(pending) == 0 {
		return
	}
	for _, evt := range pending {
		observability.Events().RecordEvent(evt.Type)
		if n.metrics != nil {
			switch evt.Type {
			case deposit.EventTypeOpened:
				n.metrics.RecordOpen()
			case deposit.EventTypeSettled:
				n.metrics.RecordSettlement(evt.Attributes["path"])
			}
		}
	}
	n.broadcaster.Publish(pending...)
	observability.Events().SetDropped(n.broadcaster.Dropped())
	n.logger.Debug("committed", slog.String("op", op), slog.Int("events", len(pending)))
}

func (n *Node) recordRejection(op string, err error) {
	kind := deposit.Classify(err)
	if kind == deposit.KindInternal {
		n.logger.Warn("operation failed", slog.String("op", op), slog.Any("error", err))
	}
	if n.metrics == nil {
		return
	}
	if errors.Is(err, deposit.ErrReentrantCall) {
		n.metrics.RecordReentrancy()
	}
	n.metrics.RecordRejection(op, string(kind))
}

func (n *Node) observePool() {
	if n.metrics == nil {
		return
	}
	snap, err := n.ledger.Snapshot()
	if err != nil {
		return
	}
	active, err := n.deposit.ActivePositions()
	if err != nil {
		return
	}
	n.metrics.RecordPool(snap.TotalValue, snap.TotalNominal, len(active))
	n.metrics.SetPause(n.tx().IsPaused(deposit.ModuleName))
}

// --- Position registry ---

// Open screens the tenant with the identity gate and credit oracle before
// taking the node lock, then opens the position against that snapshot.
func (n *Node) Open(ctx context.Context, req deposit.OpenRequest) (*deposit.Position, error) {
	screening := n.deposit.Screen(ctx, req.Tenant)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var pos *deposit.Position
	err := n.execute("open", func() error {
		var err error
		pos, err = n.deposit.OpenScreened(req, screening)
		return err
	})
	return pos, err
}

func (n *Node) settle(op string, fn func() (*deposit.Settlement, error)) (*deposit.Settlement, error) {
	var s *deposit.Settlement
	err := n.execute(op, func() error {
		var err error
		s, err = fn()
		return err
	})
	return s, err
}

func (n *Node) NormalEnd(caller crypto.Address, id uint64) (*deposit.Settlement, error) {
	return n.settle("normal_end", func() (*deposit.Settlement, error) { return n.deposit.NormalEnd(caller, id) })
}

func (n *Node) SettleIfDue(caller crypto.Address, id uint64) (*deposit.Settlement, error) {
	return n.settle("settle_if_due", func() (*deposit.Settlement, error) { return n.deposit.SettleIfDue(caller, id) })
}

func (n *Node) TerminateEarly(caller crypto.Address, id uint64) (*deposit.Settlement, error) {
	return n.settle("terminate_early", func() (*deposit.Settlement, error) { return n.deposit.TerminateEarly(caller, id) })
}

func (n *Node) ResolveDispute(caller crypto.Address, id uint64, favorTenant bool) (*deposit.Settlement, error) {
	return n.settle("resolve_dispute", func() (*deposit.Settlement, error) {
		return n.deposit.ResolveDispute(caller, id, favorTenant)
	})
}

func (n *Node) mutate(op string, fn func() (*deposit.Position, error)) (*deposit.Position, error) {
	var pos *deposit.Position
	err := n.execute(op, func() error {
		var err error
		pos, err = fn()
		return err
	})
	return pos, err
}

func (n *Node) RaiseDispute(caller crypto.Address, id uint64) (*deposit.Position, error) {
	return n.mutate("raise_dispute", func() (*deposit.Position, error) { return n.deposit.RaiseDispute(caller, id) })
}

func (n *Node) UpdateInterestShare(caller crypto.Address, id uint64, percent uint8) (*deposit.Position, error) {
	return n.mutate("update_share", func() (*deposit.Position, error) {
		return n.deposit.UpdateInterestShare(caller, id, percent)
	})
}

func (n *Node) UpdateMetadata(caller crypto.Address, id uint64, uri string) (*deposit.Position, error) {
	return n.mutate("update_metadata", func() (*deposit.Position, error) {
		return n.deposit.UpdateMetadata(caller, id, uri)
	})
}

// --- Admin ---

func (n *Node) SetPlatformFeePercent(caller crypto.Address, percent uint8) error {
	return n.execute("set_fee", func() error { return n.deposit.SetPlatformFeePercent(caller, percent) })
}

func (n *Node) SetDisputeWindow(caller crypto.Address, seconds uint64) error {
	return n.execute("set_dispute_window", func() error { return n.deposit.SetDisputeWindow(caller, seconds) })
}

func (n *Node) SetIdentityRequired(caller crypto.Address, required bool) error {
	return n.execute("set_identity_required", func() error { return n.deposit.SetIdentityRequired(caller, required) })
}

func (n *Node) SetTreasury(caller, treasury crypto.Address) error {
	return n.execute("set_treasury", func() error { return n.deposit.SetTreasury(caller, treasury) })
}

func (n *Node) SetKeeper(caller, keeper crypto.Address) error {
	return n.execute("set_keeper", func() error { return n.deposit.SetKeeper(caller, keeper) })
}

func (n *Node) SetPaused(caller crypto.Address, paused bool) error {
	return n.execute("set_paused", func() error { return n.deposit.SetPaused(caller, paused) })
}

func (n *Node) MigrateYieldVenue(caller crypto.Address, venue string) error {
	return n.execute("migrate_venue", func() error { return n.deposit.MigrateYieldVenue(caller, venue) })
}

func (n *Node) EmergencyDrain(caller, to crypto.Address) (*big.Int, error) {
	var amount *big.Int
	err := n.execute("emergency_drain", func() error {
		var err error
		amount, err = n.deposit.EmergencyDrain(caller, to)
		return err
	})
	return amount, err
}

// --- Token ---

// Approve sets owner's allowance for spender.
func (n *Node) Approve(owner, spender crypto.Address, amount *big.Int) error {
	return n.execute("approve", func() error { return n.token.Approve(owner, spender, amount) })
}

// Faucet mints up to the configured limit to addr.
func (n *Node) Faucet(to crypto.Address, amount *big.Int) error {
	if n.faucetLimit == nil {
		return ErrFaucetDisabled
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(n.faucetLimit) > 0 {
		return fmt.Errorf("%w: faucet amount must be between 1 and %s", token.ErrInvalidAmount, n.faucetLimit)
	}
	return n.execute("faucet", func() error { return n.token.Mint(to, amount) })
}

// --- Queries ---

func (n *Node) Position(id uint64) (*deposit.Position, error) {
	var pos *deposit.Position
	err := n.view(func() error {
		var err error
		pos, err = n.deposit.Position(id)
		return err
	})
	return pos, err
}

func (n *Node) CurrentValue(id uint64) (*big.Int, error) {
	var value *big.Int
	err := n.view(func() error {
		var err error
		value, err = n.deposit.CurrentValue(id)
		return err
	})
	return value, err
}

func (n *Node) ActivePositions() ([]*deposit.Position, error) {
	var out []*deposit.Position
	err := n.view(func() error {
		var err error
		out, err = n.deposit.ActivePositions()
		return err
	})
	return out, err
}

// DuePositions lists ids the keeper may settle at the node's current time.
func (n *Node) DuePositions() ([]uint64, error) {
	var ids []uint64
	err := n.view(func() error {
		var err error
		ids, err = n.deposit.DuePositions(n.nowFn())
		return err
	})
	return ids, err
}

func (n *Node) Params() (*deposit.Params, error) {
	var params *deposit.Params
	err := n.view(func() error {
		var err error
		params, err = n.deposit.Params()
		return err
	})
	return params, err
}

func (n *Node) Paused() (bool, error) {
	var paused bool
	err := n.view(func() error {
		paused = n.tx().IsPaused(deposit.ModuleName)
		return nil
	})
	return paused, err
}

func (n *Node) PoolSnapshot() (*pool.Snapshot, error) {
	var snap *pool.Snapshot
	err := n.view(func() error {
		var err error
		snap, err = n.ledger.Snapshot()
		return err
	})
	return snap, err
}

func (n *Node) BalanceOf(addr crypto.Address) (*big.Int, error) {
	var bal *big.Int
	err := n.view(func() error {
		var err error
		bal, err = n.token.BalanceOf(addr)
		return err
	})
	return bal, err
}

func (n *Node) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	var allowance *big.Int
	err := n.view(func() error {
		var err error
		allowance, err = n.token.Allowance(owner, spender)
		return err
	})
	return allowance, err
}
