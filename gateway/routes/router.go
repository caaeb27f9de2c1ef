package routes

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dework/core/types"
	"dework/crypto"
	"dework/gateway/auth"
	"dework/gateway/middleware"
	"dework/native/deposit"
	"dework/native/pool"
	"dework/observability/logging"
	"dework/store"
)

// Node is the slice of core.Node served over HTTP.
type Node interface {
	Open(ctx context.Context, req deposit.OpenRequest) (*deposit.Position, error)
	NormalEnd(caller crypto.Address, id uint64) (*deposit.Settlement, error)
	SettleIfDue(caller crypto.Address, id uint64) (*deposit.Settlement, error)
	TerminateEarly(caller crypto.Address, id uint64) (*deposit.Settlement, error)
	ResolveDispute(caller crypto.Address, id uint64, favorTenant bool) (*deposit.Settlement, error)
	RaiseDispute(caller crypto.Address, id uint64) (*deposit.Position, error)
	UpdateInterestShare(caller crypto.Address, id uint64, percent uint8) (*deposit.Position, error)
	UpdateMetadata(caller crypto.Address, id uint64, uri string) (*deposit.Position, error)

	SetPlatformFeePercent(caller crypto.Address, percent uint8) error
	SetDisputeWindow(caller crypto.Address, seconds uint64) error
	SetIdentityRequired(caller crypto.Address, required bool) error
	SetTreasury(caller, treasury crypto.Address) error
	SetKeeper(caller, keeper crypto.Address) error
	SetPaused(caller crypto.Address, paused bool) error
	MigrateYieldVenue(caller crypto.Address, venue string) error
	EmergencyDrain(caller, to crypto.Address) (*big.Int, error)

	Approve(owner, spender crypto.Address, amount *big.Int) error
	Faucet(to crypto.Address, amount *big.Int) error

	Position(id uint64) (*deposit.Position, error)
	CurrentValue(id uint64) (*big.Int, error)
	ActivePositions() ([]*deposit.Position, error)
	Params() (*deposit.Params, error)
	Paused() (bool, error)
	PoolSnapshot() (*pool.Snapshot, error)
	BalanceOf(addr crypto.Address) (*big.Int, error)
	Allowance(owner, spender crypto.Address) (*big.Int, error)
	Symbol() string
	Subscribe(buffer int) (<-chan *types.Event, func())
}

// Rate limit keys.
const (
	LimitPositions = "positions"
	LimitToken     = "token"
	LimitAdmin     = "admin"
	LimitHooks     = "hooks"
	LimitEvents    = "events"
)

type Config struct {
	Node          Node
	Store         *store.Store
	KeeperHook    http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
	EnableFaucet  bool
	// Revocations enables POST /v1/auth/revoke.
	Revocations auth.Revocations
}

type api struct {
	node   Node
	store  *store.Store
	logger *slog.Logger
	idemMu sync.Mutex
	wsOrig []string
	revoke auth.Revocations
}

// New builds the gateway router.
func New(cfg Config) (http.Handler, error) {
	if cfg.Node == nil {
		return nil, errors.New("routes: node required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("routes: authenticator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &api{
		node:   cfg.Node,
		store:  cfg.Store,
		logger: logging.Component(logger, "gateway"),
		wsOrig: cfg.CORS.AllowedOrigins,
		revoke: cfg.Revocations,
	}
	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return passthrough
		}
		return cfg.RateLimiter.Middleware(key)
	}
	observe := func(module string) func(http.Handler) http.Handler {
		if cfg.Observability == nil {
			return passthrough
		}
		return cfg.Observability.Middleware(module)
	}
	authn := cfg.Authenticator

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	if cfg.KeeperHook != nil {
		r.With(limit(LimitHooks), observe("keeper")).Post("/hooks/nodit", cfg.KeeperHook.ServeHTTP)
	}
	r.With(limit(LimitEvents)).Get("/ws/events", a.streamEvents)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(pub chi.Router) {
			pub.Use(limit(LimitPositions), observe("public"))
			pub.Get("/pool", a.poolSnapshot)
			pub.Get("/params", a.params)
			pub.Get("/positions/{id}", a.getPosition)
			pub.Get("/positions/{id}/value", a.positionValue)
			pub.Get("/token/balance/{addr}", a.balance)
		})
		v1.Group(func(priv chi.Router) {
			priv.Use(authn.Middleware(), limit(LimitPositions), observe("positions"))
			priv.Get("/positions", a.listPositions)
			priv.Post("/positions", a.openPosition)
			priv.Post("/positions/{id}/end", a.normalEnd)
			priv.Post("/positions/{id}/release", a.release)
			priv.Post("/positions/{id}/dispute", a.raiseDispute)
			priv.Post("/positions/{id}/terminate", a.terminateEarly)
			priv.Post("/positions/{id}/resolve", a.resolveDispute)
			priv.Post("/positions/{id}/share", a.updateShare)
			priv.Post("/positions/{id}/metadata", a.updateMetadata)
			priv.Get("/receipts", a.receipts)
		})
		v1.Group(func(tok chi.Router) {
			tok.Use(authn.Middleware(), limit(LimitToken), observe("token"))
			tok.Post("/token/approve", a.approve)
			if cfg.EnableFaucet {
				tok.Post("/token/faucet", a.faucet)
			}
			if cfg.Revocations != nil {
				tok.Post("/auth/revoke", a.revokeToken)
			}
		})
		v1.Route("/admin", func(adm chi.Router) {
			adm.Use(authn.Middleware(auth.ScopeAdmin), limit(LimitAdmin), observe("admin"))
			adm.Put("/params/fee", a.setFee)
			adm.Put("/params/dispute-window", a.setDisputeWindow)
			adm.Put("/params/identity", a.setIdentityRequired)
			adm.Put("/params/treasury", a.setTreasury)
			adm.Put("/params/keeper", a.setKeeper)
			adm.Post("/venue/migrate", a.migrateVenue)
			adm.Post("/drain", a.drain)
			adm.Post("/pause", a.setPaused)
		})
	})
	return r, nil
}

func passthrough(next http.Handler) http.Handler { return next }

// caller returns the authenticated address. Routes behind the authenticator
// always have one.
func caller(r *http.Request) crypto.Address {
	principal, _ := middleware.PrincipalFrom(r.Context())
	return principal.Address
}
