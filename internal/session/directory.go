package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/inferpay/inferpay/internal/acknowledgment"
	"github.com/inferpay/inferpay/internal/address"
	"github.com/inferpay/inferpay/internal/broker"
	"github.com/inferpay/inferpay/internal/infra"
	"github.com/inferpay/inferpay/internal/inference"
	"github.com/inferpay/inferpay/internal/journal"
	"github.com/inferpay/inferpay/internal/ledger"
	"github.com/inferpay/inferpay/internal/metrics"
	"github.com/inferpay/inferpay/internal/notification"
	"github.com/inferpay/inferpay/internal/registry"
	"github.com/inferpay/inferpay/internal/settle"
	"github.com/inferpay/inferpay/internal/subaccount"
)

// Deps are the shared collaborators every session is built from.
type Deps struct {
	Policy      subaccount.Policy
	SettleDelay time.Duration
	Cache       *infra.Cache
	ServiceTTL  time.Duration
	HTTPClient  *http.Client
	Journal     journal.Journal
	Notifier    notification.Notifier
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Hook        Hook
}

// Directory lazily builds one Session per connected wallet.
type Directory struct {
	connector broker.Connector
	deps      Deps

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewDirectory validates deps and returns an empty directory.
func NewDirectory(connector broker.Connector, deps Deps) (*Directory, error) {
	if deps.Policy.Seed == nil && deps.Policy.LowWater == nil {
		deps.Policy = subaccount.DefaultPolicy()
	}
	if err := deps.Policy.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Cache == nil {
		deps.Cache = infra.NewCache(nil, "", time.Minute)
	}
	return &Directory{connector: connector, deps: deps, sessions: make(map[string]*Session)}, nil
}

// Get returns the session for wallet, connecting it on first use. Address
// case does not matter.
func (d *Directory) Get(ctx context.Context, wallet string) (*Session, error) {
	key, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.sessions[key]; ok {
		return s, nil
	}

	b, err := d.connector.Connect(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("connect wallet %s: %w", address.Short(key), err)
	}
	s, err := d.build(b)
	if err != nil {
		return nil, err
	}
	d.sessions[key] = s
	d.deps.Logger.Info("session opened", slog.String("wallet", key))
	return s, nil
}

// Len returns the number of open sessions.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *Directory) build(b broker.Broker) (*Session, error) {
	settler := settle.New(d.deps.SettleDelay)
	logger := d.deps.Logger

	gw := ledger.NewGateway(b.Wallet, b.Ledger, ledger.Options{
		Settler:  settler,
		Journal:  d.deps.Journal,
		Notifier: d.deps.Notifier,
		Metrics:  d.deps.Metrics,
		Logger:   logger,
	})
	accounts, err := subaccount.NewManager(b, gw, d.deps.Policy, subaccount.Options{
		Settler:  settler,
		Journal:  d.deps.Journal,
		Notifier: d.deps.Notifier,
		Metrics:  d.deps.Metrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	reg := registry.New(b, registry.Options{Cache: d.deps.Cache, TTL: d.deps.ServiceTTL, Metrics: d.deps.Metrics, Logger: logger})
	gate := acknowledgment.New(b, acknowledgment.Options{Cache: d.deps.Cache, Journal: d.deps.Journal, Logger: logger})
	client := inference.NewClient(b.Inference, inference.Options{HTTPClient: d.deps.HTTPClient, Metrics: d.deps.Metrics, Logger: logger})

	return &Session{
		Wallet:       b.Wallet,
		Ledger:       gw,
		SubAccounts:  accounts,
		Registry:     reg,
		Gate:         gate,
		Client:       client,
		Orchestrator: NewOrchestrator(gate, accounts, client, d.deps.Metrics, logger.With(slog.String("wallet", b.Wallet)), d.deps.Hook),
	}, nil
}
