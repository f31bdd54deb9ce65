package subaccount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/inferpay/inferpay/internal/broker"
	"github.com/inferpay/inferpay/internal/errs"
	"github.com/inferpay/inferpay/internal/journal"
	"github.com/inferpay/inferpay/internal/ledger"
	"github.com/inferpay/inferpay/internal/metrics"
	"github.com/inferpay/inferpay/internal/notification"
	"github.com/inferpay/inferpay/internal/settle"
	"github.com/inferpay/inferpay/internal/units"
)

// Default funding policy: seed and top up with 0.5 units once the balance
// falls to 0.2 units or below.
var (
	DefaultSeed     = units.MustParse("0.5")
	DefaultLowWater = units.MustParse("0.2")
)

// Transfer labels used for metrics and journaling.
const (
	TransferSeed  = "seed"
	TransferTopUp = "topup"
)

// Policy fixes the seed/top-up amount S and the low-water threshold T.
type Policy struct {
	Seed     *big.Int
	LowWater *big.Int
}

// DefaultPolicy returns the default funding policy.
func DefaultPolicy() Policy {
	return Policy{Seed: new(big.Int).Set(DefaultSeed), LowWater: new(big.Int).Set(DefaultLowWater)}
}

// Validate requires 0 <= T < S.
func (p Policy) Validate() error {
	if p.Seed == nil || p.Seed.Sign() <= 0 {
		return fmt.Errorf("sub-account seed must be positive")
	}
	if p.LowWater == nil || p.LowWater.Sign() < 0 {
		return fmt.Errorf("sub-account low-water threshold must not be negative")
	}
	if p.LowWater.Cmp(p.Seed) >= 0 {
		return fmt.Errorf("sub-account low-water threshold %s must be below seed %s",
			units.Format(p.LowWater), units.Format(p.Seed))
	}
	return nil
}

// Funds reports the ledger balance transfers are drawn from.
type Funds interface {
	Query(ctx context.Context) (ledger.Balance, error)
}

// Options carries the optional collaborators of a Manager.
type Options struct {
	Settler  settle.Settler
	Journal  journal.Journal
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Manager keeps per-provider sub-accounts of one wallet funded. Calls for
// the same provider must be serialised by the caller.
type Manager struct {
	wallet    string
	ledger    broker.LedgerCapability
	inference broker.InferenceCapability
	funds     Funds
	policy    Policy
	settler   settle.Settler
	journal   journal.Journal
	notifier  notification.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewManager builds a manager for the wallet bound to b.
func NewManager(b broker.Broker, funds Funds, policy Policy, opts Options) (*Manager, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		wallet:    b.Wallet,
		ledger:    b.Ledger,
		inference: b.Inference,
		funds:     funds,
		policy:    policy,
		settler:   opts.Settler,
		journal:   opts.Journal,
		notifier:  opts.Notifier,
		metrics:   opts.Metrics,
		logger:    logger.With(slog.String("wallet", b.Wallet)),
	}, nil
}

// Policy returns the funding policy in force.
func (m *Manager) Policy() Policy { return m.policy }

// Get returns the current sub-account for provider without funding it.
func (m *Manager) Get(ctx context.Context, provider string) (broker.SubAccount, error) {
	sub, err := m.inference.GetSubAccount(ctx, provider)
	if err != nil {
		return broker.SubAccount{}, errs.FromRemote("subaccount.get", provider, err)
	}
	return sub, nil
}

// EnsureFunded creates the provider sub-account with the seed amount when it
// does not exist, or tops it up by the seed amount when its balance is at or
// below the low-water threshold. The returned state is always read back from
// the remote side after a transfer.
func (m *Manager) EnsureFunded(ctx context.Context, provider string) (broker.SubAccount, error) {
	const op = "subaccount.ensure_funded"

	sub, err := m.inference.GetSubAccount(ctx, provider)
	var transfer string
	switch {
	case errors.Is(err, broker.ErrNotFound):
		transfer = TransferSeed
	case err != nil:
		return broker.SubAccount{}, errs.FromRemote(op, provider, err)
	case sub.Balance == nil || sub.Balance.Cmp(m.policy.LowWater) <= 0:
		transfer = TransferTopUp
	default:
		return sub, nil
	}

	if err := m.requireFunds(ctx, provider); err != nil {
		return broker.SubAccount{}, err
	}

	amount := new(big.Int).Set(m.policy.Seed)
	m.logger.Info("funding sub-account",
		slog.String("provider", provider),
		slog.String("transfer", transfer),
		slog.String("amount", units.Format(amount)),
	)
	err = m.ledger.TransferToSubAccount(ctx, provider, broker.TransferKindInference, amount)
	m.record(ctx, provider, transfer, amount, err)
	if err != nil {
		if errors.Is(err, broker.ErrInsufficientBalance) {
			return broker.SubAccount{}, &errs.Error{
				Kind: errs.KindInsufficientLedgerFunds, Op: op, Provider: provider,
				Remedy: errs.RemedyFundLedger, Err: err,
			}
		}
		return broker.SubAccount{}, errs.FromRemote(op, provider, err)
	}
	m.metrics.Transfer(transfer)

	if transfer == TransferTopUp && m.notifier != nil {
		msg := notification.Message{
			Kind:        notification.KindSubAccountToppedUp,
			Destination: m.wallet,
			Body:        fmt.Sprintf("sub-account for %s topped up with %s", provider, units.Format(amount)),
		}
		if nerr := m.notifier.Send(ctx, msg); nerr != nil {
			m.logger.Warn("notify top-up", slog.Any("error", nerr))
		}
	}

	if err := m.settler.Wait(ctx); err != nil {
		return broker.SubAccount{}, err
	}
	after, err := m.inference.GetSubAccount(ctx, provider)
	if errors.Is(err, broker.ErrNotFound) {
		return broker.SubAccount{}, &errs.Error{
			Kind: errs.KindRemoteFailure, Op: op, Provider: provider,
			Remedy: errs.RemedyRetryShortly, Err: err,
		}
	}
	if err != nil {
		return broker.SubAccount{}, errs.FromRemote(op, provider, err)
	}
	return after, nil
}

func (m *Manager) requireFunds(ctx context.Context, provider string) error {
	const op = "subaccount.require_funds"
	bal, err := m.funds.Query(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrLedgerNotFound) {
			return &errs.Error{
				Kind: errs.KindInsufficientLedgerFunds, Op: op, Provider: provider,
				Body: "no ledger", Remedy: errs.RemedyFundLedger, Err: err,
			}
		}
		return err
	}
	if bal.Available.Cmp(m.policy.Seed) < 0 {
		return &errs.Error{
			Kind:     errs.KindInsufficientLedgerFunds,
			Op:       op,
			Provider: provider,
			Body:     fmt.Sprintf("available %s, need %s", units.Format(bal.Available), units.Format(m.policy.Seed)),
			Remedy:   errs.RemedyFundLedger,
		}
	}
	return nil
}

func (m *Manager) record(ctx context.Context, provider, transfer string, amount *big.Int, callErr error) {
	if m.journal == nil {
		return
	}
	kind := journal.KindSubAccountSeed
	if transfer == TransferTopUp {
		kind = journal.KindSubAccountTopUp
	}
	entry := journal.Entry{Wallet: m.wallet, Provider: provider, Kind: kind, Amount: amount}
	if callErr != nil {
		entry.Status = journal.StatusFailed
		entry.Detail = callErr.Error()
	}
	if _, err := m.journal.Record(ctx, entry); err != nil {
		m.logger.Error("journal transfer", slog.String("kind", kind), slog.Any("error", err))
	}
}
