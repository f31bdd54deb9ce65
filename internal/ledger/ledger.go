package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/inferpay/inferpay/internal/broker"
	"github.com/inferpay/inferpay/internal/errs"
	"github.com/inferpay/inferpay/internal/journal"
	"github.com/inferpay/inferpay/internal/metrics"
	"github.com/inferpay/inferpay/internal/notification"
	"github.com/inferpay/inferpay/internal/settle"
	"github.com/inferpay/inferpay/internal/units"
)

// Balance is the ledger state of a wallet in the smallest currency unit.
type Balance struct {
	Total     *big.Int
	Locked    *big.Int
	Available *big.Int
}

// DeleteResult describes a completed ledger deletion.
type DeleteResult struct {
	// Forfeited is the available balance held at deletion time. Deleting a
	// ledger does not refund it.
	Forfeited *big.Int
	Warning   string
}

// Options carries the collaborators of a Gateway. Zero values are valid.
type Options struct {
	Settler  settle.Settler
	Journal  journal.Journal
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Gateway wraps the ledger capability of one wallet with unit conversion,
// error classification and journaling.
type Gateway struct {
	wallet   string
	ledger   broker.LedgerCapability
	settler  settle.Settler
	journal  journal.Journal
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewGateway binds a gateway to wallet's ledger capability.
func NewGateway(wallet string, capability broker.LedgerCapability, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		wallet:   wallet,
		ledger:   capability,
		settler:  opts.Settler,
		journal:  opts.Journal,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		logger:   logger.With(slog.String("wallet", wallet)),
	}
}

// Wallet returns the wallet the gateway is bound to.
func (g *Gateway) Wallet() string { return g.wallet }

// Create opens a ledger funded with amount whole units.
func (g *Gateway) Create(ctx context.Context, amount string) error {
	const op = "ledger.create"
	wei, err := parseAmount(op, amount)
	if err != nil {
		return err
	}
	err = g.ledger.CreateLedger(ctx, wei)
	g.after(ctx, "create", journal.KindLedgerCreate, wei, err)
	return classify(op, err)
}

// Deposit adds amount whole units to an existing ledger.
func (g *Gateway) Deposit(ctx context.Context, amount string) error {
	const op = "ledger.deposit"
	wei, err := parseAmount(op, amount)
	if err != nil {
		return err
	}
	err = g.ledger.DepositFund(ctx, wei)
	g.after(ctx, "deposit", journal.KindLedgerDeposit, wei, err)
	return classify(op, err)
}

// Withdraw refunds amount whole units from the available ledger balance.
func (g *Gateway) Withdraw(ctx context.Context, amount string) error {
	const op = "ledger.withdraw"
	wei, err := parseAmount(op, amount)
	if err != nil {
		return err
	}
	err = g.ledger.Refund(ctx, wei)
	g.after(ctx, "withdraw", journal.KindLedgerRefund, wei, err)
	return classify(op, err)
}

// Delete removes the ledger. A non-zero available balance does not block
// the deletion; it is reported back and a notification is emitted.
func (g *Gateway) Delete(ctx context.Context) (DeleteResult, error) {
	const op = "ledger.delete"
	bal, err := g.Query(ctx)
	if err != nil {
		return DeleteResult{}, err
	}

	result := DeleteResult{Forfeited: bal.Available}
	if bal.Available.Sign() > 0 {
		result.Warning = fmt.Sprintf("ledger still holds %s available; deleting does not refund it", units.Format(bal.Available))
		g.logger.Warn("deleting ledger with available funds", slog.String("available", units.Format(bal.Available)))
		if g.notifier != nil {
			msg := notification.Message{
				Kind:        notification.KindLedgerDeleteWithFunds,
				Destination: g.wallet,
				Body:        result.Warning,
			}
			if nerr := g.notifier.Send(ctx, msg); nerr != nil {
				g.logger.Warn("notify ledger delete", slog.Any("error", nerr))
			}
		}
	}

	err = g.ledger.DeleteLedger(ctx)
	g.after(ctx, "delete", journal.KindLedgerDelete, nil, err)
	if err != nil {
		return DeleteResult{}, classify(op, err)
	}
	return result, nil
}

// Query reads the current ledger state.
func (g *Gateway) Query(ctx context.Context) (Balance, error) {
	detail, err := g.ledger.GetLedgerDetail(ctx)
	if err != nil {
		return Balance{}, classify("ledger.query", err)
	}
	total := detail.Total
	if total == nil {
		total = new(big.Int)
	}
	locked := detail.Locked
	if locked == nil {
		locked = new(big.Int)
	}
	return Balance{Total: total, Locked: locked, Available: detail.Available()}, nil
}

// Reconcile waits for the remote state to settle and then queries it.
func (g *Gateway) Reconcile(ctx context.Context) (Balance, error) {
	if err := g.settler.Wait(ctx); err != nil {
		return Balance{}, err
	}
	return g.Query(ctx)
}

func (g *Gateway) after(ctx context.Context, op, kind string, amount *big.Int, callErr error) {
	g.metrics.LedgerMutation(op, callErr)
	if callErr != nil {
		g.logger.Warn("ledger mutation failed", slog.String("op", op), slog.Any("error", callErr))
	} else {
		g.logger.Info("ledger mutation submitted", slog.String("op", op))
	}
	if g.journal == nil {
		return
	}
	entry := journal.Entry{Wallet: g.wallet, Kind: kind, Amount: amount, Status: journal.StatusSubmitted}
	if callErr != nil {
		entry.Status = journal.StatusFailed
		entry.Detail = callErr.Error()
	}
	if _, err := g.journal.Record(ctx, entry); err != nil {
		g.logger.Error("journal ledger mutation", slog.String("kind", kind), slog.Any("error", err))
	}
}

func parseAmount(op, amount string) (*big.Int, error) {
	wei, err := units.ParseAmount(amount)
	if err != nil {
		return nil, &errs.Error{Kind: errs.KindInvalidAmount, Op: op, Remedy: errs.RemedyPositiveValue, Err: err}
	}
	return wei, nil
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, broker.ErrNotFound):
		return &errs.Error{Kind: errs.KindLedgerNotFound, Op: op, Remedy: errs.RemedyCreateLedger, Err: err}
	case errors.Is(err, broker.ErrAlreadyExists):
		return &errs.Error{Kind: errs.KindLedgerExists, Op: op, Remedy: errs.RemedyDepositInstead, Err: err}
	case errors.Is(err, broker.ErrInsufficientBalance):
		return &errs.Error{Kind: errs.KindInsufficientLedgerFunds, Op: op, Remedy: errs.RemedyFundLedger, Err: err}
	default:
		return errs.FromRemote(op, "", err)
	}
}
