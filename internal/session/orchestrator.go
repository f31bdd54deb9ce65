package session

import (
	"context"
	"log/slog"

	"github.com/inferpay/inferpay/internal/acknowledgment"
	"github.com/inferpay/inferpay/internal/errs"
	"github.com/inferpay/inferpay/internal/inference"
	"github.com/inferpay/inferpay/internal/metrics"
	"github.com/inferpay/inferpay/internal/subaccount"
)

// State is a step of the request path.
type State string

const (
	StateStart               State = "start"
	StateCheckAcknowledgment State = "check_acknowledgment"
	StateEnsureSubAccount    State = "ensure_subaccount"
	StateEnsureBalance       State = "ensure_balance"
	StateFetchMetadata       State = "fetch_metadata"
	StateAuthenticate        State = "authenticate"
	StateStream              State = "stream"
	StateDelivered           State = "delivered"
	StateRejected            State = "rejected"
)

// Terminal reports whether s ends a request.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateRejected
}

// Transition is reported to the state hook on every step. Err is set only
// for StateRejected.
type Transition struct {
	Provider string
	State    State
	Err      error
}

// Hook observes transitions.
type Hook func(Transition)

// Orchestrator drives one request through acknowledgment, funding and the
// streamed call. It never retries and never transfers funds after the
// stream was opened.
type Orchestrator struct {
	gate     *acknowledgment.Gate
	accounts *subaccount.Manager
	client   *inference.Client
	metrics  *metrics.Metrics
	logger   *slog.Logger
	hook     Hook
}

// NewOrchestrator composes the request path. hook may be nil.
func NewOrchestrator(gate *acknowledgment.Gate, accounts *subaccount.Manager, client *inference.Client, m *metrics.Metrics, logger *slog.Logger, hook Hook) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{gate: gate, accounts: accounts, client: client, metrics: m, logger: logger, hook: hook}
}

// Send runs the state machine and returns the open stream on delivery.
// The caller owns the stream and must close it.
func (o *Orchestrator) Send(ctx context.Context, provider string, messages []inference.Message) (*inference.Stream, error) {
	o.enter(provider, StateStart)

	o.enter(provider, StateCheckAcknowledgment)
	if err := o.gate.Require(ctx, provider); err != nil {
		return nil, o.reject(provider, err)
	}

	o.enter(provider, StateEnsureSubAccount)
	sub, err := o.accounts.EnsureFunded(ctx, provider)
	if err != nil {
		return nil, o.reject(provider, err)
	}

	o.enter(provider, StateEnsureBalance)
	if sub.Balance == nil || sub.Balance.Cmp(o.accounts.Policy().LowWater) <= 0 {
		return nil, o.reject(provider, &errs.Error{
			Kind:     errs.KindInsufficientServiceBalance,
			Op:       "session.ensure_balance",
			Provider: provider,
			Body:     "sub-account balance has not settled above the low-water threshold",
			Remedy:   errs.RemedyRetryShortly,
		})
	}

	o.enter(provider, StateFetchMetadata)
	target, err := o.client.Resolve(ctx, provider)
	if err != nil {
		return nil, o.reject(provider, err)
	}

	o.enter(provider, StateAuthenticate)
	headers, err := o.client.Authenticate(ctx, target, messages)
	if err != nil {
		return nil, o.reject(provider, err)
	}

	o.enter(provider, StateStream)
	stream, err := o.client.Open(ctx, target, headers, messages)
	if err != nil {
		return nil, o.reject(provider, err)
	}

	o.enter(provider, StateDelivered)
	o.metrics.Request(metrics.OutcomeDelivered, "")
	return stream, nil
}

func (o *Orchestrator) enter(provider string, s State) {
	o.logger.Debug("session state", slog.String("provider", provider), slog.String("state", string(s)))
	if o.hook != nil {
		o.hook(Transition{Provider: provider, State: s})
	}
}

func (o *Orchestrator) reject(provider string, err error) error {
	reason := string(errs.KindOf(err))
	if reason == "" {
		reason = "error"
	}
	o.logger.Warn("request rejected", slog.String("provider", provider), slog.String("reason", reason), slog.Any("error", err))
	o.metrics.Request(metrics.OutcomeRejected, reason)
	if o.hook != nil {
		o.hook(Transition{Provider: provider, State: StateRejected, Err: err})
	}
	return err
}
