package errs

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Kind classifies failures surfaced by the payment session core.
type Kind string

const (
	KindNotAcknowledged            Kind = "not_acknowledged"
	KindInsufficientLedgerFunds    Kind = "insufficient_ledger_funds"
	KindInsufficientServiceBalance Kind = "insufficient_service_balance"
	KindServiceUnavailable         Kind = "service_unavailable"
	KindTransportFailure           Kind = "transport_failure"
	KindMalformedStreamRecord      Kind = "malformed_stream_record"
	KindVerificationIndeterminate  Kind = "verification_indeterminate"
	KindLedgerNotFound             Kind = "ledger_not_found"
	KindInvalidAmount              Kind = "invalid_amount"
	KindRemoteFailure              Kind = "remote_failure"
	KindLedgerExists               Kind = "ledger_exists"
)

// Error is a typed failure. The wrapped Err keeps the original remote error
// for diagnostics.
type Error struct {
	Kind     Kind
	Op       string
	Provider string
	Status   int
	Body     string
	Remedy   string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel values by kind, so errors.Is(err, ErrNotAcknowledged)
// holds for any NotAcknowledged failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotAcknowledged            = &Error{Kind: KindNotAcknowledged}
	ErrInsufficientLedgerFunds    = &Error{Kind: KindInsufficientLedgerFunds}
	ErrInsufficientServiceBalance = &Error{Kind: KindInsufficientServiceBalance}
	ErrServiceUnavailable         = &Error{Kind: KindServiceUnavailable}
	ErrTransportFailure           = &Error{Kind: KindTransportFailure}
	ErrMalformedStreamRecord      = &Error{Kind: KindMalformedStreamRecord}
	ErrVerificationIndeterminate  = &Error{Kind: KindVerificationIndeterminate}
	ErrLedgerNotFound             = &Error{Kind: KindLedgerNotFound}
	ErrInvalidAmount              = &Error{Kind: KindInvalidAmount}
	ErrRemoteFailure              = &Error{Kind: KindRemoteFailure}
	ErrLedgerExists               = &Error{Kind: KindLedgerExists}
)

// New builds a typed failure.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RemedyOf returns the remediation text carried by err, if any.
func RemedyOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Remedy
	}
	return ""
}

const (
	RemedyAcknowledge = "acknowledge the provider first: fetch its service details, " +
		"then call acknowledge and confirm the signature before retrying"
	RemedyFundLedger = "deposit funds into the ledger (or create one), wait a few seconds " +
		"for the balance to settle, then retry"
	RemedyCreateLedger   = "create a ledger with an initial deposit before querying or spending"
	RemedyTopUpService   = "the provider reported an insufficient sub-account balance; retry so it is topped up, or deposit more into the ledger"
	RemedyPickProvider   = "refresh the provider list and choose another available provider"
	RemedyRetryShortly   = "the remote state has not settled yet; retry in a few seconds"
	RemedyPositiveValue  = "amounts are whole currency units and must be positive, e.g. 0.5"
	RemedyDepositInstead = "a ledger already exists for this wallet; deposit into it instead"
)

var availableBalanceRe = regexp.MustCompile(`available balance of (\d+)`)

// FromRemote classifies an error returned by a ledger or inference
// capability call. Known remote messages are mapped onto the taxonomy;
// everything else becomes a RemoteFailure wrapping the original error.
func FromRemote(op, provider string, err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient balance"):
		e := &Error{Kind: KindInsufficientServiceBalance, Op: op, Provider: provider, Remedy: RemedyTopUpService, Err: err}
		if m := availableBalanceRe.FindStringSubmatch(msg); m != nil {
			e.Body = "available balance " + m[1]
		}
		return e
	case strings.Contains(msg, "missing revert data"), strings.Contains(msg, "call_exception"):
		return &Error{Kind: KindServiceUnavailable, Op: op, Provider: provider, Remedy: RemedyPickProvider, Err: err}
	default:
		return &Error{Kind: KindRemoteFailure, Op: op, Provider: provider, Err: err}
	}
}

// Status maps the kind of err onto an HTTP status code. Errors without a
// kind map to 500.
func Status(err error) int {
	switch KindOf(err) {
	case KindInvalidAmount:
		return http.StatusBadRequest
	case KindInsufficientLedgerFunds, KindInsufficientServiceBalance:
		return http.StatusPaymentRequired
	case KindLedgerNotFound:
		return http.StatusNotFound
	case KindLedgerExists:
		return http.StatusConflict
	case KindNotAcknowledged:
		return http.StatusPreconditionFailed
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindTransportFailure, KindRemoteFailure, KindMalformedStreamRecord, KindVerificationIndeterminate:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
