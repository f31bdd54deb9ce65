package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("send: %w", &Error{Kind: KindNotAcknowledged, Op: "gate.require", Remedy: RemedyAcknowledge})

	assert.ErrorIs(t, err, ErrNotAcknowledged)
	assert.NotErrorIs(t, err, ErrInsufficientLedgerFunds)
	assert.Equal(t, KindNotAcknowledged, KindOf(err))
	assert.Equal(t, RemedyAcknowledge, RemedyOf(err))
}

func TestUnwrapPreservesRemoteError(t *testing.T) {
	remote := errors.New("rpc timeout")
	err := New(KindTransportFailure, "inference.open", remote)

	assert.ErrorIs(t, err, remote)
	assert.ErrorIs(t, err, ErrTransportFailure)
	assert.Contains(t, err.Error(), "rpc timeout")
}

func TestFromRemoteClassifiesKnownMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "service balance", err: errors.New("Insufficient balance: available balance of 1200"), kind: KindInsufficientServiceBalance},
		{name: "revert", err: errors.New("execution reverted: missing revert data"), kind: KindServiceUnavailable},
		{name: "call exception", err: errors.New("CALL_EXCEPTION"), kind: KindServiceUnavailable},
		{name: "other", err: errors.New("boom"), kind: KindRemoteFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromRemote("op", "0xprovider", tt.err)
			assert.Equal(t, tt.kind, KindOf(got))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestFromRemoteParsesAvailableBalance(t *testing.T) {
	err := FromRemote("op", "", errors.New("insufficient balance, available balance of 42"))
	var typed *Error
	if assert.ErrorAs(t, err, &typed) {
		assert.Equal(t, "available balance 42", typed.Body)
	}
}

func TestFromRemoteKeepsTypedErrors(t *testing.T) {
	original := &Error{Kind: KindInsufficientLedgerFunds, Op: "x"}
	assert.Same(t, original, FromRemote("op", "", original))
	assert.NoError(t, FromRemote("op", "", nil))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, http.StatusPreconditionFailed, Status(New(KindNotAcknowledged, "op", nil)))
	assert.Equal(t, http.StatusPaymentRequired, Status(New(KindInsufficientLedgerFunds, "op", nil)))
	assert.Equal(t, http.StatusPaymentRequired, Status(fmt.Errorf("wrapped: %w", New(KindInsufficientServiceBalance, "op", nil))))
	assert.Equal(t, http.StatusNotFound, Status(New(KindLedgerNotFound, "op", nil)))
	assert.Equal(t, http.StatusConflict, Status(New(KindLedgerExists, "op", nil)))
	assert.Equal(t, http.StatusServiceUnavailable, Status(New(KindServiceUnavailable, "op", nil)))
	assert.Equal(t, http.StatusBadGateway, Status(New(KindTransportFailure, "op", nil)))
	assert.Equal(t, http.StatusBadRequest, Status(New(KindInvalidAmount, "op", nil)))
	assert.Equal(t, http.StatusInternalServerError, Status(errors.New("plain")))
}
