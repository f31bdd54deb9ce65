package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bridgeBase = "http://broker.test"

func newMockedBridge(t *testing.T) Broker {
	t.Helper()
	client := &http.Client{}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)

	b, err := NewBridge(bridgeBase+"/", client).Connect(context.Background(), walletA)
	require.NoError(t, err)
	return b
}

func opURL(op string) string {
	return bridgeBase + "/v1/wallets/" + walletA + "/" + op
}

func TestBridgeGetLedgerDetail(t *testing.T) {
	b := newMockedBridge(t)
	httpmock.RegisterResponder(http.MethodPost, opURL(OpGetLedgerDetail),
		httpmock.NewStringResponder(http.StatusOK, `{"total":"3000000000000000000","locked":"500000000000000000"}`))

	detail, err := b.Ledger.GetLedgerDetail(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3000000000000000000", detail.Total.String())
	assert.Equal(t, "2500000000000000000", detail.Available().String())
}

func TestBridgeMapsStatusCodes(t *testing.T) {
	b := newMockedBridge(t)
	httpmock.RegisterResponder(http.MethodPost, opURL(OpGetLedgerDetail),
		httpmock.NewStringResponder(http.StatusNotFound, `{"error":"ledger does not exist"}`))
	httpmock.RegisterResponder(http.MethodPost, opURL(OpCreateLedger),
		httpmock.NewStringResponder(http.StatusConflict, `{"error":"ledger exists"}`))
	httpmock.RegisterResponder(http.MethodPost, opURL(OpTransfer),
		httpmock.NewStringResponder(http.StatusPaymentRequired, `{"error":"insufficient balance"}`))
	httpmock.RegisterResponder(http.MethodPost, opURL(OpRefund),
		httpmock.NewStringResponder(http.StatusBadGateway, `execution reverted: missing revert data`))

	ctx := context.Background()
	_, err := b.Ledger.GetLedgerDetail(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	err = b.Ledger.CreateLedger(ctx, wei(1))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = b.Ledger.TransferToSubAccount(ctx, providerX, TransferKindInference, wei(1))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	err = b.Ledger.Refund(ctx, wei(1))
	var bridgeErr *BridgeError
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, http.StatusBadGateway, bridgeErr.Status)
	assert.Contains(t, bridgeErr.Message, "missing revert data")
}

func TestBridgeTransferSendsWeiAmount(t *testing.T) {
	b := newMockedBridge(t)
	var got transferRequest
	httpmock.RegisterResponder(http.MethodPost, opURL(OpTransfer),
		func(req *http.Request) (*http.Response, error) {
			if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
				return nil, err
			}
			return httpmock.NewStringResponse(http.StatusOK, `{}`), nil
		})

	amount := wei(500_000_000_000_000_000)
	require.NoError(t, b.Ledger.TransferToSubAccount(context.Background(), providerX, TransferKindInference, amount))
	assert.Equal(t, transferRequest{Provider: providerX, Kind: "inference", Amount: "500000000000000000"}, got)
}

func TestBridgeInferenceCalls(t *testing.T) {
	b := newMockedBridge(t)
	httpmock.RegisterResponder(http.MethodPost, opURL(OpListServices),
		httpmock.NewStringResponder(http.StatusOK, `{"services":[{"provider":"0xp1","name":"chat","model":"llama"},{"provider":"0xp2"}]}`))
	httpmock.RegisterResponder(http.MethodPost, opURL(OpGetMetadata),
		httpmock.NewStringResponder(http.StatusOK, `{"model":"llama","url":"https://p1.example/v1/proxy"}`))
	httpmock.RegisterResponder(http.MethodPost, opURL(OpIsAcknowledged),
		httpmock.NewStringResponder(http.StatusOK, `{"acknowledged":true}`))
	httpmock.RegisterResponder(http.MethodPost, opURL(OpGetSubAccount),
		httpmock.NewStringResponder(http.StatusOK, `{"provider":"0xp1","balance":"42"}`))
	httpmock.RegisterResponder(http.MethodPost, opURL(OpSignHeaders),
		httpmock.NewStringResponder(http.StatusOK, `{"headers":{"Authorization":"signed"}}`))
	httpmock.RegisterResponder(http.MethodPost, opURL(OpProcessResponse),
		httpmock.NewStringResponder(http.StatusOK, `{"valid":true}`))

	ctx := context.Background()
	services, err := b.Inference.ListServices(ctx)
	require.NoError(t, err)
	require.Len(t, services, 2)
	assert.Equal(t, "llama", services[0].Model)

	meta, err := b.Inference.GetServiceMetadata(ctx, "0xp1")
	require.NoError(t, err)
	assert.Equal(t, "https://p1.example/v1/proxy", meta.BaseURL())

	ack, err := b.Inference.IsAcknowledged(ctx, "0xp1")
	require.NoError(t, err)
	assert.True(t, ack)

	sub, err := b.Inference.GetSubAccount(ctx, "0xp1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), sub.Balance.Int64())

	headers, err := b.Inference.SignRequestHeaders(ctx, "0xp1", "[]")
	require.NoError(t, err)
	assert.Equal(t, "signed", headers["Authorization"])

	valid, err := b.Inference.ProcessResponse(ctx, "0xp1", "hello", "chat-1")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestBridgeTransportError(t *testing.T) {
	b := newMockedBridge(t)
	httpmock.RegisterResponder(http.MethodPost, opURL(OpAcknowledge),
		httpmock.NewErrorResponder(errors.New("connection refused")))

	err := b.Inference.Acknowledge(context.Background(), providerX)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBridgeConnectRequiresWallet(t *testing.T) {
	_, err := NewBridge(bridgeBase, nil).Connect(context.Background(), "")
	assert.Error(t, err)
}
