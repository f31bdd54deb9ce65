package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
)

const maxBridgeErrorBody = 64 << 10

// Bridge talks JSON over HTTP to a broker sidecar that holds the wallet
// signer and submits the contract transactions.
//
// Every operation is POST {base}/v1/wallets/{wallet}/{op}.
type Bridge struct {
	baseURL string
	client  *http.Client
}

// NewBridge constructs a sidecar client. A nil client uses http.DefaultClient.
func NewBridge(baseURL string, client *http.Client) *Bridge {
	if client == nil {
		client = http.DefaultClient
	}
	return &Bridge{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Connect binds the bridge to a wallet. No network call is made.
func (b *Bridge) Connect(_ context.Context, wallet string) (Broker, error) {
	if wallet == "" {
		return Broker{}, fmt.Errorf("wallet address is required")
	}
	return Broker{
		Wallet:    wallet,
		Ledger:    &bridgeLedger{b: b, wallet: wallet},
		Inference: &bridgeInference{b: b, wallet: wallet},
	}, nil
}

// BridgeError is a non-success reply from the sidecar.
type BridgeError struct {
	Op      string
	Status  int
	Message string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("broker %s: status %d: %s", e.Op, e.Status, e.Message)
}

func (b *Bridge) call(ctx context.Context, wallet, op string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	endpoint := fmt.Sprintf("%s/v1/wallets/%s/%s", b.baseURL, url.PathEscape(wallet), op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("broker %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBridgeErrorBody))
		msg := decodeBridgeMessage(raw)
		bridgeErr := &BridgeError{Op: op, Status: resp.StatusCode, Message: msg}
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, bridgeErr)
		case http.StatusConflict:
			return fmt.Errorf("%w: %w", ErrAlreadyExists, bridgeErr)
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %w", ErrInsufficientBalance, bridgeErr)
		default:
			return bridgeErr
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func decodeBridgeMessage(raw []byte) string {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != "" {
		return env.Error
	}
	return strings.TrimSpace(string(raw))
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type transferRequest struct {
	Provider string `json:"provider"`
	Kind     string `json:"kind"`
	Amount   string `json:"amount"`
}

type providerRequest struct {
	Provider string `json:"provider"`
}

type ledgerDetailResponse struct {
	Total  string `json:"total"`
	Locked string `json:"locked"`
}

type servicesResponse struct {
	Services []struct {
		Provider string `json:"provider"`
		Name     string `json:"name"`
		Model    string `json:"model"`
	} `json:"services"`
}

type metadataResponse struct {
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
	URL      string `json:"url"`
}

type subAccountResponse struct {
	Provider string `json:"provider"`
	Balance  string `json:"balance"`
}

type bridgeLedger struct {
	b      *Bridge
	wallet string
}

func (l *bridgeLedger) CreateLedger(ctx context.Context, amount *big.Int) error {
	return l.b.call(ctx, l.wallet, OpCreateLedger, amountRequest{Amount: amount.String()}, nil)
}

func (l *bridgeLedger) DeleteLedger(ctx context.Context) error {
	return l.b.call(ctx, l.wallet, OpDeleteLedger, nil, nil)
}

func (l *bridgeLedger) DepositFund(ctx context.Context, amount *big.Int) error {
	return l.b.call(ctx, l.wallet, OpDepositFund, amountRequest{Amount: amount.String()}, nil)
}

func (l *bridgeLedger) Refund(ctx context.Context, amount *big.Int) error {
	return l.b.call(ctx, l.wallet, OpRefund, amountRequest{Amount: amount.String()}, nil)
}

func (l *bridgeLedger) GetLedgerDetail(ctx context.Context) (LedgerDetail, error) {
	var resp ledgerDetailResponse
	if err := l.b.call(ctx, l.wallet, OpGetLedgerDetail, nil, &resp); err != nil {
		return LedgerDetail{}, err
	}
	total, err := parseBig(resp.Total)
	if err != nil {
		return LedgerDetail{}, fmt.Errorf("ledger total: %w", err)
	}
	locked, err := parseBig(resp.Locked)
	if err != nil {
		return LedgerDetail{}, fmt.Errorf("ledger locked: %w", err)
	}
	return LedgerDetail{Total: total, Locked: locked}, nil
}

func (l *bridgeLedger) TransferToSubAccount(ctx context.Context, provider, kind string, amount *big.Int) error {
	return l.b.call(ctx, l.wallet, OpTransfer, transferRequest{Provider: provider, Kind: kind, Amount: amount.String()}, nil)
}

type bridgeInference struct {
	b      *Bridge
	wallet string
}

func (i *bridgeInference) ListServices(ctx context.Context) ([]ServiceListing, error) {
	var resp servicesResponse
	if err := i.b.call(ctx, i.wallet, OpListServices, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]ServiceListing, 0, len(resp.Services))
	for _, s := range resp.Services {
		out = append(out, ServiceListing{Provider: s.Provider, Name: s.Name, Model: s.Model})
	}
	return out, nil
}

func (i *bridgeInference) GetServiceMetadata(ctx context.Context, provider string) (ServiceMetadata, error) {
	var resp metadataResponse
	if err := i.b.call(ctx, i.wallet, OpGetMetadata, providerRequest{Provider: provider}, &resp); err != nil {
		return ServiceMetadata{}, err
	}
	return ServiceMetadata{Model: resp.Model, Endpoint: resp.Endpoint, URL: resp.URL}, nil
}

func (i *bridgeInference) IsAcknowledged(ctx context.Context, provider string) (bool, error) {
	var resp struct {
		Acknowledged bool `json:"acknowledged"`
	}
	if err := i.b.call(ctx, i.wallet, OpIsAcknowledged, providerRequest{Provider: provider}, &resp); err != nil {
		return false, err
	}
	return resp.Acknowledged, nil
}

func (i *bridgeInference) Acknowledge(ctx context.Context, provider string) error {
	return i.b.call(ctx, i.wallet, OpAcknowledge, providerRequest{Provider: provider}, nil)
}

func (i *bridgeInference) GetSubAccount(ctx context.Context, provider string) (SubAccount, error) {
	var resp subAccountResponse
	if err := i.b.call(ctx, i.wallet, OpGetSubAccount, providerRequest{Provider: provider}, &resp); err != nil {
		return SubAccount{}, err
	}
	bal, err := parseBig(resp.Balance)
	if err != nil {
		return SubAccount{}, fmt.Errorf("sub-account balance: %w", err)
	}
	return SubAccount{Provider: provider, Balance: bal}, nil
}

func (i *bridgeInference) SignRequestHeaders(ctx context.Context, provider, payload string) (map[string]string, error) {
	var resp struct {
		Headers map[string]string `json:"headers"`
	}
	in := struct {
		Provider string `json:"provider"`
		Payload  string `json:"payload"`
	}{Provider: provider, Payload: payload}
	if err := i.b.call(ctx, i.wallet, OpSignHeaders, in, &resp); err != nil {
		return nil, err
	}
	return resp.Headers, nil
}

func (i *bridgeInference) ProcessResponse(ctx context.Context, provider, content, chatID string) (bool, error) {
	var resp struct {
		Valid bool `json:"valid"`
	}
	in := struct {
		Provider string `json:"provider"`
		Content  string `json:"content"`
		ChatID   string `json:"chat_id"`
	}{Provider: provider, Content: content, ChatID: chatID}
	if err := i.b.call(ctx, i.wallet, OpProcessResponse, in, &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("malformed integer " + s)
	}
	return v, nil
}
