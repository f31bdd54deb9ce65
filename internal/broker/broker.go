package broker

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrNotFound indicates the ledger or sub-account does not exist for the wallet.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a ledger was already created for the wallet.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInsufficientBalance indicates the ledger cannot cover a refund or transfer.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// TransferKindInference is the service kind used when moving funds into an
// inference sub-account.
const TransferKindInference = "inference"

// LedgerDetail is the raw ledger state in the smallest currency unit.
type LedgerDetail struct {
	Total  *big.Int
	Locked *big.Int
}

// Available returns total minus locked, floored at zero.
func (d LedgerDetail) Available() *big.Int {
	total := orZero(d.Total)
	locked := orZero(d.Locked)
	avail := new(big.Int).Sub(total, locked)
	if avail.Sign() < 0 {
		return new(big.Int)
	}
	return avail
}

// SubAccount is the provider-scoped escrow balance of a wallet.
type SubAccount struct {
	Provider string
	Balance  *big.Int
}

// ServiceListing is one entry of the remote provider directory.
type ServiceListing struct {
	Provider string
	Name     string
	Model    string
}

// ServiceMetadata describes how to reach a provider.
type ServiceMetadata struct {
	Model    string
	Endpoint string
	URL      string
}

// BaseURL returns the endpoint, falling back to the legacy url field.
func (m ServiceMetadata) BaseURL() string {
	if m.Endpoint != "" {
		return m.Endpoint
	}
	return m.URL
}

// LedgerCapability is the wallet-bound surface of the funds ledger contract.
// Amounts are expressed in the smallest currency unit.
type LedgerCapability interface {
	CreateLedger(ctx context.Context, amount *big.Int) error
	DeleteLedger(ctx context.Context) error
	DepositFund(ctx context.Context, amount *big.Int) error
	Refund(ctx context.Context, amount *big.Int) error
	// GetLedgerDetail fails with ErrNotFound when the wallet has no ledger.
	GetLedgerDetail(ctx context.Context) (LedgerDetail, error)
	TransferToSubAccount(ctx context.Context, provider, kind string, amount *big.Int) error
}

// InferenceCapability is the wallet-bound surface of the inference serving contract.
type InferenceCapability interface {
	ListServices(ctx context.Context) ([]ServiceListing, error)
	GetServiceMetadata(ctx context.Context, provider string) (ServiceMetadata, error)
	IsAcknowledged(ctx context.Context, provider string) (bool, error)
	Acknowledge(ctx context.Context, provider string) error
	// GetSubAccount fails with ErrNotFound when no sub-account exists yet.
	GetSubAccount(ctx context.Context, provider string) (SubAccount, error)
	SignRequestHeaders(ctx context.Context, provider, payload string) (map[string]string, error)
	ProcessResponse(ctx context.Context, provider, content, chatID string) (bool, error)
}

// Broker bundles the capabilities bound to one connected wallet.
type Broker struct {
	Wallet    string
	Ledger    LedgerCapability
	Inference InferenceCapability
}

// Connector binds capabilities to a wallet address.
type Connector interface {
	Connect(ctx context.Context, wallet string) (Broker, error)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
