package broker

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

// Call is one capability invocation recorded by the in-memory broker.
type Call struct {
	Wallet   string
	Op       string
	Provider string
	Amount   *big.Int
}

// Mutating reports whether the call changes ledger or sub-account state.
func (c Call) Mutating() bool {
	switch c.Op {
	case OpCreateLedger, OpDeleteLedger, OpDepositFund, OpRefund, OpTransfer:
		return true
	}
	return false
}

// Operation names recorded in Call.Op.
const (
	OpCreateLedger    = "createLedger"
	OpDeleteLedger    = "deleteLedger"
	OpDepositFund     = "depositFund"
	OpRefund          = "refund"
	OpGetLedgerDetail = "getLedgerDetail"
	OpTransfer        = "transferToSubAccount"
	OpListServices    = "listServices"
	OpGetMetadata     = "getServiceMetadata"
	OpIsAcknowledged  = "isAcknowledged"
	OpAcknowledge     = "acknowledge"
	OpGetSubAccount   = "getSubAccount"
	OpSignHeaders     = "signRequestHeaders"
	OpProcessResponse = "processResponse"
)

// DefaultCallLog is how many recent calls a new Memory keeps for inspection.
const DefaultCallLog = 4096

type ledgerState struct {
	total  *big.Int
	locked *big.Int
}

type memoryService struct {
	listing  ServiceListing
	metadata ServiceMetadata
	err      error
}

// Memory is a concurrency-safe, in-process stand-in for the ledger and
// inference contracts. It serves development mode and unit tests.
type Memory struct {
	mu          sync.RWMutex
	ledgers     map[string]*ledgerState
	subAccounts map[string]*big.Int
	acks        map[string]bool
	services    []memoryService
	responses   map[string]string
	failures    map[string][]error
	calls       []Call
	callLog     int
}

// NewMemory creates an empty in-memory broker.
func NewMemory() *Memory {
	return &Memory{
		ledgers:     make(map[string]*ledgerState),
		subAccounts: make(map[string]*big.Int),
		acks:        make(map[string]bool),
		responses:   make(map[string]string),
		failures:    make(map[string][]error),
		callLog:     DefaultCallLog,
	}
}

// SetCallLog bounds the call log to roughly the most recent limit calls.
// A limit of zero or less stops recording; queued failures still apply.
func (m *Memory) SetCallLog(limit int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callLog = limit
	if limit <= 0 {
		m.calls = nil
	} else if len(m.calls) > limit {
		m.calls = append([]Call(nil), m.calls[len(m.calls)-limit:]...)
	}
}

// Connect binds the in-memory capabilities to wallet.
func (m *Memory) Connect(_ context.Context, wallet string) (Broker, error) {
	return Broker{
		Wallet:    wallet,
		Ledger:    &memoryLedger{m: m, wallet: wallet},
		Inference: &memoryInference{m: m, wallet: wallet},
	}, nil
}

// RegisterService adds a provider to the directory with resolvable metadata.
func (m *Memory) RegisterService(listing ServiceListing, metadata ServiceMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, memoryService{listing: listing, metadata: metadata})
}

// RegisterBrokenService adds a provider whose metadata lookup fails with err.
func (m *Memory) RegisterBrokenService(listing ServiceListing, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, memoryService{listing: listing, err: err})
}

// RecordResponse registers the content a provider delivered under chatID so
// ProcessResponse can check it later.
func (m *Memory) RecordResponse(chatID, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[chatID] = keccakHex(content)
}

// Spend simulates the provider settling a charge against a sub-account.
func (m *Memory) Spend(wallet, provider string, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.subAccounts[subKey(wallet, provider)]
	if !ok {
		return ErrNotFound
	}
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	if l, ok := m.ledgers[wallet]; ok {
		l.total.Sub(l.total, amount)
		l.locked.Sub(l.locked, amount)
	}
	return nil
}

// FailNext makes the next call of op, for any wallet, fail with err.
// Repeated calls queue further failures.
func (m *Memory) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], err)
}

// Calls returns the recorded invocations for wallet in order. Only the
// calls still held by the bounded log are returned.
func (m *Memory) Calls(wallet string) []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Call, 0, len(m.calls))
	for _, c := range m.calls {
		if c.Wallet == wallet {
			out = append(out, c)
		}
	}
	return out
}

// CountCalls returns how many times op was invoked for wallet.
func (m *Memory) CountCalls(wallet, op string) int {
	n := 0
	for _, c := range m.Calls(wallet) {
		if c.Op == op {
			n++
		}
	}
	return n
}

// MutationCount returns the number of state-changing calls made for wallet.
func (m *Memory) MutationCount(wallet string) int {
	n := 0
	for _, c := range m.Calls(wallet) {
		if c.Mutating() {
			n++
		}
	}
	return n
}

// record logs the call and returns a queued failure for op, if any.
func (m *Memory) record(wallet, op, provider string, amount *big.Int) error {
	if m.callLog > 0 {
		var amt *big.Int
		if amount != nil {
			amt = new(big.Int).Set(amount)
		}
		m.calls = append(m.calls, Call{Wallet: wallet, Op: op, Provider: provider, Amount: amt})
		// trimmed in batches, so between callLog and 2*callLog calls are kept
		if len(m.calls) > 2*m.callLog {
			m.calls = append([]Call(nil), m.calls[len(m.calls)-m.callLog:]...)
		}
	}

	queued := m.failures[op]
	if len(queued) == 0 {
		return nil
	}
	m.failures[op] = queued[1:]
	return queued[0]
}

type memoryLedger struct {
	m      *Memory
	wallet string
}

func (l *memoryLedger) CreateLedger(_ context.Context, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if err := l.m.record(l.wallet, OpCreateLedger, "", amount); err != nil {
		return err
	}

	if _, exists := l.m.ledgers[l.wallet]; exists {
		return ErrAlreadyExists
	}
	l.m.ledgers[l.wallet] = &ledgerState{total: new(big.Int).Set(amount), locked: new(big.Int)}
	return nil
}

func (l *memoryLedger) DeleteLedger(_ context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if err := l.m.record(l.wallet, OpDeleteLedger, "", nil); err != nil {
		return err
	}

	if _, exists := l.m.ledgers[l.wallet]; !exists {
		return ErrNotFound
	}
	delete(l.m.ledgers, l.wallet)
	return nil
}

func (l *memoryLedger) DepositFund(_ context.Context, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if err := l.m.record(l.wallet, OpDepositFund, "", amount); err != nil {
		return err
	}

	state, exists := l.m.ledgers[l.wallet]
	if !exists {
		return ErrNotFound
	}
	state.total.Add(state.total, amount)
	return nil
}

func (l *memoryLedger) Refund(_ context.Context, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if err := l.m.record(l.wallet, OpRefund, "", amount); err != nil {
		return err
	}

	state, exists := l.m.ledgers[l.wallet]
	if !exists {
		return ErrNotFound
	}
	if available(state).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	state.total.Sub(state.total, amount)
	return nil
}

func (l *memoryLedger) GetLedgerDetail(_ context.Context) (LedgerDetail, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if err := l.m.record(l.wallet, OpGetLedgerDetail, "", nil); err != nil {
		return LedgerDetail{}, err
	}

	state, exists := l.m.ledgers[l.wallet]
	if !exists {
		return LedgerDetail{}, ErrNotFound
	}
	return LedgerDetail{Total: new(big.Int).Set(state.total), Locked: new(big.Int).Set(state.locked)}, nil
}

func (l *memoryLedger) TransferToSubAccount(_ context.Context, provider, kind string, amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if kind != TransferKindInference {
		return fmt.Errorf("unsupported service kind %q", kind)
	}
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if err := l.m.record(l.wallet, OpTransfer, provider, amount); err != nil {
		return err
	}

	state, exists := l.m.ledgers[l.wallet]
	if !exists {
		return ErrNotFound
	}
	if available(state).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	state.locked.Add(state.locked, amount)

	key := subKey(l.wallet, provider)
	bal, ok := l.m.subAccounts[key]
	if !ok {
		bal = new(big.Int)
		l.m.subAccounts[key] = bal
	}
	bal.Add(bal, amount)
	return nil
}

type memoryInference struct {
	m      *Memory
	wallet string
}

func (i *memoryInference) ListServices(_ context.Context) ([]ServiceListing, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	if err := i.m.record(i.wallet, OpListServices, "", nil); err != nil {
		return nil, err
	}

	out := make([]ServiceListing, 0, len(i.m.services))
	for _, s := range i.m.services {
		out = append(out, s.listing)
	}
	return out, nil
}

func (i *memoryInference) GetServiceMetadata(_ context.Context, provider string) (ServiceMetadata, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	if err := i.m.record(i.wallet, OpGetMetadata, provider, nil); err != nil {
		return ServiceMetadata{}, err
	}

	for _, s := range i.m.services {
		if !strings.EqualFold(s.listing.Provider, provider) {
			continue
		}
		if s.err != nil {
			return ServiceMetadata{}, s.err
		}
		return s.metadata, nil
	}
	return ServiceMetadata{}, ErrNotFound
}

func (i *memoryInference) IsAcknowledged(_ context.Context, provider string) (bool, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	if err := i.m.record(i.wallet, OpIsAcknowledged, provider, nil); err != nil {
		return false, err
	}
	return i.m.acks[subKey(i.wallet, provider)], nil
}

func (i *memoryInference) Acknowledge(_ context.Context, provider string) error {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	if err := i.m.record(i.wallet, OpAcknowledge, provider, nil); err != nil {
		return err
	}
	i.m.acks[subKey(i.wallet, provider)] = true
	return nil
}

func (i *memoryInference) GetSubAccount(_ context.Context, provider string) (SubAccount, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	if err := i.m.record(i.wallet, OpGetSubAccount, provider, nil); err != nil {
		return SubAccount{}, err
	}

	bal, ok := i.m.subAccounts[subKey(i.wallet, provider)]
	if !ok {
		return SubAccount{}, ErrNotFound
	}
	return SubAccount{Provider: provider, Balance: new(big.Int).Set(bal)}, nil
}

func (i *memoryInference) SignRequestHeaders(_ context.Context, provider, payload string) (map[string]string, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	if err := i.m.record(i.wallet, OpSignHeaders, provider, nil); err != nil {
		return nil, err
	}

	return map[string]string{
		"Address":      i.wallet,
		"Provider":     provider,
		"Request-Hash": keccakHex(payload),
		"Nonce":        uuid.NewString(),
	}, nil
}

func (i *memoryInference) ProcessResponse(_ context.Context, provider, content, chatID string) (bool, error) {
	i.m.mu.Lock()
	defer i.m.mu.Unlock()
	if err := i.m.record(i.wallet, OpProcessResponse, provider, nil); err != nil {
		return false, err
	}

	want, ok := i.m.responses[chatID]
	if !ok {
		return false, fmt.Errorf("response %s: %w", chatID, ErrNotFound)
	}
	return want == keccakHex(content), nil
}

func available(s *ledgerState) *big.Int {
	return LedgerDetail{Total: s.total, Locked: s.locked}.Available()
}

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// subKey is case-insensitive, like on-chain addresses.
func subKey(wallet, provider string) string {
	return strings.ToLower(wallet) + "|" + strings.ToLower(provider)
}

func keccakHex(s string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(s))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
