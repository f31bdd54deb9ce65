package broker

import "math/big"

// SeedLedger is a test helper that sets the ledger totals for a wallet on the in-memory broker.
func SeedLedger(m *Memory, wallet string, total, locked *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if locked == nil {
		locked = new(big.Int)
	}
	m.ledgers[wallet] = &ledgerState{total: new(big.Int).Set(total), locked: new(big.Int).Set(locked)}
}

// SeedSubAccount is a test helper that sets a sub-account balance without touching the ledger.
func SeedSubAccount(m *Memory, wallet, provider string, balance *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subAccounts[subKey(wallet, provider)] = new(big.Int).Set(balance)
}

// SetAcknowledged is a test helper that marks a provider as acknowledged for a wallet.
func SetAcknowledged(m *Memory, wallet, provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks[subKey(wallet, provider)] = true
}
