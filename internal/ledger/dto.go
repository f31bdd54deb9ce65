package ledger

import (
	"math/big"

	"github.com/inferpay/inferpay/internal/units"
)

// AmountRequest carries a whole-unit amount such as "0.5".
type AmountRequest struct {
	Amount string `json:"amount"`
}

// BalanceResponse represents the ledger state returned by the API. Each
// amount is given in whole units and in the smallest unit.
type BalanceResponse struct {
	Wallet       string `json:"wallet"`
	Total        string `json:"total"`
	Locked       string `json:"locked"`
	Available    string `json:"available"`
	TotalWei     string `json:"total_wei"`
	LockedWei    string `json:"locked_wei"`
	AvailableWei string `json:"available_wei"`
}

// DeleteResponse represents the outcome of a ledger deletion.
type DeleteResponse struct {
	Deleted      bool   `json:"deleted"`
	Forfeited    string `json:"forfeited"`
	ForfeitedWei string `json:"forfeited_wei"`
	Warning      string `json:"warning,omitempty"`
}

func toBalanceResponse(wallet string, b Balance) BalanceResponse {
	return BalanceResponse{
		Wallet:       wallet,
		Total:        units.Format(b.Total),
		Locked:       units.Format(b.Locked),
		Available:    units.Format(b.Available),
		TotalWei:     weiString(b.Total),
		LockedWei:    weiString(b.Locked),
		AvailableWei: weiString(b.Available),
	}
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return units.Format(v)
}
