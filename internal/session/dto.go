package session

import (
	"github.com/inferpay/inferpay/internal/broker"
	"github.com/inferpay/inferpay/internal/registry"
	"github.com/inferpay/inferpay/internal/units"
)

// ProviderRequest names a provider.
type ProviderRequest struct {
	Provider string `json:"provider"`
}

// ChatRequest is a user turn. An empty provider means the selected one.
type ChatRequest struct {
	Provider string `json:"provider"`
	Message  string `json:"message"`
}

// CompleteRequest is a one-shot prompt.
type CompleteRequest struct {
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
}

// ServicesResponse lists discovered providers.
type ServicesResponse struct {
	Services []registry.ProviderService `json:"services"`
	Selected string                     `json:"selected,omitempty"`
}

// SubAccountResponse is a provider sub-account balance.
type SubAccountResponse struct {
	Provider   string `json:"provider"`
	Balance    string `json:"balance"`
	BalanceWei string `json:"balance_wei"`
}

// TranscriptResponse is the session transcript.
type TranscriptResponse struct {
	Wallet   string        `json:"wallet"`
	Messages []ChatMessage `json:"messages"`
}

// VerifyResponse is a verification outcome.
type VerifyResponse struct {
	Index   int          `json:"index"`
	Verdict string       `json:"verdict"`
	Message *ChatMessage `json:"message,omitempty"`
}

// CompleteResponse is a one-shot reply.
type CompleteResponse struct {
	Provider string `json:"provider"`
	Content  string `json:"content"`
}

type deltaEvent struct {
	Delta      string `json:"delta"`
	ResponseID string `json:"response_id,omitempty"`
}

type doneEvent struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	ResponseID string `json:"response_id,omitempty"`
}

func toSubAccountResponse(sub broker.SubAccount) SubAccountResponse {
	bal := "0"
	if sub.Balance != nil {
		bal = sub.Balance.String()
	}
	return SubAccountResponse{Provider: sub.Provider, Balance: units.Format(sub.Balance), BalanceWei: bal}
}
