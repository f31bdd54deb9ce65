package session

import (
	"sync"

	"github.com/inferpay/inferpay/internal/inference"
)

// ChatMessage is one transcript entry. Verified is nil until a determinate
// verification verdict was recorded.
type ChatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ResponseID string `json:"response_id,omitempty"`
	Verified   *bool  `json:"verified,omitempty"`
}

// Transcript is an ordered, append-only list of messages.
type Transcript struct {
	mu       sync.RWMutex
	messages []ChatMessage
}

// Append adds msg and returns its index.
func (t *Transcript) Append(msg ChatMessage) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
	return len(t.messages) - 1
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []ChatMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ChatMessage, len(t.messages))
	for i, m := range t.messages {
		out[i] = m
		if m.Verified != nil {
			v := *m.Verified
			out[i].Verified = &v
		}
	}
	return out
}

// Get returns the message at index.
func (t *Transcript) Get(index int) (ChatMessage, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index < 0 || index >= len(t.messages) {
		return ChatMessage{}, false
	}
	return t.messages[index], true
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// History returns the transcript as provider messages.
func (t *Transcript) History() []inference.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]inference.Message, 0, len(t.messages))
	for _, m := range t.messages {
		out = append(out, inference.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (t *Transcript) update(index int, fn func(*ChatMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.messages) {
		return
	}
	fn(&t.messages[index])
}
