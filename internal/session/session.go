package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/inferpay/inferpay/internal/acknowledgment"
	"github.com/inferpay/inferpay/internal/errs"
	"github.com/inferpay/inferpay/internal/inference"
	"github.com/inferpay/inferpay/internal/ledger"
	"github.com/inferpay/inferpay/internal/registry"
	"github.com/inferpay/inferpay/internal/subaccount"
)

var (
	// ErrNoSuchMessage indicates a transcript index out of range.
	ErrNoSuchMessage = errors.New("no such message")
	// ErrNotVerifiable indicates a message that is not an assistant reply with a response id.
	ErrNotVerifiable = errors.New("message has no response id to verify")
	// ErrEmptyPrompt indicates a request without user text.
	ErrEmptyPrompt = errors.New("message text is required")
)

// Session is the explicit per-wallet context every operation runs in.
type Session struct {
	Wallet       string
	Ledger       *ledger.Gateway
	SubAccounts  *subaccount.Manager
	Registry     *registry.Registry
	Gate         *acknowledgment.Gate
	Client       *inference.Client
	Orchestrator *Orchestrator

	transcript Transcript
}

// Transcript returns the session transcript.
func (s *Session) Transcript() *Transcript { return &s.transcript }

// Begin sends the transcript plus text to provider and returns the exchange
// that streams the reply. The user message enters the transcript only once
// the request was accepted.
func (s *Session) Begin(ctx context.Context, provider, text string) (*Exchange, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyPrompt
	}
	messages := append(s.transcript.History(), inference.Message{Role: inference.RoleUser, Content: text})

	stream, err := s.Orchestrator.Send(ctx, provider, messages)
	if err != nil {
		return nil, err
	}
	s.transcript.Append(ChatMessage{Role: inference.RoleUser, Content: text})
	return &Exchange{transcript: &s.transcript, stream: stream, provider: provider, index: -1}, nil
}

// Chat runs a full exchange, calling onDelta for every delta as it arrives.
// It returns the final assistant message.
func (s *Session) Chat(ctx context.Context, provider, text string, onDelta func(string)) (ChatMessage, error) {
	ex, err := s.Begin(ctx, provider, text)
	if err != nil {
		return ChatMessage{}, err
	}
	defer ex.Close()

	for {
		chunk, err := ex.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ChatMessage{}, err
		}
		if onDelta != nil {
			onDelta(chunk.Delta)
		}
	}
	msg, _ := ex.Message()
	return msg, nil
}

// Verify checks the assistant message at index. Only a determinate verdict
// is recorded on the message.
func (s *Session) Verify(ctx context.Context, provider string, index int) (inference.Verdict, error) {
	msg, ok := s.transcript.Get(index)
	if !ok {
		return inference.Unverified, fmt.Errorf("index %d: %w", index, ErrNoSuchMessage)
	}
	if msg.Role != inference.RoleAssistant || msg.ResponseID == "" {
		return inference.Unverified, fmt.Errorf("index %d: %w", index, ErrNotVerifiable)
	}

	verdict := s.Client.Verify(ctx, provider, msg.Content, msg.ResponseID)
	if verdict.Determinate() {
		ok := verdict == inference.Verified
		s.transcript.update(index, func(m *ChatMessage) { m.Verified = &ok })
	}
	return verdict, nil
}

// Complete runs a one-shot gated exchange outside the transcript and
// returns the whole reply. An empty reply is an error.
func (s *Session) Complete(ctx context.Context, provider, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	stream, err := s.Orchestrator.Send(ctx, provider, []inference.Message{{Role: inference.RoleUser, Content: prompt}})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	for {
		_, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
	}
	if strings.TrimSpace(stream.Text()) == "" {
		return "", &errs.Error{
			Kind: errs.KindTransportFailure, Op: "session.complete", Provider: provider,
			Body: "provider returned an empty response",
		}
	}
	return stream.Text(), nil
}

// Exchange is one streamed reply. The assistant message is appended on the
// first delta, or at EOF when the reply had an id but no text, and grows in
// place.
type Exchange struct {
	transcript *Transcript
	stream     *inference.Stream
	provider   string
	index      int
}

// Next returns the next delta after recording it in the transcript.
func (e *Exchange) Next() (inference.Chunk, error) {
	chunk, err := e.stream.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			e.finish()
		}
		return chunk, err
	}

	text := e.stream.Text()
	if e.index < 0 {
		e.index = e.transcript.Append(ChatMessage{Role: inference.RoleAssistant, Content: text, ResponseID: chunk.ID})
	} else {
		e.transcript.update(e.index, func(m *ChatMessage) {
			m.Content = text
			m.ResponseID = chunk.ID
		})
	}
	return chunk, nil
}

// finish pins the correlation token at EOF. A reply that carried an id but
// no text still gets an (empty) assistant message so the token is kept and
// the transcript keeps alternating roles.
func (e *Exchange) finish() {
	id := e.stream.ID()
	switch {
	case e.index >= 0:
		e.transcript.update(e.index, func(m *ChatMessage) { m.ResponseID = id })
	case id != "":
		e.index = e.transcript.Append(ChatMessage{Role: inference.RoleAssistant, ResponseID: id})
	}
}

// Index returns the transcript index of the assistant message, or -1
// before the first delta.
func (e *Exchange) Index() int { return e.index }

// ResponseID returns the correlation token seen so far.
func (e *Exchange) ResponseID() string { return e.stream.ID() }

// Message returns the assistant message as recorded so far.
func (e *Exchange) Message() (ChatMessage, bool) {
	if e.index < 0 {
		return ChatMessage{Role: inference.RoleAssistant}, false
	}
	return e.transcript.Get(e.index)
}

// Close releases the stream. Deltas already delivered stay in the transcript.
func (e *Exchange) Close() error {
	return e.stream.Close()
}
