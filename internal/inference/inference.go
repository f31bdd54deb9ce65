package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/inferpay/inferpay/internal/broker"
	"github.com/inferpay/inferpay/internal/errs"
	"github.com/inferpay/inferpay/internal/metrics"
)

const maxErrorBody = 64 << 10

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Target is a resolved provider endpoint.
type Target struct {
	Provider string
	Model    string
	Endpoint string
}

// Options carries the optional collaborators of a Client.
type Options struct {
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Client performs authenticated, streamed chat requests against providers
// on behalf of one wallet.
type Client struct {
	inference broker.InferenceCapability
	http      *http.Client
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewClient builds a client over an inference capability.
func NewClient(capability broker.InferenceCapability, opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{inference: capability, http: hc, metrics: opts.Metrics, logger: logger}
}

// Resolve fetches provider metadata. A provider without an endpoint or a
// model is unavailable.
func (c *Client) Resolve(ctx context.Context, provider string) (Target, error) {
	const op = "inference.resolve"
	meta, err := c.inference.GetServiceMetadata(ctx, provider)
	if err != nil {
		return Target{}, errs.FromRemote(op, provider, err)
	}
	endpoint := meta.BaseURL()
	if endpoint == "" || meta.Model == "" {
		missing := "endpoint"
		if endpoint != "" {
			missing = "model"
		}
		return Target{}, &errs.Error{
			Kind: errs.KindServiceUnavailable, Op: op, Provider: provider,
			Body: "service " + missing + " is not available", Remedy: errs.RemedyPickProvider,
		}
	}
	return Target{Provider: provider, Model: meta.Model, Endpoint: endpoint}, nil
}

// Authenticate signs the serialised message list for target.
func (c *Client) Authenticate(ctx context.Context, target Target, messages []Message) (map[string]string, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	headers, err := c.inference.SignRequestHeaders(ctx, target.Provider, string(payload))
	if err != nil {
		return nil, errs.FromRemote("inference.authenticate", target.Provider, err)
	}
	return headers, nil
}

type completionRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
	Stream   bool      `json:"stream"`
}

// Open starts a streamed completion. Cancelling ctx aborts the stream; the
// caller must Close the returned stream.
func (c *Client) Open(ctx context.Context, target Target, headers map[string]string, messages []Message) (*Stream, error) {
	const op = "inference.open"
	body, err := json.Marshal(completionRequest{Messages: messages, Model: target.Model, Stream: true})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	url := strings.TrimRight(target.Endpoint, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &errs.Error{Kind: errs.KindServiceUnavailable, Op: op, Provider: target.Provider, Remedy: errs.RemedyPickProvider, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errs.Error{Kind: errs.KindTransportFailure, Op: op, Provider: target.Provider, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		text := strings.TrimSpace(string(raw))
		e := &errs.Error{Kind: errs.KindTransportFailure, Op: op, Provider: target.Provider, Status: resp.StatusCode, Body: text}
		if strings.Contains(strings.ToLower(text), "insufficient balance") {
			e.Kind = errs.KindInsufficientServiceBalance
			e.Remedy = errs.RemedyTopUpService
		}
		return nil, e
	}

	c.logger.Debug("stream opened", slog.String("provider", target.Provider), slog.String("model", target.Model))
	return newStream(resp.Body, c.metrics, c.logger), nil
}

// Send resolves, authenticates and opens a stream in one call.
func (c *Client) Send(ctx context.Context, provider string, messages []Message) (*Stream, error) {
	target, err := c.Resolve(ctx, provider)
	if err != nil {
		return nil, err
	}
	headers, err := c.Authenticate(ctx, target, messages)
	if err != nil {
		return nil, err
	}
	return c.Open(ctx, target, headers, messages)
}

// Verdict is the outcome of verifying delivered content.
type Verdict int

const (
	// Unverified means verification could not be completed.
	Unverified Verdict = iota
	// Verified means the provider's response was confirmed.
	Verified
	// Failed means the provider's response did not check out.
	Failed
)

func (v Verdict) String() string {
	switch v {
	case Verified:
		return "verified"
	case Failed:
		return "failed"
	default:
		return "unverified"
	}
}

// Determinate reports whether v is a definite answer.
func (v Verdict) Determinate() bool { return v != Unverified }

// Verify checks delivered content against the response identifier. It never
// returns an error: any failure to reach a verdict yields Unverified.
func (c *Client) Verify(ctx context.Context, provider, content, responseID string) Verdict {
	if responseID == "" {
		c.logger.Info("verification skipped: no response id", slog.String("provider", provider))
		return Unverified
	}
	start := time.Now()
	ok, err := c.inference.ProcessResponse(ctx, provider, content, responseID)
	if err != nil {
		c.logger.Warn("verification indeterminate",
			slog.String("provider", provider),
			slog.String("response_id", responseID),
			slog.Any("error", errs.New(errs.KindVerificationIndeterminate, "inference.verify", err)),
		)
		return Unverified
	}
	c.logger.Debug("verification finished", slog.Bool("valid", ok), slog.Duration("took", time.Since(start)))
	if ok {
		return Verified
	}
	return Failed
}
