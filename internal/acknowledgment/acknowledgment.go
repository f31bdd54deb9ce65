package acknowledgment

import (
	"context"
	"log/slog"
	"time"

	"github.com/inferpay/inferpay/internal/broker"
	"github.com/inferpay/inferpay/internal/errs"
	"github.com/inferpay/inferpay/internal/infra"
	"github.com/inferpay/inferpay/internal/journal"
)

// cacheTTL bounds how long a positive answer is served without asking the
// remote side. Acknowledgments are never reset, so only the cache size limits it.
const cacheTTL = 24 * time.Hour

// Status is what a caller needs to decide whether to acknowledge a provider.
type Status struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	Endpoint     string `json:"endpoint"`
	Acknowledged bool   `json:"acknowledged"`
}

// Options carries the optional collaborators of a Gate.
type Options struct {
	Cache   *infra.Cache
	Journal journal.Journal
	Logger  *slog.Logger
}

// Gate enforces the one-time provider acknowledgment of a wallet.
type Gate struct {
	wallet    string
	inference broker.InferenceCapability
	cache     *infra.Cache
	journal   journal.Journal
	logger    *slog.Logger
}

// New builds a gate over the inference capability of b.
func New(b broker.Broker, opts Options) *Gate {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := opts.Cache
	if c == nil {
		c = infra.NewCache(nil, "", time.Minute)
	}
	return &Gate{
		wallet:    b.Wallet,
		inference: b.Inference,
		cache:     c,
		journal:   opts.Journal,
		logger:    logger.With(slog.String("wallet", b.Wallet)),
	}
}

// IsAcknowledged reports whether the wallet acknowledged provider. A remote
// error counts as not acknowledged.
func (g *Gate) IsAcknowledged(ctx context.Context, provider string) bool {
	var cached bool
	if found, err := g.cache.Get(ctx, g.cacheKey(provider), &cached); err == nil && found && cached {
		return true
	}

	ok, err := g.inference.IsAcknowledged(ctx, provider)
	if err != nil {
		g.logger.Warn("acknowledgment check failed; treating as not acknowledged",
			slog.String("provider", provider), slog.Any("error", err))
		return false
	}
	if ok {
		g.remember(ctx, provider)
	}
	return ok
}

// Acknowledge submits the signed acknowledgment for provider. Acknowledging
// an already acknowledged provider succeeds.
func (g *Gate) Acknowledge(ctx context.Context, provider string) error {
	const op = "acknowledgment.acknowledge"
	err := g.inference.Acknowledge(ctx, provider)
	if err != nil {
		if ok, checkErr := g.inference.IsAcknowledged(ctx, provider); checkErr == nil && ok {
			g.logger.Info("provider already acknowledged", slog.String("provider", provider))
			g.remember(ctx, provider)
			return nil
		}
		g.record(ctx, provider, err)
		return errs.FromRemote(op, provider, err)
	}

	g.record(ctx, provider, nil)
	g.remember(ctx, provider)
	g.logger.Info("provider acknowledged", slog.String("provider", provider))
	return nil
}

// Require fails with NotAcknowledged unless provider has been acknowledged.
func (g *Gate) Require(ctx context.Context, provider string) error {
	if g.IsAcknowledged(ctx, provider) {
		return nil
	}
	return &errs.Error{
		Kind:     errs.KindNotAcknowledged,
		Op:       "acknowledgment.require",
		Provider: provider,
		Remedy:   errs.RemedyAcknowledge,
	}
}

// Inspect returns the provider's service details together with its
// acknowledgment state.
func (g *Gate) Inspect(ctx context.Context, provider string) (Status, error) {
	meta, err := g.inference.GetServiceMetadata(ctx, provider)
	if err != nil {
		return Status{}, errs.FromRemote("acknowledgment.inspect", provider, err)
	}
	return Status{
		Provider:     provider,
		Model:        meta.Model,
		Endpoint:     meta.BaseURL(),
		Acknowledged: g.IsAcknowledged(ctx, provider),
	}, nil
}

func (g *Gate) remember(ctx context.Context, provider string) {
	if err := g.cache.Set(ctx, g.cacheKey(provider), true, cacheTTL); err != nil {
		g.logger.Warn("cache acknowledgment", slog.String("provider", provider), slog.Any("error", err))
	}
}

func (g *Gate) record(ctx context.Context, provider string, callErr error) {
	if g.journal == nil {
		return
	}
	entry := journal.Entry{Wallet: g.wallet, Provider: provider, Kind: journal.KindAcknowledge}
	if callErr != nil {
		entry.Status = journal.StatusFailed
		entry.Detail = callErr.Error()
	}
	if _, err := g.journal.Record(ctx, entry); err != nil {
		g.logger.Error("journal acknowledgment", slog.Any("error", err))
	}
}

func (g *Gate) cacheKey(provider string) string {
	return "ack:" + g.wallet + ":" + provider
}
