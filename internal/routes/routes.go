package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/inferpay/inferpay/internal/broker"
	"github.com/inferpay/inferpay/internal/config"
	"github.com/inferpay/inferpay/internal/infra"
	"github.com/inferpay/inferpay/internal/journal"
	"github.com/inferpay/inferpay/internal/ledger"
	"github.com/inferpay/inferpay/internal/metrics"
	"github.com/inferpay/inferpay/internal/middleware"
	"github.com/inferpay/inferpay/internal/notification"
	"github.com/inferpay/inferpay/internal/session"
)

const cachePrefix = "inferpay:"

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	// Connector overrides the broker chosen from Cfg.BrokerURL.
	Connector broker.Connector
	// Registry receives the service metrics; a private registry is used when nil.
	Registry *prometheus.Registry
	// HTTPClient is used for the broker bridge and provider calls.
	HTTPClient *http.Client
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.Development() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: d.Cfg.StreamTimeout}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	m, err := metrics.New(d.Registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	connector := d.Connector
	mode := "custom"
	if connector == nil {
		if d.Cfg.BrokerURL != "" {
			connector = broker.NewBridge(d.Cfg.BrokerURL, &http.Client{Timeout: d.Cfg.BrokerTimeout})
			mode = "bridge"
		} else {
			connector = broker.NewMemory()
			mode = "memory"
			d.Logger.Warn("BROKER_URL not set, using the in-memory broker simulator")
		}
	}

	var entries journal.Journal
	if d.DB != nil {
		pg := journal.NewPostgres(d.DB)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("journal schema: %w", err)
		}
		entries = pg
	} else {
		entries = journal.NewMemory()
	}

	dir, err := session.NewDirectory(connector, session.Deps{
		Policy:      d.Cfg.Policy,
		SettleDelay: d.Cfg.SettleDelay,
		Cache:       infra.NewCache(d.Cache, cachePrefix, time.Minute),
		ServiceTTL:  d.Cfg.ServiceTTL,
		HTTPClient:  d.HTTPClient,
		Journal:     entries,
		Notifier:    notification.NewLoggerNotifier(d.Logger),
		Metrics:     m,
		Logger:      d.Logger,
	})
	if err != nil {
		return err
	}

	RegisterHealthRoutes(app, d, mode)
	RegisterMetricsRoute(app, d.Registry)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	wallets := api.Group("/wallets/:wallet", middleware.APIKey(d.Cfg.APIKeyHash))
	idem := middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)

	ledgerHandler := ledger.NewHandler(func(ctx context.Context, wallet string) (*ledger.Gateway, error) {
		s, err := dir.Get(ctx, wallet)
		if err != nil {
			return nil, err
		}
		return s.Ledger, nil
	})
	RegisterLedgerRoutes(wallets, ledgerHandler, idem)

	sessionHandler := session.NewHandler(dir, d.Cfg.StreamTimeout, d.Logger)
	limit := middleware.ChatRateLimit(d.Cache, d.Cfg.ChatRateLimit, d.Logger)
	RegisterServiceRoutes(wallets, sessionHandler, idem)
	RegisterChatRoutes(wallets, sessionHandler, limit)

	RegisterJournalRoutes(wallets, journal.NewHandler(entries))

	return nil
}
