// Package cli defines the settlement command line: the HTTP server and the
// one-shot reconciliation jobs.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/Shivanand-hulikatti/settlement-engine/internal/broker"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/config"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/database"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/gateway"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/logger"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/repository"
	"github.com/Shivanand-hulikatti/settlement-engine/internal/service"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "settlement",
		Short:         "Payment and settlement reconciliation engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(expirePromotionsCmd())
	root.AddCommand(sweepPaymentsCmd())
	root.AddCommand(reconcileEventCmd())
	return root
}

// app is everything a command needs, built from configuration.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	engine  *service.Engine
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// bootstrap loads configuration and wires the store, gateway, broker and
// engine. Logs go to logOut so command output on stdout stays clean.
func bootstrap(ctx context.Context, logOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger.NewWithWriter(logOut, cfg.LogLevel, cfg.LogFormat)}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	pub, err := a.openBroker()
	if err != nil {
		a.Close()
		return nil, err
	}

	gw := gateway.NewPaystackClient(cfg.GatewayBaseURL, cfg.GatewaySecretKey, cfg.Currency, cfg.GatewayTimeout)
	a.engine = service.NewEngine(store, gw, pub, a.log, settings(cfg))
	return a, nil
}

func (a *app) openStore(ctx context.Context) (repository.Store, error) {
	if a.cfg.Store == config.StoreMemory {
		a.log.Warn("using in-memory store, data is lost on exit")
		return repository.NewMemoryStore(), nil
	}
	pool, err := database.NewPool(ctx, a.cfg.DB, a.log)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if err := database.Migrate(ctx, pool); err != nil {
		return nil, err
	}
	a.log.Info("connected to postgres", "host", a.cfg.DB.Host, "db", a.cfg.DB.DBName)
	return repository.NewPostgresStore(pool), nil
}

func (a *app) openBroker() (broker.Publisher, error) {
	var pub broker.Publisher
	switch a.cfg.Broker {
	case config.BrokerKafka:
		pub = broker.NewKafkaPublisher(a.cfg.KafkaBroker, a.cfg.KafkaTopic)
		a.log.Info("publishing settlement events to kafka", "broker", a.cfg.KafkaBroker, "topic", a.cfg.KafkaTopic)
	case config.BrokerRabbitMQ:
		rp, err := broker.NewRabbitPublisher(a.cfg.RabbitMQURL, a.cfg.RabbitMQQueue)
		if err != nil {
			return nil, err
		}
		pub = rp
		a.log.Info("publishing settlement events to rabbitmq", "queue", a.cfg.RabbitMQQueue)
	default:
		return broker.NopPublisher{}, nil
	}
	a.closers = append(a.closers, func() {
		if err := pub.Close(); err != nil {
			a.log.Warn("close publisher", "error", err)
		}
	})
	return pub, nil
}

func settings(cfg *config.Config) service.Settings {
	s := service.DefaultSettings()
	s.Currency = cfg.Currency
	s.PlatformName = cfg.PlatformName
	// the provider signs webhooks with the account's secret key
	s.WebhookSecret = cfg.GatewaySecretKey
	s.WithdrawalFeeRate = cfg.WithdrawalFeeRate
	s.WithdrawalMinFee = cfg.WithdrawalMinFee
	s.RefundRetentionRate = cfg.RefundRetentionRate
	s.SweepAge = cfg.PaymentSweepAge
	s.AbandonAfter = cfg.PaymentAbandonAfter
	return s
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
