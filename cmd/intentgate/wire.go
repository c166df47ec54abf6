package main

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/intentgate/ai"
	"github.com/hrygo/intentgate/ai/backend"
	"github.com/hrygo/intentgate/ai/gate"
	"github.com/hrygo/intentgate/ai/limiter"
	"github.com/hrygo/intentgate/ai/metrics"
	"github.com/hrygo/intentgate/ai/notify"
	"github.com/hrygo/intentgate/ai/routing"
	"github.com/hrygo/intentgate/internal/paramstore"
	"github.com/hrygo/intentgate/internal/profile"
	"github.com/hrygo/intentgate/plugin/chat_apps/channels/telegram"
	"github.com/hrygo/intentgate/plugin/email"
	"github.com/hrygo/intentgate/plugin/webhook"
	"github.com/hrygo/intentgate/store"
	"github.com/hrygo/intentgate/store/db"
)

// gateway is every long-lived component of one process.
type gateway struct {
	store    *store.Store
	ensemble *routing.Ensemble
	limiter  *limiter.Limiter
	exporter *metrics.PrometheusExporter
	telegram *telegram.Channel
}

func newGateway(ctx context.Context, p *profile.Profile, logger *slog.Logger) (*gateway, error) {
	cfg := ai.NewConfigFromProfile(p)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid gateway config")
	}

	dbDriver, err := db.NewDBDriver(ctx, p)
	if err != nil {
		printDatabaseError(err, p)
		return nil, err
	}
	storeInstance := store.New(dbDriver, p)
	if err := storeInstance.Migrate(ctx); err != nil {
		storeInstance.Close()
		return nil, errors.Wrap(err, "failed to migrate")
	}

	g := &gateway{
		store:    storeInstance,
		exporter: metrics.NewPrometheusExporter(metrics.DefaultConfig()),
	}
	if err := g.build(ctx, p, cfg, logger); err != nil {
		storeInstance.Close()
		return nil, err
	}
	return g, nil
}

func (g *gateway) build(ctx context.Context, p *profile.Profile, cfg *ai.Config, logger *slog.Logger) error {
	targets, err := g.alertTargets(p, logger)
	if err != nil {
		return err
	}
	notifier := notify.NewNotifier(g.store, targets, g.exporter, logger)

	g.limiter, err = limiter.New(g.store, cfg.Limiter, notifier,
		limiter.WithMetrics(g.exporter), limiter.WithLogger(logger))
	if err != nil {
		return err
	}

	builder := &backend.Builder{Metrics: g.exporter, Logger: logger}
	if cfg.ParamPrefix != "" {
		secrets, err := paramstore.NewFromEnv(ctx, p.AWSRegion, cfg.ParamPrefix)
		if err != nil {
			return errors.Wrap(err, "failed to create parameter store client")
		}
		builder.Secrets = secrets
	}
	backends, err := builder.FromConfig(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "failed to build backends")
	}

	g.ensemble, err = routing.NewEnsemble(routing.Components{
		Gate:     gate.New(g.store, cfg.Gate, gate.WithMetrics(g.exporter), gate.WithLogger(logger)),
		Cache:    routing.NewResponseCache(g.store, cfg.Cache, g.exporter, logger),
		Limiter:  g.limiter,
		Alerter:  notifier,
		Backends: backends,
	}, cfg.Ensemble, routing.WithMetrics(g.exporter), routing.WithLogger(logger))
	return err
}

// alertTargets returns one target per admin chat, alert address and webhook.
// Alerts always reach the log.
func (g *gateway) alertTargets(p *profile.Profile, logger *slog.Logger) ([]notify.Target, error) {
	targets := []notify.Target{{Channel: notify.LogChannel{Logger: logger}, Recipient: "admin"}}

	if p.TelegramBotToken != "" {
		channel, err := telegram.NewChannel(&telegram.Config{BotToken: p.TelegramBotToken})
		if err != nil {
			return nil, err
		}
		g.telegram = channel
		for _, chatID := range p.AdminChatIDs {
			targets = append(targets, notify.Target{Channel: channel, Recipient: chatID})
		}
	}
	if p.SMTPHost != "" && len(p.AlertEmails) > 0 {
		channel, err := email.NewChannel(email.Config{
			SMTPHost:     p.SMTPHost,
			SMTPPort:     p.SMTPPort,
			SMTPUsername: p.SMTPUsername,
			SMTPPassword: p.SMTPPassword,
			FromEmail:    p.SMTPFrom,
			FromName:     "IntentGate",
		})
		if err != nil {
			return nil, errors.Wrap(err, "invalid SMTP configuration")
		}
		for _, address := range p.AlertEmails {
			targets = append(targets, notify.Target{Channel: channel, Recipient: address})
		}
	}
	if p.AlertWebhookURL != "" {
		targets = append(targets, notify.Target{Channel: webhook.NewChannel(p.AlertWebhookURL), Recipient: "admin"})
	}
	return targets, nil
}
