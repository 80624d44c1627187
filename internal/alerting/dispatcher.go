// Package alerting implements out-of-band alert delivery channels. Delivery
// failures are reported to the caller but never affect alert persistence.
package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/praetor-sec/praetor/internal/config"
	"github.com/praetor-sec/praetor/internal/types"
)

// Notifier is the common interface for all delivery channels.
type Notifier interface {
	Name() string
	Dispatch(ctx context.Context, alert *types.SecurityAlert) error
}

// Dispatcher fans an alert out to every configured channel, filtered by a
// minimum severity.
type Dispatcher struct {
	channels    []Notifier
	minSeverity types.Severity
	logger      zerolog.Logger
}

// NewDispatcher builds the dispatcher from the notify configuration.
// Channels that fail to initialize are skipped with a warning so one broken
// integration cannot take down the service.
func NewDispatcher(cfg config.NotifyConfig, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		minSeverity: types.ParseSeverity(cfg.MinSeverity),
		logger:      logger.With().Str("component", "dispatcher").Logger(),
	}

	if cfg.Webhook != nil && cfg.Webhook.Enabled {
		d.channels = append(d.channels, NewWebhookNotifier(*cfg.Webhook, logger))
	}
	if cfg.Telegram != nil && cfg.Telegram.Enabled {
		tg, err := NewTelegramNotifier(*cfg.Telegram, logger)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Telegram channel disabled")
		} else {
			d.channels = append(d.channels, tg)
		}
	}

	d.logger.Info().Int("channels", len(d.channels)).Msg("Notification dispatcher ready")
	return d
}

// Dispatch delivers the alert through every channel. Per-channel failures
// are logged and the last one is returned so callers can count them.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *types.SecurityAlert) error {
	if alert.Severity < d.minSeverity {
		return nil
	}

	var lastErr error
	for _, ch := range d.channels {
		if err := ch.Dispatch(ctx, alert); err != nil {
			d.logger.Warn().Err(err).
				Str("channel", ch.Name()).
				Str("alert_id", alert.ID).
				Msg("Alert delivery failed")
			lastErr = err
			continue
		}
		d.logger.Debug().
			Str("channel", ch.Name()).
			Str("alert_id", alert.ID).
			Msg("Alert delivered")
	}
	return lastErr
}

// Channels returns how many delivery channels are active.
func (d *Dispatcher) Channels() int {
	return len(d.channels)
}
