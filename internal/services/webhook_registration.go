package services

import (
	"context"
	"net"
	"net/url"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/storefront/services/payments/config"
	"example.com/storefront/services/payments/internal/gateway"
	"example.com/storefront/services/payments/internal/signature"
)

// subscribedEvents is the full set of gateway events this service handles.
var subscribedEvents = []string{
	EventPaymentAuthorized,
	EventPaymentFailed,
	EventOrderPaid,
	EventSubscriptionPaused,
	EventSubscriptionResumed,
	EventSubscriptionCancelled,
	EventSubscriptionCharged,
}

// WebhookRegistrar keeps the gateway-side webhook registration pointing at
// this deployment with the right event set and secret.
type WebhookRegistrar struct {
	gateway RegistrarGateway
	cfg     config.GatewayConfig
	secret  string
}

// NewWebhookRegistrar creates a webhook registrar
func NewWebhookRegistrar(gw RegistrarGateway, cfg config.GatewayConfig) *WebhookRegistrar {
	return &WebhookRegistrar{
		gateway: gw,
		cfg:     cfg,
		secret:  cfg.WebhookSecret,
	}
}

// Secret returns the webhook secret in effect, which may have been generated
// by EnsureWebhook when none was configured.
func (r *WebhookRegistrar) Secret() string {
	return r.secret
}

// EnsureWebhook registers or updates the gateway webhook for the configured
// URL. A URL that does not resolve to a public address is skipped, since the
// gateway could never deliver to it. When no secret is configured a random
// one is generated and logged for the operator to persist.
func (r *WebhookRegistrar) EnsureWebhook(ctx context.Context) error {
	if r.cfg.WebhookURL == "" {
		log.Debug().Msg("No webhook URL configured, skipping registration")
		return nil
	}

	reachable, err := publiclyReachable(r.cfg.WebhookURL)
	if err != nil {
		return errors.Wrap(err, "failed to check webhook URL reachability")
	}
	if !reachable {
		log.Warn().
			Str("url", r.cfg.WebhookURL).
			Msg("Webhook URL does not resolve to a public address, skipping registration")
		return nil
	}

	if r.secret == "" {
		secret, err := signature.GenerateSecret()
		if err != nil {
			return err
		}
		r.secret = secret
		log.Warn().
			Str("webhook_secret", secret).
			Msg("Generated webhook secret; persist it in configuration or it will rotate on restart")
	}

	events := make(map[string]bool, len(subscribedEvents))
	for _, e := range subscribedEvents {
		events[e] = true
	}
	req := gateway.WebhookRequest{
		URL:    r.cfg.WebhookURL,
		Events: events,
		Secret: r.secret,
		Active: true,
	}

	existing, err := r.gateway.ListWebhooks(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list gateway webhooks")
	}

	for _, hook := range existing {
		if hook.URL != r.cfg.WebhookURL {
			continue
		}
		// Keep events another deployment subscribed on the same hook.
		for name, on := range hook.Events {
			if on && !req.Events[name] {
				req.Events[name] = true
			}
		}
		if _, err := r.gateway.UpdateWebhook(ctx, hook.ID, req); err != nil {
			return errors.Wrap(err, "failed to update gateway webhook")
		}
		log.Info().Str("webhook_id", hook.ID).Msg("Updated gateway webhook registration")
		return nil
	}

	hook, err := r.gateway.CreateWebhook(ctx, req)
	if err != nil {
		return errors.Wrap(err, "failed to create gateway webhook")
	}
	log.Info().Str("webhook_id", hook.ID).Msg("Created gateway webhook registration")
	return nil
}

// publiclyReachable reports whether the URL's host resolves to at least one
// globally routable address.
func publiclyReachable(rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, errors.Wrap(err, "invalid webhook URL")
	}
	host := u.Hostname()
	if host == "" {
		return false, errors.New("webhook URL has no host")
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return false, errors.Wrapf(err, "failed to resolve %s", host)
	}
	for _, ip := range ips {
		if ip.IsGlobalUnicast() && !ip.IsPrivate() {
			return true, nil
		}
	}
	return false, nil
}
