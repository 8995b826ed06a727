package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/clip-service/internal/config"
	"github.com/spec-kit/clip-service/internal/events"
)

// NotifierService records identity lifecycle events for operators and feeds
// the optional transfer webhook.
type NotifierService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotifyConfig
}

// NewNotifierService creates the service.
func NewNotifierService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotifyConfig) *NotifierService {
	return &NotifierService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotifierService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventIdentityCreated, n.handleIdentityCreated)
	n.dispatcher.Subscribe(events.EventIdentityPromoted, n.handleIdentityPromoted)
	n.dispatcher.Subscribe(events.EventIdentityRetired, n.handleIdentityRetired)
	n.dispatcher.Subscribe(events.EventProductsTransferred, n.handleProductsTransferred)
}

func (n *NotifierService) handleIdentityCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("IdentityCreated", zap.String("identity_id", event.IdentityID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotifierService) handleIdentityPromoted(ctx context.Context, event events.Event) error {
	n.logger.Info("IdentityPromoted", zap.String("identity_id", event.IdentityID), zap.Any("payload", event.Payload))
	n.sendWebhookStub(ctx, event)
	return nil
}

func (n *NotifierService) handleIdentityRetired(ctx context.Context, event events.Event) error {
	n.logger.Info("IdentityRetired", zap.String("identity_id", event.IdentityID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotifierService) handleProductsTransferred(ctx context.Context, event events.Event) error {
	n.logger.Info("ProductsTransferred", zap.String("identity_id", event.IdentityID), zap.Any("payload", event.Payload))
	n.sendWebhookStub(ctx, event)
	return nil
}

func (n *NotifierService) sendWebhookStub(ctx context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("identity_id", event.IdentityID),
		zap.String("event_type", string(event.Type)))
}
