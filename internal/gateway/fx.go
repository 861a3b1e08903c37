package gateway

import (
	"errors"

	"github.com/smallbiznis/dojopay/internal/config"
	"github.com/smallbiznis/dojopay/internal/gateway/domain"
	"github.com/smallbiznis/dojopay/internal/gateway/stripe"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gateway",
	fx.Provide(func(log *zap.Logger) *Registry {
		return NewRegistry(stripe.NewFactory(log))
	}),
	fx.Provide(New),
)

// New builds the configured processor gateway. Missing credentials yield a
// gateway that refuses every call with ErrInvalidConfig, so the affected
// endpoints answer with a configuration error instead of degrading.
func New(cfg config.Config, registry *Registry, log *zap.Logger) (domain.Gateway, error) {
	gw, err := registry.NewGateway(cfg.Processor.Provider, domain.Config{
		SecretKey:     cfg.Processor.SecretKey,
		WebhookSecret: cfg.Processor.WebhookSecret,
		Timeout:       cfg.Processor.Timeout,
		BackendURL:    cfg.Processor.BackendURL,
	})
	if errors.Is(err, domain.ErrInvalidConfig) {
		log.Warn("gateway.unconfigured", zap.String("provider", cfg.Processor.Provider), zap.Error(err))
		return Unconfigured(cfg.Processor.Provider, err), nil
	}
	return gw, err
}
