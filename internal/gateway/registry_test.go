package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/dojopay/internal/config"
	"github.com/smallbiznis/dojopay/internal/gateway/domain"
	"github.com/smallbiznis/dojopay/internal/gateway/stripe"
	"go.uber.org/zap"
)

func TestRegistryResolvesStripe(t *testing.T) {
	registry := NewRegistry(stripe.NewFactory(zap.NewNop()), nil)
	if !registry.ProviderExists(" Stripe ") {
		t.Fatalf("expected stripe to be registered")
	}

	gw, err := registry.NewGateway("stripe", domain.Config{SecretKey: "sk_test_1", WebhookSecret: "whsec_1"})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	if gw.Provider() != "stripe" {
		t.Fatalf("expected stripe provider, got %s", gw.Provider())
	}
}

func TestRegistryRejectsUnknownAndMisconfigured(t *testing.T) {
	registry := NewRegistry(stripe.NewFactory(zap.NewNop()))

	if _, err := registry.NewGateway("adyen", domain.Config{}); !errors.Is(err, domain.ErrProviderNotFound) {
		t.Fatalf("expected provider not found, got %v", err)
	}
	if _, err := registry.NewGateway("stripe", domain.Config{SecretKey: "sk_test_1"}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}

	var nilRegistry *Registry
	if nilRegistry.ProviderExists("stripe") {
		t.Fatalf("nil registry must not report providers")
	}
}

func TestNewReturnsUnconfiguredGatewayWithoutSecrets(t *testing.T) {
	registry := NewRegistry(stripe.NewFactory(zap.NewNop()))
	cfg := config.Config{Processor: config.ProcessorConfig{Provider: "stripe"}}

	gw, err := New(cfg, registry, zap.NewNop())
	if err != nil {
		t.Fatalf("expected degraded gateway, got %v", err)
	}
	if _, err := gw.CreatePaymentIntent(context.Background(), domain.PaymentIntentInput{}); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if _, err := gw.ParseWebhook([]byte("{}"), "sig"); !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("expected invalid config on webhook, got %v", err)
	}
}
