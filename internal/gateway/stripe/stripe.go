package stripe

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	gatewaydomain "github.com/smallbiznis/dojopay/internal/gateway/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

const providerName = "stripe"

type Factory struct {
	log *zap.Logger
}

func NewFactory(log *zap.Logger) *Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Factory{log: log}
}

func (f *Factory) Provider() string {
	return providerName
}

func (f *Factory) NewGateway(cfg gatewaydomain.Config) (gatewaydomain.Gateway, error) {
	secretKey := strings.TrimSpace(cfg.SecretKey)
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if secretKey == "" || webhookSecret == "" {
		return nil, gatewaydomain.ErrInvalidConfig
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	log := f.log.Named("gateway.stripe")
	backendCfg := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		LeveledLogger:     log.Sugar(),
		MaxNetworkRetries: stripego.Int64(0),
	}
	if url := strings.TrimSpace(cfg.BackendURL); url != "" {
		backendCfg.URL = stripego.String(url)
	}

	api := &client.API{}
	api.Init(secretKey, &stripego.Backends{
		API:     stripego.GetBackendWithConfig(stripego.APIBackend, backendCfg),
		Connect: stripego.GetBackendWithConfig(stripego.ConnectBackend, backendCfg),
		Uploads: stripego.GetBackendWithConfig(stripego.UploadsBackend, backendCfg),
	})

	return &Adapter{
		api:           api,
		webhookSecret: webhookSecret,
		log:           log,
	}, nil
}

// Adapter implements the processor gateway on the Stripe API.
type Adapter struct {
	api           *client.API
	webhookSecret string
	log           *zap.Logger
}

func (a *Adapter) Provider() string {
	return providerName
}

// classify maps SDK and transport failures to processor error kinds. When
// the request may have reached Stripe, timeouts and dropped connections on
// mutating calls are unknown outcomes rather than failures.
func classify(err error, mutating bool) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripego.Error
	if errors.As(err, &stripeErr) {
		code := string(stripeErr.Code)
		decline := string(stripeErr.DeclineCode)
		kind := gatewaydomain.KindOther
		switch {
		case code == "authentication_required" || decline == "authentication_required":
			kind = gatewaydomain.KindAuthenticationRequired
		case stripeErr.Type == stripego.ErrorTypeCard:
			kind = gatewaydomain.KindCardDeclined
		case code == "resource_missing":
			procErr := gatewaydomain.NewProcessorError(gatewaydomain.KindInvalidRequest, code, decline, stripeErr.Msg)
			procErr.Err = gatewaydomain.ErrNotFound
			return procErr
		case code == "rate_limit" || stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
			kind = gatewaydomain.KindUnavailable
		case stripeErr.Type == stripego.ErrorTypeInvalidRequest, stripeErr.Type == stripego.ErrorTypeIdempotency:
			kind = gatewaydomain.KindInvalidRequest
		case stripeErr.Type == stripego.ErrorTypeAPI:
			kind = gatewaydomain.KindUnavailable
			if mutating {
				kind = gatewaydomain.KindUnknownOutcome
			}
		}
		procErr := gatewaydomain.NewProcessorError(kind, code, decline, stripeErr.Msg)
		procErr.Err = err
		return procErr
	}

	if isTimeout(err) {
		kind := gatewaydomain.KindUnavailable
		if mutating {
			kind = gatewaydomain.KindUnknownOutcome
		}
		procErr := gatewaydomain.NewProcessorError(kind, "timeout", "", "processor request timed out")
		procErr.Err = err
		return procErr
	}

	if mutating && !failedBeforeSend(err) {
		procErr := gatewaydomain.NewProcessorError(gatewaydomain.KindUnknownOutcome, "connection_lost", "", "processor connection lost mid-request")
		procErr.Err = err
		return procErr
	}

	procErr := gatewaydomain.NewProcessorError(gatewaydomain.KindUnavailable, "", "", "processor unreachable")
	procErr.Err = err
	return procErr
}

// failedBeforeSend reports transport errors that happen before any request
// bytes leave: name resolution and dialing.
func failedBeforeSend(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout exceeded")
}
