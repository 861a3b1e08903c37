package config

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingPolicy holds the tunables used by charges and sweeps.
type BillingPolicy struct {
	Currency  string          `mapstructure:"currency" validate:"required,len=3"`
	LateFee   LateFeePolicy   `mapstructure:"lateFee"`
	Retry     RetryPolicy     `mapstructure:"retry"`
	Renewal   RenewalPolicy   `mapstructure:"renewal"`
	ClassPack ClassPackPolicy `mapstructure:"classPack"`
	Trial     TrialPolicy     `mapstructure:"trial"`
}

type LateFeePolicy struct {
	Percentage   string `mapstructure:"percentage" validate:"required,numeric"`
	MinimumCents int64  `mapstructure:"minimumCents" validate:"gte=0"`
	GraceDays    int    `mapstructure:"graceDays" validate:"gte=0"`
}

// Rate returns the percentage as a fraction (0.05 for five percent).
func (p LateFeePolicy) Rate() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(p.Percentage))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

type RetryPolicy struct {
	MaxAttempts            int `mapstructure:"maxAttempts" validate:"gte=1"`
	LookbackDays           int `mapstructure:"lookbackDays" validate:"gte=1"`
	InvoiceRetryOffsetDays int `mapstructure:"invoiceRetryOffsetDays" validate:"gte=1"`
}

type RenewalPolicy struct {
	NoticeLookaheadDays int `mapstructure:"noticeLookaheadDays" validate:"gte=0"`
}

type ClassPackPolicy struct {
	RenewalThreshold    int `mapstructure:"renewalThreshold" validate:"gte=0"`
	ExpiryLookaheadDays int `mapstructure:"expiryLookaheadDays" validate:"gte=0"`
}

type TrialPolicy struct {
	NoticeLookaheadDays int `mapstructure:"noticeLookaheadDays" validate:"gte=0"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		Currency: "usd",
		LateFee: LateFeePolicy{
			Percentage:   "0.05",
			MinimumCents: 500,
			GraceDays:    7,
		},
		Retry: RetryPolicy{
			MaxAttempts:            3,
			LookbackDays:           30,
			InvoiceRetryOffsetDays: 3,
		},
		Renewal: RenewalPolicy{
			NoticeLookaheadDays: 30,
		},
		ClassPack: ClassPackPolicy{
			RenewalThreshold:    2,
			ExpiryLookaheadDays: 7,
		},
		Trial: TrialPolicy{
			NoticeLookaheadDays: 3,
		},
	}
}

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

// NewStaticBillingPolicy wraps a fixed policy without file watching.
func NewStaticBillingPolicy(policy BillingPolicy) *BillingPolicyHolder {
	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewBillingPolicyHolder(path string) (*BillingPolicyHolder, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("billing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/dojopay")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("DOJOPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setPolicyDefaults(v, DefaultBillingPolicy())

	found := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, err
		}
		found = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticBillingPolicy(policy)
	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			zap.L().Warn("billing_policy.reload_ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		zap.L().Info("billing_policy.reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	if h == nil {
		return DefaultBillingPolicy()
	}
	policy, ok := h.current.Load().(BillingPolicy)
	if !ok {
		return DefaultBillingPolicy()
	}
	return policy
}

var policyValidator = validator.New(validator.WithRequiredStructEnabled())

func ValidateBillingPolicy(policy BillingPolicy) error {
	if err := policyValidator.Struct(policy); err != nil {
		return fmt.Errorf("invalid billing policy: %w", err)
	}
	if policy.LateFee.Rate().IsNegative() {
		return fmt.Errorf("invalid billing policy: lateFee.percentage must not be negative")
	}
	return nil
}

func decodePolicy(v *viper.Viper) (BillingPolicy, error) {
	var wrapper struct {
		Billing BillingPolicy `mapstructure:"billing"`
	}
	if err := v.Unmarshal(&wrapper); err != nil {
		return BillingPolicy{}, err
	}
	policy := wrapper.Billing
	policy.Currency = strings.ToLower(strings.TrimSpace(policy.Currency))
	if err := ValidateBillingPolicy(policy); err != nil {
		return BillingPolicy{}, err
	}
	return policy, nil
}

func setPolicyDefaults(v *viper.Viper, d BillingPolicy) {
	v.SetDefault("billing.currency", d.Currency)
	v.SetDefault("billing.lateFee.percentage", d.LateFee.Percentage)
	v.SetDefault("billing.lateFee.minimumCents", d.LateFee.MinimumCents)
	v.SetDefault("billing.lateFee.graceDays", d.LateFee.GraceDays)
	v.SetDefault("billing.retry.maxAttempts", d.Retry.MaxAttempts)
	v.SetDefault("billing.retry.lookbackDays", d.Retry.LookbackDays)
	v.SetDefault("billing.retry.invoiceRetryOffsetDays", d.Retry.InvoiceRetryOffsetDays)
	v.SetDefault("billing.renewal.noticeLookaheadDays", d.Renewal.NoticeLookaheadDays)
	v.SetDefault("billing.classPack.renewalThreshold", d.ClassPack.RenewalThreshold)
	v.SetDefault("billing.classPack.expiryLookaheadDays", d.ClassPack.ExpiryLookaheadDays)
	v.SetDefault("billing.trial.noticeLookaheadDays", d.Trial.NoticeLookaheadDays)
}
