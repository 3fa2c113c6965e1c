package config

import (
	"errors"
	"fmt"

	"pump-trader-go/gateway"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// errCredentials 缺少交易所密钥；LoadWithEnvOverrides 会先尝试环境变量。
const errCredentials = ErrInvalid("gateway.apiKey/apiSecret is required (or env overrides)")

func IsCredentialError(err error) bool {
	return errors.Is(err, errCredentials)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, ErrInvalid(fmt.Sprintf(format, args...)))
	}

	if cfg.Env == "" {
		add("env is required")
	}
	if _, err := gateway.LookupVenue(cfg.Gateway.Venue); err != nil {
		add("gateway.venue: %v", err)
	}
	if !cfg.DryRun && (cfg.Gateway.APIKey == "" || cfg.Gateway.APISecret == "") {
		errs = append(errs, errCredentials)
	}
	if cfg.Gateway.RateLimit <= 0 {
		add("gateway.rateLimit must be > 0")
	}
	if cfg.Gateway.Burst <= 0 {
		add("gateway.burst must be > 0")
	}
	if cfg.DryRun && cfg.Gateway.PaperBalance <= 0 {
		add("gateway.paperBalance must be > 0 in dryRun")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		add("metrics.addr is required when metrics are enabled")
	}
	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			add("telegram.token is required (or PUMP_TELEGRAM_TOKEN)")
		}
		if cfg.Telegram.ChatID == 0 {
			add("telegram.chatID is required")
		}
	}
	if cfg.Recorder.Enabled && cfg.Recorder.Snapshots {
		if cfg.Recorder.Interval <= 0 || cfg.Recorder.Duration <= 0 {
			add("recorder.interval and recorder.duration must be > 0")
		}
	}
	if err := cfg.Tunables.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tunables: %w", err))
	}
	return errors.Join(errs...)
}
