package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pump-trader-go/gateway"
	"pump-trader-go/infrastructure/logger"
	iconfig "pump-trader-go/internal/config"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env           string           `yaml:"env"`
	DryRun        bool             `yaml:"dryRun"`
	Gateway       GatewayConfig    `yaml:"gateway"`
	Log           logger.Config    `yaml:"log"`
	Metrics       MetricsConfig    `yaml:"metrics"`
	Alert         AlertConfig      `yaml:"alert"`
	Telegram      TelegramConfig   `yaml:"telegram"`
	Recorder      RecorderConfig   `yaml:"recorder"`
	Engine        EngineConfig     `yaml:"engine"`
	AllowListFile string           `yaml:"allowListFile"`
	Tunables      iconfig.Tunables `yaml:"tunables"`
}

type GatewayConfig struct {
	Venue        string        `yaml:"venue"`
	APIKey       string        `yaml:"apiKey"`
	APISecret    string        `yaml:"apiSecret"`
	BaseURL      string        `yaml:"baseURL"`     // 为空时使用交易所默认地址
	RateLimit    float64       `yaml:"rateLimit"`   // 每秒请求数
	Burst        int           `yaml:"burst"`
	RecvWindowMs int64         `yaml:"recvWindowMs"`
	Timeout      time.Duration `yaml:"timeout"`
	PaperBalance float64       `yaml:"paperBalance"` // dryRun 时的初始计价币余额
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

type AlertConfig struct {
	Throttle time.Duration `yaml:"throttle"`
}

type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Token    string  `yaml:"token"`
	ChatID   int64   `yaml:"chatID"`
	AdminIDs []int64 `yaml:"adminIDs"` // 为空时只接受 ChatID 里的消息
}

type RecorderConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Snapshots bool          `yaml:"snapshots"` // 买入后记录盘口
	Interval  time.Duration `yaml:"interval"`
	Duration  time.Duration `yaml:"duration"`
}

type EngineConfig struct {
	ScannerAutostart bool          `yaml:"scannerAutostart"`
	StopTimeout      time.Duration `yaml:"stopTimeout"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Gateway: GatewayConfig{
			Venue:        "mexc",
			RateLimit:    10,
			Burst:        20,
			RecvWindowMs: 5000,
			Timeout:      10 * time.Second,
			PaperBalance: 1000,
		},
		Log:      logger.DefaultConfig(),
		Metrics:  MetricsConfig{Addr: ":9108", Namespace: "pump"},
		Alert:    AlertConfig{Throttle: time.Minute},
		Recorder: RecorderConfig{Interval: time.Second, Duration: 200 * time.Second},
		Engine:   EngineConfig{ScannerAutostart: true, StopTimeout: 10 * time.Second},
		Tunables: iconfig.Defaults(),
	}
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(raw []byte) (AppConfig, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, Validate(cfg)
}

// Load reads YAML config from path and applies validation.
func Load(path string) (AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Default(), fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil && !IsCredentialError(err) {
		return cfg, err
	}
	if v := os.Getenv("PUMP_GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("PUMP_GATEWAY_API_SECRET"); v != "" {
		cfg.Gateway.APISecret = v
	}
	if v := os.Getenv("PUMP_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	return cfg, Validate(cfg)
}

// LoadAllowList reads one pair per line; blank lines and '#' comments are skipped.
// Bare symbols such as "DOGE" or "DOGEUSDT" are normalised to "DOGE/USDT".
func LoadAllowList(path, quote string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open allow list: %w", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pair := gateway.NormalizePair(line, quote)
		if !seen[pair] {
			seen[pair] = true
			out = append(out, pair)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read allow list: %w", err)
	}
	return out, nil
}
