package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type setter func(t *Tunables, v interface{}) error

func floatField(field func(*Tunables) *float64) setter {
	return func(t *Tunables, v interface{}) error {
		f, err := toFloat(v)
		if err != nil {
			return err
		}
		*field(t) = f
		return nil
	}
}

func durationField(field func(*Tunables) *time.Duration) setter {
	return func(t *Tunables, v interface{}) error {
		d, err := toDuration(v)
		if err != nil {
			return err
		}
		*field(t) = d
		return nil
	}
}

func boolField(field func(*Tunables) *bool) setter {
	return func(t *Tunables, v interface{}) error {
		b, err := toBool(v)
		if err != nil {
			return err
		}
		*field(t) = b
		return nil
	}
}

var setters = map[string]map[string]setter{
	"scanner": {
		"volume_ratio":     floatField(func(t *Tunables) *float64 { return &t.Scanner.VolumeRatio }),
		"price_pct":        floatField(func(t *Tunables) *float64 { return &t.Scanner.PricePct }),
		"min_quote_volume": floatField(func(t *Tunables) *float64 { return &t.Scanner.MinQuoteVolume }),
		"scan_interval":    durationField(func(t *Tunables) *time.Duration { return &t.Scanner.ScanInterval }),
		"filter_enabled":   boolField(func(t *Tunables) *bool { return &t.Scanner.FilterEnabled }),
	},
	"trade": {
		"usd":                floatField(func(t *Tunables) *float64 { return &t.Trade.USD }),
		"partial_profit":     floatField(func(t *Tunables) *float64 { return &t.Trade.PartialProfit }),
		"total_profit":       floatField(func(t *Tunables) *float64 { return &t.Trade.TotalProfit }),
		"min_up_start":       floatField(func(t *Tunables) *float64 { return &t.Trade.MinUpStart }),
		"slippage":           floatField(func(t *Tunables) *float64 { return &t.Trade.Slippage }),
		"time_limit_partial": durationField(func(t *Tunables) *time.Duration { return &t.Trade.TimeLimitPartial }),
		"time_limit_total":   durationField(func(t *Tunables) *time.Duration { return &t.Trade.TimeLimitTotal }),
		"fill_timeout":       durationField(func(t *Tunables) *time.Duration { return &t.Trade.FillTimeout }),
	},
	"spread": {
		"enabled":        boolField(func(t *Tunables) *bool { return &t.Spread.Enabled }),
		"usd":            floatField(func(t *Tunables) *float64 { return &t.Spread.USD }),
		"activation_pct": floatField(func(t *Tunables) *float64 { return &t.Spread.ActivationPct }),
		"delay":          durationField(func(t *Tunables) *time.Duration { return &t.Spread.Delay }),
		"time_limit":     durationField(func(t *Tunables) *time.Duration { return &t.Spread.TimeLimit }),
	},
}

// Keys 返回某类别下可设置的参数名。
func Keys(category string) []string {
	out := make([]string, 0, len(setters[category]))
	for k := range setters[category] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CategoryValidator 检查参数名是否存在、取值能否解析，并在副本上做整体校验。
type CategoryValidator struct {
	Category string
}

func (v CategoryValidator) Validate(params map[string]interface{}) error {
	fields, ok := setters[v.Category]
	if !ok {
		return fmt.Errorf("unknown category %q", v.Category)
	}
	sample := Defaults()
	for k, val := range params {
		set, ok := fields[k]
		if !ok {
			return fmt.Errorf("unknown %s parameter %q (known: %s)", v.Category, k, strings.Join(Keys(v.Category), ", "))
		}
		if err := set(&sample, val); err != nil {
			return fmt.Errorf("%s.%s: %w", v.Category, k, err)
		}
	}
	return nil
}

// StoreApplier 把参数写入 Store。
type StoreApplier struct {
	Store    *Store
	Category string
}

func (a *StoreApplier) ApplyParameters(params map[string]interface{}) error {
	fields := setters[a.Category]
	var setErr error
	err := a.Store.Update(func(t *Tunables) {
		for k, val := range params {
			set, ok := fields[k]
			if !ok {
				setErr = fmt.Errorf("unknown %s parameter %q", a.Category, k)
				return
			}
			if err := set(t, val); err != nil {
				setErr = err
				return
			}
		}
	})
	if setErr != nil {
		return setErr
	}
	return err
}

// ParseValue 把命令行文本转为 bool、float64 或保留字符串（如 "30s"）。
func ParseValue(s string) interface{} {
	s = strings.TrimSpace(s)
	if b, err := strconv.ParseBool(s); err == nil && !isNumeric(s) {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// toDuration 接受 "30s" 之类的字符串，或按秒解释的数字。
func toDuration(v interface{}) (time.Duration, error) {
	switch x := v.(type) {
	case time.Duration:
		return x, nil
	case float64:
		return time.Duration(x * float64(time.Second)), nil
	case int:
		return time.Duration(x) * time.Second, nil
	case string:
		if f, err := strconv.ParseFloat(x, 64); err == nil {
			return time.Duration(f * float64(time.Second)), nil
		}
		return time.ParseDuration(strings.TrimSpace(x))
	default:
		return 0, fmt.Errorf("expected duration, got %T", v)
	}
}

func toBool(v interface{}) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "on", "yes":
			return true, nil
		case "off", "no":
			return false, nil
		}
		return strconv.ParseBool(x)
	case float64:
		return x != 0, nil
	default:
		return false, fmt.Errorf("expected bool, got %T", v)
	}
}
