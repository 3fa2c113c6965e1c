// Package alert 把会话结果和异常事件扇出到多个告警通道，并按内容限流。
package alert

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pump-trader-go/internal/clock"
)

// Level 告警级别。
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息。
type Alert struct {
	Level     Level
	Message   string
	Pair      string // 可为空
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Key 限流键：同级别、同交易对、同消息视为重复。
func (a Alert) Key() string {
	return fmt.Sprintf("%s:%s:%s", a.Level, a.Pair, a.Message)
}

// FieldString 按键名排序输出附加字段，便于日志与消息比对。
func (a Alert) FieldString() string {
	if len(a.Fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, a.Fields[k]))
	}
	return strings.Join(parts, " ")
}

// Channel 告警通道。
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 告警限流器。
type Throttler struct {
	clk      clock.Clock
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottler 创建限流器，interval<=0 表示不限流。
func NewThrottler(interval time.Duration, clk clock.Clock) *Throttler {
	if clk == nil {
		clk = clock.Real
	}
	return &Throttler{
		clk:      clk,
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 检查是否允许发送。
func (t *Throttler) Allow(key string) bool {
	if t.interval <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	last, ok := t.lastSent[key]
	if !ok || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Clear 清空所有限流记录。
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 告警管理器。
type Manager struct {
	clk      clock.Clock
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

// NewManager 创建告警管理器。
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return NewManagerWithClock(channels, throttleInterval, clock.Real)
}

// NewManagerWithClock 使用指定时钟创建告警管理器（测试用）。
func NewManagerWithClock(channels []Channel, throttleInterval time.Duration, clk clock.Clock) *Manager {
	return &Manager{
		clk:      clk,
		channels: channels,
		throttle: NewThrottler(throttleInterval, clk),
	}
}

// SendAlert 发送告警。被限流时静默返回 nil；所有通道都失败时返回合并后的错误。
func (m *Manager) SendAlert(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.clk.Now()
	}
	if !m.throttle.Allow(alert.Key()) {
		return nil
	}

	m.mu.RLock()
	channels := append([]Channel(nil), m.channels...)
	m.mu.RUnlock()

	var errs []error
	for _, ch := range channels {
		if err := ch.Send(alert); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.Name(), err))
		}
	}
	if len(channels) > 0 && len(errs) == len(channels) {
		return errors.Join(errs...)
	}
	return nil
}

func (m *Manager) send(level Level, pair, message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Level: level, Pair: pair, Message: message, Fields: fields})
}

// SendInfo 发送 INFO 告警。
func (m *Manager) SendInfo(pair, message string, fields map[string]interface{}) error {
	return m.send(LevelInfo, pair, message, fields)
}

// SendWarning 发送 WARNING 告警。
func (m *Manager) SendWarning(pair, message string, fields map[string]interface{}) error {
	return m.send(LevelWarning, pair, message, fields)
}

// SendError 发送 ERROR 告警。
func (m *Manager) SendError(pair, message string, fields map[string]interface{}) error {
	return m.send(LevelError, pair, message, fields)
}

// SendCritical 发送 CRITICAL 告警。
func (m *Manager) SendCritical(pair, message string, fields map[string]interface{}) error {
	return m.send(LevelCritical, pair, message, fields)
}

// AddChannel 添加告警通道。
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// RemoveChannel 按名称移除告警通道。
func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := m.channels[:0:0]
	for _, ch := range m.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	m.channels = filtered
}

// GetChannels 通道名称列表。
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器。
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
