package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"pump-trader-go/infrastructure/alert"
	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/internal/clock"
	"pump-trader-go/internal/config"
	"pump-trader-go/internal/dispatcher"
	"pump-trader-go/internal/order_manager"
	"pump-trader-go/internal/scanner"
	"pump-trader-go/internal/session"
	"pump-trader-go/strategy/pump"
	"pump-trader-go/strategy/spread"
)

// ErrNotRunning 引擎未启动时拒绝新会话。
var ErrNotRunning = errors.New("engine not running")

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	ScannerAutostart bool          // Start 时是否同时启动扫描
	RecordSnapshots  bool          // 买入后是否记录盘口快照
	StopTimeout      time.Duration // Stop 等待会话退出的最长时间
}

// SnapshotRecorder 买入后采样盘口。
type SnapshotRecorder interface {
	Record(ctx context.Context, pair string) int
}

// Journal 会话结果入库。
type Journal interface {
	SaveOutcome(ctx context.Context, out session.Outcome) error
}

// SessionMetrics 会话指标。
type SessionMetrics interface {
	SessionStarted(kind string)
	SessionFinished(kind, result string, d time.Duration, profit float64, leaked int)
}

// Components 引擎依赖组件
type Components struct {
	Store        *config.Store
	Executor     *order_manager.Executor
	Scanner      *scanner.Scanner
	Queue        *scanner.Queue
	Suspension   *scanner.Suspension
	Policy       *dispatcher.AutoBuyPolicy
	Notifier     dispatcher.Notifier
	AlertManager *alert.Manager
	Recorder     SnapshotRecorder
	Journal      Journal
	Metrics      SessionMetrics
	Logger       *logger.Logger
	Clock        clock.Clock
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime time.Time
	Launched  int64
	Finished  int64
	ByResult  map[session.Result]int64
	Leaked    int64
}

// TradingEngine 把扫描、分发与会话串起来。
type TradingEngine struct {
	config Config

	store      *config.Store
	exec       *order_manager.Executor
	scanner    *scanner.Scanner
	queue      *scanner.Queue
	suspension *scanner.Suspension
	policy     *dispatcher.AutoBuyPolicy
	dispatcher *dispatcher.Dispatcher
	alertMgr   *alert.Manager
	recorder   SnapshotRecorder
	journal    Journal
	metrics    SessionMetrics
	logger     *logger.Logger
	clk        clock.Clock
	registry   *session.Registry

	state  EngineState
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	scanCancel context.CancelFunc
	scanDone   chan struct{}

	statsMu sync.Mutex
	stats   Statistics
}

// New 创建交易引擎
func New(cfg Config, c Components) (*TradingEngine, error) {
	if err := validateComponents(c); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	if c.Clock == nil {
		c.Clock = clock.Real
	}
	if c.Policy == nil {
		c.Policy = dispatcher.NewAutoBuyPolicy()
	}

	e := &TradingEngine{
		config:     cfg,
		store:      c.Store,
		exec:       c.Executor,
		scanner:    c.Scanner,
		queue:      c.Queue,
		suspension: c.Suspension,
		policy:     c.Policy,
		alertMgr:   c.AlertManager,
		recorder:   c.Recorder,
		journal:    c.Journal,
		metrics:    c.Metrics,
		logger:     c.Logger,
		clk:        c.Clock,
		state:      StateIdle,
		stats:      Statistics{ByResult: make(map[session.Result]int64)},
	}
	e.registry = session.NewRegistry(c.Logger.Named("sessions"), c.Clock, e.onFinish)
	e.dispatcher = dispatcher.New(c.Queue, c.Policy, e, c.Notifier, c.Clock, c.Logger.Named("dispatcher"))
	return e, nil
}

func validateComponents(c Components) error {
	var errs []error
	if c.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if c.Executor == nil {
		errs = append(errs, errors.New("executor is required"))
	}
	if c.Scanner == nil {
		errs = append(errs, errors.New("scanner is required"))
	}
	if c.Queue == nil {
		errs = append(errs, errors.New("queue is required"))
	}
	if c.Suspension == nil {
		errs = append(errs, errors.New("suspension is required"))
	}
	return errors.Join(errs...)
}

// SetNotifier 替换异动通知方（控制面板晚于引擎创建时使用）。
func (e *TradingEngine) SetNotifier(n dispatcher.Notifier) {
	e.dispatcher.SetNotifier(n)
}

// Start 启动分发循环，并按配置启动扫描。
func (e *TradingEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.state = StateRunning
	runCtx := e.ctx
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = e.clk.Now()
	e.statsMu.Unlock()

	e.logger.Info("Trading engine starting",
		zap.Bool("scanner_autostart", e.config.ScannerAutostart),
		zap.Bool("record_snapshots", e.config.RecordSnapshots))

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		if err := e.dispatcher.Run(runCtx); err != nil {
			e.logger.Error("dispatcher stopped", zap.Error(err))
		}
	}()

	if e.config.ScannerAutostart {
		if err := e.StartScanner(); err != nil {
			return err
		}
	}
	e.logger.Info("Trading engine started")
	return nil
}

// Stop 停止扫描与分发，并终止全部会话。被终止会话的挂单会出现在其结果的 LeakedOrders 中。
func (e *TradingEngine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine not running (state: %s)", e.state)
	}
	e.state = StateStopped
	cancel := e.cancel
	e.mu.Unlock()

	e.logger.Info("Trading engine stopping...")
	e.StopScanner()
	if n := e.registry.KillAll(); n > 0 {
		e.logger.Warn("killing running sessions", zap.Int("count", n))
	}
	cancel()

	done := make(chan struct{})
	go func() {
		e.registry.Wait()
		e.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.config.StopTimeout):
		e.logger.Warn("Timeout waiting for sessions to stop")
	}

	e.logger.Info("Trading engine stopped")
	return nil
}

// GetState 当前状态
func (e *TradingEngine) GetState() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *TradingEngine) runContext() (context.Context, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateRunning {
		return nil, ErrNotRunning
	}
	return e.ctx, nil
}

// StartScanner 启动扫描循环；已在运行时什么都不做。
func (e *TradingEngine) StartScanner() error {
	ctx, err := e.runContext()
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scanCancel != nil {
		return nil
	}
	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.scanCancel, e.scanDone = cancel, done
	go func() {
		defer close(done)
		if err := e.scanner.Run(scanCtx); err != nil {
			e.logger.Error("scanner exited", zap.Error(err))
		}
	}()
	e.logger.Info("scanner started")
	return nil
}

// StopScanner 停止扫描并等待其退出；会话不受影响。
func (e *TradingEngine) StopScanner() bool {
	e.mu.Lock()
	cancel, done := e.scanCancel, e.scanDone
	e.scanCancel, e.scanDone = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	e.logger.Info("scanner stopped")
	return true
}

// ScannerRunning 扫描是否在运行。
func (e *TradingEngine) ScannerRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scanCancel != nil
}

// Buy 实现 dispatcher.Buyer。失败只记日志。
func (e *TradingEngine) Buy(pair, source string) {
	if _, err := e.TryBuy(pair, source); err != nil {
		e.logger.Error("buy not launched",
			zap.String("pair", pair),
			zap.String("source", source),
			zap.Error(err))
	}
}

// TryBuy 启动一次拉盘会话并返回会话 ID。
// 扫描会被节流 BuySuspend；开启跟随价差时在 Spread.Delay 后启动价差会话。
func (e *TradingEngine) TryBuy(pair, source string) (string, error) {
	ctx, err := e.runContext()
	if err != nil {
		return "", err
	}
	tu := e.store.Snapshot()
	e.suspension.SuspendFor(tu.Trade.BuySuspend)

	sess, err := pump.New(pair, e.exec, e.store, e.logger.Named("pump"))
	if err != nil {
		return "", err
	}
	id := e.launch(ctx, pair, session.KindPump, sess.Run)
	e.logger.Info("pump session launched",
		zap.String("id", id),
		zap.String("pair", pair),
		zap.String("source", source))
	e.sendAlert(alert.LevelInfo, pair, "buy launched", map[string]interface{}{"source": source, "usd": tu.Trade.USD})

	if e.config.RecordSnapshots && e.recorder != nil {
		e.background(ctx, func(ctx context.Context) { e.recorder.Record(ctx, pair) })
	}
	if tu.Spread.Enabled {
		delay := tu.Spread.Delay
		e.background(ctx, func(ctx context.Context) {
			if e.clk.Sleep(ctx, delay) != nil {
				return
			}
			if _, err := e.StartSpread(pair); err != nil {
				e.logger.Warn("follow-up spread not started", zap.String("pair", pair), zap.Error(err))
			}
		})
	}
	return id, nil
}

// ManualBuy 手动买入；会撤销已排期的自动买入。
func (e *TradingEngine) ManualBuy(pair string) (string, error) {
	if e.policy.ClearSchedule() {
		e.logger.Info("scheduled auto buy cleared by manual buy", zap.String("pair", pair))
	}
	return e.TryBuy(pair, "manual")
}

// StartSpread 启动价差会话。
func (e *TradingEngine) StartSpread(pair string) (string, error) {
	ctx, err := e.runContext()
	if err != nil {
		return "", err
	}
	sess, err := spread.New(pair, e.exec, e.store, e.logger.Named("spread"))
	if err != nil {
		return "", err
	}
	id := e.launch(ctx, pair, session.KindSpread, sess.Run)
	e.logger.Info("spread session launched", zap.String("id", id), zap.String("pair", pair))
	return id, nil
}

// Kill 终止该交易对的全部会话，返回终止数量。
func (e *TradingEngine) Kill(pair string) int {
	n := e.registry.Kill(pair)
	e.logger.Warn("sessions killed", zap.String("pair", pair), zap.Int("count", n))
	return n
}

// Sessions 运行中的会话。
func (e *TradingEngine) Sessions() []session.Info {
	return e.registry.Active()
}

// Policy 自动买入策略。
func (e *TradingEngine) Policy() *dispatcher.AutoBuyPolicy {
	return e.policy
}

// Store 运行期参数。
func (e *TradingEngine) Store() *config.Store {
	return e.store
}

// GetStatistics 统计快照
func (e *TradingEngine) GetStatistics() Statistics {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := e.stats
	out.ByResult = make(map[session.Result]int64, len(e.stats.ByResult))
	for k, v := range e.stats.ByResult {
		out.ByResult[k] = v
	}
	return out
}

func (e *TradingEngine) launch(ctx context.Context, pair string, kind session.Kind, run session.RunFunc) string {
	if e.metrics != nil {
		e.metrics.SessionStarted(string(kind))
	}
	e.statsMu.Lock()
	e.stats.Launched++
	e.statsMu.Unlock()
	return e.registry.Launch(ctx, pair, kind, run)
}

func (e *TradingEngine) background(ctx context.Context, fn func(ctx context.Context)) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn(ctx)
	}()
}

// Wait 等待全部会话与后台任务结束（测试用）。
func (e *TradingEngine) Wait() {
	e.registry.Wait()
	e.bg.Wait()
}

// onFinish 会话收尾：日志、指标、告警、入库。
func (e *TradingEngine) onFinish(out session.Outcome) {
	fields := map[string]interface{}{
		"id":       out.ID,
		"kind":     string(out.Kind),
		"result":   string(out.Result),
		"entry":    out.EntryPrice,
		"profit":   out.EstimatedProfit,
		"duration": out.Duration().String(),
	}
	if len(out.LeakedOrders) > 0 {
		fields["leaked_orders"] = out.LeakedOrders
	}
	if out.Err != nil {
		fields["error"] = out.Err.Error()
	}
	e.logger.LogSession("outcome", out.Pair, fields)

	e.statsMu.Lock()
	e.stats.Finished++
	e.stats.ByResult[out.Result]++
	e.stats.Leaked += int64(len(out.LeakedOrders))
	e.statsMu.Unlock()

	if e.metrics != nil {
		e.metrics.SessionFinished(string(out.Kind), string(out.Result), out.Duration(), out.EstimatedProfit, len(out.LeakedOrders))
	}
	e.sendAlert(alertLevel(out), out.Pair, fmt.Sprintf("%s session %s", out.Kind, out.Result), fields)

	if e.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.journal.SaveOutcome(ctx, out); err != nil {
			e.logger.Error("save outcome failed", zap.String("id", out.ID), zap.Error(err))
		}
	}
}

func alertLevel(out session.Outcome) alert.Level {
	switch {
	case out.Result == session.ResultFailed:
		return alert.LevelError
	case len(out.LeakedOrders) > 0, out.Result == session.ResultAbandoned:
		return alert.LevelWarning
	default:
		return alert.LevelInfo
	}
}

func (e *TradingEngine) sendAlert(level alert.Level, pair, msg string, fields map[string]interface{}) {
	if e.alertMgr == nil {
		return
	}
	if err := e.alertMgr.SendAlert(alert.Alert{Level: level, Pair: pair, Message: msg, Fields: fields}); err != nil {
		e.logger.Warn("alert delivery failed", zap.Error(err))
	}
}
