// Package telegram 通过 Telegram 机器人推送异动与告警，并接收控制命令。
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"pump-trader-go/gateway"
	"pump-trader-go/infrastructure/logger"
	"pump-trader-go/internal/config"
	"pump-trader-go/internal/dispatcher"
	"pump-trader-go/internal/recorder"
	"pump-trader-go/internal/scanner"
	"pump-trader-go/internal/session"
)

// API 机器人用到的 Bot API 子集，*tgbotapi.BotAPI 满足该接口。
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(u tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Controller 命令背后的交易引擎能力。
type Controller interface {
	ManualBuy(pair string) (string, error)
	StartSpread(pair string) (string, error)
	Kill(pair string) int
	StartScanner() error
	StopScanner() bool
	ScannerRunning() bool
	Sessions() []session.Info
	Policy() *dispatcher.AutoBuyPolicy
	Store() *config.Store
}

// ParameterSetter /set 命令的落点，由 HotReloader 实现。
type ParameterSetter interface {
	ApplyParameters(category string, params map[string]interface{}) error
}

// History /history 命令的数据来源。
type History interface {
	RecentOutcomes(ctx context.Context, limit int) ([]recorder.JournalEntry, error)
}

// Options 机器人配置。
type Options struct {
	ChatID     int64
	AdminIDs   []int64
	MaxRetries int
	RetryDelay time.Duration
}

// Bot Telegram 控制面。
type Bot struct {
	api        API
	ctl        Controller
	params     ParameterSetter
	history    History
	log        *logger.Logger
	chatID     int64
	admins     map[int64]bool
	maxRetries int
	retryDelay time.Duration
	now        func() time.Time
	handlers   map[string]func(msg *tgbotapi.Message) string
}

// Connect 用 token 连接 Bot API。
func Connect(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return api, nil
}

// New 创建机器人；params 与 history 可为 nil，对应命令会提示不可用。
func New(api API, ctl Controller, params ParameterSetter, history History, opts Options, log *logger.Logger) *Bot {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	admins := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}
	b := &Bot{
		api:        api,
		ctl:        ctl,
		params:     params,
		history:    history,
		log:        log.Named("telegram"),
		chatID:     opts.ChatID,
		admins:     admins,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		now:        time.Now,
	}
	b.handlers = map[string]func(*tgbotapi.Message) string{
		"help":         b.cmdHelp,
		"start":        b.cmdHelp,
		"startalerts":  b.cmdStartAlerts,
		"stopalerts":   b.cmdStopAlerts,
		"buy":          b.cmdBuy,
		"kill":         b.cmdKill,
		"buynext":      b.cmdBuyNext,
		"timerbuynext": b.cmdTimerBuyNext,
		"strategy":     b.cmdStrategy,
		"buystrategy":  b.cmdBuyStrategy,
		"filter":       b.cmdFilter,
		"showsettings": b.cmdShowSettings,
		"set":          b.cmdSet,
		"sessions":     b.cmdSessions,
		"history":      b.cmdHistory,
	}
	return b
}

// Listen 轮询更新并处理命令与按钮回调，立即返回；ctx 取消后停止。
func (b *Bot) Listen(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				b.HandleUpdate(update)
			}
		}
	}()
}

// HandleUpdate 处理单条更新。
func (b *Bot) HandleUpdate(update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(update.Message)
	}
}

func (b *Bot) authorized(chatID int64, userID int64) bool {
	if len(b.admins) > 0 {
		return b.admins[userID]
	}
	return chatID == b.chatID
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	if !b.authorized(msg.Chat.ID, userID) {
		b.log.Warn("unauthorized command",
			zap.String("command", msg.Command()),
			zap.Int64("chat_id", msg.Chat.ID),
			zap.Int64("user_id", userID))
		b.reply(msg.Chat.ID, "Unauthorized.")
		return
	}
	h, ok := b.handlers[strings.ToLower(msg.Command())]
	if !ok {
		b.reply(msg.Chat.ID, "Unknown command. Try /help")
		return
	}
	b.log.Info("command", zap.String("command", msg.Command()), zap.String("args", msg.CommandArguments()))
	if text := h(msg); text != "" {
		b.reply(msg.Chat.ID, text)
	}
}

// handleCallback 异动消息上的 Buy 按钮，回调数据为交易对。
func (b *Bot) handleCallback(q *tgbotapi.CallbackQuery) {
	var chatID int64
	if q.Message != nil {
		chatID = q.Message.Chat.ID
	}
	var userID int64
	if q.From != nil {
		userID = q.From.ID
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.log.Debug("answer callback failed", zap.Error(err))
	}
	if !b.authorized(chatID, userID) {
		b.log.Warn("unauthorized callback", zap.Int64("chat_id", chatID), zap.Int64("user_id", userID))
		return
	}

	pair := q.Data
	var text string
	if _, err := b.ctl.ManualBuy(pair); err != nil {
		text = fmt.Sprintf("Buy error for %s: %v", pair, err)
	} else {
		text = fmt.Sprintf("Buy executed for %s", pair)
	}
	if q.Message == nil {
		b.reply(b.chatID, text)
		return
	}
	edit := tgbotapi.NewEditMessageText(chatID, q.Message.MessageID, text)
	if _, err := b.api.Send(edit); err != nil {
		b.log.Warn("edit message failed", zap.Error(err))
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// send 带线性退避的重试发送。
func (b *Bot) send(c tgbotapi.Chattable) error {
	var lastErr error
	for i := 0; i < b.maxRetries; i++ {
		if _, err := b.api.Send(c); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if b.retryDelay > 0 && i < b.maxRetries-1 {
			time.Sleep(b.retryDelay * time.Duration(i+1))
		}
	}
	return fmt.Errorf("failed after %d retries: %w", b.maxRetries, lastErr)
}

func (b *Bot) sendMarkdownV2(text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	return b.send(msg)
}

// quote 当前计价币，裸币名按它补全交易对。
func (b *Bot) quote() string {
	return b.ctl.Store().Snapshot().Scanner.QuoteCurrency
}

func (b *Bot) pairArg(msg *tgbotapi.Message, usage string) (string, error) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		return "", errors.New("Usage: " + usage)
	}
	return gateway.NormalizePair(args[0], b.quote()), nil
}

func (b *Bot) cmdHelp(*tgbotapi.Message) string {
	return "Available commands:\n" +
		"/startalerts - Start the anomaly scanner\n" +
		"/stopalerts - Stop the anomaly scanner\n" +
		"/buy <symbol> - Manual buy\n" +
		"/kill <symbol> - Stop the sessions on a pair\n" +
		"/buynext [except] - Toggle auto-buy on next alert\n" +
		"/timerbuynext <unix-ts> - Auto-buy within 5m from timestamp\n" +
		"/strategy [delay-seconds] - Toggle follow-up spread session\n" +
		"/buystrategy <symbol> - Start a spread session now\n" +
		"/filter - Toggle allow-list filter\n" +
		"/showsettings - Show current configuration\n" +
		"/set <category> key=value ... - Change tunables\n" +
		"/sessions - List running sessions\n" +
		"/history [n] - Show recent session outcomes"
}

func (b *Bot) cmdStartAlerts(*tgbotapi.Message) string {
	if b.ctl.ScannerRunning() {
		return "Alerts already running."
	}
	if err := b.ctl.StartScanner(); err != nil {
		return fmt.Sprintf("Cannot start alerts: %v", err)
	}
	return "Alerts started."
}

func (b *Bot) cmdStopAlerts(*tgbotapi.Message) string {
	if !b.ctl.StopScanner() {
		return "Alerts not running."
	}
	return "Alerts stopped."
}

func (b *Bot) cmdBuy(msg *tgbotapi.Message) string {
	pair, err := b.pairArg(msg, "/buy <symbol>")
	if err != nil {
		return err.Error()
	}
	if _, err := b.ctl.ManualBuy(pair); err != nil {
		return fmt.Sprintf("Buy error: %v", err)
	}
	return fmt.Sprintf("Buy executed for %s", pair)
}

func (b *Bot) cmdKill(msg *tgbotapi.Message) string {
	pair, err := b.pairArg(msg, "/kill <symbol>")
	if err != nil {
		return err.Error()
	}
	n := b.ctl.Kill(pair)
	if n == 0 {
		return fmt.Sprintf("No running session on %s", pair)
	}
	return fmt.Sprintf("Stopping %d session(s) on %s", n, pair)
}

func (b *Bot) cmdBuyNext(msg *tgbotapi.Message) string {
	args := strings.Fields(msg.CommandArguments())
	except := ""
	if len(args) == 1 {
		except = gateway.NormalizePair(args[0], b.quote())
	}
	if !b.ctl.Policy().ToggleBuyNext(except) {
		return "Auto-buy disabled."
	}
	if except != "" {
		return fmt.Sprintf("Auto-buy enabled (except %s)", except)
	}
	return "Auto-buy enabled."
}

func (b *Bot) cmdTimerBuyNext(msg *tgbotapi.Message) string {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 1 {
		return "Usage: /timerbuynext <unix-timestamp>"
	}
	ts, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return "Usage: /timerbuynext <unix-timestamp>"
	}
	at := time.Unix(0, int64(ts*float64(time.Second)))
	b.ctl.Policy().Schedule(at)
	return fmt.Sprintf("Auto-buy scheduled at:\n%s", at.UTC().Format("2006-01-02 15:04:05 MST"))
}

func (b *Bot) cmdStrategy(msg *tgbotapi.Message) string {
	args := strings.Fields(msg.CommandArguments())
	var delay time.Duration
	if len(args) == 1 {
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil || secs < 0 {
			return "Usage: /strategy [delay-seconds]"
		}
		delay = time.Duration(secs * float64(time.Second))
	}

	var enabled bool
	var current time.Duration
	err := b.ctl.Store().Update(func(t *config.Tunables) {
		t.Spread.Enabled = !t.Spread.Enabled
		if t.Spread.Enabled && len(args) == 1 {
			t.Spread.Delay = delay
		}
		enabled, current = t.Spread.Enabled, t.Spread.Delay
	})
	if err != nil {
		return fmt.Sprintf("Strategy error: %v", err)
	}
	if !enabled {
		return "Strategy disabled."
	}
	return fmt.Sprintf("Strategy enabled (delay: %s)", current)
}

func (b *Bot) cmdBuyStrategy(msg *tgbotapi.Message) string {
	pair, err := b.pairArg(msg, "/buystrategy <symbol>")
	if err != nil {
		return err.Error()
	}
	if _, err := b.ctl.StartSpread(pair); err != nil {
		return fmt.Sprintf("Strategy error: %v", err)
	}
	return fmt.Sprintf("Strategy launched for %s", pair)
}

func (b *Bot) cmdFilter(*tgbotapi.Message) string {
	var enabled bool
	err := b.ctl.Store().Update(func(t *config.Tunables) {
		t.Scanner.FilterEnabled = !t.Scanner.FilterEnabled
		enabled = t.Scanner.FilterEnabled
	})
	if err != nil {
		return fmt.Sprintf("Filter error: %v", err)
	}
	if enabled {
		return "VIP coin filter enabled."
	}
	return "VIP coin filter disabled."
}

func (b *Bot) cmdShowSettings(*tgbotapi.Message) string {
	return formatSettings(b.ctl.Store().Snapshot(), b.ctl.Policy().Snapshot(), b.ctl.ScannerRunning())
}

// cmdSet 形如 /set trade usd=20 total_profit=0.02。
func (b *Bot) cmdSet(msg *tgbotapi.Message) string {
	usage := "Usage: /set <" + strings.Join(config.Categories(), "|") + "> key=value ..."
	if b.params == nil {
		return "Parameter updates are not available."
	}
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 2 {
		return usage
	}
	category := strings.ToLower(args[0])
	params := make(map[string]interface{}, len(args)-1)
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" || v == "" {
			return usage
		}
		params[strings.ToLower(k)] = config.ParseValue(v)
	}
	if err := b.params.ApplyParameters(category, params); err != nil {
		return fmt.Sprintf("Set failed: %v", err)
	}
	return fmt.Sprintf("Updated %s: %s", category, strings.Join(args[1:], " "))
}

func (b *Bot) cmdSessions(*tgbotapi.Message) string {
	return formatSessions(b.ctl.Sessions(), b.now())
}

func (b *Bot) cmdHistory(msg *tgbotapi.Message) string {
	if b.history == nil {
		return "History is not available (recorder disabled)."
	}
	limit := 10
	if args := strings.Fields(msg.CommandArguments()); len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "Usage: /history [n]"
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entries, err := b.history.RecentOutcomes(ctx, limit)
	if err != nil {
		return fmt.Sprintf("History error: %v", err)
	}
	return formatHistory(entries)
}

// NotifyAnomaly 推送异动消息并附 Buy 按钮。
func (b *Bot) NotifyAnomaly(ev scanner.AnomalyEvent, d dispatcher.Decision) {
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Buy", ev.Symbol)),
	)
	if err := b.sendMarkdownV2(formatAnomaly(ev, d), markup); err != nil {
		b.log.Warn("anomaly notification failed", zap.String("symbol", ev.Symbol), zap.Error(err))
	}
}
