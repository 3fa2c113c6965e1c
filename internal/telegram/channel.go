package telegram

import "pump-trader-go/infrastructure/alert"

// Name 实现 alert.Channel。
func (b *Bot) Name() string { return "telegram" }

// Send 把告警推送到配置的聊天。
func (b *Bot) Send(a alert.Alert) error {
	return b.sendMarkdownV2(formatAlert(a), nil)
}
