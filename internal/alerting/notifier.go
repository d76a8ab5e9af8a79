package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tokenwatch/internal/strategy"
)

// Notifier 定义信号投递接口。
type Notifier interface {
	Notify(ctx context.Context, chatID string, signal strategy.Signal, count24h int) error
}

// TelegramNotifier 通过 Telegram Bot API 推送信号消息。
type TelegramNotifier struct {
	botToken string
	baseURL  string
	// chatID 是配置的告警频道; 非空时覆盖调用方传入的会话标识。
	chatID string
	client *http.Client
	logger zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 信号通知器。chatID 为告警投递的目标频道。
func NewTelegramNotifier(botToken, baseURL, chatID string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		chatID:   chatID,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "signal_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送格式化后的信号文本。
func (n *TelegramNotifier) Notify(ctx context.Context, chatID string, signal strategy.Signal, count24h int) error {
	dest := n.chatID
	if dest == "" {
		dest = chatID
	}
	payload := map[string]string{
		"chat_id": dest,
		"text":    renderSignal(signal, count24h),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("token", signal.Token).
		Str("strategy", signal.Strategy).
		Int("strength", signal.Strength).
		Msg("信号已发送 (Telegram)")
	return nil
}

func renderSignal(signal strategy.Signal, count24h int) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[TokenWatch] %s\n", signal.Token))
	builder.WriteString(fmt.Sprintf("策略: %s\n", signal.Strategy))
	builder.WriteString(fmt.Sprintf("强度: %d/100\n", signal.Strength))
	builder.WriteString(signal.Message)
	builder.WriteString("\n")
	if count24h > 0 {
		builder.WriteString(fmt.Sprintf("24h 内第 %d 次告警\n", count24h))
	}
	builder.WriteString(fmt.Sprintf("时间: %s", signal.Timestamp.UTC().Format(time.RFC3339)))
	return builder.String()
}

// ConsoleNotifier 在未配置 Telegram 时把信号写入日志。
type ConsoleNotifier struct {
	logger zerolog.Logger
}

// NewConsoleNotifier 构造日志降级通知器。
func NewConsoleNotifier(logger zerolog.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{logger: logger.With().Str("component", "signal_console").Logger()}
}

// Notify 把信号内容记录到结构化日志。
func (n *ConsoleNotifier) Notify(_ context.Context, chatID string, signal strategy.Signal, count24h int) error {
	n.logger.Info().Str("token", signal.Token).
		Str("strategy", signal.Strategy).
		Str("chat_id", chatID).
		Int("strength", signal.Strength).
		Int("alerts_24h", count24h).
		Msg(signal.Message)
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*ConsoleNotifier)(nil)
)
