package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"aegis/internal/event"
)

// TelegramConfig holds Telegram notifier configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	// BaseURL overrides the Telegram API endpoint, used in tests.
	BaseURL string
}

// TelegramNotifier sends threat alerts through the Telegram bot API.
// Photo alerts carry the event thumbnail with a bilingual caption.
type TelegramNotifier struct {
	botToken   string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// telegramResponse is the envelope returned by the bot API.
type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(cfg TelegramConfig) (*TelegramNotifier, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram chat ID is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Notify sends the alert, attaching the event thumbnail when present.
func (t *TelegramNotifier) Notify(ctx context.Context, ev *event.ThreatEvent) error {
	caption := formatAlert(ev)
	if len(ev.Thumbnail) > 0 {
		return t.sendPhoto(ctx, ev.Thumbnail, caption)
	}
	return t.sendMessage(ctx, caption)
}

func formatAlert(ev *event.ThreatEvent) string {
	msg := fmt.Sprintf(
		"🚨 <b>High Threat Detected</b>\n\n"+
			"📍 %s",
		ev.Description,
	)
	if ev.DescriptionRegional != "" {
		msg += fmt.Sprintf("\n📍 %s", ev.DescriptionRegional)
	}
	if ev.Category != "" {
		msg += fmt.Sprintf("\n🎯 Category: %s", ev.Category)
	}
	msg += fmt.Sprintf("\n🕐 %s\n\nPlease check your surveillance feed immediately.",
		ev.Timestamp.Format("2 Jan 2006, 15:04:05"))
	return msg
}

func (t *TelegramNotifier) sendMessage(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

func (t *TelegramNotifier) sendPhoto(ctx context.Context, photoData []byte, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", t.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "threat_frame.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(body, &tgResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !tgResp.OK {
		return fmt.Errorf("telegram API error %d: %s", tgResp.ErrorCode, tgResp.Description)
	}
	return nil
}
