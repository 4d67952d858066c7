package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"grinpay/internal/models"
	"grinpay/internal/wallet"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// userAgent - заголовок запросов к мерчантам
const userAgent = "grinpay-callback/1.0"

// WebhookError - мерчант ответил не 2xx
type WebhookError struct {
	StatusCode int
	Body       string
}

func (e *WebhookError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("callback returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("callback returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Sender отправляет webhook мерчанту
type Sender interface {
	Send(ctx context.Context, url, token string, payload models.WebhookPayload) error
}

// HTTPSender - Sender поверх HTTP клиента с пулом соединений
type HTTPSender struct {
	client  *wallet.HTTPClient
	timeout time.Duration
}

// NewHTTPSender создает отправителя с таймаутом одного запроса
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cfg := wallet.DefaultHTTPClientConfig()
	cfg.TotalTimeout = timeout
	cfg.ReadTimeout = timeout
	// Мерчантов много, соединения с каждым держим недолго
	cfg.MaxIdleConnsPerHost = 2
	cfg.IdleConnTimeout = 90 * time.Second

	return &HTTPSender{client: wallet.NewHTTPClient(cfg), timeout: timeout}
}

// Send выполняет POST {url} с JSON телом. Любой 2xx - успех.
func (s *HTTPSender) Send(ctx context.Context, url, token string, payload models.WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Тело нужно только для диагностики
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &WebhookError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}
	return nil
}

// Close закрывает простаивающие соединения
func (s *HTTPSender) Close() {
	s.client.Close()
}
