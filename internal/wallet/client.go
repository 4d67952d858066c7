package wallet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"grinpay/internal/metrics"
	"grinpay/pkg/ratelimit"
	"grinpay/pkg/retry"
	"grinpay/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxResponseSize - ограничение на размер ответа кошелька
const maxResponseSize = 4 << 20

// Config - параметры подключения к кошельку и ноде
type Config struct {
	WalletURL      string
	WalletUser     string
	WalletPassword string

	NodeURL      string
	NodeUser     string
	NodePassword string

	// RateLimit - запросов в секунду к кошельку (0 - без ограничения)
	RateLimit float64

	HTTP  HTTPClientConfig
	Query retry.Config
}

// Client - HTTP клиент кошелька (foreign + owner API) и ноды
type Client struct {
	cfg     Config
	http    *HTTPClient
	limiter *ratelimit.RateLimiter
	log     *utils.Logger
}

// NewClient создает клиент
func NewClient(cfg Config) *Client {
	if cfg.HTTP == (HTTPClientConfig{}) {
		cfg.HTTP = DefaultHTTPClientConfig()
	}
	if cfg.Query.MaxRetries == 0 {
		cfg.Query = retry.WalletQueryConfig()
	}
	cfg.WalletURL = strings.TrimRight(cfg.WalletURL, "/")
	cfg.NodeURL = strings.TrimRight(cfg.NodeURL, "/")

	c := &Client{
		cfg:  cfg,
		http: NewHTTPClient(cfg.HTTP),
		log:  utils.L().WithComponent("wallet"),
	}
	if cfg.RateLimit > 0 {
		c.limiter = ratelimit.NewRateLimiter(cfg.RateLimit, cfg.RateLimit*2)
	}
	return c
}

// Close закрывает соединения
func (c *Client) Close() {
	c.http.Close()
}

// ============ Foreign API ============

// ReceiveTx передает слейт кошельку и возвращает подписанный слейт.
//
// Запрос не повторяется: повтор принятого слейта кошелек считает дублем.
// Отказ по содержимому (400, 404, 409, 422) - ErrRejected,
// сеть, таймаут, авторизация, троттлинг и 5xx - ErrUnavailable.
func (c *Client) ReceiveTx(ctx context.Context, slate []byte) ([]byte, error) {
	return c.doRequest(ctx, http.MethodPost, c.cfg.WalletURL, receiveTxPath, nil, slate,
		c.cfg.WalletUser, c.cfg.WalletPassword)
}

// ============ Owner API ============

// RetrieveTx возвращает запись журнала кошелька для слейта
func (c *Client) RetrieveTx(ctx context.Context, slateID string) (*TxLogEntry, error) {
	query := url.Values{}
	query.Set("tx_id", slateID)

	body, err := c.query(ctx, c.cfg.WalletURL, retrieveTxsPath, query, c.cfg.WalletUser, c.cfg.WalletPassword)
	if err != nil {
		return nil, err
	}

	var resp TxListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, retrieveTxsPath, err)
	}
	switch len(resp.Txs) {
	case 0:
		return nil, ErrTxNotFound
	case 1:
		return &resp.Txs[0], nil
	default:
		return nil, ErrAmbiguousTx
	}
}

// RetrieveOutputs возвращает выходы кошелька для слейта (с обновлением из ноды)
func (c *Client) RetrieveOutputs(ctx context.Context, slateID string) ([]Output, error) {
	query := url.Values{}
	query.Set("refresh", "")
	query.Set("tx_id", slateID)

	body, err := c.query(ctx, c.cfg.WalletURL, retrieveOutputsPath, query, c.cfg.WalletUser, c.cfg.WalletPassword)
	if err != nil {
		return nil, err
	}

	var resp OutputListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, retrieveOutputsPath, err)
	}
	return resp.Outputs, nil
}

// ============ Node API ============

// Tip возвращает вершину цепочки
func (c *Client) Tip(ctx context.Context) (*Tip, error) {
	body, err := c.query(ctx, c.cfg.NodeURL, chainTipPath, nil, c.cfg.NodeUser, c.cfg.NodePassword)
	if err != nil {
		return nil, err
	}

	var tip Tip
	if err := json.Unmarshal(body, &tip); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUnavailable, chainTipPath, err)
	}
	return &tip, nil
}

// ============ HTTP ============

// query - идемпотентный GET с повторами
func (c *Client) query(ctx context.Context, base, path string, query url.Values, user, password string) ([]byte, error) {
	cfg := c.cfg.Query
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.log.Debug("retrying backend query",
			utils.String("path", path),
			utils.Attempt(attempt),
			utils.Dur("delay", delay),
			utils.Err(err))
	}

	return retry.DoWithResult(ctx, func() ([]byte, error) {
		return c.doRequest(ctx, http.MethodGet, base, path, query, nil, user, password)
	}, cfg)
}

func (c *Client) doRequest(ctx context.Context, method, base, path string, query url.Values, payload []byte, user, password string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqURL := base + "/" + path
	if len(query) > 0 {
		// refresh передается без значения
		reqURL += "?" + strings.ReplaceAll(query.Encode(), "refresh=&", "refresh&")
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if user != "" || password != "" {
		req.SetBasicAuth(user, password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		metrics.RecordBackendRequest(path, "error", latency)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		metrics.RecordBackendRequest(path, "error", latency)
		return nil, fmt.Errorf("%w: %s: read body: %v", ErrUnavailable, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
		result := "error"
		if apiErr.IsRejection() {
			result = "rejected"
		}
		metrics.RecordBackendRequest(path, result, latency)
		return nil, apiErr
	}

	metrics.RecordBackendRequest(path, "ok", latency)
	return data, nil
}
