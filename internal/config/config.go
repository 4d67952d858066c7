package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"grinpay/pkg/crypto"
)

// Драйверы хранилища
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Wallet   WalletConfig
	Gateway  GatewayConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки хранилища
type DatabaseConfig struct {
	Driver       string // postgres, memory
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	AutoMigrate  bool
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey        string // ключ AES-256 для callback токенов
	OperatorUsername     string
	OperatorPasswordHash string // bcrypt
	AllowedOrigins       []string
}

// WalletConfig - подключение к кошельку и ноде
type WalletConfig struct {
	WalletURL      string
	WalletUser     string
	WalletPassword string
	NodeURL        string
	NodeUser       string
	NodePassword   string

	SubmitTimeout  time.Duration // ожидание ответа на receive_tx
	RequestTimeout time.Duration // общий таймаут запроса
	RateLimit      float64       // запросов в секунду (0 - без ограничения)
}

// GatewayConfig - параметры заказов и курсов
type GatewayConfig struct {
	OrderTTL         time.Duration
	MaxConfirmations int
	ConfirmTimeout   time.Duration // ожидание подтверждений после приема (0 - без ограничения)
	RateMaxAge       time.Duration
	RateCacheTTL     time.Duration
	RateCacheSize    int
}

// WorkerConfig - фоновые задачи
type WorkerConfig struct {
	PollInterval   time.Duration
	PollWorkers    int
	PollBackoffMax time.Duration

	SweepInterval time.Duration
	SweepBatch    int

	CallbackInterval       time.Duration
	CallbackMaxAttempts    int
	CallbackTimeout        time.Duration
	CallbackBackoffInitial time.Duration
	CallbackBackoffMax     time.Duration
	CallbackRatePerHost    float64
	CallbackBatchSize      int
	CallbackWorkers        int

	CycleTimeout    time.Duration // ограничение одного прохода задачи
	NotifyQueueSize int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	MaxSizeKB   int64
	MaxRolls    int
	Development bool
}

// Load загружает конфигурацию.
//
// Значения берутся из переменных окружения. Если задан CONFIG_FILE, YAML файл
// с теми же ключами (SERVER_PORT: 8080, POLL_INTERVAL: 5s) дает значения
// по умолчанию под окружением.
func Load() (*Config, error) {
	l, err := newLoader(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            l.getEnvAsInt("SERVER_PORT", 8080),
			Host:            l.getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        l.getEnvAsBool("USE_HTTPS", false),
			CertFile:        l.getEnv("CERT_FILE", ""),
			KeyFile:         l.getEnv("KEY_FILE", ""),
			ReadTimeout:     l.getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    l.getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: l.getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:       strings.ToLower(l.getEnv("STORE_DRIVER", StoreDriverPostgres)),
			Host:         l.getEnv("DB_HOST", "localhost"),
			Port:         l.getEnvAsInt("DB_PORT", 5432),
			Name:         l.getEnv("DB_NAME", "grinpay"),
			User:         l.getEnv("DB_USER", "grinpay"),
			Password:     l.getEnv("DB_PASSWORD", ""),
			SSLMode:      l.getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: l.getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			AutoMigrate:  l.getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Security: SecurityConfig{
			EncryptionKey:        l.getEnv("ENCRYPTION_KEY", ""),
			OperatorUsername:     l.getEnv("OPERATOR_USERNAME", "operator"),
			OperatorPasswordHash: l.getEnv("OPERATOR_PASSWORD_HASH", ""),
			AllowedOrigins:       l.getEnvAsList("ALLOWED_ORIGINS"),
		},
		Wallet: WalletConfig{
			WalletURL:      l.getEnv("WALLET_URL", "http://127.0.0.1:3415"),
			WalletUser:     l.getEnv("WALLET_USER", "grin"),
			WalletPassword: l.getEnv("WALLET_PASSWORD", ""),
			NodeURL:        l.getEnv("NODE_URL", "http://127.0.0.1:3413"),
			NodeUser:       l.getEnv("NODE_USER", "grin"),
			NodePassword:   l.getEnv("NODE_PASSWORD", ""),
			SubmitTimeout:  l.getEnvAsDuration("SUBMIT_TIMEOUT", 30*time.Second),
			RequestTimeout: l.getEnvAsDuration("WALLET_REQUEST_TIMEOUT", 30*time.Second),
			RateLimit:      l.getEnvAsFloat("WALLET_RATE_LIMIT", 0),
		},
		Gateway: GatewayConfig{
			OrderTTL:         l.getEnvAsDuration("ORDER_TTL", 15*time.Minute),
			MaxConfirmations: l.getEnvAsInt("MAX_CONFIRMATIONS", 100),
			ConfirmTimeout:   l.getEnvAsDuration("CONFIRM_TIMEOUT", 24*time.Hour),
			RateMaxAge:       l.getEnvAsDuration("RATE_MAX_AGE", 15*time.Minute),
			RateCacheTTL:     l.getEnvAsDuration("RATE_CACHE_TTL", 10*time.Second),
			RateCacheSize:    l.getEnvAsInt("RATE_CACHE_SIZE", 16),
		},
		Worker: WorkerConfig{
			PollInterval:   l.getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
			PollWorkers:    l.getEnvAsInt("POLL_WORKERS", 4),
			PollBackoffMax: l.getEnvAsDuration("POLL_BACKOFF_MAX", 5*time.Minute),

			SweepInterval: l.getEnvAsDuration("SWEEP_INTERVAL", 5*time.Second),
			SweepBatch:    l.getEnvAsInt("SWEEP_BATCH", 500),

			CallbackInterval:       l.getEnvAsDuration("CALLBACK_INTERVAL", 5*time.Second),
			CallbackMaxAttempts:    l.getEnvAsInt("CALLBACK_MAX_ATTEMPTS", 10),
			CallbackTimeout:        l.getEnvAsDuration("CALLBACK_TIMEOUT", 10*time.Second),
			CallbackBackoffInitial: l.getEnvAsDuration("CALLBACK_BACKOFF_INITIAL", 10*time.Second),
			CallbackBackoffMax:     l.getEnvAsDuration("CALLBACK_BACKOFF_MAX", 30*time.Minute),
			CallbackRatePerHost:    l.getEnvAsFloat("CALLBACK_RATE_PER_HOST", 5),
			CallbackBatchSize:      l.getEnvAsInt("CALLBACK_BATCH_SIZE", 100),
			CallbackWorkers:        l.getEnvAsInt("CALLBACK_WORKERS", 8),

			CycleTimeout:    l.getEnvAsDuration("WORKER_CYCLE_TIMEOUT", time.Minute),
			NotifyQueueSize: l.getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
		},
		Logging: LoggingConfig{
			Level:       l.getEnv("LOG_LEVEL", "info"),
			Format:      l.getEnv("LOG_FORMAT", "json"),
			Output:      l.getEnv("LOG_OUTPUT", "stdout"),
			MaxSizeKB:   int64(l.getEnvAsInt("LOG_MAX_SIZE_KB", 0)),
			MaxRolls:    l.getEnvAsInt("LOG_MAX_ROLLS", 3),
			Development: l.getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Значения, которые не удалось разобрать
	if err := l.err(); err != nil {
		return nil, err
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для шифрования callback токенов мерчантов
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypting callback tokens")
	}
	if _, err := crypto.ParseKey(c.Security.EncryptionKey); err != nil {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes or 64 hex characters for AES-256")
	}

	// Без хеша операторские endpoints отключены, но заданный хеш должен быть валидным
	if c.Security.OperatorPasswordHash != "" {
		if c.Security.OperatorUsername == "" {
			return fmt.Errorf("OPERATOR_USERNAME is required when OPERATOR_PASSWORD_HASH is set")
		}
		if err := crypto.ValidateHash(c.Security.OperatorPasswordHash); err != nil {
			return fmt.Errorf("OPERATOR_PASSWORD_HASH must be a bcrypt hash")
		}
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is enabled")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case StoreDriverPostgres:
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverMemory, c.Database.Driver)
	}

	for name, raw := range map[string]string{"WALLET_URL": c.Wallet.WalletURL, "NODE_URL": c.Wallet.NodeURL} {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, raw)
		}
	}

	if c.Gateway.MaxConfirmations < 1 {
		return fmt.Errorf("MAX_CONFIRMATIONS must be at least 1, got %d", c.Gateway.MaxConfirmations)
	}
	if c.Gateway.RateCacheSize < 1 {
		return fmt.Errorf("RATE_CACHE_SIZE must be at least 1, got %d", c.Gateway.RateCacheSize)
	}
	if c.Gateway.ConfirmTimeout < 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT cannot be negative, got %v", c.Gateway.ConfirmTimeout)
	}
	if c.Gateway.RateMaxAge < 0 {
		return fmt.Errorf("RATE_MAX_AGE cannot be negative, got %v", c.Gateway.RateMaxAge)
	}

	// Таймауты и интервалы должны быть положительными
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"ORDER_TTL", c.Gateway.OrderTTL},
		{"SUBMIT_TIMEOUT", c.Wallet.SubmitTimeout},
		{"WALLET_REQUEST_TIMEOUT", c.Wallet.RequestTimeout},
		{"POLL_INTERVAL", c.Worker.PollInterval},
		{"POLL_BACKOFF_MAX", c.Worker.PollBackoffMax},
		{"SWEEP_INTERVAL", c.Worker.SweepInterval},
		{"CALLBACK_INTERVAL", c.Worker.CallbackInterval},
		{"CALLBACK_TIMEOUT", c.Worker.CallbackTimeout},
		{"CALLBACK_BACKOFF_INITIAL", c.Worker.CallbackBackoffInitial},
		{"CALLBACK_BACKOFF_MAX", c.Worker.CallbackBackoffMax},
		{"WORKER_CYCLE_TIMEOUT", c.Worker.CycleTimeout},
		{"SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.name, p.value)
		}
	}

	if c.Worker.CallbackBackoffMax < c.Worker.CallbackBackoffInitial {
		return fmt.Errorf("CALLBACK_BACKOFF_MAX (%v) must not be less than CALLBACK_BACKOFF_INITIAL (%v)",
			c.Worker.CallbackBackoffMax, c.Worker.CallbackBackoffInitial)
	}

	if c.Worker.CallbackMaxAttempts < 1 || c.Worker.CallbackMaxAttempts > 100 {
		return fmt.Errorf("CALLBACK_MAX_ATTEMPTS must be between 1 and 100, got %d", c.Worker.CallbackMaxAttempts)
	}

	counts := []struct {
		name  string
		value int
	}{
		{"POLL_WORKERS", c.Worker.PollWorkers},
		{"SWEEP_BATCH", c.Worker.SweepBatch},
		{"CALLBACK_BATCH_SIZE", c.Worker.CallbackBatchSize},
		{"CALLBACK_WORKERS", c.Worker.CallbackWorkers},
		{"NOTIFY_QUEUE_SIZE", c.Worker.NotifyQueueSize},
	}
	for _, n := range counts {
		if n.value < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", n.name, n.value)
		}
	}

	if c.Worker.CallbackRatePerHost <= 0 {
		return fmt.Errorf("CALLBACK_RATE_PER_HOST must be positive, got %v", c.Worker.CallbackRatePerHost)
	}
	if c.Wallet.RateLimit < 0 {
		return fmt.Errorf("WALLET_RATE_LIMIT cannot be negative, got %v", c.Wallet.RateLimit)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr возвращает адрес для net/http
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ============ Чтение значений ============

// loader читает значения из окружения, затем из YAML файла
type loader struct {
	file   map[string]string
	errors []error
}

func newLoader(path string) (*loader, error) {
	l := &loader{file: map[string]string{}}
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case []interface{}:
			items := make([]string, 0, len(val))
			for _, item := range val {
				items = append(items, fmt.Sprint(item))
			}
			l.file[strings.ToUpper(k)] = strings.Join(items, ",")
		default:
			l.file[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
	return l, nil
}

func (l *loader) lookup(key string) (string, bool) {
	if value := os.Getenv(key); value != "" {
		return value, true
	}
	value, ok := l.file[key]
	return value, ok && value != ""
}

func (l *loader) invalid(key, value string, err error) {
	l.errors = append(l.errors, fmt.Errorf("%s: invalid value %q: %w", key, value, err))
}

func (l *loader) err() error {
	return errors.Join(l.errors...)
}

func (l *loader) getEnv(key, defaultValue string) string {
	if value, ok := l.lookup(key); ok {
		return value
	}
	return defaultValue
}

func (l *loader) getEnvAsInt(key string, defaultValue int) int {
	valueStr, ok := l.lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		l.invalid(key, valueStr, err)
		return defaultValue
	}
	return value
}

func (l *loader) getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr, ok := l.lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		l.invalid(key, valueStr, err)
		return defaultValue
	}
	return value
}

func (l *loader) getEnvAsBool(key string, defaultValue bool) bool {
	valueStr, ok := l.lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		l.invalid(key, valueStr, err)
		return defaultValue
	}
	return value
}

func (l *loader) getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr, ok := l.lookup(key)
	if !ok {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		l.invalid(key, valueStr, err)
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую
func (l *loader) getEnvAsList(key string) []string {
	valueStr, ok := l.lookup(key)
	if !ok {
		return nil
	}
	var items []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
