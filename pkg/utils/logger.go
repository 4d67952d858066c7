package utils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jrick/logrotate/rotator"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig - настройки логирования
type LogConfig struct {
	Level  string // debug, info, warn, error, fatal
	Format string // json, text
	Output string // stdout, stderr или путь к файлу

	// Ротация файла (если MaxSizeKB > 0)
	MaxSizeKB int64
	MaxRolls  int

	Development bool
}

// Logger - обертка над zap.Logger с доменными хелперами
type Logger struct {
	*zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// InitLogger создает logger по конфигурации.
// Ошибка открытия файла не фатальна: используется stderr.
func InitLogger(cfg LogConfig) *Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "text" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, openOutput(cfg), zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	zl := zap.New(core, opts...)
	return &Logger{Logger: zl, sugar: zl.Sugar()}
}

// openOutput выбирает приемник логов
func openOutput(cfg LogConfig) zapcore.WriteSyncer {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	}

	if cfg.MaxSizeKB > 0 {
		if dir := filepath.Dir(cfg.Output); dir != "" {
			_ = os.MkdirAll(dir, 0700)
		}
		rolls := cfg.MaxRolls
		if rolls <= 0 {
			rolls = 10
		}
		r, err := rotator.New(cfg.Output, cfg.MaxSizeKB, false, rolls)
		if err == nil {
			return zapcore.Lock(zapcore.AddSync(r))
		}
		os.Stderr.WriteString("logger: failed to create rotator: " + err.Error() + "\n")
		return zapcore.Lock(os.Stderr)
	}

	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		os.Stderr.WriteString("logger: failed to open log file: " + err.Error() + "\n")
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.Lock(f)
}

// parseLevel преобразует строку в уровень zap (по умолчанию info)
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============ Глобальный логгер ============

// GetGlobalLogger возвращает глобальный логгер, создавая его по умолчанию
func GetGlobalLogger() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = InitLogger(LogConfig{Level: "info", Format: "json"})
	}
	return globalLogger
}

// L - короткий алиас GetGlobalLogger
func L() *Logger {
	return GetGlobalLogger()
}

// InitGlobalLogger создает логгер и делает его глобальным
func InitGlobalLogger(cfg LogConfig) *Logger {
	l := InitLogger(cfg)
	SetGlobalLogger(l)
	return l
}

// SetGlobalLogger заменяет глобальный логгер
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// ============ Методы Logger ============

// With возвращает дочерний логгер с полями
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, sugar: child.Sugar()}
}

// WithComponent - логгер компонента (poller, dispatcher, ...)
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithMerchant - логгер с merchant_id
func (l *Logger) WithMerchant(merchantID string) *Logger {
	return l.With(MerchantID(merchantID))
}

// WithOrder - логгер с ключом заказа
func (l *Logger) WithOrder(merchantID, orderID string) *Logger {
	return l.With(MerchantID(merchantID), OrderID(orderID))
}

// WithSlate - логгер с идентификатором слейта
func (l *Logger) WithSlate(slateID string) *Logger {
	return l.With(SlateID(slateID))
}

// Sugar возвращает sugared logger
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// ============ Глобальные функции ============

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

func Debugf(format string, args ...interface{}) { L().sugar.Debugf(format, args...) }
func Infof(format string, args ...interface{}) { L().sugar.Infof(format, args...) }
func Warnf(format string, args ...interface{}) { L().sugar.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { L().sugar.Errorf(format, args...) }

// ============ Конструкторы полей ============

func MerchantID(id string) zap.Field { return zap.String("merchant_id", id) }
func OrderID(id string) zap.Field { return zap.String("order_id", id) }
func SlateID(id string) zap.Field { return zap.String("slate_id", id) }
func Status(s string) zap.Field { return zap.String("status", s) }
func Attempt(n int) zap.Field { return zap.Int("attempt", n) }
func CallbackURL(u string) zap.Field { return zap.String("callback_url", u) }
func DeliveryID(id string) zap.Field { return zap.String("delivery_id", id) }
func Confirmations(n int64) zap.Field { return zap.Int64("confirmations", n) }
func Latency(ms float64) zap.Field { return zap.Float64("latency_ms", ms) }
func RequestID(id string) zap.Field { return zap.String("request_id", id) }
func Component(name string) zap.Field { return zap.String("component", name) }
func Operator(username string) zap.Field { return zap.String("operator", username) }

// Переэкспорт конструкторов zap
var (
	String  = zap.String
	Int     = zap.Int
	Int64   = zap.Int64
	Float64 = zap.Float64
	Bool    = zap.Bool
	Err     = zap.Error
	Any     = zap.Any
	Strings = zap.Strings
	Dur     = zap.Duration
	Time    = zap.Time
)

// fieldsToInterface раскладывает поля в пары ключ-значение для sugared logger
func fieldsToInterface(fields []zap.Field) []interface{} {
	enc := zapcore.NewMapObjectEncoder()
	result := make([]interface{}, 0, len(fields)*2)
	for _, f := range fields {
		f.AddTo(enc)
		result = append(result, f.Key, enc.Fields[f.Key])
	}
	return result
}

// Infow пишет сообщение с полями через sugared logger
func (l *Logger) Infow(msg string, fields ...zap.Field) {
	l.sugar.Infow(msg, fieldsToInterface(fields)...)
}
