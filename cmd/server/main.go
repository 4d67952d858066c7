package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grinpay/internal/api"
	"grinpay/internal/clock"
	"grinpay/internal/config"
	"grinpay/internal/migrations"
	"grinpay/internal/notify"
	"grinpay/internal/repository"
	"grinpay/internal/service"
	"grinpay/internal/wallet"
	"grinpay/internal/websocket"
	"grinpay/internal/worker"
	"grinpay/pkg/crypto"
	"grinpay/pkg/retry"
	"grinpay/pkg/utils"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// store - хранилище вместе с функцией закрытия
type store interface {
	service.Store
	worker.PollStore
	worker.SweepStore
	worker.DeliveryStore
	service.RateSource
	Ping(ctx context.Context) error
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := utils.InitGlobalLogger(utils.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		MaxSizeKB:   cfg.Logging.MaxSizeKB,
		MaxRolls:    cfg.Logging.MaxRolls,
		Development: cfg.Logging.Development,
	}).WithComponent("main")
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", utils.Err(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.NewSystem()

	// Хранилище
	st, closeStore, err := initStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	// Шифрование callback токенов
	key, err := crypto.ParseKey(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption key: %w", err)
	}
	cipher, err := crypto.NewTokenCipher(key)
	if err != nil {
		return fmt.Errorf("token cipher: %w", err)
	}

	rates, err := service.NewRateProvider(st, clk, service.RateProviderConfig{
		MaxAge:    cfg.Gateway.RateMaxAge,
		CacheTTL:  cfg.Gateway.RateCacheTTL,
		CacheSize: cfg.Gateway.RateCacheSize,
	})
	if err != nil {
		return fmt.Errorf("rate provider: %w", err)
	}

	// Кошелек и нода
	httpCfg := wallet.DefaultHTTPClientConfig()
	httpCfg.TotalTimeout = cfg.Wallet.RequestTimeout
	walletClient := wallet.NewClient(wallet.Config{
		WalletURL:      cfg.Wallet.WalletURL,
		WalletUser:     cfg.Wallet.WalletUser,
		WalletPassword: cfg.Wallet.WalletPassword,
		NodeURL:        cfg.Wallet.NodeURL,
		NodeUser:       cfg.Wallet.NodeUser,
		NodePassword:   cfg.Wallet.NodePassword,
		RateLimit:      cfg.Wallet.RateLimit,
		HTTP:           httpCfg,
		Query:          retry.WalletQueryConfig(),
	})
	defer walletClient.Close()
	backend := wallet.NewBackend(walletClient)

	// Получатели переходов статуса
	hub := websocket.NewHub(cfg.Security.AllowedOrigins...)
	go hub.Run()
	defer hub.Stop()

	notifier := notify.NewNotifier(notify.NewLogMailer(), cfg.Worker.NotifyQueueSize)

	sender := worker.NewHTTPSender(cfg.Worker.CallbackTimeout)
	defer sender.Close()
	dispatcher := worker.NewDispatcher(st, sender, service.NewTokenOpener(cipher), clk, worker.DispatcherConfig{
		MaxAttempts:    cfg.Worker.CallbackMaxAttempts,
		BackoffInitial: cfg.Worker.CallbackBackoffInitial,
		BackoffMax:     cfg.Worker.CallbackBackoffMax,
		Timeout:        cfg.Worker.CallbackTimeout,
		BatchSize:      cfg.Worker.CallbackBatchSize,
		Workers:        cfg.Worker.CallbackWorkers,
		RatePerHost:    cfg.Worker.CallbackRatePerHost,
	})

	lifecycle := service.NewLifecycle(st, hub, notifier, dispatcher)

	// Сервисы
	orderService := service.NewOrderService(st, rates, lifecycle, cipher, clk, service.OrderConfig{
		OrderTTL:         cfg.Gateway.OrderTTL,
		MaxConfirmations: cfg.Gateway.MaxConfirmations,
	})
	orderService.SetWalletBackend(backend)
	paymentService := service.NewPaymentService(st, backend, lifecycle, clk, cfg.Wallet.SubmitTimeout)

	// Фоновые задачи
	poller := worker.NewPoller(st, backend, lifecycle, clk, worker.PollerConfig{
		Workers:        cfg.Worker.PollWorkers,
		BackoffInitial: cfg.Worker.PollInterval,
		BackoffMax:     cfg.Worker.PollBackoffMax,
		QueryTimeout:   cfg.Wallet.RequestTimeout,
		ConfirmTimeout: cfg.Gateway.ConfirmTimeout,
	})
	sweeper := worker.NewSweeper(st, lifecycle, clk, cfg.Worker.SweepBatch)

	dispatchSched := worker.NewScheduler(dispatcher, cfg.Worker.CallbackInterval, cfg.Worker.CycleTimeout)
	dispatcher.SetWake(dispatchSched.Wake)
	workers := worker.NewGroup(
		worker.NewScheduler(poller, cfg.Worker.PollInterval, cfg.Worker.CycleTimeout),
		worker.NewScheduler(sweeper, cfg.Worker.SweepInterval, cfg.Worker.CycleTimeout),
		dispatchSched,
	)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	workers.Start(workerCtx)
	notifyDone := make(chan struct{})
	go func() {
		defer close(notifyDone)
		notifier.Run(workerCtx)
	}()

	// HTTP сервер
	router := api.SetupRoutes(&api.Dependencies{
		OrderService:   orderService,
		PaymentService: paymentService,
		Hub:            hub,
		Store:          st,
		Wallet:         backend,
		OperatorCredentials: crypto.Credentials{
			Username:     cfg.Security.OperatorUsername,
			PasswordHash: cfg.Security.OperatorPasswordHash,
		},
		AllowedOrigins: cfg.Security.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", server.Addr),
			zap.Bool("https", cfg.Server.UseHTTPS),
			zap.String("store", cfg.Database.Driver))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Сначала останавливаем фоновые задачи, чтобы не начинать новых переходов
	cancelWorkers()
	if !workers.Wait(shutdownCtx) {
		log.Warn("workers did not stop in time")
	}
	<-notifyDone

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", utils.Err(err))
	}

	log.Info("server exited")
	return runErr
}

// initStore открывает хранилище согласно STORE_DRIVER
func initStore(ctx context.Context, cfg *config.Config, log *utils.Logger) (store, func(), error) {
	if cfg.Database.Driver == config.StoreDriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), func() {}, nil
	}

	db, err := initDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	if cfg.Database.AutoMigrate {
		if err := migrations.Apply(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	closeDB := func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close database", utils.Err(err))
		}
	}
	return repository.NewPostgresStore(db), closeDB, nil
}

// initDatabase создает подключение к базе данных
func initDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
