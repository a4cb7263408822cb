package main

import (
	"context"
	"database/sql"
	"dm-relay/auth"
	grpcserver "dm-relay/infrastructure/grpc/server"
	httpserver "dm-relay/infrastructure/http/server"
	"dm-relay/infrastructure/websocket"
	"dm-relay/internal"
	"dm-relay/moderation"
	"dm-relay/observability"
	"dm-relay/repositories"
	"dm-relay/runtime"
	"dm-relay/runtime/workers"
	"dm-relay/services"
	"dm-relay/sink"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"go.uber.org/multierr"
	"google.golang.org/grpc"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 10 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Deferred closes run before the process exits, which os.Exit deep inside the wiring would skip.
func run() (code int, err error) {
	// 1. Configuration & Logger
	// A missing .env is fine, the environment may already be populated.
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// closers run in reverse order on every exit path; their errors are combined with err.
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i]())
		}
	}()

	// 2. Storage (BadgerDB for accounts, badger or sqlite for the message log)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	closers = append(closers, func() error {
		logger.Info("Closing BadgerDB...")
		return db.Close()
	})

	if logger.Enabled(ctx, slog.LevelDebug) {
		debugPort := config.HealthPort + 1
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d%s", debugPort, endpoint))
		database.StartDebugServer(db, debugPort, endpoint, MessageMapper)
	}

	messageRepository, release, err := buildMessageRepository(ctx, config, db, logger)
	if err != nil {
		return exitRuntime, err
	}
	closers = append(closers, release)
	userRepository := repositories.NewUserRepository(db)

	blugeWriter, err := bluge.OpenWriter(buildBlugeConfig(config))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	closers = append(closers, func() error {
		logger.Info("Closing Bluge...")
		return blugeWriter.Close()
	})
	searchIndex := repositories.NewSearchIndex(blugeWriter, logger)

	// 3. Moderation
	moderator, err := buildModerator(config, charReplacement, logger)
	if err != nil {
		return exitConfig, err
	}

	// 4. Relay core & services
	tokens := auth.NewTokenIssuer(config.JWTSecret, config.AuthTokenDuration)
	registry := runtime.NewRegistry(config.RegistryShards)
	stats := observability.NewCollector(logger)
	relay := runtime.NewRelay(logger, registry, messageRepository, moderator, stats, runtime.RelayConfig{
		AppendTimeout:    config.AppendTimeout,
		MaxContentLength: config.MaxContentLength,
		BufferSize:       config.BufferSize,
		EchoToSender:     config.EchoToSender,
	})
	chatService := services.NewChatService(logger, relay, messageRepository, searchIndex, services.NewProfileService(userRepository))
	authService := services.NewAuthService(userRepository, tokens, logger)

	// 5. Supervision
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(
		workers.NewEventFanoutWorker(logger, relay.Persisted(), stats, config.SinkTimeout,
			sink.NewSearchSink(searchIndex, logger)),
		workers.NewTelemetryWorker(logger, config.MetricInterval, registry, stats),
	)
	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		sup.Run(ctx)
	}()

	// 6. Servers
	errChan := make(chan error, 2)

	gateway := websocket.NewGateway(logger, chatService, tokens, websocket.Config{
		AuthTimeout:          config.AuthTimeout,
		DeliveryTimeout:      config.DeliveryTimeout,
		ConnectionBufferSize: config.ConnectionBufferSize,
	})
	historyServer := httpserver.NewHistoryServer(logger, chatService, authService, tokens, stats)
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           historyServer.Routes(gateway),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info("Starting relay server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	healthAddress := fmt.Sprintf("%s:%d", config.Host, config.HealthPort)
	listener, err := net.Listen("tcp", healthAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", healthAddress, err)
	}
	healthServer := grpcserver.NewHealthServer(logger)
	go func() {
		logger.Info("Starting gRPC health server", "address", healthAddress)
		if err := healthServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errChan <- fmt.Errorf("gRPC health server error: %w", err)
		}
	}()
	healthServer.SetServing(true)

	// 7. Wait for Stop or Error
	code = exitOK
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err = <-errChan:
		code = exitRuntime
	}

	// 8. Graceful shutdown: stop advertising, drain connections, then stop workers before storage closes.
	logger.Info("Shutting down gracefully...")
	healthServer.SetServing(false)
	// Cancelling ctx closes every realtime channel and stops the workers even when we got here through errChan.
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = multierr.Append(err, httpServer.Shutdown(shutdownCtx))
	// Hijacked websocket handlers outlive Shutdown; storage must not close under their sends.
	err = multierr.Append(err, gateway.Wait(shutdownCtx))
	healthServer.Stop()
	sup.Stop()
	<-supervised
	logger.Info("Program stopped cleanly")

	return code, err
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}

// buildBlugeConfig keeps the index in memory when no path is configured; it is rebuilt from live traffic only.
func buildBlugeConfig(config internal.Config) bluge.Config {
	if config.BlugeFilepath == "" {
		return bluge.InMemoryOnlyConfig()
	}
	return bluge.DefaultConfig(config.BlugeFilepath)
}

func buildMessageRepository(ctx context.Context,
	config internal.Config,
	db *badger.DB,
	logger *slog.Logger) (repositories.IMessageRepository, func() error, error) {
	switch config.StoreDriver {
	case internal.DriverSQLite:
		sqlDB, err := repositories.OpenSQLite(config.SQLiteFilepath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite opening failed: %w", err)
		}
		repository, err := repositories.NewSQLiteMessageRepository(ctx, sqlDB, logger, config.LimitMessages)
		if err != nil {
			return nil, nil, multierr.Append(err, sqlDB.Close())
		}
		return repository, closeSQLite(sqlDB, logger), nil
	default:
		repository, err := repositories.NewMessageRepository(db, logger, config.LimitMessages)
		if err != nil {
			return nil, nil, err
		}
		return repository, repository.Release, nil
	}
}

func closeSQLite(db *sql.DB, logger *slog.Logger) func() error {
	return func() error {
		logger.Info("Closing SQLite...")
		return db.Close()
	}
}

// buildModerator merges the dictionaries of CENSORED_DIR with CENSORED_WORDS.
// No word at all disables censoring.
func buildModerator(config internal.Config, charReplacement rune, logger *slog.Logger) (*moderation.Moderator, error) {
	words := config.ExtraCensoredWords()
	if config.CensoredDir != "" {
		data, err := runtime.NewCensoredLoader(os.DirFS(config.CensoredDir)).LoadAll(".")
		if err != nil {
			return nil, fmt.Errorf("censored words loading failed: %w", err)
		}
		logger.Info("Censored dictionaries loaded", "languages", data.Languages, "words", len(data.Words))
		words = append(words, data.Words...)
	}
	return moderation.NewModerator(words, charReplacement, logger)
}

// MessageMapper renders message and conversation records in the debug inspector.
func MessageMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)

	record, ok, err := repositories.DecodeRecord(key, val)
	if err != nil {
		row.Detail = "Error: decode failed"
		return row
	}
	if !ok {
		return row
	}
	msg := record.Message
	row.Type = record.Kind
	row.Detail = fmt.Sprintf("#%d %s -> %s: %s", msg.ID, msg.SenderID, msg.ReceiverID, msg.Content)
	return row
}
