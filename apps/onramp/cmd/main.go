package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"onramp/apps/onramp/internal/api"
	"onramp/apps/onramp/internal/assets"
	"onramp/apps/onramp/internal/chain"
	"onramp/apps/onramp/internal/config"
	"onramp/apps/onramp/internal/disburse"
	"onramp/apps/onramp/internal/event_publisher"
	"onramp/apps/onramp/internal/gateway"
	"onramp/apps/onramp/internal/metrics"
	"onramp/apps/onramp/internal/repository"
	"onramp/apps/onramp/internal/settlement"
	"onramp/apps/onramp/internal/settlement_retrier"
	"onramp/apps/onramp/internal/sweeper"
	"onramp/apps/onramp/internal/wallet"
)

func main() {
	// Initialize zap logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Load configuration from environment variables
	cfg := config.NewConfig()
	sc := cfg.Settlement

	var admin solana.PublicKey
	if sc.AdminKey != nil {
		admin = sc.AdminKey.PublicKey()
	} else {
		logger.Warn("No admin signer configured; settlement will fail until ADMIN_PRIVATE_KEY or ADMIN_KEYPAIR_PATH is set")
	}

	logger.Info("Starting application with configuration",
		zap.String("rpc_url", cfg.RpcURL),
		zap.String("network", cfg.Network),
		zap.String("kafka_broker", cfg.KafkaBroker),
		zap.String("kafka_topic", cfg.KafkaTopic),
		zap.Int("api_port", cfg.APIPort),
		zap.String("admin", admin.String()),
		zap.String("token_symbol", sc.TokenSymbol),
		zap.String("token_mint", sc.TokenMint.String()),
		zap.Strings("supported_tokens", sc.SupportedTokens),
		zap.Bool("disbursement_enabled", sc.DisbursementEnabled),
		zap.Duration("order_expiry", sc.OrderExpiry),
		zap.Duration("settlement_timeout", sc.SettlementTimeout),
		zap.Duration("claim_ttl", sc.ClaimTTL),
	)

	// Connect to database
	db, err := sql.Open("postgres", cfg.DbURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Initialize database tables
	if err := repository.InitMigration(db); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orderRepository := repository.NewOrderRepository(db, logger)
	outboxRepository := repository.NewOutboxRepository(db, logger)

	// Events left mid-publish by a previous process go back to the queue.
	if reset, err := outboxRepository.ResetStuckEvents(ctx); err != nil {
		logger.Error("Failed to reset stuck outbox events", zap.Error(err))
	} else if reset > 0 {
		logger.Info("Reset stuck outbox events", zap.Int64("count", reset))
	}

	rpcClient := chain.NewRPCClient(cfg.RpcURL, logger)
	submitter := chain.NewSubmitter(rpcClient, sc.ConfirmTimeout, 0, logger)

	builder := wallet.NewProgramBuilder(sc.SmartWalletProgramID, rpcClient)
	provisioner := wallet.NewProvisioner(submitter, builder, sc.AdminKey, sc.SmartWalletProgramID, logger)

	assetRegistry, disbursers := buildAssets(sc, submitter, logger)

	metricsRegistry := metrics.Settlement()

	service := settlement.NewService(settlement.Dependencies{
		Store:       orderRepository,
		Provisioner: provisioner,
		Disbursers:  disbursers,
		Signatures:  rpcClient,
		Gateway: gateway.NewHTTPClient(gateway.Config{
			BaseURL:      cfg.Gateway.URL,
			APIKey:       cfg.Gateway.APIKey,
			CheckoutPath: cfg.Gateway.CheckoutPath,
			Provider:     cfg.Gateway.Provider,
			Timeout:      cfg.Gateway.Timeout,
		}, logger),
		Assets:  assetRegistry,
		Metrics: metricsRegistry,
	}, settlement.Config{
		Provider:            cfg.Gateway.Provider,
		OrderExpiry:         sc.OrderExpiry,
		DisbursementEnabled: sc.DisbursementEnabled,
		BlockhashValidity:   sc.BlockhashValidity,
		AttemptTimeout:      sc.SettlementTimeout,
	}, logger)

	// Start the expiry sweeper in background
	expirySweeper := sweeper.NewSweeper(orderRepository, sc.OrderExpiry, sc.ClaimTTL, metricsRegistry, logger)
	go expirySweeper.Start(ctx)

	// Outbox publishing and deferred settlement retries need Kafka. Without
	// it events accumulate in the outbox until a broker is configured.
	if cfg.KafkaBroker != "" {
		producer, err := event_publisher.NewKafkaProducer(cfg.KafkaBroker)
		if err != nil {
			logger.Fatal("Failed to create Kafka producer", zap.Error(err))
		}
		eventPublisher := event_publisher.NewEventPublisher(producer, cfg.KafkaTopic, outboxRepository, metricsRegistry, sc.PublishInterval, logger)
		defer eventPublisher.Close()

		// Start event publisher in background
		go eventPublisher.StartPublishing(ctx)

		consumer, err := settlement_retrier.NewKafkaConsumer(cfg.KafkaBroker, cfg.KafkaGroupID)
		if err != nil {
			logger.Fatal("Failed to create Kafka consumer", zap.Error(err))
		}
		retrier := settlement_retrier.NewSettlementRetrier(consumer, cfg.KafkaTopic, service, sc.RetryDelay, logger)
		defer retrier.Close()

		// Start settlement retrier in background
		go func() {
			if err := retrier.Start(ctx); err != nil {
				logger.Fatal("Settlement retrier failed", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("KAFKA_BROKER not set; outbox events will not be published and deferred settlements wait for the next callback")
	}

	// Create and start API server
	apiServer := api.NewServer(cfg.APIPort, service, rpcClient, api.InfoConfig{
		Network:             cfg.Network,
		TokenSymbol:         sc.TokenSymbol,
		TokenMint:           sc.TokenMint,
		Decimals:            sc.TokenDecimals,
		Admin:               admin,
		DisbursementEnabled: sc.DisbursementEnabled,
		SupportedTokens:     assetRegistry.GetSupportedSymbols(),
	}, metricsRegistry, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	<-sigChan
	logger.Info("Received shutdown signal, starting graceful shutdown...")

	// Create a context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown API server gracefully; in-flight settlements finish first.
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error shutting down API server", zap.Error(err))
	}

	// Stop background workers
	cancel()

	logger.Info("Application shutdown complete")
}

// buildAssets registers every supported token. The configured TOKEN_SYMBOL
// carries the mint and, when disbursement is enabled, gets a disburser.
func buildAssets(sc config.SettlementConfig, submitter *chain.Submitter, logger *zap.Logger) (*assets.AssetRegistry, map[string]settlement.TokenDisburser) {
	supported := make([]*assets.Asset, 0, len(sc.SupportedTokens))
	for _, symbol := range sc.SupportedTokens {
		asset := &assets.Asset{Symbol: symbol, Name: symbol}
		if symbol == sc.TokenSymbol {
			asset.Mint = sc.TokenMint
			asset.Decimals = sc.TokenDecimals
		}
		supported = append(supported, asset)
	}
	registry := assets.NewAssetRegistry(supported)

	disbursers := make(map[string]settlement.TokenDisburser)
	for _, asset := range registry.GetAllAsArray() {
		if !sc.DisbursementEnabled || !asset.Disbursable() {
			continue
		}
		disbursers[asset.Symbol] = disburse.NewDisburser(submitter, sc.AdminKey, disburse.Config{
			Mint:                  asset.Mint,
			Decimals:              asset.Decimals,
			SourceTokenAccount:    sc.SourceTokenAccount,
			MinFeeReserveLamports: sc.MinFeeReserveLamports,
		}, logger)
		logger.Info("Disbursement enabled", zap.String("token", asset.Symbol), zap.String("mint", asset.Mint.String()))
	}

	return registry, disbursers
}
