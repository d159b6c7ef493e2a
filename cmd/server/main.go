package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vault-backend/internal/chain"
	"vault-backend/internal/clients"
	"vault-backend/internal/config"
	"vault-backend/internal/db"
	"vault-backend/internal/handlers"
	"vault-backend/internal/repository"
	"vault-backend/internal/router"
	"vault-backend/internal/services"

	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if err := config.LoadConfig(""); err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	db.InitDB()

	chainClients := chain.NewClients()
	if err := chainClients.Initialize(); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize chain clients")
	}
	defer chainClients.Close()
	logrus.WithField("chains", chainClients.ChainIDs()).Info("Chain clients initialized")

	// external collaborators
	aggregator := clients.NewAggregatorClient(
		config.AppConfig.Aggregator.BaseURL,
		config.AppConfig.Aggregator.APIKey,
	)
	safeClient := clients.NewSafeClient()

	var natsClient *clients.NATSClient
	if config.AppConfig.NATS.URL != "" {
		streamName := config.AppConfig.NATS.StreamName
		if streamName == "" {
			streamName = "VAULT_EXECUTIONS"
		}
		var err error
		natsClient, err = clients.NewNATSClient(config.AppConfig.NATS.URL, streamName)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to NATS")
		}
		defer natsClient.Close()
	}

	// solver core
	oracle := services.NewOracleService(chainClients)
	conversion := services.NewConversionService(oracle)
	executor := services.NewTransactionExecutor(chainClients)
	batch := services.NewSafeBatchService(safeClient,
		config.AppConfig.Solver.SafePollSeconds,
		config.AppConfig.Solver.SafePollDeadlineMinutes,
	)
	strategy := services.NewStrategyService(oracle, conversion, executor, batch, aggregator)

	signer := signerFromConfig(chainClients)
	approval := services.NewApprovalService(oracle, signer, executor)

	executionRepo := repository.NewExecutionRepository(db.DB)
	push := services.NewWebSocketPushService()
	var publisher services.EventPublisher
	if natsClient != nil {
		publisher = natsClient
	}
	recorder := services.NewSettlementRecorder(executionRepo, publisher, push)

	solver := services.NewSolverService(oracle, approval, strategy, aggregator, recorder)

	engine := router.SetupRouter(&router.Handlers{
		Auth:       handlers.NewAuthHandler(),
		Solver:     handlers.NewSolverHandler(solver, conversion, oracle),
		Executions: handlers.NewExecutionsHandler(executionRepo),
		Health:     handlers.NewHealthHandler(chainClients),
		WebSocket:  handlers.NewWebSocketHandler(push),
	})

	addr := fmt.Sprintf("%s:%d", config.AppConfig.Server.Host, config.AppConfig.Server.Port)
	server := &http.Server{Addr: addr, Handler: engine}

	go func() {
		logrus.WithField("addr", addr).Info("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Forced shutdown")
	}
}

// signerFromConfig builds the permit signer from the first enabled network
// that carries a signing key. Without a key permits are refused and every
// approval falls back to a transaction.
func signerFromConfig(pool services.CallerPool) services.PermitSigner {
	for _, network := range config.AppConfig.Blockchain.Networks {
		if network.Enabled && network.PrivateKey != "" {
			signer, err := services.NewLocalPermitSigner(pool, network.PrivateKey)
			if err != nil {
				logrus.WithError(err).Fatal("Failed to build permit signer")
			}
			return signer
		}
	}
	logrus.Warn("No signing key configured, permit approvals disabled")
	return services.RefusingPermitSigner{}
}
