package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/getAlby/sweephub.go/chain"
	"github.com/getAlby/sweephub.go/common"
	"github.com/getAlby/sweephub.go/controllers"
	"github.com/getAlby/sweephub.go/db"
	"github.com/getAlby/sweephub.go/db/migrations"
	"github.com/getAlby/sweephub.go/keywallet"
	"github.com/getAlby/sweephub.go/lib"
	"github.com/getAlby/sweephub.go/lib/secrets"
	"github.com/getAlby/sweephub.go/lib/service"
	"github.com/getAlby/sweephub.go/lib/tokens"
	"github.com/getAlby/sweephub.go/lib/transport"
	"github.com/getAlby/sweephub.go/rabbitmq"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun/migrate"
)

// @title        SweepHub
// @version      0.1.0
// @description  Deposit address issuance, payment detection and treasury sweeping for on-chain invoices.

// @BasePath  /
func main() {

	c := &service.Config{}

	// Load configruation from environment variables
	err := godotenv.Load(".env")
	if err != nil {
		fmt.Println("Failed to load .env file")
	}
	err = envconfig.Process("", c)
	if err != nil {
		log.Fatalf("Error loading environment variables: %v", err)
	}

	// Setup logging to STDOUT or a configrued log file
	logger := lib.Logger(c.LogFilePath)

	// Open a DB connection based on the configured DATABASE_URI
	dbConn, err := db.Open(c)
	if err != nil {
		logger.Fatalf("Error initializing db connection: %v", err)
	}

	// Migrate the DB
	startupCtx := context.Background()
	migrator := migrate.NewMigrator(dbConn, migrations.Migrations)
	err = migrator.Init(startupCtx)
	if err != nil {
		logger.Fatalf("Error initializing db migrator: %v", err)
	}
	_, err = migrator.Migrate(startupCtx)
	if err != nil {
		logger.Fatalf("Error migrating database: %v", err)
	}

	// Setup exception tracking with Sentry if configured
	// sentry init needs to happen before the echo middlewares are added
	if c.SentryDSN != "" {
		if err = sentry.Init(sentry.ClientOptions{
			Dsn:              c.SentryDSN,
			IgnoreErrors:     []string{"401"},
			EnableTracing:    c.SentryTracesSampleRate > 0,
			TracesSampleRate: c.SentryTracesSampleRate,
		}); err != nil {
			logger.Errorf("sentry init error: %v", err)
		}
	}

	// The master seed only ever lives in process memory
	seed, err := secrets.LoadSeed(c)
	if err != nil {
		logger.Fatalf("Error loading master seed: %v", err)
	}
	wallet, err := keywallet.New(seed)
	if err != nil {
		logger.Fatalf("Error initializing key wallet: %v", err)
	}

	confirmTimeout := time.Duration(c.ConfirmTimeoutSeconds) * time.Second
	adapters := map[string]chain.Adapter{}
	if c.EVMRpcUrl != "" {
		operatorKey, err := secrets.LoadEVMOperatorKey(c)
		if err != nil {
			logger.Fatalf("Error loading EVM operator key: %v", err)
		}
		evmChain, err := chain.NewEVMChain(startupCtx, c.EVMRpcUrl, c.EVMChainID, c.EVMTreasuryAddress, operatorKey, confirmTimeout)
		if err != nil {
			logger.Fatalf("Error connecting to EVM rpc: %v", err)
		}
		adapters[common.AssetFamilyNative] = evmChain
		logger.Infof("Connected to EVM rpc chain_id:%d treasury:%s", c.EVMChainID, c.EVMTreasuryAddress)
	}
	if c.SolanaRpcUrl != "" {
		operatorKey, err := secrets.LoadSolanaOperatorKey(c)
		if err != nil {
			logger.Fatalf("Error loading Solana operator key: %v", err)
		}
		solanaChain, err := chain.NewSolanaChain(c.SolanaRpcUrl, c.SolanaTreasuryAddress, operatorKey, confirmTimeout)
		if err != nil {
			logger.Fatalf("Error initializing Solana rpc client: %v", err)
		}
		adapters[common.AssetFamilyToken] = solanaChain
		logger.Infof("Connected to Solana rpc treasury:%s", c.SolanaTreasuryAddress)
	}
	if len(adapters) == 0 {
		logger.Fatal("No chain adapters configured, set EVM_RPC_URL and/or SOLANA_RPC_URL")
	}

	// If no RABBITMQ_URI was provided we will not attempt to create a client
	// Paid invoices are then dispatched through the in-process change feed.
	var rabbitmqClient rabbitmq.Client
	if c.RabbitMQUri != "" {
		rabbitmqClient, err = rabbitmq.Dial(c.RabbitMQUri,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithInvoiceExchange(c.RabbitMQInvoiceExchange),
			rabbitmq.WithSweepConsumerQueueName(c.RabbitMQSweepConsumerQueueName),
		)
		if err != nil {
			logger.Fatal(err)
		}

		// close the connection gently at the end of the runtime
		defer rabbitmqClient.Close()
	}

	svc := &service.SweepService{
		Config:         c,
		Store:          db.NewStore(dbConn),
		Wallet:         wallet,
		Adapters:       adapters,
		Logger:         logger,
		InvoicePubSub:  service.NewPubsub(),
		RabbitMQClient: rabbitmqClient,
	}

	//init echo server
	e := transport.InitEcho(c, logger)
	logMw := transport.CreateLoggingMiddleware(logger)
	// strict rate limit for invoice creation, each call consumes a derivation index
	strictRateLimitMw := transport.CreateRateLimitMiddleware(c.StrictRateLimit, c.BurstRateLimit)

	invoiceCtrl := controllers.NewInvoiceController(svc)
	adminCtrl := controllers.NewAdminController(svc)
	healthCtrl := controllers.NewHealthController()

	e.GET("/health", healthCtrl.Check)
	e.POST("/v1/invoices", invoiceCtrl.AddInvoice, strictRateLimitMw, logMw)
	e.GET("/v1/invoices", invoiceCtrl.GetInvoices, logMw)
	e.GET("/v1/invoices/:id", invoiceCtrl.GetInvoice, logMw)
	e.GET("/v1/invoices/:id/qr", invoiceCtrl.GetInvoiceQR, logMw)

	admin := e.Group("/admin", tokens.AdminTokenMiddleware(c.AdminToken), logMw)
	admin.POST("/invoices/:id/cancel", adminCtrl.CancelInvoice)
	admin.POST("/invoices/:id/reopen", adminCtrl.ReopenInvoice)
	admin.POST("/invoices/:id/resweep", adminCtrl.RequeueSweep)
	admin.DELETE("/invoices/:id", adminCtrl.DeleteInvoice)

	var backgroundWg sync.WaitGroup
	backGroundCtx, _ := signal.NotifyContext(context.Background(), os.Interrupt)

	// Detect payments on pending invoices in the background
	backgroundWg.Add(1)
	go func() {
		err = svc.StartWatcherRoutine(backGroundCtx)
		if err != nil && err != context.Canceled {
			sentry.CaptureException(err)
			//we want to restart in case of an error here
			svc.Logger.Fatal(err)
		}
		svc.Logger.Info("Watcher routine done")
		backgroundWg.Done()
	}()

	// Sweep paid invoices to the treasury
	backgroundWg.Add(1)
	go func() {
		err = svc.StartSweepRoutine(backGroundCtx)
		if err != nil {
			sentry.CaptureException(err)
			//we want to restart in case of an error here
			svc.Logger.Fatal(err)
		}
		svc.Logger.Info("Sweep routine done")
		backgroundWg.Done()
	}()

	//Start webhook subscription
	if svc.Config.WebhookUrl != "" {
		backgroundWg.Add(1)
		go func() {
			svc.StartWebhookSubscription(backGroundCtx)
			svc.Logger.Info("Webhook routine done")
			backgroundWg.Done()
		}()
	}

	//Start rabbit publisher
	if svc.RabbitMQClient != nil {
		backgroundWg.Add(1)
		go func() {
			err = svc.RabbitMQClient.StartPublishInvoices(backGroundCtx,
				svc.SubscribeInvoiceUpdates,
				svc.EncodeInvoice,
			)
			if err != nil && err != context.Canceled {
				svc.Logger.Error(err)
				sentry.CaptureException(err)
			}

			svc.Logger.Info("Rabbit invoice publisher done")
			backgroundWg.Done()
		}()
	}

	//Start Prometheus server if necessary
	var echoPrometheus *echo.Echo
	if svc.Config.EnablePrometheus {
		go transport.StartPrometheusEcho(logger, svc, e)
	}

	// Start server
	go func() {
		if err := e.Start(fmt.Sprintf(":%v", c.Port)); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()

	<-backGroundCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if echoPrometheus != nil {
		if err := echoPrometheus.Shutdown(ctx); err != nil {
			echoPrometheus.Logger.Fatal(err)
		}
	}
	if err := e.Shutdown(ctx); err != nil {
		e.Logger.Fatal(err)
	}
	//Wait for graceful shutdown of background routines
	backgroundWg.Wait()
	svc.Logger.Info("SweepHub exiting gracefully. Goodbye.")
}
