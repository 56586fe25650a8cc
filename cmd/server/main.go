package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/brokerage-api/internal/accounts"
	"github.com/ksred/brokerage-api/internal/auth"
	"github.com/ksred/brokerage-api/internal/catalog"
	"github.com/ksred/brokerage-api/internal/config"
	"github.com/ksred/brokerage-api/internal/database"
	"github.com/ksred/brokerage-api/internal/ledger"
	"github.com/ksred/brokerage-api/internal/margin"
	"github.com/ksred/brokerage-api/internal/marketdata"
	"github.com/ksred/brokerage-api/internal/orders"
	"github.com/ksred/brokerage-api/internal/portfolio"
	"github.com/ksred/brokerage-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}
}

// main initializes and runs the brokerage API server with graceful
// shutdown support. It wires the execution pipeline (orders through
// margin), the query surface and the background margin sweep.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Storage.SQLitePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	middleware.SetJWTSecret(cfg.Auth.JWTSecret)
	// Register test credentials: one trader, one broker admin, one operator
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret, "BRK001", auth.RoleTrader)
	authService.RegisterAPICredentials("test-admin-key", "test-admin-secret", "BRK001", auth.RoleBrokerAdmin)
	authService.RegisterAPICredentials("test-operator-key", "test-operator-secret", "", auth.RoleOperator)

	locks := accounts.NewLocks()

	catalogService := catalog.NewService(db)
	catalogHandlers := catalog.NewGinHandlers(catalogService)

	marketdataService := marketdata.NewService(db)
	marketdataHandlers := marketdata.NewGinHandlers(marketdataService)

	ledgerService := ledger.NewService(db)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	portfolioService := portfolio.NewService(db)
	portfolioHandlers := portfolio.NewGinHandlers(portfolioService)

	marginService := margin.NewService(db, locks, cfg.Margin.GraceEvaluations)
	marginHandlers := margin.NewGinHandlers(marginService)

	accountsService := accounts.NewService(db, ledgerService.Poster(), locks)
	accountsHandlers := accounts.NewGinHandlers(accountsService)

	ordersService := orders.NewService(db, portfolioService.Accountant(), ledgerService.Poster(),
		marginService.Evaluator(), locks)
	ordersHandlers := orders.NewGinHandlers(ordersService)

	// Create and start the margin sweep processor
	marginProcessor := margin.NewProcessor(marginService, cfg.SweepInterval())
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go marginProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, accountsHandlers, ordersHandlers,
		portfolioHandlers, ledgerHandlers, marginHandlers, catalogHandlers, marketdataHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Account, order, position, ledger and margin routes: JWT protected
// - Internal routes: operator role required (reference data, quotes,
//   margin rules and manual evaluations)
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	accountsHandlers *accounts.GinHandlers,
	ordersHandlers *orders.GinHandlers,
	portfolioHandlers *portfolio.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	marginHandlers *margin.GinHandlers,
	catalogHandlers *catalog.GinHandlers,
	marketdataHandlers *marketdata.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Account routes
		accountsGroup := v1.Group("/accounts")
		accountsGroup.Use(middleware.JWTAuth())
		{
			accountsGroup.POST("", accountsHandlers.CreateAccountHandler())
			accountsGroup.GET("", accountsHandlers.ListAccountsHandler())
			accountsGroup.GET("/:account_id", accountsHandlers.GetAccountHandler())
			accountsGroup.PUT("/:account_id/status", accountsHandlers.UpdateStatusHandler())
			accountsGroup.POST("/:account_id/deposits", accountsHandlers.DepositHandler())
			accountsGroup.POST("/:account_id/withdrawals", accountsHandlers.WithdrawHandler())
			accountsGroup.GET("/:account_id/positions", portfolioHandlers.GetPositionsHandler())
			accountsGroup.GET("/:account_id/positions/:symbol/lots", portfolioHandlers.GetLotsHandler())
			accountsGroup.GET("/:account_id/ledger", ledgerHandlers.GetEntriesHandler())
			accountsGroup.GET("/:account_id/balance", ledgerHandlers.GetBalanceHandler())
			accountsGroup.GET("/:account_id/margin", marginHandlers.GetReportHandler())
			accountsGroup.GET("/:account_id/orders", ordersHandlers.GetOrdersHandler())
		}

		// Order routes
		ordersGroup := v1.Group("/orders")
		ordersGroup.Use(middleware.JWTAuth())
		{
			ordersGroup.POST("", ordersHandlers.PlaceOrderHandler())
			ordersGroup.GET("/:order_id", ordersHandlers.GetOrderHandler())
			ordersGroup.POST("/:order_id/cancel", ordersHandlers.CancelOrderHandler())
			ordersGroup.GET("/:order_id/executions", ordersHandlers.GetExecutionsHandler())
		}

		// Broker-wide position view and risk alerts
		positionsGroup := v1.Group("/positions")
		positionsGroup.Use(middleware.JWTAuth())
		{
			positionsGroup.GET("", portfolioHandlers.GetBrokerPositionsHandler())
		}

		alertsGroup := v1.Group("/alerts")
		alertsGroup.Use(middleware.JWTAuth())
		{
			alertsGroup.GET("", marginHandlers.GetAlertsHandler())
		}

		// Instrument reference data (read-only for authenticated callers)
		instrumentsGroup := v1.Group("/instruments")
		instrumentsGroup.Use(middleware.JWTAuth())
		{
			instrumentsGroup.GET("", catalogHandlers.ListInstrumentsHandler())
		}

		// Internal routes: reference data writes, quotes, margin rules
		internal := v1.Group("/internal")
		internal.Use(middleware.OperatorAuth())
		{
			internal.POST("/instruments", catalogHandlers.CreateInstrumentHandler())
			internal.POST("/quotes", marketdataHandlers.UpsertQuoteHandler())
			internal.POST("/margin-rules", marginHandlers.CreateRuleHandler())
			internal.GET("/margin-rules", marginHandlers.GetRulesHandler())
			internal.POST("/margin/evaluations/:account_id", marginHandlers.EvaluateHandler())
		}
	}
}
