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

	"github.com/ksred/atomex-api/internal/activity"
	"github.com/ksred/atomex-api/internal/auth"
	"github.com/ksred/atomex-api/internal/config"
	"github.com/ksred/atomex-api/internal/database"
	"github.com/ksred/atomex-api/internal/ledger"
	"github.com/ksred/atomex-api/internal/orders"
	"github.com/ksred/atomex-api/internal/route"
	"github.com/ksred/atomex-api/internal/transfer"
	"github.com/ksred/atomex-api/pkg/middleware"
	"github.com/ksred/atomex-api/pkg/response"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the exchange API server with graceful shutdown
// support. It wires the order ledger, the route executor, and the outbox
// dispatcher on top of a single database connection.
func main() {
	cfg := config.Load()
	response.SetBlockSize(cfg.ResponseBlockSize)

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Seed the authorization policy
	policyStore := auth.NewPolicyStore(db)
	if _, err := policyStore.Ensure(cfg.Admin, cfg.Self, cfg.Fillers); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed policy")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	policyHandlers := auth.NewPolicyHandlers(policyStore, cfg.LoyaltyToken)

	// Register demo credentials for the known identities. In production
	// these live in a credential store.
	authService.RegisterAPICredentials(cfg.Admin, cfg.Admin+"-secret")
	authService.RegisterAPICredentials(cfg.Self, cfg.Self+"-secret")
	for _, filler := range cfg.Fillers {
		authService.RegisterAPICredentials(filler, filler+"-secret")
	}

	var client transfer.Client
	if cfg.TransferURL != "" {
		client = transfer.NewHTTPClient(cfg.TransferURL)
	} else {
		client = transfer.NewStubClient()
	}

	transferService := transfer.NewService(db)
	ledgerService := ledger.NewService(db, policyStore, transferService, client, cfg.Self)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)

	activityService := activity.NewService(db)
	activityHandlers := activity.NewGinHandlers(activityService, policyStore, db)

	orderService := orders.NewService(db, ledgerService, activityService, transferService, policyStore, client, cfg.LoyaltyToken)
	orderHandlers := orders.NewGinHandlers(orderService)

	routeService := route.NewService(db, orderService, transferService, policyStore, cfg.Self)
	routeHandlers := route.NewGinHandlers(routeService)

	// Create and start the outbox dispatcher
	processor := transfer.NewProcessor(db, client, routeService, cfg.Self, cfg.DispatchInterval)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go processor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, policyHandlers, orderHandlers, routeHandlers, ledgerHandlers, activityHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
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

// setupRoutes configures all API endpoints and their handlers.
// - Auth routes: public endpoints for authentication
// - Order routes: creators, protected by JWT authentication
// - Internal routes: fillers, venues, the dispatcher and the admin,
//   protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	policyHandlers *auth.PolicyHandlers,
	orderHandlers *orders.GinHandlers,
	routeHandlers *route.GinHandlers,
	ledgerHandlers *ledger.GinHandlers,
	activityHandlers *activity.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.POST("", orderHandlers.CreateOrderHandler())
			orderGroup.POST("/:position/cancel", orderHandlers.CancelOrderHandler())
			orderGroup.POST("/:position/execution-fee", orderHandlers.SetExecutionFeeHandler())
			orderGroup.GET("", orderHandlers.ListOrdersHandler())
			orderGroup.GET("/positions", orderHandlers.ListOrdersByPositionHandler())
		}

		// Queries
		queries := v1.Group("")
		queries.Use(middleware.JWTAuth(jwtSecret))
		{
			queries.GET("/config", policyHandlers.GetConfigHandler())
			queries.GET("/activity", activityHandlers.ListActivityHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/fills/:position", orderHandlers.FillOrderHandler())
			internal.POST("/routes", routeHandlers.BeginRouteHandler())
			internal.POST("/routes/:route_id/callback", routeHandlers.RouteCallbackHandler())
			internal.POST("/routes/:route_id/finalize", routeHandlers.FinalizeRouteHandler())
			internal.GET("/routes", routeHandlers.ListRoutesHandler())
			internal.POST("/assets", ledgerHandlers.RegisterAssetHandler())
			internal.POST("/assets/:asset_id/rescue", ledgerHandlers.RescueExcessHandler())
			internal.PUT("/fillers", policyHandlers.UpdateFillersHandler())
		}
	}
}
