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

	"github.com/zujaelectricals/EV-Frontend-sub001/internal/auth"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/commission"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/config"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/database"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/level"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/matching"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/settlement"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/tree"
	"github.com/zujaelectricals/EV-Frontend-sub001/pkg/middleware"

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

// main initializes and runs the compensation engine API server with
// graceful shutdown support. It loads the commission configuration,
// opens the database and wires the engines together.
func main() {
	// Load and validate the commission configuration before anything
	// else: a malformed config must never reach an open period
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load commission config")
	}

	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DATABASE_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(auth.Secret())
	authHandlers := auth.NewGinHandlers(authService)
	// Register console credentials
	authService.RegisterAPICredentials(auth.ConsoleAPIKey, auth.ConsoleAPISecret)

	treeService := tree.NewService(db, cfg)
	treeHandlers := tree.NewGinHandlers(treeService)

	matchingService := matching.NewService(db)
	matchingHandlers := matching.NewGinHandlers(matchingService)

	commissionService := commission.NewService(db)
	commissionHandlers := commission.NewGinHandlers(commissionService)

	levelService := level.NewService(db)
	levelHandlers := level.NewGinHandlers(levelService, cfg)

	settlementService := settlement.NewService(db, matchingService, commissionService, levelService, cfg)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	// Create and start the settlement processor
	settlementProcessor := settlement.NewProcessor(settlementService)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go settlementProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, treeHandlers, matchingHandlers, commissionHandlers, levelHandlers, settlementHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
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
// - Distributor routes: Console reads, protected by JWT authentication
// - Internal routes: Event intake and settlement triggers, protected by
//   internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	treeHandlers *tree.GinHandlers,
	matchingHandlers *matching.GinHandlers,
	commissionHandlers *commission.GinHandlers,
	levelHandlers *level.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Console read routes
		distributors := v1.Group("/distributors")
		distributors.Use(middleware.JWTAuth())
		{
			distributors.GET("/:distributor_id", treeHandlers.GetDistributorHandler())
			distributors.GET("/:distributor_id/genealogy", treeHandlers.GetGenealogyHandler())
			distributors.GET("/:distributor_id/legs", treeHandlers.GetLegVolumesHandler())
			distributors.GET("/:distributor_id/pair-matches", matchingHandlers.GetPairHistoryHandler())
			distributors.GET("/:distributor_id/ledger", commissionHandlers.GetLedgerHandler())
			distributors.GET("/:distributor_id/wallet", commissionHandlers.GetWalletHandler())
			distributors.GET("/:distributor_id/level", levelHandlers.GetLevelHandler())
			distributors.GET("/:distributor_id/level/history", levelHandlers.GetLevelHistoryHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/events/referral-placed", treeHandlers.PlaceReferralHandler())
			internal.POST("/events/purchase-activated", settlementHandlers.PurchaseActivatedHandler())
			internal.POST("/events/referral-count-changed", settlementHandlers.ReferralCountChangedHandler())
			internal.POST("/settlement/run-daily", settlementHandlers.RunDailyHandler())
			internal.POST("/settlement/close-month", settlementHandlers.CloseMonthHandler())
			internal.GET("/settlement/periods", settlementHandlers.GetPeriodsHandler())
		}
	}
}
