package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/auth"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/commission"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/config"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/database"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/level"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/matching"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/settlement"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/tree"
	"github.com/zujaelectricals/EV-Frontend-sub001/internal/types"
)

const (
	minDistributors = 30
	maxDistributors = 120
	purchaseRate    = 0.8 // share of distributors that make a qualifying purchase
	serverAddress   = "http://localhost:8080"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the compensation API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	// Create HTTP client with timeout
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"place":    {name: "Place Referral"},
			"purchase": {name: "Purchase Activated"},
			"count":    {name: "Referral Count"},
			"daily":    {name: "Run Daily"},
			"month":    {name: "Close Month"},
			"wallet":   {name: "Get Wallet"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    auth.ConsoleAPIKey,
		"api_secret": auth.ConsoleAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// post sends an authenticated POST request and decodes the envelope into out
func (sc *simulationClient) post(statKey, path string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest("POST", sc.baseURL+path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statKey].failures++
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
	}
	return nil
}

// placeReferral registers a new distributor under a referrer
func (sc *simulationClient) placeReferral(event types.ReferralPlaced) error {
	return sc.post("place", "/api/v1/internal/events/referral-placed", event, nil)
}

// purchaseActivated delivers a qualifying purchase event
func (sc *simulationClient) purchaseActivated(distributorID string, amount float64) error {
	event := types.PurchaseActivated{
		DistributorID: distributorID,
		AmountPaid:    amount,
	}
	return sc.post("purchase", "/api/v1/internal/events/purchase-activated", event, nil)
}

// referralCountChanged delivers the authoritative direct referral count
func (sc *simulationClient) referralCountChanged(distributorID string, count int) error {
	event := types.DirectReferralCountChanged{
		DistributorID: distributorID,
		NewCount:      count,
	}
	return sc.post("count", "/api/v1/internal/events/referral-count-changed", event, nil)
}

// runDaily triggers one daily settlement cycle and returns its result
func (sc *simulationClient) runDaily() (*settlement.RunResult, error) {
	var result struct {
		Success bool                 `json:"success"`
		Data    settlement.RunResult `json:"data"`
	}
	if err := sc.post("daily", "/api/v1/internal/settlement/run-daily", nil, &result); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

// closeMonth triggers the monthly close with carry-forward
func (sc *simulationClient) closeMonth() (*settlement.CarryForwardResult, error) {
	var result struct {
		Success bool                          `json:"success"`
		Data    settlement.CarryForwardResult `json:"data"`
	}
	if err := sc.post("month", "/api/v1/internal/settlement/close-month", nil, &result); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

// getWallet retrieves a distributor's wallet balance
func (sc *simulationClient) getWallet(distributorID string) (*commission.WalletBalance, error) {
	start := time.Now()
	defer func() {
		sc.stats["wallet"].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest(
		"GET",
		fmt.Sprintf("%s/api/v1/distributors/%s/wallet", sc.baseURL, distributorID),
		nil,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats["wallet"].failures++
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		sc.stats["wallet"].failures++
		return nil, fmt.Errorf("get wallet failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Success bool                     `json:"success"`
		Data    commission.WalletBalance `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}

	return &result.Data, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the compensation simulation
// It starts a local API server, grows a random binary tree of distributors,
// delivers purchase and referral events, then drives settlement cycles
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetDistributors := rand.Intn(maxDistributors-minDistributors) + minDistributors
	log.Info().Int("target_distributors", targetDistributors).Msg("Starting simulation")

	stats := struct {
		Placed          int
		FailedPlacement int
		Purchases       int
		FailedEvents    int
		DailyRuns       int
		StartTime       time.Time
	}{
		StartTime: time.Now(),
	}

	// Grow the tree: the root first, then every newcomer sponsored by a
	// random earlier distributor. Spillover placement is the server's job.
	distributorIDs := make([]string, 0, targetDistributors)
	referralCounts := make(map[string]int)

	for i := 0; i < targetDistributors; i++ {
		id := fmt.Sprintf("DIST_%04d", i+1)
		event := types.ReferralPlaced{NewDistributorID: id}
		if i > 0 {
			referrer := distributorIDs[rand.Intn(len(distributorIDs))]
			event.ReferrerID = referrer
			if rand.Intn(2) == 0 {
				event.PreferredSide = types.SideLeft
			} else {
				event.PreferredSide = types.SideRight
			}
		}

		if err := simClient.placeReferral(event); err != nil {
			log.Error().Err(err).Str("distributor_id", id).Msg("Failed to place referral")
			stats.FailedPlacement++
			continue
		}
		distributorIDs = append(distributorIDs, id)
		stats.Placed++

		if event.ReferrerID != "" {
			referralCounts[event.ReferrerID]++
			if err := simClient.referralCountChanged(event.ReferrerID, referralCounts[event.ReferrerID]); err != nil {
				log.Error().Err(err).Str("distributor_id", event.ReferrerID).Msg("Failed to update referral count")
				stats.FailedEvents++
			}
		}
	}

	log.Info().Int("placed", stats.Placed).Msg("Tree grown")

	// Most distributors make a qualifying purchase
	for _, id := range distributorIDs {
		if rand.Float64() > purchaseRate {
			continue
		}
		amount := float64(rand.Intn(40000) + 45000)
		if err := simClient.purchaseActivated(id, amount); err != nil {
			log.Error().Err(err).Str("distributor_id", id).Msg("Failed to deliver purchase event")
			stats.FailedEvents++
			continue
		}
		stats.Purchases++
	}

	log.Info().Int("purchases", stats.Purchases).Msg("Purchases delivered")

	// Run a few daily settlement cycles, then close the month
	totalMatched, totalEntries, totalLevelChanges := 0, 0, 0
	for day := 0; day < 3; day++ {
		result, err := simClient.runDaily()
		if err != nil {
			log.Error().Err(err).Int("day", day).Msg("Daily settlement failed")
			continue
		}
		stats.DailyRuns++
		totalMatched += result.MatchedEvents
		totalEntries += result.LedgerEntries
		totalLevelChanges += result.LevelChanges
		log.Info().
			Str("period_id", result.PeriodID).
			Int("matched_events", result.MatchedEvents).
			Int("ledger_entries", result.LedgerEntries).
			Int("failures", len(result.Failures)).
			Msg("Daily settlement completed")
	}

	carryForward, err := simClient.closeMonth()
	if err != nil {
		log.Error().Err(err).Msg("Monthly close failed")
	} else {
		log.Info().
			Str("period_id", carryForward.PeriodID).
			Int("carried", carryForward.Carried).
			Int("forfeited", carryForward.Forfeited).
			Msg("Monthly period closed")
	}

	// Sample some wallets for the summary
	var totalEarned float64
	walletsSampled := 0
	for i := 0; i < len(distributorIDs) && i < 25; i++ {
		wallet, err := simClient.getWallet(distributorIDs[i])
		if err != nil {
			continue
		}
		totalEarned += wallet.TotalEarned
		walletsSampled++
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 COMPENSATION SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Simulation Statistics
------------------------
Distributors Placed: %d
Failed Placements:   %d
Purchases:           %d
Failed Events:       %d
Daily Runs:          %d
Matched Events:      %d
Ledger Entries:      %d
Level Changes:       %d
Sampled Earnings:    ₹%.2f (%d wallets)
Duration:            %v
`, stats.Placed, stats.FailedPlacement, stats.Purchases, stats.FailedEvents,
		stats.DailyRuns, totalMatched, totalEntries, totalLevelChanges,
		totalEarned, walletsSampled, duration.Round(time.Millisecond))

	fmt.Println("\n" + strings.Repeat("=", 80))

	log.Info().
		Int("distributors", stats.Placed).
		Int("matched_events", totalMatched).
		Int("ledger_entries", totalEntries).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer initializes and starts the compensation API server
// Sets up all required services, handlers and routes
func startServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load commission config: %w", err)
	}

	// Initialize database
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(auth.Secret())
	treeService := tree.NewService(db, cfg)
	matchingService := matching.NewService(db)
	commissionService := commission.NewService(db)
	levelService := level.NewService(db)
	settlementService := settlement.NewService(db, matchingService, commissionService, levelService, cfg)

	// Register console credentials
	authService.RegisterAPICredentials(auth.ConsoleAPIKey, auth.ConsoleAPISecret)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	treeHandlers := tree.NewGinHandlers(treeService)
	matchingHandlers := matching.NewGinHandlers(matchingService)
	commissionHandlers := commission.NewGinHandlers(commissionService)
	levelHandlers := level.NewGinHandlers(levelService, cfg)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	// Setup routes
	setupRoutes(router, authHandlers, treeHandlers, matchingHandlers, commissionHandlers, levelHandlers, settlementHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality; the simulation skips the middleware so
// runs are not throttled by the rate limits
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

		// Internal routes
		internal := v1.Group("/internal")
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
