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
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
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
	"github.com/ksred/brokerage-api/internal/types"
	"github.com/ksred/brokerage-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minOrders     = 15
	maxOrders     = 150
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
	startingCash  = 1_000_000.0
)

var (
	symbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META"}
	sides   = []string{"BUY", "SELL"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
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

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the brokerage API
type simulationClient struct {
	baseURL       string
	traderToken   string
	operatorToken string
	client        *http.Client
	stats         map[string]*routeStats
	mu            sync.Mutex
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates as both trader and operator and prepares performance
// tracking
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":      {name: "Authentication"},
			"seed":      {name: "Seed Reference Data"},
			"account":   {name: "Open Account"},
			"deposit":   {name: "Deposit"},
			"order":     {name: "Place Order"},
			"positions": {name: "Get Positions"},
			"balance":   {name: "Get Balance"},
			"margin":    {name: "Get Margin Report"},
		},
	}

	traderToken, err := sc.authenticate(auth.TestAPIKey, auth.TestAPISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate trader: %w", err)
	}
	sc.traderToken = traderToken

	operatorToken, err := sc.authenticate("test-operator-key", "test-operator-secret")
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate operator: %w", err)
	}
	sc.operatorToken = operatorToken

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats[route].addDuration(time.Since(start))
	if failed {
		sc.stats[route].failures++
	}
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	start := time.Now()
	failed := false
	defer func() { sc.record("auth", start, failed) }()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		failed = true
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		failed = true
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		failed = true
		return "", err
	}

	return result.Data.Token, nil
}

// post sends an authenticated POST request and decodes the data payload
// into out
func (sc *simulationClient) post(token, route, path string, payload interface{}, out interface{}) error {
	start := time.Now()
	failed := false
	defer func() { sc.record(route, start, failed) }()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			failed = true
			return err
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest("POST", sc.baseURL+path, body)
	if err != nil {
		failed = true
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.New().String())

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("POST response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		failed = true
		return fmt.Errorf("POST %s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		var envelope struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			failed = true
			return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			failed = true
			return fmt.Errorf("failed to decode data payload: %w, body: %s", err, string(respBody))
		}
	}

	return nil
}

// get sends an authenticated GET request and decodes the data payload
// into out
func (sc *simulationClient) get(token, route, path string, out interface{}) error {
	start := time.Now()
	failed := false
	defer func() { sc.record(route, start, failed) }()

	req, err := http.NewRequest("GET", sc.baseURL+path, nil)
	if err != nil {
		failed = true
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))

	resp, err := sc.client.Do(req)
	if err != nil {
		failed = true
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		failed = true
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		failed = true
		return fmt.Errorf("GET %s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		failed = true
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// seedReferenceData loads instruments, quotes and a margin rule through
// the operator endpoints
func (sc *simulationClient) seedReferenceData() error {
	for _, symbol := range symbols {
		instrument := map[string]interface{}{
			"symbol":    symbol,
			"exchange":  "NASDAQ",
			"class":     "EQUITY",
			"lot_size":  1,
			"tick_size": 0.01,
		}
		if err := sc.post(sc.operatorToken, "seed", "/api/v1/internal/instruments", instrument, nil); err != nil {
			return err
		}

		quote := map[string]interface{}{
			"symbol": symbol,
			"price":  float64(rand.Intn(900) + 100),
		}
		if err := sc.post(sc.operatorToken, "seed", "/api/v1/internal/quotes", quote, nil); err != nil {
			return err
		}
	}

	rule := map[string]interface{}{
		"scope":           "EQUITY",
		"initial_pct":     0.5,
		"maintenance_pct": 0.25,
	}
	return sc.post(sc.operatorToken, "seed", "/api/v1/internal/margin-rules", rule, nil)
}

// openFundedAccount opens a margin account for the trader and deposits
// starting cash
func (sc *simulationClient) openFundedAccount() (string, error) {
	var account types.TradingAccount
	payload := map[string]interface{}{
		"account_type": "MARGIN",
		"lot_method":   "FIFO",
	}
	if err := sc.post(sc.traderToken, "account", "/api/v1/accounts", payload, &account); err != nil {
		return "", err
	}

	deposit := map[string]interface{}{
		"amount":      startingCash,
		"description": "simulation funding",
	}
	path := fmt.Sprintf("/api/v1/accounts/%s/deposits", account.AccountID)
	if err := sc.post(sc.traderToken, "deposit", path, deposit, nil); err != nil {
		return "", err
	}

	return account.AccountID, nil
}

// placeOrder submits a new order and returns the pipeline result
func (sc *simulationClient) placeOrder(req *types.OrderRequest) (*types.OrderResult, error) {
	var result types.OrderResult
	if err := sc.post(sc.traderToken, "order", "/api/v1/orders", req, &result); err != nil {
		return nil, err
	}
	if result.Order == nil || result.Order.OrderID == "" {
		return nil, fmt.Errorf("no order ID in response")
	}
	return &result, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-22s %8s %8s %9s %9s %9s %9s %9s %9s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-22s %8d %8d %9s %9s %9s %9s %9s %9s\n",
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

// main runs the brokerage simulation
// It starts a local API server, seeds reference data, funds an account
// and drives concurrent order flow through the full pipeline
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	if err := simClient.seedReferenceData(); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed reference data")
	}

	accountID, err := simClient.openFundedAccount()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open funded account")
	}
	log.Info().Str("account_id", accountID).Msg("Account opened and funded")

	targetOrders := rand.Intn(maxOrders-minOrders) + minOrders
	log.Info().Int("target_orders", targetOrders).Msg("Starting simulation")

	stats := struct {
		TotalOrders  int
		FilledOrders int
		FailedOrders int
		RealizedPnL  float64
		TotalValue   float64
		StartTime    time.Time
		Symbols      map[string]int
		Sides        map[string]int
		mu           sync.Mutex
	}{
		StartTime: time.Now(),
		Symbols:   make(map[string]int),
		Sides:     make(map[string]int),
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < targetOrders/numWorkers; j++ {
				req := &types.OrderRequest{
					AccountID: accountID,
					Symbol:    symbols[rand.Intn(len(symbols))],
					Side:      sides[rand.Intn(len(sides))],
					OrderType: "MARKET",
					Quantity:  float64(rand.Intn(100) + 1),
				}

				result, err := simClient.placeOrder(req)

				stats.mu.Lock()
				stats.TotalOrders++
				if err != nil {
					stats.FailedOrders++
					stats.mu.Unlock()
					log.Warn().Err(err).
						Int("worker_id", workerID).
						Str("symbol", req.Symbol).
						Msg("Order not filled")
					continue
				}
				stats.FilledOrders++
				stats.RealizedPnL += result.RealizedPnL
				stats.Symbols[req.Symbol]++
				stats.Sides[req.Side]++
				for _, execution := range result.Executions {
					stats.TotalValue += execution.Price * execution.Quantity
				}
				stats.mu.Unlock()

				log.Info().
					Int("worker_id", workerID).
					Str("order_id", result.Order.OrderID).
					Str("symbol", req.Symbol).
					Str("side", req.Side).
					Float64("quantity", req.Quantity).
					Float64("realized_pnl", result.RealizedPnL).
					Msg("Order filled")

				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	// Query the final state of the books
	var positions []types.Position
	if err := simClient.get(simClient.traderToken, "positions",
		fmt.Sprintf("/api/v1/accounts/%s/positions", accountID), &positions); err != nil {
		log.Error().Err(err).Msg("Failed to fetch positions")
	}

	var balance types.BalanceResponse
	if err := simClient.get(simClient.traderToken, "balance",
		fmt.Sprintf("/api/v1/accounts/%s/balance", accountID), &balance); err != nil {
		log.Error().Err(err).Msg("Failed to fetch balance")
	}

	var report types.MarginReport
	if err := simClient.get(simClient.traderToken, "margin",
		fmt.Sprintf("/api/v1/accounts/%s/margin", accountID), &report); err != nil {
		log.Error().Err(err).Msg("Failed to fetch margin report")
	}

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("BROKERAGE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Order Statistics
----------------
Total Orders:    %d
Filled:          %d
Rejected/Failed: %d
Traded Value:    $%.2f
Realized P&L:    $%.2f
Duration:        %v

Final Account State
-------------------
Cash Balance:    $%.2f
Ledger Balance:  $%.2f
Open Positions:  %d
Margin Status:   %s
Equity:          $%.2f

Symbol Distribution
-------------------
`, stats.TotalOrders, stats.FilledOrders, stats.FailedOrders,
		stats.TotalValue, stats.RealizedPnL, duration.Round(time.Millisecond),
		balance.CashBalance, balance.LedgerBalance, len(positions),
		report.Status, report.Equity)

	maxSymbolCount := 0
	for _, count := range stats.Symbols {
		if count > maxSymbolCount {
			maxSymbolCount = count
		}
	}
	for symbol, count := range stats.Symbols {
		barLength := 0
		if maxSymbolCount > 0 {
			barLength = int(float64(count) / float64(maxSymbolCount) * 20)
		}
		fmt.Printf("%-6s: %s (%d)\n", symbol, strings.Repeat("#", barLength), count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	if balance.CashBalance != balance.LedgerBalance {
		log.Error().
			Float64("cash_balance", balance.CashBalance).
			Float64("ledger_balance", balance.LedgerBalance).
			Msg("Ledger out of balance")
	}

	log.Info().
		Int("total_orders", stats.TotalOrders).
		Int("filled_orders", stats.FilledOrders).
		Float64("total_value", stats.TotalValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// startServer initializes and starts the brokerage API server
// Sets up all required services, handlers and routes
func startServer() error {
	cfg := config.Default()
	cfg.Storage.SQLitePath = "simulation.db"

	db, err := database.NewDatabase(cfg.Storage.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	authService := auth.NewService(cfg.Auth.JWTSecret)
	middleware.SetJWTSecret(cfg.Auth.JWTSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret, "BRK001", auth.RoleTrader)
	authService.RegisterAPICredentials("test-operator-key", "test-operator-secret", "", auth.RoleOperator)

	locks := accounts.NewLocks()

	catalogService := catalog.NewService(db)
	marketdataService := marketdata.NewService(db)
	ledgerService := ledger.NewService(db)
	portfolioService := portfolio.NewService(db)
	marginService := margin.NewService(db, locks, cfg.Margin.GraceEvaluations)
	accountsService := accounts.NewService(db, ledgerService.Poster(), locks)
	ordersService := orders.NewService(db, portfolioService.Accountant(), ledgerService.Poster(),
		marginService.Evaluator(), locks)

	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	catalogHandlers := catalog.NewGinHandlers(catalogService)
	marketdataHandlers := marketdata.NewGinHandlers(marketdataService)
	ledgerHandlers := ledger.NewGinHandlers(ledgerService)
	portfolioHandlers := portfolio.NewGinHandlers(portfolioService)
	marginHandlers := margin.NewGinHandlers(marginService)
	accountsHandlers := accounts.NewGinHandlers(accountsService)
	ordersHandlers := orders.NewGinHandlers(ordersService)

	setupRoutes(router, authHandlers, accountsHandlers, ordersHandlers,
		portfolioHandlers, ledgerHandlers, marginHandlers, catalogHandlers, marketdataHandlers)

	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
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
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		accountsGroup := v1.Group("/accounts")
		accountsGroup.Use(middleware.JWTAuth())
		{
			accountsGroup.POST("", accountsHandlers.CreateAccountHandler())
			accountsGroup.GET("/:account_id", accountsHandlers.GetAccountHandler())
			accountsGroup.POST("/:account_id/deposits", accountsHandlers.DepositHandler())
			accountsGroup.GET("/:account_id/positions", portfolioHandlers.GetPositionsHandler())
			accountsGroup.GET("/:account_id/ledger", ledgerHandlers.GetEntriesHandler())
			accountsGroup.GET("/:account_id/balance", ledgerHandlers.GetBalanceHandler())
			accountsGroup.GET("/:account_id/margin", marginHandlers.GetReportHandler())
		}

		ordersGroup := v1.Group("/orders")
		ordersGroup.Use(middleware.JWTAuth())
		{
			ordersGroup.POST("", ordersHandlers.PlaceOrderHandler())
			ordersGroup.GET("/:order_id", ordersHandlers.GetOrderHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.OperatorAuth())
		{
			internal.POST("/instruments", catalogHandlers.CreateInstrumentHandler())
			internal.POST("/quotes", marketdataHandlers.UpsertQuoteHandler())
			internal.POST("/margin-rules", marginHandlers.CreateRuleHandler())
		}
	}
}
