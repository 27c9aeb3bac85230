// Package gateway is the HTTP surface over the policy engine and the
// boardroom. Mutating routes authenticate with bearer tokens and pass the
// reconstructed caller identity straight through to the guard; reads are
// public. A websocket endpoint relays the NATS event stream to observers.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/terminal-bench/pegflow/internal/auth"
	"github.com/terminal-bench/pegflow/internal/boardroom"
	"github.com/terminal-bench/pegflow/internal/chain"
	"github.com/terminal-bench/pegflow/internal/guard"
	"github.com/terminal-bench/pegflow/internal/oracle"
	"github.com/terminal-bench/pegflow/internal/params"
	"github.com/terminal-bench/pegflow/internal/token"
	"github.com/terminal-bench/pegflow/internal/treasury"
	"github.com/terminal-bench/pegflow/pkg/messaging"
)

// Config holds gateway configuration.
type Config struct {
	// Admin is the only account allowed to change parameters.
	Admin           string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Deps are the gateway's collaborators.
type Deps struct {
	Auth     *auth.Service
	Treasury *treasury.Treasury
	Board    *boardroom.Boardroom
	Params   *params.Store
	Oracle   oracle.Oracle
	Cash     token.Ledger
	Bonds    token.Ledger
	Shares   token.Ledger
	Events   *messaging.Client
}

// Gateway is the API gateway.
type Gateway struct {
	cfg    Config
	deps   Deps
	router *gin.Engine

	wsMu      sync.RWMutex
	wsClients map[uuid.UUID]*wsClient

	rateLimiter *rateLimiter
}

type wsClient struct {
	ID   uuid.UUID
	Conn *websocket.Conn
	Send chan []byte
	Done chan struct{}
}

func New(cfg Config, deps Deps) *Gateway {
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	g := &Gateway{
		cfg:       cfg,
		deps:      deps,
		router:    gin.Default(),
		wsClients: make(map[uuid.UUID]*wsClient),
		rateLimiter: &rateLimiter{
			requests: make(map[string][]time.Time),
			limit:    cfg.RateLimitMax,
			window:   cfg.RateLimitWindow,
		},
	}
	g.setupRoutes()
	return g
}

func (g *Gateway) setupRoutes() {
	g.router.Use(g.rateLimitMiddleware())
	g.router.Use(g.tracingMiddleware())

	g.router.GET("/health", g.healthCheck)

	v1 := g.router.Group("/api/v1")
	{
		v1.POST("/auth/register", g.register)
		v1.POST("/auth/login", g.login)

		// Policy engine
		v1.POST("/epoch/trigger", g.authMiddleware(), g.triggerEpoch)
		v1.GET("/treasury/status", g.treasuryStatus)
		v1.POST("/bonds/buy", g.authMiddleware(), g.buyBonds)
		v1.POST("/bonds/redeem", g.authMiddleware(), g.redeemBonds)

		// Boardroom
		v1.POST("/board/stake", g.authMiddleware(), g.stake)
		v1.POST("/board/withdraw", g.authMiddleware(), g.withdraw)
		v1.POST("/board/claim", g.authMiddleware(), g.claimReward)
		v1.GET("/board/status", g.boardStatus)
		v1.GET("/board/seat", g.authMiddleware(), g.seat)

		// Market data
		v1.GET("/price", g.price)

		// Account
		v1.GET("/account/balances", g.authMiddleware(), g.balances)

		// Parameters
		v1.GET("/params", g.getParams)
		v1.PUT("/params/:name", g.authMiddleware(), g.setParam)

		// Event stream
		v1.GET("/ws", g.handleWebSocket)
	}
}

// StartEventRelay subscribes the websocket relay to the event stream.
func (g *Gateway) StartEventRelay() error {
	if g.deps.Events == nil {
		return nil
	}
	for _, subject := range []string{"policy.>", "board.>"} {
		if err := g.deps.Events.Subscribe(subject, g.relayEvent); err != nil {
			return err
		}
	}
	return nil
}

// Start subscribes the event relay and runs the HTTP server.
func (g *Gateway) Start(addr string) error {
	if err := g.StartEventRelay(); err != nil {
		return err
	}
	return g.router.Run(addr)
}

// Handler exposes the router for tests.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Middleware

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := g.deps.Auth.VerifyToken(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("caller", claims.Caller())
		c.Next()
	}
}

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.rateLimiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

func caller(c *gin.Context) chain.Caller {
	return c.MustGet("caller").(chain.Caller)
}

// writeError maps domain sentinels onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, guard.ErrSlotTaken):
		status = http.StatusConflict
	case errors.Is(err, treasury.ErrEpochNotOpen),
		errors.Is(err, treasury.ErrNotReady),
		errors.Is(err, boardroom.ErrWithdrawLocked),
		errors.Is(err, boardroom.ErrRewardLocked):
		status = http.StatusLocked
	case errors.Is(err, treasury.ErrStaleQuote),
		errors.Is(err, treasury.ErrPriceNotEligible),
		errors.Is(err, treasury.ErrBudgetExceeded),
		errors.Is(err, treasury.ErrDebtCeiling),
		errors.Is(err, treasury.ErrReserveShort),
		errors.Is(err, boardroom.ErrExceedsStake),
		errors.Is(err, boardroom.ErrNoStakes),
		errors.Is(err, token.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, treasury.ErrZeroAmount),
		errors.Is(err, boardroom.ErrZeroAmount),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, params.ErrOutOfRange):
		status = http.StatusBadRequest
	case errors.Is(err, boardroom.ErrNotOperator):
		status = http.StatusForbidden
	case errors.Is(err, oracle.ErrNoPrice):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Handlers

func (g *Gateway) healthCheck(c *gin.Context) {
	status := gin.H{"status": "healthy"}
	if g.deps.Events != nil {
		status["events"] = g.deps.Events.IsConnected()
	}
	c.JSON(http.StatusOK, status)
}

type credentialsRequest struct {
	Account  string `json:"account" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (g *Gateway) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	account, err := g.deps.Auth.Register(c.Request.Context(), req.Account, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrAccountExists):
			c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
		case errors.Is(err, auth.ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, account)
}

func (g *Gateway) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	tok, err := g.deps.Auth.Login(c.Request.Context(), req.Account, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrStoreUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

func (g *Gateway) triggerEpoch(c *gin.Context) {
	if err := g.deps.Treasury.TriggerEpoch(c.Request.Context(), caller(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g.deps.Treasury.Status())
}

func (g *Gateway) treasuryStatus(c *gin.Context) {
	c.JSON(http.StatusOK, g.deps.Treasury.Status())
}

type bondRequest struct {
	Amount      string `json:"amount" binding:"required"`
	TargetPrice string `json:"target_price" binding:"required"`
}

func (g *Gateway) buyBonds(c *gin.Context) {
	amount, target, ok := parseBondRequest(c)
	if !ok {
		return
	}
	if err := g.deps.Treasury.BuyBonds(c.Request.Context(), caller(c), amount, target); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "bonds issued"})
}

func (g *Gateway) redeemBonds(c *gin.Context) {
	amount, target, ok := parseBondRequest(c)
	if !ok {
		return
	}
	if err := g.deps.Treasury.RedeemBonds(c.Request.Context(), caller(c), amount, target); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "bonds redeemed"})
}

func parseBondRequest(c *gin.Context) (amount, target decimal.Decimal, ok bool) {
	var req bondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	target, err = decimal.NewFromString(req.TargetPrice)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target price"})
		return
	}
	return amount, target, true
}

type amountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func parseAmount(c *gin.Context) (decimal.Decimal, bool) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return decimal.Zero, false
	}
	return amount, true
}

func (g *Gateway) stake(c *gin.Context) {
	amount, ok := parseAmount(c)
	if !ok {
		return
	}
	if err := g.deps.Board.Stake(c.Request.Context(), caller(c), amount); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "staked"})
}

func (g *Gateway) withdraw(c *gin.Context) {
	amount, ok := parseAmount(c)
	if !ok {
		return
	}
	if err := g.deps.Board.Withdraw(c.Request.Context(), caller(c), amount); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "withdrawn"})
}

func (g *Gateway) claimReward(c *gin.Context) {
	if err := g.deps.Board.ClaimReward(c.Request.Context(), caller(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "reward claimed"})
}

func (g *Gateway) boardStatus(c *gin.Context) {
	snap := g.deps.Board.LatestSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"total_staked":     g.deps.Board.TotalStaked(),
		"snapshot_count":   g.deps.Board.SnapshotCount(),
		"reward_per_share": snap.RewardPerShare,
		"last_reward":      snap.RewardReceived,
		"last_reward_time": snap.Time,
	})
}

func (g *Gateway) seat(c *gin.Context) {
	account := caller(c).Origin
	c.JSON(http.StatusOK, gin.H{
		"account": account,
		"staked":  g.deps.Board.BalanceOf(account),
		"earned":  g.deps.Board.Earned(account),
	})
}

func (g *Gateway) price(c *gin.Context) {
	ctx := c.Request.Context()
	spot, err := g.deps.Oracle.Consult(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	twap, err := g.deps.Oracle.TWAP(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"spot": spot, "twap": twap})
}

func (g *Gateway) balances(c *gin.Context) {
	ctx := c.Request.Context()
	account := caller(c).Origin

	out := gin.H{"account": account}
	for _, ledger := range []token.Ledger{g.deps.Cash, g.deps.Bonds, g.deps.Shares} {
		bal, err := ledger.BalanceOf(ctx, account)
		if err != nil {
			writeError(c, err)
			return
		}
		out[ledger.Denom()] = bal
	}
	c.JSON(http.StatusOK, out)
}

func (g *Gateway) getParams(c *gin.Context) {
	c.JSON(http.StatusOK, g.deps.Params.Current())
}

func (g *Gateway) setParam(c *gin.Context) {
	if caller(c).Origin != g.cfg.Admin {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin only"})
		return
	}

	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := g.applyParam(c.Request.Context(), c.Param("name"), req.Value); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g.deps.Params.Current())
}

var errUnknownParam = errors.New("unknown parameter")

func (g *Gateway) applyParam(ctx context.Context, name, value string) error {
	s := g.deps.Params

	switch name {
	case "bootstrap_rounds", "withdraw_lockup_rounds", "reward_lockup_rounds":
		v, err := decimal.NewFromString(value)
		if err != nil || !v.IsInteger() {
			return errors.New("invalid integer value")
		}
		switch name {
		case "bootstrap_rounds":
			return s.SetBootstrapRounds(ctx, v.IntPart())
		case "withdraw_lockup_rounds":
			return s.SetWithdrawLockupRounds(ctx, v.IntPart())
		default:
			return s.SetRewardLockupRounds(ctx, v.IntPart())
		}
	}

	v, err := decimal.NewFromString(value)
	if err != nil {
		return errors.New("invalid decimal value")
	}

	setters := map[string]func(context.Context, decimal.Decimal) error{
		"peg":                           s.SetPeg,
		"bootstrap_rate":                s.SetBootstrapRate,
		"expansion_rate":                s.SetExpansionRate,
		"max_expansion_rate":            s.SetMaxExpansionRate,
		"max_expansion_rate_debt_phase": s.SetMaxExpansionRateDebtPhase,
		"depletion_floor_ratio":         s.SetDepletionFloorRatio,
		"seigniorage_floor_ratio":       s.SetSeigniorageFloorRatio,
		"debt_paydown_multiplier":       s.SetDebtPaydownMultiplier,
		"contraction_cap":               s.SetContractionCap,
		"max_debt_ratio":                s.SetMaxDebtRatio,
		"buyback_rate":                  s.SetBuybackRate,
		"max_buyback_cap":               s.SetMaxBuybackCap,
		"trigger_salary":                s.SetTriggerSalary,
		"max_discount_rate":             s.SetMaxDiscountRate,
		"max_premium_rate":              s.SetMaxPremiumRate,
		"redemption_penalty_rate":       s.SetRedemptionPenaltyRate,
	}
	set, ok := setters[name]
	if !ok {
		return errUnknownParam
	}
	return set(ctx, v)
}

// WebSocket event relay

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		ID:   uuid.New(),
		Conn: conn,
		Send: make(chan []byte, 64),
		Done: make(chan struct{}),
	}

	g.wsMu.Lock()
	g.wsClients[client.ID] = client
	g.wsMu.Unlock()

	go g.wsReadPump(client)
	go g.wsWritePump(client)
}

func (g *Gateway) wsReadPump(client *wsClient) {
	defer func() {
		g.wsMu.Lock()
		delete(g.wsClients, client.ID)
		g.wsMu.Unlock()
		close(client.Done)
		client.Conn.Close()
	}()

	// The stream is one-way; reads only detect the close.
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) wsWritePump(client *wsClient) {
	for {
		select {
		case message := <-client.Send:
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-client.Done:
			return
		}
	}
}

// relayEvent fans a NATS event out to every connected websocket; slow
// clients drop messages rather than stall the relay.
func (g *Gateway) relayEvent(msg *nats.Msg) {
	g.wsMu.RLock()
	defer g.wsMu.RUnlock()

	for _, client := range g.wsClients {
		select {
		case client.Send <- msg.Data:
		default:
		}
	}
}

// rateLimiter is a sliding-window per-IP limiter.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	requests := rl.requests[key]
	valid := make([]time.Time, 0, len(requests))
	for _, t := range requests {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}
