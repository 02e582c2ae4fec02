package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nathanyu/forward-settlement/internal/domain"
	"github.com/nathanyu/forward-settlement/internal/engine"
	"github.com/nathanyu/forward-settlement/internal/pool"
	"github.com/nathanyu/forward-settlement/internal/repository"
	"github.com/nathanyu/forward-settlement/internal/token"
)

// Handler contains all HTTP handlers
type Handler struct {
	engine   *engine.SettlementEngine
	repo     repository.Repository
	registry *token.Registry
	wrapped  *token.Wrapped
}

// NewHandler creates a new handler. repo and wrapped may be nil; the
// endpoints depending on them answer 503.
func NewHandler(e *engine.SettlementEngine, repo repository.Repository, registry *token.Registry, wrapped *token.Wrapped) *Handler {
	return &Handler{
		engine:   e,
		repo:     repo,
		registry: registry,
		wrapped:  wrapped,
	}
}

// statusFor maps guard failures to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound), errors.Is(err, domain.ErrPoolNotFound),
		errors.Is(err, token.ErrTokenUnknown):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotOwner),
		errors.Is(err, domain.ErrNotFactory):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrPaused), errors.Is(err, domain.ErrPoolExists),
		errors.Is(err, domain.ErrAlreadySettled), errors.Is(err, domain.ErrAlreadyDelivered),
		errors.Is(err, domain.ErrNotActive), errors.Is(err, domain.ErrNotSettleable):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidPeriod), errors.Is(err, domain.ErrInvalidAssetSpec),
		errors.Is(err, domain.ErrInvalidMargin), errors.Is(err, domain.ErrInvalidFeeRate),
		errors.Is(err, domain.ErrMarginNotSupported),
		errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// HealthResponse is the response for health check endpoint
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// DeployPoolRequest is the request body for pool deployment
type DeployPoolRequest struct {
	Caller   string `json:"caller" binding:"required"`
	AssetID  string `json:"asset_id" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	MarginID string `json:"margin_id" binding:"required"`
}

// DeployPool handles POST /v1/factory/pools
func (h *Handler) DeployPool(c *gin.Context) {
	var req DeployPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.engine.DeployPool(c.Request.Context(), req.Caller, req.AssetID, domain.AssetKind(req.Kind), req.MarginID)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, poolInfo(p))
}

// PoolInfo is the query shape of one pool
type PoolInfo struct {
	PoolID            string `json:"pool_id"`
	AssetID           string `json:"asset_id"`
	Kind              string `json:"kind"`
	MarginID          string `json:"margin_id"`
	Escrow            string `json:"escrow"`
	Paused            bool   `json:"paused"`
	OrdersLength      int    `json:"orders_length"`
	CFee              int64  `json:"cfee"`
	PricePerFullShare int64  `json:"price_per_full_share"`
	Version           string `json:"version"`
}

func poolInfo(p *pool.ForwardPool) PoolInfo {
	pps, _ := p.PricePerFullShare()
	return PoolInfo{
		PoolID:            p.ID(),
		AssetID:           p.AssetID(),
		Kind:              string(p.Kind()),
		MarginID:          p.MarginID(),
		Escrow:            p.Escrow(),
		Paused:            p.Paused(),
		OrdersLength:      p.OrdersLength(),
		CFee:              p.CFee(),
		PricePerFullShare: pps,
		Version:           p.Version(),
	}
}

// ListPools handles GET /v1/factory/pools
func (h *Handler) ListPools(c *gin.Context) {
	pools := h.engine.Factory().AllPairs()
	infos := make([]PoolInfo, 0, len(pools))
	for _, p := range pools {
		infos = append(infos, poolInfo(p))
	}
	c.JSON(http.StatusOK, gin.H{"pools": infos, "count": len(infos)})
}

// GetPool handles GET /v1/pools/:pool_id
func (h *Handler) GetPool(c *gin.Context) {
	p, err := h.engine.Factory().PoolByID(c.Param("pool_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, poolInfo(p))
}

// SetFeeRequest is the request body for fee rate updates
type SetFeeRequest struct {
	Caller string `json:"caller" binding:"required"`
	Rate   int64  `json:"rate"`
}

// SetFee handles POST /v1/factory/fee
func (h *Handler) SetFee(c *gin.Context) {
	var req SetFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.Factory().SetFee(req.Caller, req.Rate); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate": req.Rate})
}

// MarginRequest toggles margin allow-list membership
type MarginRequest struct {
	Caller   string `json:"caller" binding:"required"`
	MarginID string `json:"margin_id" binding:"required"`
	Enabled  bool   `json:"enabled"`
}

// SetMargin handles POST /v1/factory/margins
func (h *Handler) SetMargin(c *gin.Context) {
	var req MarginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var err error
	if req.Enabled {
		err = h.engine.Factory().SupportMargin(req.Caller, req.MarginID)
	} else {
		err = h.engine.Factory().DisableMargin(req.Caller, req.MarginID)
	}
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"margin_id": req.MarginID, "enabled": req.Enabled})
}

// PauseRequest toggles the creation block on pools
type PauseRequest struct {
	Caller  string   `json:"caller" binding:"required"`
	PoolIDs []string `json:"pool_ids"`
	Paused  bool     `json:"paused"`
}

// PausePools handles POST /v1/factory/pause
func (h *Handler) PausePools(c *gin.Context) {
	var req PauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var err error
	if req.Paused {
		err = h.engine.Factory().PausePools(req.Caller, req.PoolIDs)
	} else {
		err = h.engine.Factory().UnpausePools(req.Caller, req.PoolIDs)
	}
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": req.Paused})
}

// CollectFeeRequest is the request body for fee collection
type CollectFeeRequest struct {
	Caller string `json:"caller" binding:"required"`
	To     string `json:"to"`
}

// CollectFee handles POST /v1/factory/collect
func (h *Handler) CollectFee(c *gin.Context) {
	var req CollectFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	total, err := h.engine.CollectFee(c.Request.Context(), req.Caller, req.To)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collected": total})
}

// CreateOrderRequest is the request body for order creation
type CreateOrderRequest struct {
	CommandID     string           `json:"command_id"`
	Creator       string           `json:"creator" binding:"required"`
	IsSeller      bool             `json:"is_seller"`
	Asset         domain.AssetSpec `json:"asset"`
	DeliveryPrice int64            `json:"delivery_price" binding:"required,gt=0"`
	BuyerMargin   int64            `json:"buyer_margin" binding:"required,gt=0"`
	SellerMargin  int64            `json:"seller_margin" binding:"required,gt=0"`
	ValidTill     time.Time        `json:"valid_till" binding:"required"`
	DeliverStart  time.Time        `json:"deliver_start" binding:"required"`
	DeliverEnd    time.Time        `json:"deliver_end" binding:"required"`
	Deposit       bool             `json:"deposit"`
}

func (r *CreateOrderRequest) params() pool.CreateOrderParams {
	return pool.CreateOrderParams{
		Creator:       r.Creator,
		IsSeller:      r.IsSeller,
		Asset:         r.Asset,
		DeliveryPrice: r.DeliveryPrice,
		BuyerMargin:   r.BuyerMargin,
		SellerMargin:  r.SellerMargin,
		ValidTill:     r.ValidTill,
		DeliverStart:  r.DeliverStart,
		DeliverEnd:    r.DeliverEnd,
		Deposit:       r.Deposit,
	}
}

// CreateOrder handles POST /v1/pools/:pool_id/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CommandID == "" {
		req.CommandID = uuid.Must(uuid.NewV7()).String()
	}

	order, err := h.engine.CreateOrder(c.Request.Context(), req.CommandID, c.Param("pool_id"), req.params())
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"command_id": req.CommandID, "order": order})
}

// AccountRequest names the acting account on order operations
type AccountRequest struct {
	CommandID string `json:"command_id"`
	Account   string `json:"account" binding:"required"`
}

func (h *Handler) orderID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return 0, false
	}
	return id, true
}

// TakeOrder handles POST /v1/pools/:pool_id/orders/:order_id/take
func (h *Handler) TakeOrder(c *gin.Context) {
	var req AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	if err := h.engine.TakeOrder(c.Request.Context(), req.CommandID, c.Param("pool_id"), req.Account, id); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "taker": req.Account})
}

// Deliver handles POST /v1/pools/:pool_id/orders/:order_id/deliver
func (h *Handler) Deliver(c *gin.Context) {
	var req AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	if err := h.engine.Deliver(c.Request.Context(), req.CommandID, c.Param("pool_id"), req.Account, id); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "account": req.Account})
}

// Settle handles POST /v1/pools/:pool_id/orders/:order_id/settle
func (h *Handler) Settle(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	var req struct {
		CommandID string `json:"command_id"`
	}
	_ = c.ShouldBindJSON(&req) // body is optional

	if err := h.engine.Settle(c.Request.Context(), req.CommandID, c.Param("pool_id"), id); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id})
}

// GetOrder handles GET /v1/pools/:pool_id/orders/:order_id
func (h *Handler) GetOrder(c *gin.Context) {
	p, err := h.engine.Factory().PoolByID(c.Param("pool_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	order, err := p.Order(id)
	if err != nil {
		abortWith(c, err)
		return
	}
	state, err := p.CheckOrderState(id)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "state": state.String()})
}

// GetOrderState handles GET /v1/pools/:pool_id/orders/:order_id/state
func (h *Handler) GetOrderState(c *gin.Context) {
	p, err := h.engine.Factory().PoolByID(c.Param("pool_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	id, ok := h.orderID(c)
	if !ok {
		return
	}
	state, err := p.CheckOrderState(id)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "state": state.String(), "code": int(state)})
}

// TopPools handles GET /v1/settlements/top-pools
func (h *Handler) TopPools(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settlement archive not configured"})
		return
	}
	n, err := strconv.Atoi(c.DefaultQuery("n", "10"))
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
		return
	}
	entries, err := h.repo.TopPoolsByFee(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pools": entries})
}

// PoolSettlements handles GET /v1/pools/:pool_id/settlements
func (h *Handler) PoolSettlements(c *gin.Context) {
	if h.repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settlement archive not configured"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	records, err := h.repo.RecentSettlements(c.Request.Context(), c.Param("pool_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": records})
}

// SetupRoutes configures all API routes
func SetupRoutes(r *gin.Engine, h *Handler) {
	// Health check
	r.GET("/health", h.Health)

	// Factory administration
	factory := r.Group("/v1/factory")
	{
		factory.POST("/pools", h.DeployPool)
		factory.GET("/pools", h.ListPools)
		factory.POST("/fee", h.SetFee)
		factory.POST("/margins", h.SetMargin)
		factory.POST("/pause", h.PausePools)
		factory.POST("/collect", h.CollectFee)
	}

	// Pool operations and queries
	pools := r.Group("/v1/pools")
	{
		pools.GET("/:pool_id", h.GetPool)
		pools.POST("/:pool_id/orders", h.CreateOrder)
		pools.GET("/:pool_id/orders/:order_id", h.GetOrder)
		pools.GET("/:pool_id/orders/:order_id/state", h.GetOrderState)
		pools.POST("/:pool_id/orders/:order_id/take", h.TakeOrder)
		pools.POST("/:pool_id/orders/:order_id/deliver", h.Deliver)
		pools.POST("/:pool_id/orders/:order_id/settle", h.Settle)
		pools.GET("/:pool_id/settlements", h.PoolSettlements)
	}

	// Settlement read model
	r.GET("/v1/settlements/top-pools", h.TopPools)

	// Native currency router and token faucet
	router := r.Group("/v1/router")
	{
		router.POST("/wrap", h.Wrap)
		router.POST("/unwrap", h.Unwrap)
		router.POST("/orders/:pool_id", h.CreateOrderWithNative)
	}
	tokens := r.Group("/v1/tokens")
	{
		tokens.POST("/:token_id/mint", h.MintToken)     // For testing
		tokens.POST("/:token_id/approve", h.ApproveToken)
	}
}
