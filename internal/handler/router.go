package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// The router endpoints carry attached native value into the wrapped margin
// token so callers without a token balance can still open positions.

// WrapRequest is the request body for native deposits
type WrapRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,gt=0"`
}

// Wrap handles POST /v1/router/wrap
func (h *Handler) Wrap(c *gin.Context) {
	if h.wrapped == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no wrapped native token configured"})
		return
	}
	var req WrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.wrapped.Deposit(req.Account, req.Amount); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": req.Account,
		"balance": h.wrapped.BalanceOf(req.Account),
	})
}

// Unwrap handles POST /v1/router/unwrap
func (h *Handler) Unwrap(c *gin.Context) {
	if h.wrapped == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no wrapped native token configured"})
		return
	}
	var req WrapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.wrapped.Withdraw(req.Account, req.Amount); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": req.Account,
		"balance": h.wrapped.BalanceOf(req.Account),
	})
}

// CreateOrderWithNative handles POST /v1/router/orders/:pool_id. The attached
// value is wrapped into the margin token, approved to the pool's escrow, and
// the order forwarded. Stateless: the router holds nothing between calls.
func (h *Handler) CreateOrderWithNative(c *gin.Context) {
	if h.wrapped == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no wrapped native token configured"})
		return
	}
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.CommandID == "" {
		req.CommandID = uuid.Must(uuid.NewV7()).String()
	}

	p, err := h.engine.Factory().PoolByID(c.Param("pool_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	if p.MarginID() != h.wrapped.ID() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pool margin is not the wrapped native token"})
		return
	}

	value := req.BuyerMargin
	if req.IsSeller {
		value = req.SellerMargin
	}
	if req.Deposit && !req.IsSeller {
		value += req.DeliveryPrice
	}
	if err := h.wrapped.Deposit(req.Creator, value); err != nil {
		abortWith(c, err)
		return
	}
	h.wrapped.Approve(req.Creator, p.Escrow(), value)

	order, err := h.engine.CreateOrder(c.Request.Context(), req.CommandID, p.ID(), req.params())
	if err != nil {
		// Unwind the wrap so the caller's native value is not stranded.
		if werr := h.wrapped.Withdraw(req.Creator, value); werr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": werr.Error()})
			return
		}
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"command_id": req.CommandID, "order": order})
}

// MintRequest is the request body for the token faucet
type MintRequest struct {
	Account string `json:"account" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,gt=0"`
}

// MintToken handles POST /v1/tokens/:token_id/mint (for testing)
func (h *Handler) MintToken(c *gin.Context) {
	t, err := h.registry.Fungible(c.Param("token_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	var req MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := t.Mint(req.Account, req.Amount); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": req.Account,
		"balance": t.BalanceOf(req.Account),
	})
}

// ApproveRequest is the request body for allowance grants
type ApproveRequest struct {
	Owner   string `json:"owner" binding:"required"`
	Spender string `json:"spender" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,gte=0"`
}

// ApproveToken handles POST /v1/tokens/:token_id/approve
func (h *Handler) ApproveToken(c *gin.Context) {
	t, err := h.registry.Fungible(c.Param("token_id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t.Approve(req.Owner, req.Spender, req.Amount)
	c.JSON(http.StatusOK, gin.H{
		"owner":     req.Owner,
		"spender":   req.Spender,
		"allowance": t.Allowance(req.Owner, req.Spender),
	})
}
