package cluster

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/anaelectric/powermatcher/internal/matcher"
	"github.com/anaelectric/powermatcher/pkg/market"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Redis  string `json:"redis,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NodeStatus describes one node or agent of the tree.
type NodeStatus struct {
	ID       string        `json:"id"`
	Kind     string        `json:"kind"`
	Parent   string        `json:"parent,omitempty"`
	State    string        `json:"state,omitempty"`
	Children []string      `json:"children,omitempty"`
	Price    *market.Price `json:"price,omitempty"`
	Bid      *market.Bid   `json:"bid,omitempty"`
	// Allocated is the power a device runs at under the last price.
	Allocated *float64 `json:"allocated,omitempty"`
}

// PriceRequest is the body of POST /api/v1/price. A null price is rejected.
type PriceRequest struct {
	Price *float64 `json:"price"`
}

// PriceResponse carries the price a request resulted in.
type PriceResponse struct {
	Price *market.Price `json:"price"`
}

// NewRouter builds the status API of c.
func NewRouter(c *Cluster) *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(c.logger.Named("api")), recovery())

	if c.cfg.API != nil {
		router.Use(corsMiddleware(c.cfg.API.AllowOrigins))
	}

	h := &handlers{cluster: c}
	router.GET("/healthz", h.healthz)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/nodes", h.listNodes)
		v1.GET("/nodes/:id", h.getNode)
		v1.GET("/nodes/:id/price", h.getPrice)
		v1.GET("/nodes/:id/bid", h.getBid)
		v1.POST("/price", h.setPrice)
		v1.POST("/clear", h.clear)
	}

	return router
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Requested-With"},
		MaxAge:       12 * time.Hour,
	}
	if slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("method", strings.ToUpper(c.Request.Method)),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}

		switch {
		case status >= 500:
			logger.Error("HTTP request", fields...)
		case status >= 400:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Debug("HTTP request", fields...)
		}
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		message := "An unexpected error occurred"
		if s, ok := recovered.(string); ok {
			message = s
		}
		abortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", message)
	})
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

type handlers struct {
	cluster *Cluster
}

// healthz returns 200 when the cluster is running and, if a bus is
// configured, Redis answers a PING. Returns 503 otherwise.
func (h *handlers) healthz(c *gin.Context) {
	if h.cluster.bus == nil {
		c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.cluster.bus.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{
			Status: "unhealthy",
			Redis:  "disconnected",
			Error:  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Redis: "connected"})
}

func (h *handlers) listNodes(c *gin.Context) {
	nodes := make([]NodeStatus, 0, 1+len(h.cluster.concentrators)+len(h.cluster.agents))
	nodes = append(nodes, h.cluster.status(h.cluster.auctioneer.ID()))
	for _, id := range h.cluster.cfg.ConcentratorOrder() {
		nodes = append(nodes, h.cluster.status(id))
	}
	for _, id := range h.cluster.cfg.AgentIDs() {
		nodes = append(nodes, h.cluster.status(id))
	}
	c.JSON(http.StatusOK, gin.H{"cluster": h.cluster.Name(), "nodes": nodes})
}

func (h *handlers) getNode(c *gin.Context) {
	id := c.Param("id")
	if !h.cluster.hasNode(id) {
		abortWithError(c, http.StatusNotFound, "NODE_NOT_FOUND", "unknown node '"+id+"'")
		return
	}
	c.JSON(http.StatusOK, h.cluster.status(id))
}

func (h *handlers) getPrice(c *gin.Context) {
	id := c.Param("id")
	if !h.cluster.hasNode(id) {
		abortWithError(c, http.StatusNotFound, "NODE_NOT_FOUND", "unknown node '"+id+"'")
		return
	}
	status := h.cluster.status(id)
	if status.Price == nil {
		abortWithError(c, http.StatusNotFound, "NO_PRICE", "node '"+id+"' has not received a price")
		return
	}
	c.JSON(http.StatusOK, PriceResponse{Price: status.Price})
}

func (h *handlers) getBid(c *gin.Context) {
	id := c.Param("id")
	if !h.cluster.hasNode(id) {
		abortWithError(c, http.StatusNotFound, "NODE_NOT_FOUND", "unknown node '"+id+"'")
		return
	}
	status := h.cluster.status(id)
	if status.Bid == nil {
		abortWithError(c, http.StatusNotFound, "NO_BID", "node '"+id+"' has no bid")
		return
	}
	c.JSON(http.StatusOK, gin.H{"bid": status.Bid})
}

// setPrice publishes a manual price at the auctioneer. Out-of-range prices
// are accepted; a null price is rejected and the last price is kept.
func (h *handlers) setPrice(c *gin.Context) {
	var req PriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	auctioneer := h.cluster.auctioneer
	var price *market.Price
	if req.Price != nil {
		price = market.NewPrice(auctioneer.MarketBasis(), *req.Price)
	}

	if err := auctioneer.PublishPrice(price); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}
	c.JSON(http.StatusOK, PriceResponse{Price: auctioneer.LastPrice()})
}

func (h *handlers) clear(c *gin.Context) {
	price, err := h.cluster.Clear()
	if errors.Is(err, matcher.ErrNoBid) {
		abortWithError(c, http.StatusConflict, "NO_BID", err.Error())
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "CLEARING_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, PriceResponse{Price: price})
}

func (c *Cluster) hasNode(id string) bool {
	if c.matcher(id) != nil {
		return true
	}
	_, ok := c.agents[id]
	return ok
}

// status snapshots node id. id must exist.
func (c *Cluster) status(id string) NodeStatus {
	if a, ok := c.agents[id]; ok {
		s := NodeStatus{
			ID:     id,
			Kind:   KindAgent,
			Parent: a.ParentID(),
			Price:  a.LastPriceUpdate(),
			Bid:    a.LastBid(),
		}
		if d, ok := c.devices[id]; ok {
			if allocated, ok := d.Allocated(); ok {
				s.Allocated = &allocated
			}
		}
		return s
	}

	if id == c.auctioneer.ID() {
		return nodeStatus(c.auctioneer, KindAuctioneer, "")
	}
	conc := c.concentrators[id]
	return nodeStatus(conc, KindConcentrator, conc.ParentID())
}

type treeNode interface {
	matcher.Node
	Children() []string
}

func nodeStatus(n treeNode, kind, parent string) NodeStatus {
	return NodeStatus{
		ID:       n.ID(),
		Kind:     kind,
		Parent:   parent,
		State:    n.State().String(),
		Children: n.Children(),
		Price:    n.LastPrice(),
		Bid:      n.LastAggregatedBid(),
	}
}
