// Package api exposes the desk over HTTP: command endpoints for the
// settlement engine and thin read projections over the ledger store.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clearhaven/otcx/internal/access"
	"github.com/clearhaven/otcx/internal/funds"
	"github.com/clearhaven/otcx/internal/journal"
	"github.com/clearhaven/otcx/internal/ledger"
	"github.com/clearhaven/otcx/internal/settlement"
)

var validate = validator.New()

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	logger      *zap.Logger
	engine      *settlement.Engine
	store       *ledger.Store
	book        *funds.Book
	ctrl        *access.Controller
	journal     *journal.Journal
	rateLimiter gin.HandlerFunc
}

// NewServer wires the API server. journal and rateLimiter may be nil.
func NewServer(
	logger *zap.Logger,
	engine *settlement.Engine,
	store *ledger.Store,
	book *funds.Book,
	ctrl *access.Controller,
	jrnl *journal.Journal,
	rateLimiter gin.HandlerFunc,
) *Server {
	server := &Server{
		logger:      logger,
		engine:      engine,
		store:       store,
		book:        book,
		ctrl:        ctrl,
		journal:     jrnl,
		rateLimiter: rateLimiter,
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Actor-Address"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	server.router = router
	server.registerRoutes()
	return server
}

// Start runs the server on addr.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router returns the internal Gin engine for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	public := s.router.Group("/api/v1")
	if s.rateLimiter != nil {
		public.Use(s.rateLimiter)
	}
	{
		public.GET("/metrics", gin.WrapH(promhttp.Handler()))
		public.GET("/health", s.healthCheck)

		orders := public.Group("/orders")
		{
			orders.POST("", s.postOrder)
			orders.GET("", s.listOrders)
			orders.GET("/:id", s.getOrder)
			orders.POST("/:id/fill", s.fillOrder)
			orders.POST("/:id/cancel", s.cancelOrder)
			orders.POST("/cancel", s.cancelOrders)
		}

		public.GET("/makers/:address/orders", s.listMakerOrders)

		rwa := public.Group("/rwa")
		{
			rwa.POST("/:id/record", s.recordRwaFill)
			rwa.POST("/:id/release", s.releaseRwaSettlement)
		}

		admin := public.Group("/admin")
		{
			admin.POST("/pause", s.pause)
			admin.POST("/resume", s.resume)
			admin.PUT("/min-order-value", s.setMinOrderValue)
			admin.PUT("/fee-bps", s.setFeeBps)
			admin.POST("/sweep", s.sweep)
		}

		platform := public.Group("/platform")
		{
			platform.GET("/stats", s.platformStats)
			platform.GET("/config", s.platformConfig)
		}

		accounts := public.Group("/accounts")
		{
			accounts.GET("/:address/balance", s.getBalance)
			accounts.POST("/:address/deposit", s.deposit)
		}

		public.GET("/events", s.listEvents)
	}
}
