package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fx-ledger/internal/events"
	"fx-ledger/internal/ledger"
	"fx-ledger/internal/monitor"
	"fx-ledger/internal/report"
)

// Deps are the services the HTTP layer fronts. Ledger and Reports are required.
type Deps struct {
	Ledger     *ledger.Engine
	Reports    *report.Aggregator
	Bus        *events.Bus
	Metrics    *monitor.SystemMetrics
	Collectors *monitor.Collectors
	Gatherer   prometheus.Gatherer
	Logger     *zap.Logger
}

// Options tune the middleware stack.
type Options struct {
	RateLimit      rate.Limit
	RateBurst      int
	RequestTimeout time.Duration
}

// Server wires HTTP endpoints around the ledger engine and report aggregator.
type Server struct {
	Router *gin.Engine

	ledger     *ledger.Engine
	reports    *report.Aggregator
	bus        *events.Bus
	metrics    *monitor.SystemMetrics
	collectors *monitor.Collectors
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
}

// NewServer builds the router and registers every route.
func NewServer(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(Recovery(deps.Logger))                                    // Panic recovery (first)
	r.Use(RequestIDMiddleware())                                    // Request ID tracking
	r.Use(RequestLogger(deps.Logger, deps.Metrics, deps.Collectors)) // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(newIPLimiters(opts.RateLimit, opts.RateBurst)))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		ledger:     deps.Ledger,
		reports:    deps.Reports,
		bus:        deps.Bus,
		metrics:    deps.Metrics,
		collectors: deps.Collectors,
		gatherer:   deps.Gatherer,
		logger:     deps.Logger,
	}
	s.routes(opts.RequestTimeout)
	return s
}

func (s *Server) routes(timeout time.Duration) {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.Router.Group("/api")
	api.Use(TimeoutMiddleware(timeout))
	{
		api.GET("/system/metrics", s.getSystemMetrics)

		api.POST("/trades", s.createTrade)
		api.DELETE("/trades/:id", s.cancelTrade)
		api.POST("/receipts", s.applyReceipt)
		api.POST("/payments", s.applyPayment)
		api.POST("/adjustments", s.adjustBalance)
		api.POST("/expenses", s.recordExpense)
		api.GET("/expenses", s.listExpenses)

		api.DELETE("/customers/:name", s.deleteCustomer)
		api.PUT("/customers/:name/address", s.setAddress)
		api.GET("/customers/:name/statement", s.getStatement)

		api.GET("/balances", s.getBalances)
		api.GET("/debts", s.getDebts)
		api.GET("/reports/pnl", s.getPnL)
		api.GET("/reports/detail", s.getDetail)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "owner": s.ledger.Owner()})
}

// HTTPServer wraps the router for callers that need graceful shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
