package web

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dipbuyer/config"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const (
	configuredMask  = config.RedactedMask
	defaultCertDir  = "cert-cache"
	acmeChallengeOn = ":80"
)

type controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() domain.Status
	State() []domain.AssetView
	Config() config.Config
	UpdateConfig(u config.Update) (config.Config, error)
	Sell(ctx context.Context, assetID string, percentage int) (*domain.TradeEvent, error)
}

// Server exposes the control API, the WebSocket stream, metrics and the HTML dashboard.
type Server struct {
	Addr     string
	ctrl     controller
	hub      *Hub
	gatherer prometheus.Gatherer
	l        *zap.Logger

	tlsDomains  []string
	tlsCacheDir string
}

// NewServer creates a new web server instance. A nil gatherer disables /metrics.
func NewServer(addr string, ctrl controller, gatherer prometheus.Gatherer, l *zap.Logger) *Server {
	if l == nil {
		l = zap.NewNop()
	}

	s := &Server{Addr: addr, ctrl: ctrl, gatherer: gatherer, l: l}
	s.hub = NewHub(l, s.initialFrames)

	return s
}

// Hub returns the WebSocket hub; subscribe it to the event bus.
func (s *Server) Hub() *Hub { return s.hub }

// EnableAutoTLS makes Start serve HTTPS with certificates obtained from
// Let's Encrypt for domains. An empty list keeps plain HTTP.
func (s *Server) EnableAutoTLS(domains []string, cacheDir string) {
	if cacheDir == "" {
		cacheDir = defaultCertDir
	}
	s.tlsDomains = domains
	s.tlsCacheDir = cacheDir
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if len(s.tlsDomains) > 0 {
		return s.startTLS(ctx)
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("control surface listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) certManager() *autocert.Manager {
	return &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(s.tlsDomains...),
		Cache:      autocert.DirCache(s.tlsCacheDir),
	}
}

func (s *Server) startTLS(ctx context.Context) error {
	manager := s.certManager()

	// port 80 answers ACME challenges and redirects everything else to HTTPS
	httpSrv := &http.Server{
		Addr:              acmeChallengeOn,
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.l.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil {
			s.l.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("acme server failed", zap.Error(err))
		}
	}()

	s.l.Info("control surface listening with automatic TLS",
		zap.String("addr", s.Addr), zap.Strings("domains", s.tlsDomains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/config", s.getConfig)
	api.POST("/config", s.updateConfig)
	api.POST("/start", s.start)
	api.POST("/stop", s.stop)
	api.GET("/status", s.status)
	api.GET("/pairs", s.pairs)
	api.POST("/sell", s.sell)

	r.GET("/ws", gin.WrapH(s.hub))
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
	})

	return r
}

func (s *Server) initialFrames() []message {
	return []message{
		{Type: msgStatus, Data: s.ctrl.Status()},
		{Type: msgPairs, Data: s.ctrl.State()},
	}
}

type globalSettings struct {
	DropPercentage    *decimal.Decimal `json:"dropPercentage,omitempty"`
	CheckInterval     *int             `json:"checkInterval,omitempty"`
	SlippageTolerance *decimal.Decimal `json:"slippageTolerance,omitempty"`
	RPCURL            *string          `json:"rpcUrl,omitempty"`
	PrivateKey        *string          `json:"privateKey,omitempty"`
}

type pairConfig struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Token          string  `json:"address"`
	Decimals       uint8   `json:"decimals"`
	PurchaseAmount string  `json:"purchaseAmount"`
	MaxPurchases   int     `json:"maxPurchases"`
	DropPercentage *string `json:"dropPercentage,omitempty"`
	FeeTier        uint32  `json:"feeTier"`
	Enabled        bool    `json:"enabled"`
}

type configResponse struct {
	GlobalSettings globalSettings `json:"globalSettings"`
	Pairs          []pairConfig   `json:"pairs"`
}

type configRequest struct {
	GlobalSettings *globalSettings      `json:"globalSettings"`
	Pairs          []config.AssetUpdate `json:"pairs"`
}

func (s *Server) getConfig(c *gin.Context) {
	cfg := s.ctrl.Config().Redacted()

	interval := int(cfg.CheckInterval / time.Second)
	resp := configResponse{
		GlobalSettings: globalSettings{
			DropPercentage:    &cfg.DropPercentage,
			CheckInterval:     &interval,
			SlippageTolerance: &cfg.SlippageTolerance,
			RPCURL:            &cfg.Chain.RPCURL,
			PrivateKey:        &cfg.Chain.PrivateKey,
		},
		Pairs: make([]pairConfig, 0, len(cfg.Assets)),
	}
	for _, a := range cfg.Assets {
		p := pairConfig{
			ID:             a.ID,
			Symbol:         a.Symbol,
			Token:          a.Token.Hex(),
			Decimals:       a.Decimals,
			PurchaseAmount: a.PurchaseAmount.String(),
			MaxPurchases:   a.MaxPurchases,
			FeeTier:        a.FeeTier,
			Enabled:        a.Enabled,
		}
		if a.DropPercentage != nil {
			drop := a.DropPercentage.String()
			p.DropPercentage = &drop
		}
		resp.Pairs = append(resp.Pairs, p)
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) updateConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	u := config.Update{Assets: req.Pairs}
	if g := req.GlobalSettings; g != nil {
		u.DropPercentage = g.DropPercentage
		u.CheckIntervalSeconds = g.CheckInterval
		u.SlippageTolerance = g.SlippageTolerance
		// masked values echoed back by the dashboard are not secrets
		if g.RPCURL != nil && *g.RPCURL != "" && *g.RPCURL != configuredMask {
			u.RPCURL = g.RPCURL
		}
		if g.PrivateKey != nil && *g.PrivateKey != "" && *g.PrivateKey != configuredMask {
			u.PrivateKey = g.PrivateKey
		}
	}

	if _, err := s.ctrl.UpdateConfig(u); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) start(c *gin.Context) {
	if err := s.ctrl.Start(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) stop(c *gin.Context) {
	s.ctrl.Stop()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

func (s *Server) pairs(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.State())
}

type sellRequest struct {
	PairID     string `json:"pairId"`
	Percentage int    `json:"percentage"`
}

type tradeResponse struct {
	Success   bool    `json:"success"`
	Action    string  `json:"action"`
	PairID    string  `json:"pairId"`
	AmountIn  string  `json:"amountIn"`
	AmountOut string  `json:"amountOut"`
	Received  string  `json:"received"`
	Price     string  `json:"price"`
	TxHash    string  `json:"txHash"`
	PnL       *string `json:"pnlPercent,omitempty"`
}

func (s *Server) sell(c *gin.Context) {
	var req sellRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PairID == "" || req.Percentage == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "pairId and percentage are required"})
		return
	}

	trade, err := s.ctrl.Sell(c.Request.Context(), req.PairID, req.Percentage)
	if err != nil {
		s.fail(c, err)
		return
	}

	stable := s.ctrl.Config().Chain.Stablecoin
	resp := tradeResponse{
		Success:   true,
		Action:    trade.Action.String(),
		PairID:    trade.AssetID,
		AmountIn:  trade.AmountIn.String(),
		AmountOut: trade.AmountOut.String(),
		Received:  domain.FormatUnits(trade.AmountOut, stable.Decimals),
		Price:     domain.FormatPrice(trade.Price, 4),
		TxHash:    trade.TxHash,
	}
	if trade.PnLBps != nil {
		pnl := domain.BpsToPercent(*trade.PnLBps).StringFixed(2)
		resp.PnL = &pnl
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.l.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}

	c.JSON(code, gin.H{"success": false, "error": err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRunning),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrInvalidPercentage),
		errors.Is(err, domain.ErrNothingToSell):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
