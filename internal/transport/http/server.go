// Package tradehttp exposes the signal intake webhook and a small read-only
// API over the engine and risk ledger.
package tradehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"scalpd/internal/engine"
	"scalpd/internal/logger"
	"scalpd/internal/risk"
	"scalpd/internal/store"
	"scalpd/internal/trade"
)

type Server struct {
	addr   string
	router *gin.Engine
}

// SignalIntake accepts incoming signals. The engine satisfies it directly;
// the app substitutes a wrapper in paper mode.
type SignalIntake interface {
	Offer(sig trade.Signal) bool
}

type ServerConfig struct {
	Addr    string
	Engine  *engine.Engine
	Ledger  *risk.Ledger
	Intake  SignalIntake   // defaults to Engine
	Journal *store.Journal // optional
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil || cfg.Ledger == nil {
		return nil, errors.New("http server requires engine and ledger")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	intake := cfg.Intake
	if intake == nil {
		intake = cfg.Engine
	}
	h := &handlers{eng: cfg.Engine, intake: intake, ledger: cfg.Ledger, journal: cfg.Journal}
	api := router.Group("/api/v1")
	api.POST("/signals", h.postSignal)
	api.GET("/positions", h.listPositions)
	api.GET("/positions/archive", h.listArchive)
	api.POST("/positions/:id/close", h.closePosition)
	api.GET("/positions/:id/events", h.positionEvents)
	api.GET("/risk", h.riskState)
	api.POST("/risk/pause", h.pause)
	api.POST("/risk/resume", h.resume)

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string { return s.addr }

// Start serves until ctx cancels or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type handlers struct {
	eng     *engine.Engine
	intake  SignalIntake
	ledger  *risk.Ledger
	journal *store.Journal
}

func (h *handlers) postSignal(c *gin.Context) {
	var sig trade.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now()
	}
	if !h.intake.Offer(sig) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "signal queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *handlers) listPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": positionViews(h.eng.Positions())})
}

func (h *handlers) listArchive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": positionViews(h.eng.Archive())})
}

func (h *handlers) closePosition(c *gin.Context) {
	id := c.Param("id")
	if err := h.eng.RequestClose(id, "manual close via api"); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "closing"})
}

func (h *handlers) positionEvents(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	rows, err := h.journal.Events(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

func (h *handlers) riskState(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.Snapshot())
}

func (h *handlers) pause(c *gin.Context) {
	h.ledger.Pause()
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (h *handlers) resume(c *gin.Context) {
	h.ledger.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

type positionView struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Direction   string    `json:"direction"`
	State       string    `json:"state"`
	Entry       float64   `json:"entry"`
	EntryPrice  float64   `json:"entry_price,omitempty"`
	Size        float64   `json:"size"`
	Remaining   float64   `json:"remaining"`
	Leverage    int       `json:"leverage"`
	CurrentStop float64   `json:"current_stop,omitempty"`
	TP1         float64   `json:"tp1"`
	TP2         float64   `json:"tp2"`
	RealizedPnL float64   `json:"realized_pnl"`
	CloseReason string    `json:"close_reason,omitempty"`
	Orphaned    bool      `json:"orphaned,omitempty"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
}

func positionViews(positions []engine.Position) []positionView {
	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionView{
			ID:          p.ID,
			Symbol:      p.Plan.Symbol,
			Direction:   string(p.Plan.Direction),
			State:       p.State.String(),
			Entry:       p.Plan.Entry,
			EntryPrice:  p.EntryPrice,
			Size:        p.Plan.Size,
			Remaining:   p.RemainingSize(),
			Leverage:    p.Plan.Leverage,
			CurrentStop: p.CurrentStop,
			TP1:         p.Plan.TP1,
			TP2:         p.Plan.TP2,
			RealizedPnL: p.RealizedPnL,
			CloseReason: p.CloseReason,
			Orphaned:    p.Orphaned,
			OpenedAt:    p.OpenedAt,
		})
	}
	return out
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		client := c.ClientIP()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, path, c.Writer.Status(), client, time.Since(start))
	}
}
