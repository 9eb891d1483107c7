package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"BookEngine/internal/book"
	"BookEngine/internal/directory"
	"BookEngine/internal/engine"
	"BookEngine/internal/observability"
)

// Server is the operational HTTP surface: book and refdata dumps for
// tooling, capture control, health and metrics. The JSON dumps are
// diagnostic reads, the broadcast stream is the real-time product.
type Server struct {
	eng        *engine.Engine
	hc         *observability.HealthChecker
	log        zerolog.Logger
	httpServer *http.Server
}

func New(addr string, eng *engine.Engine, hc *observability.HealthChecker, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		eng: eng,
		hc:  hc,
		log: log,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	r.GET("/healthz", gin.WrapF(hc.LivenessHandler))
	r.GET("/readyz", gin.WrapF(hc.ReadinessHandler))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.GET("/instruments", s.listInstruments)
		v1.GET("/instruments/:symbol", s.getInstrument)
		v1.GET("/books/:venue/:segment/:id/l1", s.getL1)
		v1.GET("/books/:venue/:segment/:id/l2", s.getL2)
		v1.GET("/consolidated/:id/l1", s.getConsolidatedL1)
		v1.GET("/consolidated/:id/l2", s.getConsolidatedL2)
		v1.GET("/sessions/:venue/:segment", s.getSession)

		v1.GET("/recording", s.recordingStatus)
		v1.POST("/recording/start", s.startRecording)
		v1.POST("/recording/stop", s.stopRecording)
		v1.POST("/replay", s.replay)
	}

	return s
}

// Start serves until ctx is cancelled (blocking).
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func instrumentJSON(i *directory.Instrument) gin.H {
	out := gin.H{
		"venue":      string(i.Key.Venue),
		"segment":    string(i.Key.Segment),
		"instrument": i.Key.ID,
		"symbol":     i.Ref.Symbol,
	}
	if i.Ref.AltSymbol != "" {
		out["alt_symbol"] = i.Ref.AltSymbol
	}
	if i.Ref.IsDerivative() {
		out["underlying"] = i.Ref.Underlying
		out["maturity"] = i.Ref.Maturity
		if i.Ref.PutCall != directory.None {
			out["put_call"] = int(i.Ref.PutCall)
			out["strike"] = i.Ref.Strike
		}
	}
	return out
}

func (s *Server) listInstruments(c *gin.Context) {
	var out []gin.H
	s.eng.Instruments(func(i *directory.Instrument) bool {
		out = append(out, instrumentJSON(i))
		return true
	})
	c.JSON(http.StatusOK, gin.H{"instruments": out, "count": len(out)})
}

func (s *Server) getInstrument(c *gin.Context) {
	i := s.eng.BySymbol(c.Param("symbol"))
	if i == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(http.StatusOK, instrumentJSON(i))
}

func pathKey(c *gin.Context) book.Key {
	return book.Key{
		Venue:   book.VenueID(c.Param("venue")),
		Segment: book.SegmentID(c.Param("segment")),
		ID:      c.Param("id"),
	}
}

// snapshotBook runs fn on the shard owning key so the read sees a
// consistent book, and waits for it to complete.
func (s *Server) snapshotBook(c *gin.Context, key book.Key, fn func(*book.OrderBook)) bool {
	done := make(chan struct{})
	err := s.eng.PostBook(key, func(b *book.OrderBook) {
		fn(b)
		close(done)
	})
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return false
	}
	select {
	case <-done:
		return true
	case <-c.Request.Context().Done():
		return false
	}
}

func l1JSON(key book.Key, d book.L1Data) gin.H {
	return gin.H{
		"venue":      string(key.Venue),
		"segment":    string(key.Segment),
		"instrument": key.ID,
		"stamp_ns":   d.Stamp,
		"last":       d.Last,
		"last_qty":   d.LastQty,
		"bid":        d.Bid,
		"bid_qty":    d.BidQty,
		"ask":        d.Ask,
		"ask_qty":    d.AskQty,
		"high":       d.High,
		"low":        d.Low,
		"volume":     d.Volume,
		"turnover":   d.Turnover,
		"tick_dir":   d.TickDir.String(),
	}
}

func (s *Server) dumpL1(c *gin.Context, key book.Key) {
	var d book.L1Data
	if !s.snapshotBook(c, key, func(b *book.OrderBook) { d = b.L1 }) {
		return
	}
	c.JSON(http.StatusOK, l1JSON(key, d))
}

func (s *Server) getL1(c *gin.Context) { s.dumpL1(c, pathKey(c)) }

func (s *Server) getConsolidatedL1(c *gin.Context) {
	s.dumpL1(c, book.ConsolidatedKey(c.Param("id")))
}

type levelJSON struct {
	Price   int64 `json:"price"`
	Qty     int64 `json:"qty"`
	NOrders int64 `json:"n_orders"`
}

func dumpSide(side *book.BookSide, depth int) []levelJSON {
	out := make([]levelJSON, 0, depth)
	side.AllLevels(func(lvl *book.PriceLevel) bool {
		out = append(out, levelJSON{Price: lvl.Price, Qty: lvl.Qty, NOrders: lvl.NOrders})
		return len(out) < depth
	})
	return out
}

func (s *Server) dumpL2(c *gin.Context, key book.Key) {
	depth := 10
	if v := c.Query("depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad depth %q", v)})
			return
		}
		depth = n
	}

	var bids, asks []levelJSON
	var stamp int64
	if !s.snapshotBook(c, key, func(b *book.OrderBook) {
		bids = dumpSide(b.Bids, depth)
		asks = dumpSide(b.Asks, depth)
		stamp = b.L1.Stamp
	}) {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"venue":      string(key.Venue),
		"segment":    string(key.Segment),
		"instrument": key.ID,
		"stamp_ns":   stamp,
		"bids":       bids,
		"asks":       asks,
	})
}

func (s *Server) getL2(c *gin.Context) { s.dumpL2(c, pathKey(c)) }

func (s *Server) getConsolidatedL2(c *gin.Context) {
	s.dumpL2(c, book.ConsolidatedKey(c.Param("id")))
}

func (s *Server) getSession(c *gin.Context) {
	venue := book.VenueID(c.Param("venue"))
	segment := book.SegmentID(c.Param("segment"))
	c.JSON(http.StatusOK, gin.H{
		"venue":   string(venue),
		"segment": string(segment),
		"state":   s.eng.Session(venue, segment).String(),
	})
}

func (s *Server) recordingStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"recording": s.eng.Recording()})
}

type recordingRequest struct {
	Path string `json:"path" binding:"required"`
}

func (s *Server) startRecording(c *gin.Context) {
	var req recordingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	session, err := s.eng.StartRecording(req.Path)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.log.Info().Str("path", req.Path).Str("session", session.String()).Msg("recording started")
	c.JSON(http.StatusOK, gin.H{"session": session.String()})
}

func (s *Server) stopRecording(c *gin.Context) {
	if err := s.eng.StopRecording(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	s.log.Info().Msg("recording stopped")
	c.JSON(http.StatusOK, gin.H{"recording": false})
}

type replayRequest struct {
	Path    string `json:"path" binding:"required"`
	BeginNs int64  `json:"begin_ns"`
}

func (s *Server) replay(c *gin.Context) {
	var req replayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := time.Now()
	if err := s.eng.Replay(c.Request.Context(), req.Path, req.BeginNs, nil); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"path":        req.Path,
		"begin_ns":    req.BeginNs,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}
