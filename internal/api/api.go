// Package api exposes a read-only HTTP projection of the Store: miner
// balances, recent blocks, and pool-wide stats, plus a Prometheus scrape
// endpoint. Grounded on the teacher's gin-gonic/gin route-registration
// style (internal/api's router setup before deletion); this package talks
// directly to the embedded Store instead of a Postgres connection pool,
// and never accepts a write request — mutating pool state happens only
// through Stratum shares and the operator-driven force-payout path, not
// over HTTP.
package api

import (
	"net/http"
	"strconv"

	"github.com/chimera-pool/kaspa-pool-core/internal/addr"
	"github.com/chimera-pool/kaspa-pool-core/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the read-only HTTP API.
type Server struct {
	store  *store.Store
	reg    *prometheus.Registry
	engine *gin.Engine
}

func New(st *store.Store, reg *prometheus.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{store: st, reg: reg, engine: gin.New()}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})))
	s.engine.GET("/miners/:address", s.handleMiner)
	s.engine.GET("/blocks", s.handleBlocks)
	s.engine.GET("/stats", s.handleStats)
}

func (s *Server) Run(addrStr string) error {
	return s.engine.Run(addrStr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// minerView mirrors store.Miner's own wire shape: sompi amounts are decimal
// strings, never JSON numbers, since they routinely exceed 53 bits (§6
// "Persistence layout").
type minerView struct {
	Address              string `json:"address"`
	Balance              string `json:"balance"`
	PaymentThreshold     string `json:"paymentThreshold"`
	PaymentIntervalHours int64  `json:"paymentIntervalHours"`
	BlocksFound          int64  `json:"blocksFound"`
}

func (s *Server) handleMiner(c *gin.Context) {
	canonical := addr.Canonicalize(c.Param("address"))
	m, err := s.store.GetMiner(canonical)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, minerView{
		Address:              addr.Externalize(canonical),
		Balance:              strconv.FormatInt(m.Balance, 10),
		PaymentThreshold:     strconv.FormatInt(m.PaymentThreshold, 10),
		PaymentIntervalHours: m.PaymentIntervalHours,
		BlocksFound:          m.BlocksFound,
	})
}

type blockView struct {
	Hash             string `json:"hash"`
	Finder           string `json:"finder"`
	FinderDifficulty string `json:"finderDifficulty"`
	DAAScore         string `json:"daaScore"`
	Paid             bool   `json:"paid"`
}

func (s *Server) handleBlocks(c *gin.Context) {
	limit := 50
	if q := c.Query("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 {
			limit = v
		}
	}

	var blocks []store.Block
	var err error
	if address := c.Query("address"); address != "" {
		blocks, err = s.store.GetBlocksByAddress(addr.Canonicalize(address), limit)
	} else {
		blocks, err = s.store.GetBlocks(limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]blockView, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, blockView{
			Hash:             b.Hash,
			Finder:           addr.Externalize(b.Finder),
			FinderDifficulty: b.FinderDifficulty,
			DAAScore:         strconv.FormatUint(b.DAAScore, 10),
			Paid:             b.Paid,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleStats(c *gin.Context) {
	miners, err := s.store.GetAllMiners()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var totalBalance int64
	var totalBlocks int64
	for _, m := range miners {
		totalBalance += m.Balance
		totalBlocks += m.BlocksFound
	}

	revenue, err := s.store.GetMiner(store.RevenueKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"minerCount":     len(miners),
		"totalBalance":   strconv.FormatInt(totalBalance, 10),
		"totalBlocks":    totalBlocks,
		"accumulatedFee": strconv.FormatInt(revenue.Balance, 10),
	})
}
