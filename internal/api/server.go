// Package api exposes running simulation instances over HTTP and streams
// their equity curves over websocket.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-sim-lab/internal/backtest"
	"trading-sim-lab/internal/domain"
	"trading-sim-lab/internal/idhash"
	"trading-sim-lab/internal/observability"
	"trading-sim-lab/internal/simulation"
)

// Bots is the read/control surface the server needs from a simulation runner.
type Bots interface {
	Bots() []*simulation.Bot
	Bot(name string) (*simulation.Bot, error)
}

// Server serves the control API.
type Server struct {
	bots   Bots
	hub    *Hub
	log    *zap.Logger
	router *gin.Engine
}

// NewServer wires routes over bots.
func NewServer(bots Bots, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		bots: bots,
		hub:  NewHub(log),
		log:  log,
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(observability.Handler()))
	r.GET("/ws/snapshots", s.hub.serveWS)

	g := r.Group("/bots")
	g.GET("", s.listBots)
	g.GET("/:name/status", s.botStatus)
	g.GET("/:name/trades", s.botTrades)
	g.GET("/:name/risk", s.botRisk)
	g.GET("/:name/orders", s.botOrders)
	g.POST("/:name/orders/:id/cancel", s.cancelOrder)
	g.POST("/:name/cancel-all", s.cancelAll)
	g.POST("/:name/kill-switch/reset", s.resetKillSwitch)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Publish forwards a snapshot to websocket subscribers. Suitable as
// simulation.RunnerOptions.OnSnapshot.
func (s *Server) Publish(instance string, snap domain.PortfolioSnapshot) {
	s.hub.Publish(instance, snap)
}

// Hub returns the snapshot hub.
func (s *Server) Hub() *Hub { return s.hub }

type botResponse struct {
	Name          string `json:"name"`
	RunID         string `json:"run_id"`
	Strategy      string `json:"strategy"`
	State         string `json:"state"`
	BarsProcessed int    `json:"bars_processed"`
}

type positionResponse struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	Leverage   decimal.Decimal `json:"leverage"`
	OpenedAt   int64           `json:"opened_at"`
}

type statusResponse struct {
	Instance      string             `json:"instance"`
	RunID         string             `json:"run_id"`
	State         string             `json:"state"`
	BarsProcessed int                `json:"bars_processed"`
	LastTimestamp int64              `json:"last_timestamp"`
	HaltReason    string             `json:"halt_reason,omitempty"`
	Error         string             `json:"error,omitempty"`
	PnL           decimal.Decimal    `json:"pnl"`
	Equity        decimal.Decimal    `json:"equity"`
	Balance       decimal.Decimal    `json:"balance"`
	Positions     []positionResponse `json:"positions"`
}

type tradeResponse struct {
	TradeID     string          `json:"trade_id"`
	Seq         int             `json:"seq"`
	OrderID     int64           `json:"order_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Fee         decimal.Decimal `json:"fee"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Timestamp   int64           `json:"timestamp"`
	Liquidity   string          `json:"liquidity"`
	IsPartial   bool            `json:"is_partial"`
}

type evaluationResponse struct {
	RuleName  string          `json:"rule_name"`
	Kind      string          `json:"kind"`
	Violated  bool            `json:"violated"`
	Critical  bool            `json:"critical"`
	Value     decimal.Decimal `json:"value"`
	Threshold decimal.Decimal `json:"threshold"`
	Symbol    string          `json:"symbol,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type riskResponse struct {
	KillSwitch struct {
		Activated   bool   `json:"activated"`
		Reason      string `json:"reason,omitempty"`
		ActivatedAt int64  `json:"activated_at,omitempty"`
	} `json:"kill_switch"`
	Evaluations []evaluationResponse `json:"evaluations"`
}

type orderResponse struct {
	ID               int64            `json:"id"`
	Symbol           string           `json:"symbol"`
	Side             string           `json:"side"`
	Type             string           `json:"type"`
	Quantity         decimal.Decimal  `json:"quantity"`
	LimitPrice       *decimal.Decimal `json:"limit_price,omitempty"`
	TimeInForce      string           `json:"time_in_force"`
	Status           string           `json:"status"`
	FilledQuantity   decimal.Decimal  `json:"filled_quantity"`
	AverageFillPrice decimal.Decimal  `json:"average_fill_price"`
	CreatedAt        int64            `json:"created_at"`
	Reason           string           `json:"reason,omitempty"`
	Liquidation      bool             `json:"liquidation,omitempty"`
}

func (s *Server) listBots(c *gin.Context) {
	list := s.bots.Bots()
	out := make([]botResponse, 0, len(list))
	for _, b := range list {
		sum := b.Engine.Summary()
		out = append(out, botResponse{
			Name:          b.Name,
			RunID:         b.RunID,
			Strategy:      b.Engine.StrategyName(),
			State:         string(sum.State),
			BarsProcessed: sum.BarsProcessed,
		})
	}
	c.JSON(http.StatusOK, out)
}

// bot resolves :name or writes a 404.
func (s *Server) bot(c *gin.Context) (*simulation.Bot, bool) {
	b, err := s.bots.Bot(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return b, true
}

func (s *Server) botStatus(c *gin.Context) {
	b, ok := s.bot(c)
	if !ok {
		return
	}
	sum := b.Engine.Summary()
	st := b.Engine.Status()

	resp := statusResponse{
		Instance:      b.Name,
		RunID:         b.RunID,
		State:         string(sum.State),
		BarsProcessed: sum.BarsProcessed,
		LastTimestamp: sum.LastTimestamp,
		HaltReason:    sum.HaltReason,
		PnL:           st.PnL,
		Equity:        st.Equity,
		Balance:       st.Balance,
		Positions:     make([]positionResponse, 0, len(st.Positions)),
	}
	if sum.Err != nil {
		resp.Error = sum.Err.Error()
	}
	for _, p := range st.Positions {
		resp.Positions = append(resp.Positions, positionResponse{
			Symbol:     p.Symbol,
			Side:       string(p.Side),
			Quantity:   p.Quantity,
			EntryPrice: p.EntryPrice,
			Leverage:   p.Leverage,
			OpenedAt:   p.OpenedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) botTrades(c *gin.Context) {
	b, ok := s.bot(c)
	if !ok {
		return
	}
	trades := b.Engine.Trades()
	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeResponse{
			TradeID:     idhash.ComputeTradeID(b.RunID, t.Seq, t.Fill.OrderID, t.Fill.Timestamp),
			Seq:         t.Seq,
			OrderID:     t.Fill.OrderID,
			Symbol:      t.Fill.Symbol,
			Side:        string(t.Fill.Side),
			Price:       t.Fill.Price,
			Quantity:    t.Fill.Quantity,
			Fee:         t.Fill.Fee,
			RealizedPnL: t.RealizedPnL,
			Timestamp:   t.Fill.Timestamp,
			Liquidity:   string(t.Fill.Liquidity),
			IsPartial:   t.Fill.IsPartial,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) botRisk(c *gin.Context) {
	b, ok := s.bot(c)
	if !ok {
		return
	}
	st := b.Engine.Risk()

	var resp riskResponse
	resp.KillSwitch.Activated = st.KillSwitch.Activated
	resp.KillSwitch.Reason = st.KillSwitch.Reason
	resp.KillSwitch.ActivatedAt = st.KillSwitch.ActivatedAt
	resp.Evaluations = make([]evaluationResponse, 0, len(st.Evaluations))
	for _, ev := range st.Evaluations {
		resp.Evaluations = append(resp.Evaluations, evaluationResponse{
			RuleName:  ev.RuleName,
			Kind:      string(ev.Kind),
			Violated:  ev.IsViolated,
			Critical:  ev.Critical,
			Value:     ev.Value,
			Threshold: ev.Threshold,
			Symbol:    ev.Symbol,
			Message:   ev.Message,
			Timestamp: ev.Timestamp,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// botOrders lists live orders, or every order with ?all=true.
func (s *Server) botOrders(c *gin.Context) {
	b, ok := s.bot(c)
	if !ok {
		return
	}
	var orders []domain.Order
	if c.Query("all") == "true" {
		orders = b.Engine.Orders()
	} else {
		orders = b.Engine.PendingOrders()
	}
	c.JSON(http.StatusOK, toOrderResponses(orders))
}

func (s *Server) cancelOrder(c *gin.Context) {
	b, ok := s.bot(c)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}

	switch err := b.Engine.CancelOrder(id); {
	case err == nil:
		s.log.Info("order cancelled", zap.String("bot", b.Name), zap.Int64("order_id", id))
		c.JSON(http.StatusOK, gin.H{"cancelled": id})
	case errors.Is(err, backtest.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) cancelAll(c *gin.Context) {
	b, ok := s.bot(c)
	if !ok {
		return
	}
	n := b.Engine.CancelAll(c.Query("symbol"))
	s.log.Info("orders cancelled", zap.String("bot", b.Name), zap.Int("count", n))
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

func (s *Server) resetKillSwitch(c *gin.Context) {
	b, ok := s.bot(c)
	if !ok {
		return
	}
	if err := b.Engine.ResetKillSwitch(); err != nil {
		if errors.Is(err, backtest.ErrRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Warn("kill-switch reset", zap.String("bot", b.Name))
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

func toOrderResponses(orders []domain.Order) []orderResponse {
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderResponse{
			ID:               o.ID,
			Symbol:           o.Symbol,
			Side:             string(o.Side),
			Type:             string(o.Type),
			Quantity:         o.Quantity,
			LimitPrice:       o.LimitPrice,
			TimeInForce:      string(o.TimeInForce),
			Status:           string(o.Status),
			FilledQuantity:   o.FilledQuantity,
			AverageFillPrice: o.AverageFillPrice,
			CreatedAt:        o.CreatedAt,
			Reason:           o.Reason,
			Liquidation:      o.Liquidation,
		})
	}
	return out
}
