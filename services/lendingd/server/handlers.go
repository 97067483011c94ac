package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"defiledger/native/amm"
	"defiledger/native/lending"
	"defiledger/services/lendingd/orchestrator"
	"defiledger/services/lendingd/storage"
)

const maxBodyBytes = 1 << 20

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty body", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

type amountBody struct {
	Owner  string          `json:"owner"`
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) listMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.ledger.Markets(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	market, err := s.ledger.Market(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) supply(w http.ResponseWriter, r *http.Request) {
	var body amountBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.Supply(r.Context(), orchestrator.SupplyRequest{
		Owner: body.Owner, Market: chi.URLParam(r, "symbol"), Amount: body.Amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var body amountBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.Withdraw(r.Context(), orchestrator.SupplyRequest{
		Owner: body.Owner, Market: chi.URLParam(r, "symbol"), Amount: body.Amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) borrow(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.BorrowRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	req.Market = chi.URLParam(r, "symbol")
	view, err := s.ledger.Borrow(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if strings.TrimSpace(req.PositionID) == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, view)
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.Position(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) repay(w http.ResponseWriter, r *http.Request) {
	var body amountBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.ledger.Repay(r.Context(), orchestrator.PositionRequest{
		Owner: body.Owner, PositionID: chi.URLParam(r, "id"), Amount: body.Amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type collateralBody struct {
	Owner  string          `json:"owner"`
	Amount decimal.Decimal `json:"amount"`
	// Action is "add" or "remove".
	Action string `json:"action"`
}

func (s *Server) adjustCollateral(w http.ResponseWriter, r *http.Request) {
	var body collateralBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	req := orchestrator.PositionRequest{Owner: body.Owner, PositionID: chi.URLParam(r, "id"), Amount: body.Amount}
	var (
		view orchestrator.PositionView
		err  error
	)
	switch strings.ToLower(strings.TrimSpace(body.Action)) {
	case "add":
		view, err = s.ledger.AddCollateral(r.Context(), req)
	case "remove":
		view, err = s.ledger.RemoveCollateral(r.Context(), req)
	default:
		err = fmt.Errorf("%w: action must be add or remove", orchestrator.ErrInvalidRequest)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Liquidator string `json:"liquidator"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.Liquidate(r.Context(), orchestrator.LiquidateRequest{
		Liquidator: body.Liquidator, PositionID: chi.URLParam(r, "id"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) accountPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.ledger.Positions(r.Context(), storage.PositionFilter{
		Owner:  chi.URLParam(r, "owner"),
		Market: r.URL.Query().Get("market"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}

func (s *Server) listPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.ledger.Pools(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.ledger.Pool(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

type liquidityBody struct {
	Owner   string          `json:"owner"`
	AmountA decimal.Decimal `json:"amountA"`
	AmountB decimal.Decimal `json:"amountB"`
	Shares  decimal.Decimal `json:"shares"`
}

func (s *Server) quoteLiquidity(w http.ResponseWriter, r *http.Request) {
	var body liquidityBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	quote, err := s.ledger.QuoteLiquidity(r.Context(), chi.URLParam(r, "id"), body.AmountA, body.AmountB)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) addLiquidity(w http.ResponseWriter, r *http.Request) {
	var body liquidityBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.AddLiquidity(r.Context(), orchestrator.LiquidityRequest{
		Owner: body.Owner, PoolID: chi.URLParam(r, "id"), AmountA: body.AmountA, AmountB: body.AmountB,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) removeLiquidity(w http.ResponseWriter, r *http.Request) {
	var body liquidityBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.RemoveLiquidity(r.Context(), orchestrator.LiquidityRequest{
		Owner: body.Owner, PoolID: chi.URLParam(r, "id"), Shares: body.Shares,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) liquidityPosition(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.LiquidityPosition(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type marketBody struct {
	Symbol                  string           `json:"symbol"`
	CollateralFactorPct     decimal.Decimal  `json:"collateralFactorPct"`
	LiquidationThresholdPct decimal.Decimal  `json:"liquidationThresholdPct"`
	BaseSupplyRatePct       decimal.Decimal  `json:"baseSupplyRatePct"`
	BaseBorrowRatePct       decimal.Decimal  `json:"baseBorrowRatePct"`
	ReserveFactor           *decimal.Decimal `json:"reserveFactor"`
}

func (b marketBody) params(defaultReserveFactor decimal.Decimal) lending.MarketParams {
	rf := defaultReserveFactor
	if b.ReserveFactor != nil {
		rf = *b.ReserveFactor
	}
	return lending.MarketParams{
		Symbol:                  b.Symbol,
		CollateralFactorPct:     b.CollateralFactorPct,
		LiquidationThresholdPct: b.LiquidationThresholdPct,
		BaseSupplyRatePct:       b.BaseSupplyRatePct,
		BaseBorrowRatePct:       b.BaseBorrowRatePct,
		ReserveFactor:           rf,
	}
}

func (s *Server) listMarket(w http.ResponseWriter, r *http.Request) {
	var body marketBody
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	market, err := s.ledger.ListMarket(r.Context(), body.params(s.ledger.DefaultReserveFactor()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

func (s *Server) setMarketActive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active bool `json:"active"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	market, err := s.ledger.SetMarketActive(r.Context(), chi.URLParam(r, "symbol"), body.Active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (s *Server) deployPool(w http.ResponseWriter, r *http.Request) {
	var params amm.PoolParams
	if err := decode(w, r, &params); err != nil {
		s.writeError(w, r, err)
		return
	}
	pool, err := s.ledger.DeployPool(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

func (s *Server) listPrices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"prices": s.prices.Snapshot()})
}

func (s *Server) setPrice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Price      decimal.Decimal `json:"price"`
		ObservedAt time.Time       `json:"observedAt"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	quote, err := s.prices.Set(r.Context(), chi.URLParam(r, "symbol"), body.Price, body.ObservedAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "price updated", "asset", quote.Symbol, "price", quote.PriceUSD.String())
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) listPauses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.pauses.Paused()})
}

func (s *Server) setPause(w http.ResponseWriter, r *http.Request) {
	scope := strings.Trim(chi.URLParam(r, "*"), "/")
	if scope == "" {
		s.writeError(w, r, fmt.Errorf("%w: scope required", orchestrator.ErrInvalidRequest))
		return
	}
	var body struct {
		Paused bool `json:"paused"`
	}
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.pauses.Set(scope, body.Paused)
	s.logger.InfoContext(r.Context(), "pause updated", "scope", scope, "paused", body.Paused)
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.pauses.Paused()})
}

func (s *Server) journal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.JournalFilter{Entity: q.Get("entity"), Owner: q.Get("owner")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: limit must be an integer", orchestrator.ErrInvalidRequest))
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: since must be RFC3339", orchestrator.ErrInvalidRequest))
			return
		}
		filter.Since = since
	}
	entries, err := s.ledger.Journal(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
