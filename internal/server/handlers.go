package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"ammLedger/internal/amm"
	"ammLedger/internal/authority"
	"ammLedger/internal/metrics"
	"ammLedger/internal/model"
)

const maxBodyBytes = 1 << 20

// Amount is a uint64 that decodes from a JSON number or a decimal string.
type Amount uint64

func (a *Amount) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "" || text == "null" {
		*a = 0
		return nil
	}
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q", text)
	}
	*a = Amount(v)
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type initializeRequest struct {
	TokenA string `json:"token_a"`
	TokenB string `json:"token_b"`
}

type depositRequest struct {
	Pool      string `json:"pool"`
	Actor     string `json:"actor"`
	AmountA   Amount `json:"amount_a"`
	AmountB   Amount `json:"amount_b"`
	MinShares Amount `json:"min_shares"`
}

type depositResponse struct {
	Shares uint64         `json:"shares"`
	Pool   model.PoolInfo `json:"pool"`
}

type withdrawRequest struct {
	Pool       string `json:"pool"`
	Actor      string `json:"actor"`
	Shares     Amount `json:"shares"`
	MinAmountA Amount `json:"min_amount_a"`
	MinAmountB Amount `json:"min_amount_b"`
}

type withdrawResponse struct {
	amm.WithdrawResult
	Pool model.PoolInfo `json:"pool"`
}

type swapRequest struct {
	Pool         string `json:"pool"`
	Actor        string `json:"actor"`
	AmountIn     Amount `json:"amount_in"`
	MinAmountOut Amount `json:"min_amount_out"`
	Direction    string `json:"direction"`
}

type swapResponse struct {
	AmountOut uint64         `json:"amount_out"`
	Pool      model.PoolInfo `json:"pool"`
}

type quoteRequest struct {
	Pool        string  `json:"pool"`
	TokenIn     string  `json:"token_in"`
	TokenOut    string  `json:"token_out"`
	Pair        string  `json:"pair"`
	AmountIn    Amount  `json:"amount_in"`
	Direction   string  `json:"direction"`
	SlippageBps *Amount `json:"slippage_bps"`
}

type faucetRequest struct {
	Owner  string `json:"owner"`
	Token  string `json:"token"`
	Amount Amount `json:"amount"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleGetPoolByAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenA, err := authority.ParseAddress(q.Get("token_a"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("tokenA: %w", err))
		return
	}
	tokenB, err := authority.ParseAddress(q.Get("token_b"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("tokenB: %w", err))
		return
	}
	info, err := s.engine.PoolByAssets(r.Context(), tokenA, tokenB)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pool, err := authority.ParseAddress(mux.Vars(r)["pool"])
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	info, err := s.engine.PoolInfo(r.Context(), pool)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if !decode(w, r, &req) {
		return
	}
	tokenA, err := authority.ParseAddress(req.TokenA)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("tokenA: %w", err))
		return
	}
	tokenB, err := authority.ParseAddress(req.TokenB)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("tokenB: %w", err))
		return
	}
	rec, err := s.engine.Initialize(r.Context(), tokenA, tokenB)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	pool, actor, ok := parsePoolActor(w, req.Pool, req.Actor)
	if !ok {
		return
	}
	shares, err := s.engine.Deposit(r.Context(), amm.DepositRequest{
		Pool:      pool,
		Actor:     actor,
		AmountA:   uint64(req.AmountA),
		AmountB:   uint64(req.AmountB),
		MinShares: uint64(req.MinShares),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{Shares: shares, Pool: s.poolAfter(r, pool)})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decode(w, r, &req) {
		return
	}
	pool, actor, ok := parsePoolActor(w, req.Pool, req.Actor)
	if !ok {
		return
	}
	res, err := s.engine.Withdraw(r.Context(), amm.WithdrawRequest{
		Pool:       pool,
		Actor:      actor,
		Shares:     uint64(req.Shares),
		MinAmountA: uint64(req.MinAmountA),
		MinAmountB: uint64(req.MinAmountB),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{WithdrawResult: res, Pool: s.poolAfter(r, pool)})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if !decode(w, r, &req) {
		return
	}
	pool, actor, ok := parsePoolActor(w, req.Pool, req.Actor)
	if !ok {
		return
	}
	dir, err := model.ParseDirection(req.Direction)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	out, err := s.engine.Swap(r.Context(), amm.SwapRequest{
		Pool:         pool,
		Actor:        actor,
		AmountIn:     uint64(req.AmountIn),
		MinAmountOut: uint64(req.MinAmountOut),
		Direction:    dir,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, swapResponse{AmountOut: out, Pool: s.poolAfter(r, pool)})
}

// handleQuote prices a swap on a local pool, named directly or by its token
// pair in either order, or on an on-chain pair when one is given.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !decode(w, r, &req) {
		return
	}
	slippage := s.opts.DefaultSlippageBps
	if req.SlippageBps != nil {
		slippage = uint64(*req.SlippageBps)
	}

	if req.Pair != "" {
		s.quoteOnchain(w, r, req, slippage)
		return
	}

	var (
		pool common.Address
		dir  model.Direction
		err  error
	)
	if req.Pool != "" {
		if pool, err = authority.ParseAddress(req.Pool); err != nil {
			writeBadRequest(w, fmt.Errorf("pool: %w", err))
			return
		}
		if dir, err = model.ParseDirection(req.Direction); err != nil {
			writeBadRequest(w, err)
			return
		}
	} else {
		tokenIn, err := authority.ParseAddress(req.TokenIn)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("tokenIn: %w", err))
			return
		}
		tokenOut, err := authority.ParseAddress(req.TokenOut)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("tokenOut: %w", err))
			return
		}
		pool, dir, err = s.resolvePair(r, tokenIn, tokenOut)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	quote, err := s.engine.Quote(r.Context(), pool, uint64(req.AmountIn), dir, slippage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) resolvePair(r *http.Request, tokenIn, tokenOut common.Address) (common.Address, model.Direction, error) {
	info, err := s.engine.PoolByAssets(r.Context(), tokenIn, tokenOut)
	if err == nil {
		return info.ID, model.AToB, nil
	}
	if !errors.Is(err, amm.ErrPoolNotFound) {
		return common.Address{}, model.AToB, err
	}
	info, err = s.engine.PoolByAssets(r.Context(), tokenOut, tokenIn)
	if err != nil {
		return common.Address{}, model.AToB, err
	}
	return info.ID, model.BToA, nil
}

func (s *Server) quoteOnchain(w http.ResponseWriter, r *http.Request, req quoteRequest, slippage uint64) {
	if s.opts.Quoter == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "on-chain quotes require an rpc endpoint"})
		return
	}
	pair, err := authority.ParseAddress(req.Pair)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("pair: %w", err))
		return
	}
	tokenIn, err := authority.ParseAddress(req.TokenIn)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("tokenIn: %w", err))
		return
	}
	tokenOut, err := authority.ParseAddress(req.TokenOut)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("tokenOut: %w", err))
		return
	}
	quote, err := s.opts.Quoter.Quote(r.Context(), pair, tokenIn, tokenOut, uint64(req.AmountIn), slippage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, err := authority.ParseAddress(q.Get("owner"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("owner: %w", err))
		return
	}
	token, err := authority.ParseAddress(q.Get("token"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("token: %w", err))
		return
	}
	bal, err := s.engine.Balance(r.Context(), owner, token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if !decode(w, r, &req) {
		return
	}
	owner, err := authority.ParseAddress(req.Owner)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("owner: %w", err))
		return
	}
	token, err := authority.ParseAddress(req.Token)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("token: %w", err))
		return
	}
	bal, err := s.engine.Fund(r.Context(), owner, token, uint64(req.Amount))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// poolAfter reads the pool state following a committed operation. A failed
// read only drops the pool from the response.
func (s *Server) poolAfter(r *http.Request, pool common.Address) model.PoolInfo {
	info, err := s.engine.PoolInfo(r.Context(), pool)
	if err != nil {
		s.logger.Warn("pool read after commit failed", zap.String("pool", pool.Hex()), zap.Error(err))
	}
	return info
}

func parsePoolActor(w http.ResponseWriter, poolText, actorText string) (common.Address, common.Address, bool) {
	pool, err := authority.ParseAddress(poolText)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("pool: %w", err))
		return common.Address{}, common.Address{}, false
	}
	actor, err := authority.ParseAddress(actorText)
	if err != nil {
		writeBadRequest(w, fmt.Errorf("actor: %w", err))
		return common.Address{}, common.Address{}, false
	}
	return pool, actor, true
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeBadRequest(w, fmt.Errorf("decode body: %w", err))
		return false
	}
	return true
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, amm.ErrInvalidAmount), errors.Is(err, amm.ErrDuplicateAssets):
		return http.StatusBadRequest
	case errors.Is(err, amm.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, amm.ErrPoolExists):
		return http.StatusConflict
	case errors.Is(err, amm.ErrSlippageExceeded),
		errors.Is(err, amm.ErrInsufficientLiquidity),
		errors.Is(err, amm.ErrInsufficientFunds),
		errors.Is(err, amm.ErrAccountNotFound),
		errors.Is(err, amm.ErrArithmeticOverflow),
		errors.Is(err, amm.ErrArithmeticUnderflow),
		errors.Is(err, amm.ErrDivisionByZero):
		return http.StatusUnprocessableEntity
	case errors.Is(err, amm.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, amm.ErrUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: metrics.Result(err)})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "bad_request"})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
