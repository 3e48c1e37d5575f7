package api

import (
	"errors"
	"math/big"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/NobleSOL/dexkeeta-sub000/internal/ledger"
	"github.com/NobleSOL/dexkeeta-sub000/internal/pool"
)

type quoteRequest struct {
	TokenIn  string `query:"token_in"`
	TokenOut string `query:"token_out"`
	AmountIn string `query:"amount_in"`
	Slippage int64  `query:"slippage"`
}

type quoteResponse struct {
	TokenIn        string `json:"token_in"`
	TokenOut       string `json:"token_out"`
	AmountIn       string `json:"amount_in"`
	AmountOut      string `json:"amount_out"`
	FeeAmount      string `json:"fee_amount"`
	PriceImpactBps int64  `json:"price_impact_bps"`
	MinAmountOut   string `json:"min_amount_out"`
}

func (s *Server) handleQuote(c fiber.Ctx) error {
	var req quoteRequest
	if err := c.Bind().Query(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid query parameters")
	}

	amountIn, err := parseAmount(req.AmountIn)
	if err != nil {
		return err
	}

	p, err := s.reg.Route(req.TokenIn, req.TokenOut)
	if err != nil {
		return mapDomainError(err)
	}

	quote, err := p.Quote(c.Context(), req.TokenIn, amountIn, req.Slippage)
	if err != nil {
		return mapDomainError(err)
	}

	return c.JSON(quoteResponse{
		TokenIn:        quote.TokenIn,
		TokenOut:       quote.TokenOut,
		AmountIn:       quote.AmountIn.String(),
		AmountOut:      quote.AmountOut.String(),
		FeeAmount:      quote.FeeAmount.String(),
		PriceImpactBps: quote.PriceImpactBps,
		MinAmountOut:   quote.MinAmountOut.String(),
	})
}

type swapRequest struct {
	Initiator    string `json:"initiator"`
	TokenIn      string `json:"token_in"`
	TokenOut     string `json:"token_out"`
	AmountIn     string `json:"amount_in"`
	MinAmountOut string `json:"min_amount_out"`
}

type swapResponse struct {
	SwapID         string `json:"swap_id"`
	TokenIn        string `json:"token_in"`
	TokenOut       string `json:"token_out"`
	AmountIn       string `json:"amount_in"`
	AmountOut      string `json:"amount_out"`
	FeeAmount      string `json:"fee_amount"`
	PriceImpactBps int64  `json:"price_impact_bps"`
	NewReserveA    string `json:"new_reserve_a"`
	NewReserveB    string `json:"new_reserve_b"`
	Phase1Ref      string `json:"phase1_ref"`
	Phase2Ref      string `json:"phase2_ref"`
}

// swapFailure reports which phase of the two-transaction protocol reached
// which terminal state. Stranded means phase 1 landed but phase 2 did not:
// the input is held by the pool account pending operator resolution.
type swapFailure struct {
	Error     string `json:"error"`
	SwapID    string `json:"swap_id"`
	Phase     int    `json:"phase"`
	Phase1Ref string `json:"phase1_ref,omitempty"`
	Stranded  bool   `json:"stranded"`
}

func (s *Server) handleSwap(c fiber.Ctx) error {
	var req swapRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	amountIn, err := parseAmount(req.AmountIn)
	if err != nil {
		return err
	}
	minAmountOut, err := parseOptionalAmount(req.MinAmountOut)
	if err != nil {
		return err
	}

	p, err := s.reg.Route(req.TokenIn, req.TokenOut)
	if err != nil {
		return mapDomainError(err)
	}

	result, err := p.Swap(c.Context(), ledger.Account(req.Initiator), req.TokenIn, amountIn, minAmountOut)
	if err != nil {
		var swapErr *pool.SwapError
		if errors.As(err, &swapErr) {
			return c.Status(fiber.StatusBadGateway).JSON(swapFailure{
				Error:     swapErr.Error(),
				SwapID:    swapErr.SwapID,
				Phase:     swapErr.Phase,
				Phase1Ref: string(swapErr.Phase1Ref),
				Stranded:  swapErr.Stranded(),
			})
		}
		return mapDomainError(err)
	}

	return c.JSON(swapResponse{
		SwapID:         result.SwapID,
		TokenIn:        result.TokenIn,
		TokenOut:       result.TokenOut,
		AmountIn:       result.AmountIn.String(),
		AmountOut:      result.AmountOut.String(),
		FeeAmount:      result.FeeAmount.String(),
		PriceImpactBps: result.PriceImpactBps,
		NewReserveA:    result.NewReserveA.String(),
		NewReserveB:    result.NewReserveB.String(),
		Phase1Ref:      string(result.Phase1Ref),
		Phase2Ref:      string(result.Phase2Ref),
	})
}

type addLiquidityRequest struct {
	Provider       string `json:"provider"`
	TokenA         string `json:"token_a"`
	TokenB         string `json:"token_b"`
	AmountADesired string `json:"amount_a_desired"`
	AmountBDesired string `json:"amount_b_desired"`
	AmountAMin     string `json:"amount_a_min"`
	AmountBMin     string `json:"amount_b_min"`
}

type addLiquidityResponse struct {
	AmountA      string `json:"amount_a"`
	AmountB      string `json:"amount_b"`
	SharesMinted string `json:"shares_minted"`
	NewReserveA  string `json:"new_reserve_a"`
	NewReserveB  string `json:"new_reserve_b"`
	TxRef        string `json:"tx_ref"`
}

func (s *Server) handleAddLiquidity(c fiber.Ctx) error {
	var req addLiquidityRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	amountADesired, err := parseAmount(req.AmountADesired)
	if err != nil {
		return err
	}
	amountBDesired, err := parseAmount(req.AmountBDesired)
	if err != nil {
		return err
	}
	amountAMin, err := parseOptionalAmount(req.AmountAMin)
	if err != nil {
		return err
	}
	amountBMin, err := parseOptionalAmount(req.AmountBMin)
	if err != nil {
		return err
	}

	p, err := s.reg.Get(req.TokenA, req.TokenB)
	if err != nil {
		return mapDomainError(err)
	}
	// A/B labels in the request follow the caller's order; the pool's own
	// labeling decides which side is which.
	if req.TokenA != p.TokenA() {
		amountADesired, amountBDesired = amountBDesired, amountADesired
		amountAMin, amountBMin = amountBMin, amountAMin
	}

	result, err := p.AddLiquidity(c.Context(), ledger.Account(req.Provider), amountADesired, amountBDesired, amountAMin, amountBMin)
	if err != nil {
		return mapDomainError(err)
	}

	return c.JSON(addLiquidityResponse{
		AmountA:      result.AmountA.String(),
		AmountB:      result.AmountB.String(),
		SharesMinted: result.SharesMinted.String(),
		NewReserveA:  result.NewReserveA.String(),
		NewReserveB:  result.NewReserveB.String(),
		TxRef:        string(result.TxRef),
	})
}

type removeLiquidityRequest struct {
	Owner      string `json:"owner"`
	TokenA     string `json:"token_a"`
	TokenB     string `json:"token_b"`
	Shares     string `json:"shares"`
	Percent    int64  `json:"percent"`
	AmountAMin string `json:"amount_a_min"`
	AmountBMin string `json:"amount_b_min"`
}

type removeLiquidityResponse struct {
	AmountA     string `json:"amount_a"`
	AmountB     string `json:"amount_b"`
	NewReserveA string `json:"new_reserve_a"`
	NewReserveB string `json:"new_reserve_b"`
	TxRef       string `json:"tx_ref"`
}

func (s *Server) handleRemoveLiquidity(c fiber.Ctx) error {
	var req removeLiquidityRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	p, err := s.reg.Get(req.TokenA, req.TokenB)
	if err != nil {
		return mapDomainError(err)
	}

	var shares *big.Int
	switch {
	case req.Shares != "":
		shares, err = parseAmount(req.Shares)
		if err != nil {
			return err
		}
	case req.Percent > 0:
		if req.Percent > 100 {
			return fiber.NewError(fiber.StatusBadRequest, "percent must be in 1..100")
		}
		position, err := p.Position(c.Context(), req.Owner)
		if err != nil {
			return mapDomainError(err)
		}
		shares = new(big.Int).Mul(position.Shares, big.NewInt(req.Percent))
		shares.Quo(shares, big.NewInt(100))
	default:
		return fiber.NewError(fiber.StatusBadRequest, "shares or percent is required")
	}

	amountAMin, err := parseOptionalAmount(req.AmountAMin)
	if err != nil {
		return err
	}
	amountBMin, err := parseOptionalAmount(req.AmountBMin)
	if err != nil {
		return err
	}
	if req.TokenA != p.TokenA() {
		amountAMin, amountBMin = amountBMin, amountAMin
	}

	result, err := p.RemoveLiquidity(c.Context(), ledger.Account(req.Owner), shares, amountAMin, amountBMin)
	if err != nil {
		return mapDomainError(err)
	}

	return c.JSON(removeLiquidityResponse{
		AmountA:     result.AmountA.String(),
		AmountB:     result.AmountB.String(),
		NewReserveA: result.NewReserveA.String(),
		NewReserveB: result.NewReserveB.String(),
		TxRef:       string(result.TxRef),
	})
}

type poolResponse struct {
	Address          string `json:"address"`
	TokenA           string `json:"token_a"`
	TokenB           string `json:"token_b"`
	DecimalsA        int    `json:"decimals_a"`
	DecimalsB        int    `json:"decimals_b"`
	Creator          string `json:"creator,omitempty"`
	FeeBps           int64  `json:"fee_bps"`
	ReserveA         string `json:"reserve_a"`
	ReserveB         string `json:"reserve_b"`
	TotalShares      string `json:"total_shares"`
	PriceNumerator   string `json:"price_numerator"`
	PriceDenominator string `json:"price_denominator"`
}

func poolResponseFrom(info *pool.Info) poolResponse {
	return poolResponse{
		Address:          string(info.Address),
		TokenA:           info.TokenA,
		TokenB:           info.TokenB,
		DecimalsA:        info.DecimalsA,
		DecimalsB:        info.DecimalsB,
		Creator:          info.Creator,
		FeeBps:           info.FeeBps,
		ReserveA:         info.ReserveA.String(),
		ReserveB:         info.ReserveB.String(),
		TotalShares:      info.TotalShares.String(),
		PriceNumerator:   info.PriceNumerator.String(),
		PriceDenominator: info.PriceDenominator.String(),
	}
}

func (s *Server) handleListPools(c fiber.Ctx) error {
	pools := s.reg.Pools()
	out := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		info, err := p.Info(c.Context())
		if err != nil {
			return mapDomainError(err)
		}
		out = append(out, poolResponseFrom(info))
	}
	return c.JSON(out)
}

type createPoolRequest struct {
	TokenA  string `json:"token_a"`
	TokenB  string `json:"token_b"`
	Creator string `json:"creator"`
}

func (s *Server) handleCreatePool(c fiber.Ctx) error {
	var req createPoolRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	p, err := s.reg.Create(c.Context(), req.TokenA, req.TokenB, req.Creator)
	if err != nil {
		return mapDomainError(err)
	}
	info, err := p.Info(c.Context())
	if err != nil {
		return mapDomainError(err)
	}

	s.log.Info("pool created via api", zap.String("address", string(info.Address)))
	return c.Status(fiber.StatusCreated).JSON(poolResponseFrom(info))
}

func (s *Server) handleGetPool(c fiber.Ctx) error {
	p, err := s.reg.Get(c.Params("tokenA"), c.Params("tokenB"))
	if err != nil {
		return mapDomainError(err)
	}
	info, err := p.Info(c.Context())
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(poolResponseFrom(info))
}

type positionResponse struct {
	PoolAddress string `json:"pool_address"`
	TokenA      string `json:"token_a"`
	TokenB      string `json:"token_b"`
	Shares      string `json:"shares"`
	TotalShares string `json:"total_shares"`
	EntitledA   string `json:"entitled_a"`
	EntitledB   string `json:"entitled_b"`
}

func (s *Server) handleUserPositions(c fiber.Ctx) error {
	user := c.Params("user")
	var out []positionResponse
	for _, p := range s.reg.Pools() {
		position, err := p.Position(c.Context(), user)
		if err != nil {
			return mapDomainError(err)
		}
		if position.Shares.Sign() == 0 {
			continue
		}
		out = append(out, positionResponse{
			PoolAddress: string(p.Address()),
			TokenA:      p.TokenA(),
			TokenB:      p.TokenB(),
			Shares:      position.Shares.String(),
			TotalShares: position.TotalShares.String(),
			EntitledA:   position.EntitledA.String(),
			EntitledB:   position.EntitledB.String(),
		})
	}
	return c.JSON(out)
}

type pendingSwapsRequest struct {
	TokenA string `query:"token_a"`
	TokenB string `query:"token_b"`
}

func (s *Server) handlePendingSwaps(c fiber.Ctx) error {
	var req pendingSwapsRequest
	if err := c.Bind().Query(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid query parameters")
	}

	p, err := s.reg.Get(req.TokenA, req.TokenB)
	if err != nil {
		return mapDomainError(err)
	}
	pending, err := p.PendingSwaps(c.Context())
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(pending)
}

type resolveSwapRequest struct {
	TokenA string `json:"token_a"`
	TokenB string `json:"token_b"`
	SwapID string `json:"swap_id"`
	Refund bool   `json:"refund"`
}

func (s *Server) handleResolveSwap(c fiber.Ctx) error {
	var req resolveSwapRequest
	if err := c.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.SwapID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "swap_id is required")
	}

	p, err := s.reg.Get(req.TokenA, req.TokenB)
	if err != nil {
		return mapDomainError(err)
	}
	ref, err := p.ResolveSwap(c.Context(), req.SwapID, req.Refund)
	if err != nil {
		return mapDomainError(err)
	}
	return c.JSON(fiber.Map{"tx_ref": string(ref)})
}
