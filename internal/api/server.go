// Package api exposes the pool engine over HTTP. It is a thin layer: every
// contract it serves maps one-to-one onto a registry or pool operation.
package api

import (
	"math/big"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/NobleSOL/dexkeeta-sub000/internal/registry"
)

// Server wires the HTTP routes to a pool registry.
type Server struct {
	app *fiber.App
	reg *registry.Registry
	log *zap.Logger
}

func New(reg *registry.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		app: fiber.New(),
		reg: reg,
		log: log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	v1 := s.app.Group("/v1")

	v1.Get("/quote", s.handleQuote)
	v1.Post("/swap", s.handleSwap)
	v1.Post("/liquidity/add", s.handleAddLiquidity)
	v1.Post("/liquidity/remove", s.handleRemoveLiquidity)
	v1.Get("/pools", s.handleListPools)
	v1.Post("/pools", s.handleCreatePool)
	v1.Get("/pools/:tokenA/:tokenB", s.handleGetPool)
	v1.Get("/positions/:user", s.handleUserPositions)
	v1.Get("/swaps/pending", s.handlePendingSwaps)
	v1.Post("/swaps/resolve", s.handleResolveSwap)
}

// App exposes the underlying fiber app for in-process testing.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until Shutdown or a listener error.
func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown() error { return s.app.Shutdown() }

// parseAmount parses a required positive base-10 integer amount.
func parseAmount(value string) (*big.Int, error) {
	if value == "" {
		return nil, ErrAmountRequired
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, ErrInvalidAmountFormat
	}
	if amount.Sign() <= 0 {
		return nil, ErrAmountNonPositive
	}
	return amount, nil
}

// parseOptionalAmount parses a non-negative amount, defaulting to zero.
func parseOptionalAmount(value string) (*big.Int, error) {
	if value == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, ErrInvalidAmountFormat
	}
	if amount.Sign() < 0 {
		return nil, ErrAmountNonPositive
	}
	return amount, nil
}
