package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/NobleSOL/dexkeeta-sub000/internal/pool"
	"github.com/NobleSOL/dexkeeta-sub000/internal/registry"
)

// ErrAmountRequired is returned when a required amount field is missing.
var ErrAmountRequired = fiber.NewError(fiber.StatusBadRequest, "amount is required")

// ErrInvalidAmountFormat is returned when an amount cannot be parsed as a
// base-10 integer.
var ErrInvalidAmountFormat = fiber.NewError(fiber.StatusBadRequest, "invalid amount format")

// ErrAmountNonPositive is returned when an amount is zero or negative.
var ErrAmountNonPositive = fiber.NewError(fiber.StatusBadRequest, "amount must be greater than zero")

// mapDomainError translates engine errors onto HTTP statuses. Validation
// failures are 400, economic-constraint rejections 409, unknown pools and
// sagas 404. Anything else came from the ledger or the store and surfaces
// as 502; the engine never retried it and neither does the API.
func mapDomainError(err error) error {
	var swapErr *pool.SwapError
	if errors.As(err, &swapErr) {
		// Serialized separately by the swap handler; kept here as a
		// fallback for any other path that bubbles one up.
		return fiber.NewError(fiber.StatusBadGateway, swapErr.Error())
	}

	switch {
	case errors.Is(err, pool.ErrInvalidInput), errors.Is(err, pool.ErrUnknownToken):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, pool.ErrPoolNotFound), errors.Is(err, pool.ErrSwapNotPending):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrPoolAlreadyExists),
		errors.Is(err, pool.ErrSlippageExceeded),
		errors.Is(err, pool.ErrInsufficientAmount),
		errors.Is(err, pool.ErrInsufficientShares),
		errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrInsufficientLiquidityMinted):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
}
