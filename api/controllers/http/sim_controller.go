package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openfreight/freightsim/api/handlers"
	"github.com/openfreight/freightsim/core/sim"
)

// SimController handles HTTP requests for simulation control
type SimController struct {
	simHandler *handlers.SimHandler
}

// NewSimController creates a new simulation control controller
func NewSimController(simHandler *handlers.SimHandler) *SimController {
	return &SimController{
		simHandler: simHandler,
	}
}

// Play handles POST /play
func (c *SimController) Play(ctx echo.Context) error {
	result := c.simHandler.Play(ctx.Request().Context())
	if result.Error != nil {
		return ctx.JSON(controlStatus(result.Error), NewErrorResponse(result.Error.Error(), result.Message))
	}
	return ctx.JSON(http.StatusOK, NewSuccessResponse(result.Data, result.Message))
}

// Pause handles POST /pause
func (c *SimController) Pause(ctx echo.Context) error {
	result := c.simHandler.Pause(ctx.Request().Context())
	if result.Error != nil {
		return ctx.JSON(controlStatus(result.Error), NewErrorResponse(result.Error.Error(), result.Message))
	}
	return ctx.JSON(http.StatusOK, NewSuccessResponse(result.Data, result.Message))
}

// Resume handles POST /resume
func (c *SimController) Resume(ctx echo.Context) error {
	result := c.simHandler.Resume(ctx.Request().Context())
	if result.Error != nil {
		return ctx.JSON(controlStatus(result.Error), NewErrorResponse(result.Error.Error(), result.Message))
	}
	return ctx.JSON(http.StatusOK, NewSuccessResponse(result.Data, result.Message))
}

// Reset handles POST /reset
func (c *SimController) Reset(ctx echo.Context) error {
	result := c.simHandler.Reset(ctx.Request().Context())
	if result.Error != nil {
		return ctx.JSON(http.StatusInternalServerError, NewErrorResponse(result.Error.Error(), result.Message))
	}
	return ctx.JSON(http.StatusOK, NewSuccessResponse(result.Data, result.Message))
}

// controlStatus maps scheduler state conflicts to 409
func controlStatus(err error) int {
	switch {
	case errors.Is(err, sim.ErrAlreadyRunning),
		errors.Is(err, sim.ErrNotRunning),
		errors.Is(err, sim.ErrNotPaused),
		errors.Is(err, sim.ErrNeedsReset):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
