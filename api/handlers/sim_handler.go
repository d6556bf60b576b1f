package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/openfreight/freightsim/core/sim"
)

// SimHandler handles simulation control business logic
type SimHandler struct {
	sched  *sim.Scheduler
	logger *zap.Logger
}

// NewSimHandler creates a new simulation control handler
func NewSimHandler(sched *sim.Scheduler, logger *zap.Logger) *SimHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimHandler{
		sched:  sched,
		logger: logger,
	}
}

// Play starts the scheduler worker, or unfreezes a paused run
func (h *SimHandler) Play(ctx context.Context) *HandlerResult {
	if err := h.sched.Start(); err != nil {
		h.logger.Warn("play rejected", zap.Error(err))
		return &HandlerResult{Error: err, Message: "Play rejected"}
	}
	h.logger.Info("simulation running")
	return &HandlerResult{Data: h.sched.State(), Message: "Simulation running"}
}

// Pause freezes the simulated clock
func (h *SimHandler) Pause(ctx context.Context) *HandlerResult {
	if err := h.sched.Pause(); err != nil {
		h.logger.Warn("pause rejected", zap.Error(err))
		return &HandlerResult{Error: err, Message: "Pause rejected"}
	}
	h.logger.Info("simulation paused")
	return &HandlerResult{Data: h.sched.State(), Message: "Simulation paused"}
}

// Resume unfreezes a paused run
func (h *SimHandler) Resume(ctx context.Context) *HandlerResult {
	if err := h.sched.Resume(); err != nil {
		h.logger.Warn("resume rejected", zap.Error(err))
		return &HandlerResult{Error: err, Message: "Resume rejected"}
	}
	h.logger.Info("simulation resumed")
	return &HandlerResult{Data: h.sched.State(), Message: "Simulation resumed"}
}

// Reset stops the worker, wipes all mutable state and re-arms the
// timeline
func (h *SimHandler) Reset(ctx context.Context) *HandlerResult {
	if err := h.sched.Reset(); err != nil {
		h.logger.Error("reset failed", zap.Error(err))
		return &HandlerResult{Error: err, Message: "Reset failed"}
	}
	h.logger.Info("simulation reset")
	return &HandlerResult{Data: h.sched.State(), Message: "Simulation reset"}
}

// State reports the control surface without mutating it
func (h *SimHandler) State() sim.State {
	return h.sched.State()
}
