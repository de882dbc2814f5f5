package service

import (
	"context"
	"strconv"
	"strings"

	"pellet_dispenser/internal/logger"
)

type DispenserService struct {
	ctrl        Controller
	defaultPort string
	log         *logger.Logger
}

func NewDispenserService(ctrl Controller, defaultPort string, log *logger.Logger) *DispenserService {
	return &DispenserService{ctrl: ctrl, defaultPort: defaultPort, log: logger.OrNop(log)}
}

// Connect opens port, or the configured default port when port is empty.
func (s *DispenserService) Connect(ctx context.Context, port string) error {
	if port = strings.TrimSpace(port); port == "" {
		port = s.defaultPort
	}
	return s.ctrl.Connect(ctx, port)
}

func (s *DispenserService) Disconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.ctrl.Disconnect()
}

// Command dispatches p. Validation is left to the device layer so the
// error taxonomy stays in one place.
func (s *DispenserService) Command(ctx context.Context, p CommandParams) error {
	var args []string
	if p.Value != nil {
		args = append(args, strconv.FormatFloat(*p.Value, 'f', -1, 64))
	}
	if err := s.ctrl.Dispatch(ctx, p.Name, args...); err != nil {
		s.log.Warnw("command_rejected", "command", p.Name, "args", args, "error", err)
		return err
	}
	return nil
}

func (s *DispenserService) Refill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.ctrl.Refill()
}
