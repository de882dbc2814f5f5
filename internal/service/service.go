package service

import (
	"context"
	"time"

	"pellet_dispenser/internal/device"
	"pellet_dispenser/internal/logger"
	"pellet_dispenser/internal/models"
	"pellet_dispenser/internal/repository"
)

type Authorization interface {
	SignUp(ctx context.Context, username, password string) (int, error)
	GenerateToken(ctx context.Context, username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Dispenser exposes device control: the serial session, commands and the
// local manual refill.
type Dispenser interface {
	Connect(ctx context.Context, port string) error
	Disconnect(ctx context.Context) error
	Command(ctx context.Context, p CommandParams) error
	Refill(ctx context.Context) error
}

// Monitoring exposes the live DeviceState.
type Monitoring interface {
	GetState(ctx context.Context) (models.DeviceState, error)
	Subscribe(fn func(models.DeviceState)) (unsubscribe func())
}

// EventLog exposes the journal with filtering.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.DispenserEvent, error)
}

// Journal persists device notifications in the background.
// Stop via context cancellation in main() for graceful shutdown.
type Journal interface {
	Run(ctx context.Context)
}

// Controller is the device boundary the services drive. *device.Controller
// implements it.
type Controller interface {
	Connect(ctx context.Context, port string) error
	Disconnect() error
	Dispatch(ctx context.Context, name string, args ...string) error
	Refill() error
	Subscribe(fn device.Observer) func()
	CurrentState() models.DeviceState
}

var _ Controller = (*device.Controller)(nil)

type Service struct {
	Dispenser
	Monitoring
	EventLog
	Journal
	Authorization
}

// Options carries the settings the services need from the process config.
type Options struct {
	DefaultPort   string
	SigningKey    string
	TokenTTL      time.Duration
	JournalBuffer int
}

func NewService(repos *repository.Repository, ctrl Controller, opts Options, log *logger.Logger) *Service {
	return &Service{
		Dispenser:     NewDispenserService(ctrl, opts.DefaultPort, log),
		Monitoring:    NewMonitoringService(ctrl),
		EventLog:      NewEventLogService(repos.EventRepo),
		Journal:       NewJournalService(ctrl, repos.EventRepo, opts.JournalBuffer, log),
		Authorization: NewAuthService(repos.Auth, opts.SigningKey, opts.TokenTTL),
	}
}
