package service

import (
	"context"
	"fmt"
	"time"

	"pellet_dispenser/internal/device"
	"pellet_dispenser/internal/logger"
	"pellet_dispenser/internal/models"
	"pellet_dispenser/internal/protocol"
	"pellet_dispenser/internal/repository"

	"github.com/google/uuid"
)

const (
	defaultJournalBuffer = 256
	journalWriteTimeout  = 2 * time.Second
)

// JournalService turns controller notifications into journal entries.
// The observer never blocks the device: entries are queued and dropped
// with a warning when the queue is full.
type JournalService struct {
	repo        repository.EventRepo
	queue       chan models.DispenserEvent
	unsubscribe func()
	log         *logger.Logger
}

// NewJournalService subscribes to ctrl immediately so that nothing
// published before Run starts is missed.
func NewJournalService(ctrl Controller, repo repository.EventRepo, buffer int, log *logger.Logger) *JournalService {
	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	j := &JournalService{
		repo:  repo,
		queue: make(chan models.DispenserEvent, buffer),
		log:   logger.OrNop(log),
	}
	j.unsubscribe = ctrl.Subscribe(j.observe)
	return j
}

func (j *JournalService) observe(ch device.Change) {
	entry, ok := journalEntry(ch)
	if !ok {
		return
	}
	select {
	case j.queue <- entry:
	default:
		j.log.Warnw("journal_entry_dropped", "type", entry.Type, "description", entry.Description)
	}
}

// Run writes queued entries until ctx is cancelled, then stops observing
// and flushes what is left. Writes are bounded by their own timeout, not
// by ctx, so the flush still lands after cancellation.
func (j *JournalService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			j.unsubscribe()
			j.flush()
			return
		case e := <-j.queue:
			j.write(e)
		}
	}
}

func (j *JournalService) flush() {
	for {
		select {
		case e := <-j.queue:
			j.write(e)
		default:
			return
		}
	}
}

func (j *JournalService) write(e models.DispenserEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := j.repo.Append(ctx, e); err != nil {
		j.log.Errorw("journal_append_failed", "type", e.Type, "error", err)
	}
}

// journalEntry maps a change to a journal entry. Weight readings, timing
// lines and local configuration changes are not journaled.
func journalEntry(ch device.Change) (models.DispenserEvent, bool) {
	e := models.DispenserEvent{
		EventID:    uuid.NewString(),
		OccurredAt: ch.State.UpdatedAt.UTC(),
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	switch ch.Cause {
	case device.CauseConnected:
		e.Type, e.Description = models.EventConnected, "Connected to dispenser"
	case device.CauseDisconnected:
		e.Type, e.Description = models.EventDisconnected, "Disconnected from dispenser"
	case device.CauseTransportError:
		e.Type, e.Description = models.EventTransportError, "Connection lost"
		if ch.Err != nil {
			e.Description = ch.Err.Error()
		}
	case device.CauseCommand:
		e.Type, e.Description = models.EventCommand, "Sent "+ch.Command
		e.Metadata = map[string]any{"command": ch.Command}
	case device.CauseRefill:
		e.Type, e.Description = models.EventRefill, "Hopper refilled manually"
		e.Metadata = map[string]any{"hopper_weight_g": ch.State.HopperWeight}
	case device.CauseEvent:
		return deviceEventEntry(e, ch)
	default:
		return models.DispenserEvent{}, false
	}
	return e, true
}

func deviceEventEntry(e models.DispenserEvent, ch device.Change) (models.DispenserEvent, bool) {
	switch ev := ch.Event.(type) {
	case protocol.SystemStarted:
		e.Type, e.Description = models.EventStarted, "Device reports system started"
	case protocol.SystemStopped:
		e.Type, e.Description = models.EventStopped, "Device reports system stopped"
	case protocol.RefillRequired:
		e.Type, e.Description = models.EventRefillRequired, "Device requests a refill"
	case protocol.RefillCleared:
		e.Type, e.Description = models.EventRefillCleared, "Device cleared the refill alarm"
	case protocol.PourOccurred:
		meta := map[string]any{
			"hopper_weight_g": ch.State.HopperWeight,
			"fill_ratio":      ch.State.FillRatio,
		}
		e.Type, e.Description = models.EventPour, "Pour detected"
		if ev.Amount != nil {
			meta["amount_g"] = *ev.Amount
			e.Description = fmt.Sprintf("Poured %.1f g", *ev.Amount)
		}
		e.Metadata = meta
	case protocol.Unrecognized:
		e.Type, e.Description = models.EventUnrecognized, ev.Line
	default:
		return models.DispenserEvent{}, false
	}
	return e, true
}
