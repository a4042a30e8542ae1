package db

import (
	"context"
	"time"

	"github.com/mescon/Cadence/internal/domain"
	"github.com/mescon/Cadence/internal/eventbus"
	"github.com/mescon/Cadence/internal/logger"
)

// journaledEvents are persisted. Per-action events are too frequent to keep.
var journaledEvents = []domain.EventType{
	domain.TransportStarted,
	domain.TransportStopping,
	domain.TransportStopped,
	domain.EventsCleared,
	domain.ActionFailed,
	domain.SketchLoaded,
	domain.SketchFailed,
}

// appendTimeout bounds one journal write.
const appendTimeout = 5 * time.Second

// Journal copies lifecycle events from the bus into the events table.
type Journal struct {
	repo     *Repository
	eventBus *eventbus.EventBus
	log      logger.Component
}

func NewJournal(repo *Repository, eb *eventbus.EventBus) *Journal {
	return &Journal{repo: repo, eventBus: eb, log: logger.For("journal")}
}

// Start subscribes to the journaled event types. A single subscription
// keeps rows in publish order.
func (j *Journal) Start() {
	j.eventBus.SubscribeMany(journaledEvents, j.handle)
}

func (j *Journal) handle(e domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := j.repo.AppendEvent(ctx, e); err != nil {
		j.log.Errorf("Failed to journal %s: %v", e.EventType, err)
	}
}
