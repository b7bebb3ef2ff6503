package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/event"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
)

// EmitterService maps lifecycle transitions onto comm events and
// publishes them. Emission is best-effort: a publish failure is logged
// and swallowed, it never rolls back a ledger update or blocks retry
// scheduling.
type EmitterService struct {
	publisher event.IEventPublisher
}

func NewEmitterService(publisher event.IEventPublisher) *EmitterService {
	return &EmitterService{
		publisher: publisher,
	}
}

func (e *EmitterService) Emit(ctx context.Context, request *models.NotificationRequest, recipient string, eventType models.CommEventType, status models.NotifyStatus, details *models.StatusDetails) {
	commEvent := &models.CommEvent{
		ID:     request.ID,
		Source: request.Source,
		Type:   eventType,
		Time:   time.Now(),
		Data: models.CommEventData{
			CorrelationID: request.CorrelationID,
			Recipient:     recipient,
			Status:        status,
			StatusDetails: details,
		},
	}

	if err := e.publisher.PublishCommEvent(ctx, commEvent); err != nil {
		slog.Error("Failed to publish comm event",
			"event_type", eventType,
			"message_id", request.ID,
			"source", request.Source,
			"error", err,
		)
	}
}

// EmitStatus emits the event mapped to a status transition.
func (e *EmitterService) EmitStatus(ctx context.Context, request *models.NotificationRequest, recipient string, status models.NotifyStatus, details *models.StatusDetails) {
	e.Emit(ctx, request, recipient, models.EventForStatus(status), status, details)
}
