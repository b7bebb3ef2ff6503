package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/config"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/event"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/repository"
	"github.com/google/uuid"
)

// RetryService decides whether a retryable failure re-enters the
// pipeline or expires, and schedules the retry request when it does.
type RetryService struct {
	repo      repository.INotificationRepository
	publisher event.IEventPublisher
	emitter   *EmitterService
	cfg       config.RetryConfig
	now       func() time.Time
}

func NewRetryService(repo repository.INotificationRepository, publisher event.IEventPublisher, emitter *EmitterService, cfg config.RetryConfig) *RetryService {
	return &RetryService{
		repo:      repo,
		publisher: publisher,
		emitter:   emitter,
		cfg:       cfg,
		now:       time.Now,
	}
}

// IsRetryEligible applies the retry-window policy. Technical failures
// are transient infrastructure faults and always retry once, relying on
// the retry delay to self-heal. Temporary failures retry only while the
// NEXT attempt, which is itself delayed, would still land inside the
// window measured from the original request's creation.
func (r *RetryService) IsRetryEligible(status models.NotifyStatus, originalCreatedAt, now time.Time) bool {
	switch status {
	case models.StatusTechnicalFailure:
		return true
	case models.StatusTemporaryFailure:
		return now.Add(r.cfg.Delay).Before(originalCreatedAt.Add(r.cfg.TemporaryFailureTimeout))
	default:
		return false
	}
}

// HandleFailure runs the policy for one failed recipient. An eligible
// failure is re-enqueued as a new correlated request; an expired one
// emits retry-expired and leaves the ledger entry terminal.
func (r *RetryService) HandleFailure(ctx context.Context, request *models.NotificationRequest, recipient models.Recipient, status models.NotifyStatus) error {
	originalCreatedAt := r.resolveOriginalCreatedAt(ctx, request)

	if !r.IsRetryEligible(status, originalCreatedAt, r.now()) {
		slog.Info("Retry window expired",
			"message_id", request.ID,
			"source", request.Source,
			"recipient", recipient.Address,
			"status", status,
			"original_created_at", originalCreatedAt,
		)
		r.emitter.Emit(ctx, request, recipient.Address, models.EventRetryExpired, status, recipient.StatusDetails)
		return nil
	}

	retry := r.buildRetryRequest(request, recipient)
	if err := r.publisher.PublishNotificationRequest(ctx, retry); err != nil {
		return fmt.Errorf("failed to enqueue retry for %s: %w", request.ID, err)
	}

	slog.Info("Retry scheduled",
		"message_id", request.ID,
		"retry_id", retry.ID,
		"recipient", recipient.Address,
		"status", status,
	)
	r.emitter.Emit(ctx, retry, recipient.Address, models.EventRetry, status, nil)

	return nil
}

// resolveOriginalCreatedAt anchors the retry window at the oldest
// ancestor of the correlation chain. A chain that cannot be resolved
// falls back to this request's own creation time, which only shortens
// the window.
func (r *RetryService) resolveOriginalCreatedAt(ctx context.Context, request *models.NotificationRequest) time.Time {
	if request.CorrelationID == nil || *request.CorrelationID == "" {
		return request.CreatedAt
	}

	original, err := r.repo.FindOriginal(ctx, *request.CorrelationID, request.Source)
	if err != nil {
		slog.Error("Failed to resolve correlation chain, using request creation time",
			"message_id", request.ID,
			"correlation_id", *request.CorrelationID,
			"error", err,
		)
		return request.CreatedAt
	}

	return original.CreatedAt
}

// buildRetryRequest constructs the correlated follow-up request. The
// correlation id always propagates the oldest ancestor id so window
// math never compounds across retries of retries.
func (r *RetryService) buildRetryRequest(request *models.NotificationRequest, recipient models.Recipient) *models.NotificationRequest {
	ancestorID := request.Reference()

	return &models.NotificationRequest{
		ID:            uuid.NewString(),
		Source:        request.Source,
		Type:          models.TypeRetry,
		CorrelationID: &ancestorID,
		Recipients: models.RecipientList{
			{Address: recipient.Address},
		},
		Payload:   request.Payload,
		Status:    models.StatusPendingPublish,
		CreatedAt: r.now(),
	}
}
