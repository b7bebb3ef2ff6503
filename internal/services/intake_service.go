package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/repository"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/schema"
)

// IntakeService is the per-message pipeline behind the queue consumer:
// validate, dedupe, record, dispatch.
type IntakeService struct {
	validator  *schema.Validator
	repo       repository.INotificationRepository
	emitter    *EmitterService
	dispatcher *DispatchService
}

func NewIntakeService(validator *schema.Validator, repo repository.INotificationRepository, emitter *EmitterService, dispatcher *DispatchService) *IntakeService {
	return &IntakeService{
		validator:  validator,
		repo:       repo,
		emitter:    emitter,
		dispatcher: dispatcher,
	}
}

// Handle processes one inbound queue message. A duplicate (same id and
// source as an earlier request) short-circuits with a log line and no
// provider call; the ledger's uniqueness constraint resolves concurrent
// duplicates the same way.
func (s *IntakeService) Handle(ctx context.Context, body []byte) error {
	request, err := s.validator.ValidateRequest(body)
	if err != nil {
		var validationErr *schema.ValidationError
		if errors.As(err, &validationErr) {
			slog.Warn("Request failed schema validation",
				"message_id", request.ID,
				"source", request.Source,
				"details", validationErr.Details(),
			)
			s.emitter.Emit(ctx, request, "", models.EventValidationFailure, models.StatusValidationFailure, &models.StatusDetails{
				Code:     "VALIDATION_FAILED",
				Messages: []string{validationErr.Details()},
			})
			return nil
		}
		return err
	}

	exists, err := s.repo.Exists(ctx, request.ID, request.Source)
	if err != nil {
		return err
	}
	if exists {
		slog.Info("Notification request already processed",
			"message_id", request.ID,
			"source", request.Source,
		)
		return nil
	}

	request.Status = models.StatusCreated
	for i := range request.Recipients {
		request.Recipients[i].Status = models.StatusCreated
	}

	inserted, err := s.repo.InsertIfAbsent(ctx, request)
	if err != nil {
		return err
	}
	if !inserted {
		// Lost a concurrent duplicate race; same outcome as the
		// existence check above.
		slog.Info("Notification request already processed",
			"message_id", request.ID,
			"source", request.Source,
		)
		return nil
	}

	s.emitter.Emit(ctx, request, "", models.EventReceived, models.StatusCreated, nil)

	slog.Info("Notification request accepted",
		"message_id", request.ID,
		"source", request.Source,
		"request_type", request.Type,
		"recipients", len(request.Recipients),
	)

	return s.dispatcher.Dispatch(ctx, request)
}
