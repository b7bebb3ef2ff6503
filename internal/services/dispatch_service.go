package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/provider"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/repository"
)

// DispatchService sends one validated request to the provider, one
// call per recipient, and translates each outcome into a ledger update
// plus at most one emitted event.
type DispatchService struct {
	repo     repository.INotificationRepository
	provider provider.IEmailProvider
	emitter  *EmitterService
	checker  *StatusService
	retrier  *RetryService
}

func NewDispatchService(repo repository.INotificationRepository, emailProvider provider.IEmailProvider, emitter *EmitterService, checker *StatusService, retrier *RetryService) *DispatchService {
	return &DispatchService{
		repo:     repo,
		provider: emailProvider,
		emitter:  emitter,
		checker:  checker,
		retrier:  retrier,
	}
}

// Dispatch fans the request out to its recipients. Each recipient is
// handled independently: one recipient's failure never aborts its
// siblings.
func (d *DispatchService) Dispatch(ctx context.Context, request *models.NotificationRequest) error {
	var lastErr error
	for _, recipient := range request.Recipients {
		if err := d.dispatchRecipient(ctx, request, recipient); err != nil {
			slog.Error("Dispatch failed for recipient",
				"message_id", request.ID,
				"source", request.Source,
				"recipient", recipient.Address,
				"error", err,
			)
			lastErr = err
		}
	}
	return lastErr
}

func (d *DispatchService) dispatchRecipient(ctx context.Context, request *models.NotificationRequest, recipient models.Recipient) error {
	response, err := d.provider.SendEmail(ctx, request.Payload.TemplateID, recipient.Address, provider.SendOptions{
		Personalisation: request.Payload.Personalisation,
		Reference:       request.Reference(),
		EmailReplyToID:  request.Payload.ReplyToID,
	})
	if err != nil {
		return d.handleSendFailure(ctx, request, recipient, err)
	}

	recipient.TrackingID = response.TrackingID
	if err := d.repo.UpdateRecipientStatus(ctx, request.ID, request.Source, recipient.Address, models.StatusSending, response.TrackingID, nil); err != nil {
		return err
	}
	d.emitter.EmitStatus(ctx, request, recipient.Address, models.StatusSending, nil)

	slog.Info("Provider accepted send",
		"message_id", request.ID,
		"recipient", recipient.Address,
		"tracking_id", response.TrackingID,
	)

	// Confirm delivery synchronously; a timeout here is non-fatal, the
	// entry stays sending and the periodic sweep reconciles it later.
	if err := d.checker.CheckUntilTerminal(ctx, request, recipient); err != nil {
		if errors.Is(err, ErrStatusCheckTimeout) {
			slog.Warn("Status not terminal after synchronous confirmation, deferring to sweep",
				"message_id", request.ID,
				"recipient", recipient.Address,
				"tracking_id", response.TrackingID,
			)
			return nil
		}
		return err
	}

	return nil
}

// handleSendFailure classifies a synchronous provider rejection,
// records it, announces it, and hands technical failures straight to
// the retry policy (always eligible).
func (d *DispatchService) handleSendFailure(ctx context.Context, request *models.NotificationRequest, recipient models.Recipient, sendErr error) error {
	status := provider.ClassifySendFailure(sendErr)
	details := failureDetails(sendErr)

	if err := d.repo.UpdateRecipientStatus(ctx, request.ID, request.Source, recipient.Address, status, "", details); err != nil {
		return err
	}
	d.emitter.EmitStatus(ctx, request, recipient.Address, status, details)

	slog.Error("Provider rejected send",
		"message_id", request.ID,
		"recipient", recipient.Address,
		"status", status,
		"error", sendErr,
	)

	if status == models.StatusTechnicalFailure {
		recipient.StatusDetails = details
		return d.retrier.HandleFailure(ctx, request, recipient, status)
	}

	return nil
}

func failureDetails(err error) *models.StatusDetails {
	var providerErr *provider.ProviderError
	if errors.As(err, &providerErr) {
		return &models.StatusDetails{
			Code:     "PROVIDER_REJECTED",
			Messages: []string{providerErr.Error()},
		}
	}
	return &models.StatusDetails{
		Code:     "SEND_FAILED",
		Messages: []string{err.Error()},
	}
}
