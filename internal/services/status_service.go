package services

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/config"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/provider"
	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/repository"
)

// ErrStatusCheckTimeout reports that synchronous confirmation gave up
// before the provider reached a terminal status. Non-fatal: the request
// stays sending and the periodic sweep picks it up later.
var ErrStatusCheckTimeout = errors.New("status check attempts exhausted before terminal status")

// ErrSweepAlreadyRunning reports that a sweep tick found the
// single-flight lock held and skipped rather than queued.
var ErrSweepAlreadyRunning = errors.New("status sweep already running")

// SweepLock guards the sweep across service instances. TryAcquire never
// blocks; a tick that loses simply skips.
type SweepLock interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// StatusService reconciles ledger status against live provider status
// through two mechanisms over the same primitive: a bounded synchronous
// polling loop right after dispatch, and a periodic sweep over every
// non-terminal ledger entry.
type StatusService struct {
	repo     repository.INotificationRepository
	provider provider.IEmailProvider
	emitter  *EmitterService
	retrier  *RetryService
	cfg      config.StatusCheckConfig
	lock     SweepLock
	running  atomic.Bool
}

func NewStatusService(repo repository.INotificationRepository, emailProvider provider.IEmailProvider, emitter *EmitterService, retrier *RetryService, lock SweepLock, cfg config.StatusCheckConfig) *StatusService {
	return &StatusService{
		repo:     repo,
		provider: emailProvider,
		emitter:  emitter,
		retrier:  retrier,
		cfg:      cfg,
		lock:     lock,
	}
}

// CheckUntilTerminal polls the provider at a fixed interval until the
// send reaches a terminal status or the attempt cap runs out.
func (s *StatusService) CheckUntilTerminal(ctx context.Context, request *models.NotificationRequest, recipient models.Recipient) error {
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.PollInterval):
			}
		}

		status, err := s.provider.GetStatusByID(ctx, recipient.TrackingID)
		if err != nil {
			slog.Error("Provider status check failed",
				"message_id", request.ID,
				"recipient", recipient.Address,
				"tracking_id", recipient.TrackingID,
				"attempt", attempt,
				"error", err,
			)
			continue
		}

		if !status.Status.IsFinal() {
			continue
		}

		return s.applyTerminalStatus(ctx, request, recipient, status.Status)
	}

	return ErrStatusCheckTimeout
}

// Sweep reconciles every non-terminal ledger entry once. Single-flight:
// a tick arriving while another sweep holds the lock logs and exits
// immediately, it is never queued. Cancellable between entries.
func (s *StatusService) Sweep(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		slog.Info("Status sweep skipped, previous run still in progress")
		return ErrSweepAlreadyRunning
	}
	defer s.running.Store(false)

	if s.lock != nil {
		acquired, err := s.lock.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if !acquired {
			slog.Info("Status sweep skipped, lock held by another instance")
			return ErrSweepAlreadyRunning
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				slog.Error("Failed to release sweep lock", "error", err)
			}
		}()
	}

	requests, err := s.repo.ListNonTerminal(ctx)
	if err != nil {
		return err
	}

	slog.Info("Status sweep started", "pending_requests", len(requests))

	for _, request := range requests {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.sweepRequest(ctx, request)
	}

	slog.Info("Status sweep finished")
	return nil
}

func (s *StatusService) sweepRequest(ctx context.Context, request *models.NotificationRequest) {
	for _, recipient := range request.Recipients {
		if recipient.Status.IsFinal() || recipient.TrackingID == "" {
			continue
		}

		current, err := s.provider.GetStatusByID(ctx, recipient.TrackingID)
		if err != nil {
			slog.Error("Sweep status check failed",
				"message_id", request.ID,
				"recipient", recipient.Address,
				"tracking_id", recipient.TrackingID,
				"error", err,
			)
			continue
		}

		if current.Status == recipient.Status {
			continue
		}

		if !current.Status.IsFinal() {
			if err := s.repo.UpdateRecipientStatus(ctx, request.ID, request.Source, recipient.Address, current.Status, "", nil); err != nil {
				slog.Error("Sweep ledger update failed", "message_id", request.ID, "recipient", recipient.Address, "error", err)
			}
			continue
		}

		if err := s.applyTerminalStatus(ctx, request, recipient, current.Status); err != nil {
			slog.Error("Sweep terminal update failed", "message_id", request.ID, "recipient", recipient.Address, "error", err)
		}
	}
}

// applyTerminalStatus records a terminal provider status, announces it,
// and hands retryable failures to the retry policy.
func (s *StatusService) applyTerminalStatus(ctx context.Context, request *models.NotificationRequest, recipient models.Recipient, status models.NotifyStatus) error {
	if err := s.repo.UpdateRecipientStatus(ctx, request.ID, request.Source, recipient.Address, status, "", nil); err != nil {
		return err
	}

	s.emitter.EmitStatus(ctx, request, recipient.Address, status, nil)

	if status.IsRetryable() {
		return s.retrier.HandleFailure(ctx, request, recipient, status)
	}

	return nil
}
