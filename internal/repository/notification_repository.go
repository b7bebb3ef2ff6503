package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	"github.com/jmoiron/sqlx"
)

var ErrNotificationNotFound = errors.New("notification request not found")

type INotificationRepository interface {
	InsertIfAbsent(ctx context.Context, request *models.NotificationRequest) (bool, error)
	Exists(ctx context.Context, id, source string) (bool, error)
	UpdateStatus(ctx context.Context, id, source string, status models.NotifyStatus, details *models.StatusDetails) error
	UpdateRecipientStatus(ctx context.Context, id, source, address string, status models.NotifyStatus, trackingID string, details *models.StatusDetails) error
	FindOriginal(ctx context.Context, correlationID, source string) (*models.NotificationRequest, error)
	ListNonTerminal(ctx context.Context) ([]*models.NotificationRequest, error)
}

type NotificationRepository struct {
	db *sqlx.DB
}

func NewNotificationRepository(db *sqlx.DB) INotificationRepository {
	return &NotificationRepository{
		db: db,
	}
}

// InsertIfAbsent inserts the request unless one with the same
// (id, source) idempotency key already exists. The primary key
// resolves concurrent duplicate inserts; the loser sees inserted=false
// and must treat the request as already processed.
func (r *NotificationRepository) InsertIfAbsent(ctx context.Context, request *models.NotificationRequest) (bool, error) {
	query := `
		INSERT INTO notification_requests (message_id, source, request_type, correlation_id,
		                                   recipients, payload, status, status_details,
		                                   created_at, updated_at)
		VALUES (:message_id, :source, :request_type, :correlation_id,
		        :recipients, :payload, :status, :status_details,
		        :created_at, :updated_at)
		ON CONFLICT (message_id, source) DO NOTHING
	`

	if request.Type == "" {
		request.Type = models.TypeRequest
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now()
	}
	request.UpdatedAt = time.Now()

	result, err := r.db.NamedExecContext(ctx, query, request)
	if err != nil {
		return false, &models.PersistenceError{Op: "insert notification request", Err: err}
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, &models.PersistenceError{Op: "insert notification request", Err: err}
	}

	return affected == 1, nil
}

func (r *NotificationRepository) Exists(ctx context.Context, id, source string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM notification_requests WHERE message_id = $1 AND source = $2)`

	err := r.db.GetContext(ctx, &exists, query, id, source)
	if err != nil {
		return false, &models.PersistenceError{Op: "check notification exists", Err: err}
	}

	return exists, nil
}

// UpdateStatus moves the request-level status. A status already final
// is never demoted back to an in-flight one: the synchronous
// confirmation path and the periodic sweep can race on the same entry
// after a slow provider response, and the terminal write must win.
// UpdateRecipientStatus routes its request-level write through the same
// guarded statement.
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id, source string, status models.NotifyStatus, details *models.StatusDetails) error {
	return updateRowStatus(ctx, r.db, id, source, status, details)
}

func updateRowStatus(ctx context.Context, execer sqlx.ExtContext, id, source string, status models.NotifyStatus, details *models.StatusDetails) error {
	query := `
		UPDATE notification_requests
		SET status = $3, status_details = $4, updated_at = $5
		WHERE message_id = $1 AND source = $2
		  AND (status NOT IN ('delivered', 'permanent-failure', 'temporary-failure',
		                      'technical-failure', 'validation-failure', 'internal-failure')
		       OR $3 IN ('delivered', 'permanent-failure', 'temporary-failure',
		                 'technical-failure', 'validation-failure', 'internal-failure'))
	`

	_, err := execer.ExecContext(ctx, query, id, source, status, details, time.Now())
	if err != nil {
		return &models.PersistenceError{Op: "update notification status", Err: err}
	}

	return nil
}

// UpdateRecipientStatus rewrites the status of one recipient inside the
// recipients document and folds the per-recipient states into the
// request-level status. Status tracking is per-recipient: two
// recipients of the same request may end in different terminal states,
// and the request only turns terminal once every recipient has.
func (r *NotificationRepository) UpdateRecipientStatus(ctx context.Context, id, source, address string, status models.NotifyStatus, trackingID string, details *models.StatusDetails) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return &models.PersistenceError{Op: "update recipient status", Err: err}
	}
	defer tx.Rollback()

	var recipients models.RecipientList
	selectQuery := `SELECT recipients FROM notification_requests WHERE message_id = $1 AND source = $2 FOR UPDATE`
	if err := tx.GetContext(ctx, &recipients, selectQuery, id, source); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("update recipient status: %w", ErrNotificationNotFound)
		}
		return &models.PersistenceError{Op: "update recipient status", Err: err}
	}

	found := false
	effective := status
	for i := range recipients {
		if recipients[i].Address != address {
			continue
		}
		found = true
		if recipients[i].Status.IsFinal() && !status.IsFinal() {
			// Sweep racing behind a terminal confirmation; keep the
			// terminal result.
			effective = recipients[i].Status
			continue
		}
		recipients[i].Status = status
		recipients[i].StatusDetails = details
		if trackingID != "" {
			recipients[i].TrackingID = trackingID
		}
	}
	if !found {
		return fmt.Errorf("update recipient status: recipient %s not on request %s: %w", address, id, ErrNotificationNotFound)
	}

	updateQuery := `
		UPDATE notification_requests
		SET recipients = $3, updated_at = $4
		WHERE message_id = $1 AND source = $2
	`
	if _, err := tx.ExecContext(ctx, updateQuery, id, source, recipients, time.Now()); err != nil {
		return &models.PersistenceError{Op: "update recipient status", Err: err}
	}

	if err := updateRowStatus(ctx, tx, id, source, recipients.AggregateStatus(effective), details); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &models.PersistenceError{Op: "update recipient status", Err: err}
	}

	return nil
}

// FindOriginal resolves a correlation id to the oldest ancestor in the
// chain, scoped to the source that owns the chain: the same message id
// under two sources is two independent requests. Retries always
// propagate the original id, so the walk is normally a single hop; the
// loop bound guards against malformed data.
func (r *NotificationRepository) FindOriginal(ctx context.Context, correlationID, source string) (*models.NotificationRequest, error) {
	query := `SELECT * FROM notification_requests WHERE message_id = $1 AND source = $2 ORDER BY created_at ASC LIMIT 1`

	id := correlationID
	for hop := 0; hop < 10; hop++ {
		var request models.NotificationRequest
		err := r.db.GetContext(ctx, &request, query, id, source)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, fmt.Errorf("find original for %s/%s: %w", correlationID, source, ErrNotificationNotFound)
			}
			return nil, &models.PersistenceError{Op: "find original notification", Err: err}
		}
		if request.CorrelationID == nil || *request.CorrelationID == "" || *request.CorrelationID == request.ID {
			return &request, nil
		}
		id = *request.CorrelationID
	}

	return nil, fmt.Errorf("find original for %s/%s: correlation chain too deep", correlationID, source)
}

// ListNonTerminal returns every request with at least one recipient
// still in flight. Filtering on the recipients document rather than the
// request-level column keeps a request under the sweep's watch while a
// sibling recipient has already landed terminally.
func (r *NotificationRepository) ListNonTerminal(ctx context.Context) ([]*models.NotificationRequest, error) {
	var requests []*models.NotificationRequest
	query := `
		SELECT * FROM notification_requests
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(recipients) AS recipient
			WHERE COALESCE(recipient->>'status', '') NOT IN
				('delivered', 'permanent-failure', 'temporary-failure',
				 'technical-failure', 'validation-failure', 'internal-failure')
		)
		ORDER BY created_at ASC
	`

	err := r.db.SelectContext(ctx, &requests, query)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list non-terminal notifications", Err: err}
	}

	return requests, nil
}
