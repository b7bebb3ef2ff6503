package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type NotifyStatus string

const (
	StatusPendingPublish    NotifyStatus = "pending-publish"
	StatusCreated           NotifyStatus = "created"
	StatusSending           NotifyStatus = "sending"
	StatusDelivered         NotifyStatus = "delivered"
	StatusPermanentFailure  NotifyStatus = "permanent-failure"
	StatusTemporaryFailure  NotifyStatus = "temporary-failure"
	StatusTechnicalFailure  NotifyStatus = "technical-failure"
	StatusValidationFailure NotifyStatus = "validation-failure"
	StatusInternalFailure   NotifyStatus = "internal-failure"
)

// AllStatuses lists every status the engine can record.
var AllStatuses = []NotifyStatus{
	StatusPendingPublish,
	StatusCreated,
	StatusSending,
	StatusDelivered,
	StatusPermanentFailure,
	StatusTemporaryFailure,
	StatusTechnicalFailure,
	StatusValidationFailure,
	StatusInternalFailure,
}

// IsFinal reports whether no further transition happens without a new
// retry request entering the pipeline.
func (s NotifyStatus) IsFinal() bool {
	switch s {
	case StatusDelivered, StatusPermanentFailure, StatusTemporaryFailure,
		StatusTechnicalFailure, StatusValidationFailure, StatusInternalFailure:
		return true
	}
	return false
}

// IsRetryable reports whether the retry policy may act on this status.
func (s NotifyStatus) IsRetryable() bool {
	return s == StatusTemporaryFailure || s == StatusTechnicalFailure
}

type RequestType string

const (
	TypeRequest RequestType = "request"
	TypeRetry   RequestType = "retry"
)

// StatusDetails carries structured provider error information attached
// to a failed recipient or request.
type StatusDetails struct {
	Code     string   `json:"code,omitempty"`
	Messages []string `json:"messages,omitempty"`
}

func (d *StatusDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

func (d *StatusDetails) Scan(value any) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("StatusDetails: Scan failed, expected []byte but got %T", value)
	}
	return json.Unmarshal(b, d)
}

// Recipient is one address target of a request. A request fans out to
// one or more recipients, each carrying its own delivery status and the
// provider-side tracking id once a send has been accepted.
type Recipient struct {
	Address       string         `json:"address" validate:"required,email"`
	Status        NotifyStatus   `json:"status,omitempty"`
	TrackingID    string         `json:"trackingId,omitempty"`
	StatusDetails *StatusDetails `json:"statusDetails,omitempty"`
}

// RecipientList is stored as a single JSONB column so recipient order
// is preserved exactly as received.
type RecipientList []Recipient

func (r RecipientList) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(r)
}

func (r *RecipientList) Scan(value any) error {
	if value == nil {
		*r = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("RecipientList: Scan failed, expected []byte but got %T", value)
	}
	return json.Unmarshal(b, r)
}

// AggregateStatus derives the request-level status from per-recipient
// state. The request stays non-terminal while any recipient is still
// in flight, so the sweep keeps watching it; once every recipient is
// final, fallback (the effective status of the recipient written last)
// wins.
func (r RecipientList) AggregateStatus(fallback NotifyStatus) NotifyStatus {
	for _, recipient := range r {
		if !recipient.Status.IsFinal() {
			return recipient.Status
		}
	}
	return fallback
}

// Payload is opaque to the engine and passed to the provider unmodified.
type Payload struct {
	TemplateID      string         `json:"templateId" validate:"required"`
	Personalisation map[string]any `json:"personalisation,omitempty"`
	ReplyToID       string         `json:"replyToId,omitempty"`
}

func (p Payload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Payload) Scan(value any) error {
	if value == nil {
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("Payload: Scan failed, expected []byte but got %T", value)
	}
	return json.Unmarshal(b, p)
}

// NotificationRequest is one unit of work asking the engine to send an
// email to one or more recipients. (ID, Source) is the idempotency key;
// a retried request is a new entry whose CorrelationID holds the id of
// the oldest ancestor in its correlation chain.
type NotificationRequest struct {
	ID            string         `db:"message_id" json:"id" validate:"required"`
	Source        string         `db:"source" json:"source" validate:"required"`
	Type          RequestType    `db:"request_type" json:"type,omitempty"`
	CorrelationID *string        `db:"correlation_id" json:"correlationId,omitempty"`
	Recipients    RecipientList  `db:"recipients" json:"recipients" validate:"required,min=1,dive"`
	Payload       Payload        `db:"payload" json:"payload"`
	Status        NotifyStatus   `db:"status" json:"status,omitempty"`
	StatusDetails *StatusDetails `db:"status_details" json:"statusDetails,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updatedAt,omitempty"`
}

// Reference returns the provider-facing correlation key: the oldest
// ancestor id when this request is a retry, its own id otherwise. The
// provider dedupes on this value across redeliveries.
func (n *NotificationRequest) Reference() string {
	if n.CorrelationID != nil && *n.CorrelationID != "" {
		return *n.CorrelationID
	}
	return n.ID
}
