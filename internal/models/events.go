package models

import "time"

type CommEventType string

const (
	EventRequest           CommEventType = "request"
	EventReceived          CommEventType = "received"
	EventRetry             CommEventType = "retry"
	EventRetryExpired      CommEventType = "retry-expired"
	EventSending           CommEventType = "sending"
	EventDelivered         CommEventType = "delivered"
	EventValidationFailure CommEventType = "validation-failure"
	EventInternalFailure   CommEventType = "internal-failure"
	EventProviderFailure   CommEventType = "provider-failure"
)

// CommEvent notifies downstream consumers of a lifecycle transition.
type CommEvent struct {
	ID     string        `json:"id"`
	Source string        `json:"source"`
	Type   CommEventType `json:"type"`
	Time   time.Time     `json:"time"`
	Data   CommEventData `json:"data"`
}

type CommEventData struct {
	CorrelationID *string        `json:"correlationId,omitempty"`
	Recipient     string         `json:"recipient,omitempty"`
	Status        NotifyStatus   `json:"status,omitempty"`
	StatusDetails *StatusDetails `json:"statusDetails,omitempty"`
}

// EventForStatus maps a status transition to the event type announced
// for it. Total over the status enumeration: pre-delivery statuses all
// announce as sending, provider-side failures as provider-failure.
func EventForStatus(status NotifyStatus) CommEventType {
	switch status {
	case StatusDelivered:
		return EventDelivered
	case StatusValidationFailure:
		return EventValidationFailure
	case StatusInternalFailure:
		return EventInternalFailure
	case StatusPermanentFailure, StatusTemporaryFailure, StatusTechnicalFailure:
		return EventProviderFailure
	default:
		return EventSending
	}
}
