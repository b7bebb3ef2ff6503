package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/models"
	"github.com/go-playground/validator/v10"
)

// ValidationError collects per-field schema errors. Details joins them
// into the single string attached to the validation-failure event.
type ValidationError struct {
	Errors []FieldError
}

type FieldError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request failed schema validation: %s", e.Details())
}

func (e *ValidationError) Details() string {
	messages := make([]string, 0, len(e.Errors))
	for _, fieldErr := range e.Errors {
		messages = append(messages, fieldErr.Message)
	}
	return strings.Join(messages, ", ")
}

// envelope is the v2 message shape: a versioned wrapper whose data
// field holds the request. v1 messages are the bare request object.
type envelope struct {
	SpecVersion string          `json:"specVersion"`
	Data        json.RawMessage `json:"data"`
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	return &Validator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// ValidateRequest decodes and validates one inbound queue message. The
// two payload schema versions run through the same pipeline: v2 is
// unwrapped to its data field first, then both validate identically.
// A body that cannot be decoded at all is an UnprocessableMessageError;
// a decodable body with bad fields is a ValidationError.
func (v *Validator) ValidateRequest(body []byte) (*models.NotificationRequest, error) {
	raw := body

	var wrapper envelope
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, &models.UnprocessableMessageError{Reason: "body is not valid JSON", Err: err}
	}
	if wrapper.SpecVersion != "" {
		if len(wrapper.Data) == 0 {
			return nil, &models.UnprocessableMessageError{Reason: "versioned envelope has no data field"}
		}
		raw = wrapper.Data
	}

	var request models.NotificationRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return nil, &models.UnprocessableMessageError{Reason: "request does not decode", Err: err}
	}

	if err := v.validate.Struct(&request); err != nil {
		invalid, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, &models.UnprocessableMessageError{Reason: "request is not validatable", Err: err}
		}

		fieldErrors := make([]FieldError, 0, len(invalid))
		for _, fieldErr := range invalid {
			fieldErrors = append(fieldErrors, FieldError{
				Message: fmt.Sprintf("field %s failed on the %s rule", fieldErr.Field(), fieldErr.Tag()),
			})
		}
		return &request, &ValidationError{Errors: fieldErrors}
	}

	return &request, nil
}
