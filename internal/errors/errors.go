// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicate is returned when a write would violate a uniqueness
	// constraint (recipient email, campaign/recipient join, delivery log pair).
	ErrDuplicate = errors.New("duplicate record")

	// ErrStoreUnavailable marks transient persistence failures. Callers retry
	// on the next scheduler tick or queue redelivery.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrRecipientNotFound = errors.New("recipient not found")
)

// ErrCampaignNotFound is returned when no campaign has the given ID.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

func IsCampaignNotFound(err error) bool {
	var nf *ErrCampaignNotFound
	return errors.As(err, &nf)
}

// ValidationError rejects bad input at the boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func NewValidation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrInvalidTransition is returned when an administrative status change is
// not allowed from the campaign's current status.
type ErrInvalidTransition struct {
	CampaignID int
	From       string
	To         string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("campaign %d cannot move from %s to %s", e.CampaignID, e.From, e.To)
}

func IsInvalidTransition(err error) bool {
	var it *ErrInvalidTransition
	return errors.As(err, &it)
}

// Unavailable wraps err so that errors.Is(err, ErrStoreUnavailable) holds
// while keeping the original cause in the chain.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
