package domain

import "errors"

var (
	ErrNotFound             = errors.New("not_found")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrStatusConflict       = errors.New("status_conflict")
	ErrScheduleEntryDeleted = errors.New("schedule_entry_deleted")
	// ErrDuplicateProcessorID is returned when a processor id is already
	// recorded on another payment.
	ErrDuplicateProcessorID = errors.New("duplicate_processor_id")
)
