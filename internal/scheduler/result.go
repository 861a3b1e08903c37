package scheduler

import (
	"errors"

	"github.com/bwmarrin/snowflake"
)

const (
	JobRetryFailedPayments   = "retry_failed_payments"
	JobApplyLateFees         = "apply_late_fees"
	JobRolloverMemberships   = "rollover_memberships"
	JobNotifyUpcomingRenewal = "notify_upcoming_renewals"
	JobRenewClassPacks       = "renew_class_packs"
	JobNotifyExpiringTrials  = "notify_expiring_trials"
)

// Jobs lists every sweep in the order RunOnce executes them.
var Jobs = []string{
	JobRetryFailedPayments,
	JobApplyLateFees,
	JobRolloverMemberships,
	JobNotifyUpcomingRenewal,
	JobRenewClassPacks,
	JobNotifyExpiringTrials,
}

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_sweep_job")
)

type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
	ItemEscalated ItemStatus = "escalated"
)

// ItemOutcome is the result of one row handled by a sweep.
type ItemOutcome struct {
	ID     snowflake.ID `json:"id"`
	Status ItemStatus   `json:"status"`
	Reason string       `json:"reason,omitempty"`

	err error
}

type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Escalated int `json:"escalated"`
}

type SweepResult struct {
	Job   string        `json:"job"`
	RunID string        `json:"run_id"`
	Items []ItemOutcome `json:"items"`
	// Deferred is set when another replica held the sweep lock.
	Deferred bool    `json:"deferred,omitempty"`
	TimedOut bool    `json:"timed_out,omitempty"`
	Summary  Summary `json:"summary"`
}

func (r *SweepResult) add(item ItemOutcome) {
	r.Items = append(r.Items, item)
	r.Summary.Processed++
	switch item.Status {
	case ItemSucceeded:
		r.Summary.Succeeded++
	case ItemFailed:
		r.Summary.Failed++
	case ItemSkipped:
		r.Summary.Skipped++
	case ItemEscalated:
		r.Summary.Escalated++
	}
}

func succeeded(id snowflake.ID, reason string) ItemOutcome {
	return ItemOutcome{ID: id, Status: ItemSucceeded, Reason: reason}
}

func skipped(id snowflake.ID, reason string) ItemOutcome {
	return ItemOutcome{ID: id, Status: ItemSkipped, Reason: reason}
}

func failed(id snowflake.ID, reason string, err error) ItemOutcome {
	return ItemOutcome{ID: id, Status: ItemFailed, Reason: reason, err: err}
}
