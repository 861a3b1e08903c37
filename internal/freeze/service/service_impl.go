package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/clock"
	"github.com/smallbiznis/dojopay/internal/freeze/domain"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	obslogger "github.com/smallbiznis/dojopay/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const reallocationReason = "membership_freeze"

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  ledgerdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  ledgerdomain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("freeze.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) CreateFreeze(ctx context.Context, req domain.CreateFreezeRequest) (*domain.FreezeResult, error) {
	if req.SubscriptionID == 0 {
		return nil, domain.ErrInvalidSubscription
	}
	if req.StartDate.IsZero() {
		return nil, domain.ErrInvalidDateRange
	}
	if req.FrozenAmount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	start := clock.Date(req.StartDate)
	var end *time.Time
	if req.EndDate != nil {
		d := clock.Date(*req.EndDate)
		if d.Before(start) {
			return nil, domain.ErrInvalidDateRange
		}
		end = &d
	}

	now := s.clock.Now()
	result := &domain.FreezeResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.loadSubscription(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}

		freeze := ledgerdomain.MembershipFreeze{
			ID:             s.genID.Generate(),
			SubscriptionID: sub.ID,
			StartDate:      start,
			EndDate:        end,
			FrozenAmount:   req.FrozenAmount,
			Reason:         strings.TrimSpace(req.Reason),
			Status:         ledgerdomain.FreezeStatusActive,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.InsertFreeze(ctx, tx, &freeze); err != nil {
			return err
		}

		if result.Reallocated, err = s.reallocate(ctx, tx, &freeze, now); err != nil {
			return err
		}
		if end != nil {
			count := domain.FreezeDuration(start, *end, sub.BillingFrequency)
			if err := s.inject(ctx, tx, sub, &freeze, count, now); err != nil {
				return err
			}
			freeze.CompensationCount = count
			result.CompensationAdded = count
			if err := s.repo.UpdateFreeze(ctx, tx, &freeze, now); err != nil {
				return err
			}
		}

		if result.ActiveInstallments, err = s.renumber(ctx, tx, sub.ID, now); err != nil {
			return err
		}
		result.Freeze = freeze
		return nil
	})
	if err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("freeze.created",
		zap.String("freeze_id", result.Freeze.ID.String()),
		zap.String("subscription_id", result.Freeze.SubscriptionID.String()),
		zap.Int("reallocated", result.Reallocated),
		zap.Int("compensation", result.CompensationAdded),
	)
	return result, nil
}

func (s *Service) UpdateFreeze(ctx context.Context, req domain.UpdateFreezeRequest) (*domain.FreezeResult, error) {
	if req.FreezeID == 0 {
		return nil, domain.ErrInvalidFreeze
	}
	if req.FrozenAmount != nil && *req.FrozenAmount < 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	result := &domain.FreezeResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		freeze, err := s.loadActiveFreeze(ctx, tx, req.FreezeID)
		if err != nil {
			return err
		}
		sub, err := s.loadSubscription(ctx, tx, freeze.SubscriptionID)
		if err != nil {
			return err
		}

		datesChanged := false
		if req.StartDate != nil {
			start := clock.Date(*req.StartDate)
			datesChanged = datesChanged || !start.Equal(freeze.StartDate)
			freeze.StartDate = start
		}
		if req.EndDate != nil {
			end := clock.Date(*req.EndDate)
			datesChanged = datesChanged || freeze.EndDate == nil || !end.Equal(*freeze.EndDate)
			freeze.EndDate = &end
		}
		if freeze.EndDate != nil && freeze.EndDate.Before(freeze.StartDate) {
			return domain.ErrInvalidDateRange
		}
		if req.FrozenAmount != nil {
			freeze.FrozenAmount = *req.FrozenAmount
		}
		if req.Reason != nil {
			freeze.Reason = strings.TrimSpace(*req.Reason)
		}

		if datesChanged {
			if result.Reallocated, err = s.reallocate(ctx, tx, freeze, now); err != nil {
				return err
			}
			removed, err := s.repo.DeletePendingCompensation(ctx, tx, freeze.ID, now)
			if err != nil {
				return err
			}
			result.CompensationRemoved = int(removed)

			// Compensation already charged stays on the schedule and counts
			// toward the new total.
			kept := freeze.CompensationCount - int(removed)
			if kept < 0 {
				kept = 0
			}
			count := 0
			if freeze.EndDate != nil {
				count = domain.FreezeDuration(freeze.StartDate, *freeze.EndDate, sub.BillingFrequency)
			}
			missing := count - kept
			if missing > 0 {
				if err := s.inject(ctx, tx, sub, freeze, missing, now); err != nil {
					return err
				}
				result.CompensationAdded = missing
			}
			if count > kept {
				freeze.CompensationCount = count
			} else {
				freeze.CompensationCount = kept
			}
		}

		if err := s.repo.UpdateFreeze(ctx, tx, freeze, now); err != nil {
			return err
		}
		if result.ActiveInstallments, err = s.renumber(ctx, tx, sub.ID, now); err != nil {
			return err
		}
		freeze.UpdatedAt = now
		result.Freeze = *freeze
		return nil
	})
	if err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("freeze.updated",
		zap.String("freeze_id", result.Freeze.ID.String()),
		zap.Int("compensation_added", result.CompensationAdded),
		zap.Int("compensation_removed", result.CompensationRemoved),
	)
	return result, nil
}

func (s *Service) DeleteFreeze(ctx context.Context, freezeID snowflake.ID) (*domain.FreezeResult, error) {
	if freezeID == 0 {
		return nil, domain.ErrInvalidFreeze
	}

	now := s.clock.Now()
	result := &domain.FreezeResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		freeze, err := s.loadActiveFreeze(ctx, tx, freezeID)
		if err != nil {
			return err
		}
		ended, err := s.repo.EndFreeze(ctx, tx, freeze.ID, now)
		if err != nil {
			return err
		}
		if !ended {
			return domain.ErrFreezeEnded
		}
		removed, err := s.repo.DeletePendingCompensation(ctx, tx, freeze.ID, now)
		if err != nil {
			return err
		}
		result.CompensationRemoved = int(removed)
		if result.ActiveInstallments, err = s.renumber(ctx, tx, freeze.SubscriptionID, now); err != nil {
			return err
		}
		freeze.Status = ledgerdomain.FreezeStatusEnded
		freeze.UpdatedAt = now
		result.Freeze = *freeze
		return nil
	})
	if err != nil {
		return nil, err
	}

	obslogger.WithContext(ctx, s.log).Info("freeze.ended",
		zap.String("freeze_id", freezeID.String()),
		zap.Int("compensation_removed", result.CompensationRemoved),
	)
	return result, nil
}

func (s *Service) Renumber(ctx context.Context, subscriptionID snowflake.ID) (int, error) {
	if subscriptionID == 0 {
		return 0, domain.ErrInvalidSubscription
	}
	var total int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		total, err = s.renumber(ctx, tx, subscriptionID, s.clock.Now())
		return err
	})
	return total, err
}

// reallocate moves paid entries inside the freeze window onto the freeze.
// The window is [start, end), or open-ended without an end date.
func (s *Service) reallocate(ctx context.Context, tx *gorm.DB, freeze *ledgerdomain.MembershipFreeze, now time.Time) (int, error) {
	entries, err := s.repo.ListActiveSchedule(ctx, tx, freeze.SubscriptionID)
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, entry := range entries {
		if entry.Status != ledgerdomain.ScheduleStatusPaid || entry.FreezeCompensation {
			continue
		}
		if entry.ScheduledDate.Before(freeze.StartDate) {
			continue
		}
		if freeze.EndDate != nil && !entry.ScheduledDate.Before(*freeze.EndDate) {
			continue
		}
		inserted, err := s.repo.InsertReallocation(ctx, tx, &ledgerdomain.PaymentReallocation{
			ID:              s.genID.Generate(),
			FreezeID:        freeze.ID,
			ScheduleEntryID: entry.ID,
			PaymentID:       entry.PaymentID,
			Amount:          entry.Amount,
			Reason:          reallocationReason,
			CreatedAt:       now,
		})
		if err != nil {
			return moved, err
		}
		if !inserted {
			continue
		}
		if _, err := s.repo.MarkScheduleEntryReallocated(ctx, tx, entry.ID, now); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// inject appends count pending compensation entries after the last entry
// on the schedule, one billing period apart.
func (s *Service) inject(
	ctx context.Context,
	tx *gorm.DB,
	sub *ledgerdomain.MembershipSubscription,
	freeze *ledgerdomain.MembershipFreeze,
	count int,
	now time.Time,
) error {
	if count <= 0 {
		return nil
	}
	entries, err := s.repo.ListActiveSchedule(ctx, tx, sub.ID)
	if err != nil {
		return err
	}

	var base time.Time
	offset := 1
	for _, entry := range entries {
		if entry.ScheduledDate.After(base) {
			base = entry.ScheduledDate
		}
	}
	if base.IsZero() {
		base = *freeze.EndDate
		offset = 0
	}

	for i := 0; i < count; i++ {
		freezeID := freeze.ID
		entry := &ledgerdomain.ScheduleEntry{
			ID:                 s.genID.Generate(),
			SubscriptionID:     sub.ID,
			PayerID:            sub.PayerID,
			ScheduledDate:      sub.BillingFrequency.Advance(base, i+offset),
			Amount:             sub.Amount,
			Status:             ledgerdomain.ScheduleStatusPending,
			FreezeCompensation: true,
			FreezeID:           &freezeID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.InsertScheduleEntry(ctx, tx, entry); err != nil {
			return err
		}
	}
	return nil
}

// renumber makes the active schedule contiguous. Reallocated entries keep
// their old numbers and are excluded from the count.
func (s *Service) renumber(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, now time.Time) (int, error) {
	entries, err := s.repo.ListActiveSchedule(ctx, tx, subscriptionID)
	if err != nil {
		return 0, err
	}
	active := make([]ledgerdomain.ScheduleEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Status == ledgerdomain.ScheduleStatusReallocated {
			continue
		}
		active = append(active, entry)
	}
	total := len(active)
	for i, entry := range active {
		if entry.InstallmentNumber == i+1 && entry.TotalInstallments == total {
			continue
		}
		if err := s.repo.SetScheduleNumbering(ctx, tx, entry.ID, i+1, total, now); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (s *Service) loadSubscription(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*ledgerdomain.MembershipSubscription, error) {
	sub, err := s.repo.FindSubscription(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	if sub.Status.Terminal() {
		return nil, domain.ErrSubscriptionInactive
	}
	if !sub.BillingFrequency.Valid() {
		return nil, domain.ErrInvalidSubscription
	}
	return sub, nil
}

func (s *Service) loadActiveFreeze(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*ledgerdomain.MembershipFreeze, error) {
	freeze, err := s.repo.FindFreeze(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if freeze == nil {
		return nil, domain.ErrFreezeNotFound
	}
	if freeze.Status != ledgerdomain.FreezeStatusActive {
		return nil, domain.ErrFreezeEnded
	}
	return freeze, nil
}
