package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/clock"
	ledgerdomain "github.com/smallbiznis/dojopay/internal/ledger/domain"
	"github.com/smallbiznis/dojopay/internal/notification/domain"
	"github.com/smallbiznis/dojopay/internal/notification/email"
	obslogger "github.com/smallbiznis/dojopay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/dojopay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    ledgerdomain.Repository
	Email   email.Provider
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    ledgerdomain.Repository
	email   email.Provider
	metrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Dispatcher {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("notification.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		email:   p.Email,
		metrics: p.Metrics,
	}
}

// Notify logs the message to communication_logs and sends it by email.
// Delivery failures are recorded on the log row and returned as
// ErrDeliveryFailed.
func (s *Service) Notify(ctx context.Context, n domain.Notification) (domain.Result, error) {
	if n.Type == "" || n.PayerID == 0 {
		return domain.Result{}, domain.ErrInvalidNotification
	}

	payer, err := s.repo.FindPayer(ctx, s.db, n.PayerID)
	if err != nil {
		return domain.Result{}, err
	}
	if payer == nil {
		return domain.Result{}, domain.ErrPayerNotFound
	}

	data := make(map[string]any, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	if _, ok := data["name"]; !ok {
		data["name"] = payer.Name
	}

	entry := &ledgerdomain.CommunicationLog{
		ID:        s.genID.Generate(),
		PayerID:   &payer.ID,
		Type:      string(n.Type),
		Channel:   domain.ChannelEmail,
		Recipient: payer.Email,
		Status:    ledgerdomain.CommunicationStatusQueued,
		Payload:   datatypes.JSONMap(data),
		CreatedAt: s.clock.Now(),
	}
	if ref := strings.TrimSpace(n.Reference); ref != "" {
		entry.Reference = &ref
	}

	inserted, err := s.repo.InsertCommunicationLog(ctx, s.db, entry)
	if err != nil {
		return domain.Result{}, err
	}
	if !inserted {
		s.metrics.RecordNotification(ctx, string(n.Type), string(domain.StatusDuplicate))
		return domain.Result{Status: domain.StatusDuplicate}, nil
	}

	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("notification_type", string(n.Type)),
		zap.String("communication_log_id", entry.ID.String()),
	)

	sendErr := s.email.SendTemplate(ctx, []string{payer.Email}, string(n.Type), data)
	if sendErr != nil {
		msg := sendErr.Error()
		if err := s.repo.UpdateCommunicationStatus(ctx, s.db, entry.ID, ledgerdomain.CommunicationStatusFailed, &msg); err != nil {
			return domain.Result{}, errors.Join(err, sendErr)
		}
		s.metrics.RecordNotification(ctx, string(n.Type), string(domain.StatusFailed))
		log.Warn("notification.send_failed", zap.Error(sendErr))
		return domain.Result{LogID: entry.ID, Status: domain.StatusFailed}, fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, sendErr)
	}

	if err := s.repo.UpdateCommunicationStatus(ctx, s.db, entry.ID, ledgerdomain.CommunicationStatusSent, nil); err != nil {
		return domain.Result{}, err
	}
	s.metrics.RecordNotification(ctx, string(n.Type), string(domain.StatusSent))
	log.Info("notification.sent")
	return domain.Result{LogID: entry.ID, Status: domain.StatusSent}, nil
}
