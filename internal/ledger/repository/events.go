package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dojopay/internal/ledger/domain"
	"gorm.io/gorm"
)

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, processorEventID string) (*domain.ProcessorEvent, error) {
	var item domain.ProcessorEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, processor_event_id, event_type, payload, received_at, processed_at
		 FROM processor_events
		 WHERE processor_event_id = ?
		 LIMIT 1`,
		processorEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.ProcessorEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO processor_events (
			id, processor_event_id, event_type, payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (processor_event_id) DO NOTHING`,
		event.ID,
		event.ProcessorEventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE processor_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}

func (r *repo) InsertCommunicationLog(ctx context.Context, db *gorm.DB, entry *domain.CommunicationLog) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO communication_logs (
			id, payer_id, type, channel, recipient, status, reference, payload, error, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (reference) DO NOTHING`,
		entry.ID,
		entry.PayerID,
		entry.Type,
		entry.Channel,
		entry.Recipient,
		entry.Status,
		entry.Reference,
		entry.Payload,
		entry.Error,
		entry.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateCommunicationStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.CommunicationStatus, errMsg *string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE communication_logs SET status = ?, error = ? WHERE id = ?`,
		status,
		errMsg,
		id,
	).Error
}
