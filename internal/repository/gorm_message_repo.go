package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/pkg/database"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// GormMessageRepository implements MessageRepository using gorm.
type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

var _ MessageRepository = (*GormMessageRepository)(nil)

func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	l := log.Ctx(ctx)

	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	model := domain.MessageToModel(msg)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ch domain.ChannelModel
		if err := tx.Select("id").First(&ch, "id = ?", msg.ChannelID).Error; err != nil {
			return err
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return tx.Model(&domain.ChannelModel{}).
			Where("id = ?", msg.ChannelID).
			Updates(map[string]any{"last_message_id": model.ID, "last_active_at": now}).Error
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			l.Error().Err(err).Str(log.FieldChannelID, msg.ChannelID).Msg("failed to store message")
		}
		return translate(err, "create message")
	}

	msg.ID = model.ID
	if msg.ReadBy == nil {
		msg.ReadBy = []domain.ReadReceipt{}
	}
	return nil
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id uint64) (*domain.Message, error) {
	var model domain.MessageModel
	err := r.db.WithContext(ctx).Preload("Reads").First(&model, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("get message %d", id))
	}
	return model.ToDomain(), nil
}

func (r *GormMessageRepository) ListBefore(ctx context.Context, channelID string, before uint64, limit int) ([]*domain.Message, bool, error) {
	query := r.db.WithContext(ctx).
		Preload("Reads", func(db *gorm.DB) *gorm.DB { return db.Order("read_at ASC") }).
		Where("channel_id = ?", channelID)
	if before > 0 {
		query = query.Where("id < ?", before)
	}

	var models []domain.MessageModel
	if err := query.Order("id DESC").Limit(limit + 1).Find(&models).Error; err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldChannelID, channelID).Msg("failed to list messages")
		return nil, false, translate(err, "list messages")
	}

	hasMore := len(models) > limit
	if hasMore {
		models = models[:limit]
	}

	messages := make([]*domain.Message, len(models))
	for i := range models {
		messages[len(models)-1-i] = models[i].ToDomain()
	}
	return messages, hasMore, nil
}

func (r *GormMessageRepository) UpdateBody(ctx context.Context, id uint64, body string) (*domain.Message, error) {
	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{"body": body, "is_edited": true, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return nil, translate(result.Error, "edit message")
	}
	if result.RowsAffected == 0 {
		msg, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if msg.IsDeleted {
			return nil, fmt.Errorf("edit message %d: %w", id, domain.ErrInvalidState)
		}
	}
	return r.GetByID(ctx, id)
}

func (r *GormMessageRepository) SoftDelete(ctx context.Context, id uint64) (*domain.Message, bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{
			"body":        "",
			"attachments": database.StringArray{},
			"mentions":    database.StringArray{},
			"is_deleted":  true,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, false, translate(result.Error, "delete message")
	}

	msg, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return msg, result.RowsAffected > 0, nil
}

func (r *GormMessageRepository) AddReads(ctx context.Context, channelID, userID string, ids []uint64, at time.Time) ([]uint64, uint64, error) {
	if len(ids) == 0 {
		return nil, 0, nil
	}

	var added []uint64
	var newest uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []struct {
			ID       uint64
			SenderID string
		}
		if err := tx.Model(&domain.MessageModel{}).
			Select("id, sender_id").
			Where("channel_id = ? AND id IN ?", channelID, ids).
			Order("id ASC").
			Find(&rows).Error; err != nil {
			return err
		}

		for _, row := range rows {
			newest = row.ID
			if row.SenderID == userID {
				continue
			}
			result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.MessageReadModel{
				MessageID: row.ID,
				UserID:    userID,
				ChannelID: channelID,
				ReadAt:    at,
			})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				added = append(added, row.ID)
			}
		}
		return nil
	})
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldChannelID, channelID).Msg("failed to record reads")
		return nil, 0, translate(err, "record reads")
	}
	return added, newest, nil
}

func (r *GormMessageRepository) UnreadIDs(ctx context.Context, channelID, userID string, after, upTo uint64) ([]uint64, error) {
	query := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("channel_id = ? AND id > ? AND sender_id <> ? AND is_deleted = ?", channelID, after, userID, false)
	if upTo > 0 {
		query = query.Where("id <= ?", upTo)
	}

	var ids []uint64
	if err := query.Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, translate(err, "list unread ids")
	}
	return ids, nil
}

func (r *GormMessageRepository) LatestID(ctx context.Context, channelID string) (uint64, error) {
	var id uint64
	err := r.db.WithContext(ctx).Model(&domain.MessageModel{}).
		Where("channel_id = ?", channelID).
		Select("COALESCE(MAX(id), 0)").
		Scan(&id).Error
	if err != nil {
		return 0, translate(err, "latest message id")
	}
	return id, nil
}
