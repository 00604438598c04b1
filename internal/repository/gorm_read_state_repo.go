package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-chat/internal/domain"
)

// GormReadStateRepository implements ReadStateRepository using gorm.
type GormReadStateRepository struct {
	db *gorm.DB
}

func NewGormReadStateRepository(db *gorm.DB) *GormReadStateRepository {
	return &GormReadStateRepository{db: db}
}

var _ ReadStateRepository = (*GormReadStateRepository)(nil)

// Get returns 0 when the user has never read the channel.
func (r *GormReadStateRepository) Get(ctx context.Context, userID, channelID string) (uint64, error) {
	var model domain.ChannelReadStateModel
	err := r.db.WithContext(ctx).First(&model, "user_id = ? AND channel_id = ?", userID, channelID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, translate(err, "get read state")
	}
	return model.LastReadMessageID, nil
}

// Advance moves the watermark to messageID unless it is already past it.
func (r *GormReadStateRepository) Advance(ctx context.Context, userID, channelID string, messageID uint64) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&domain.ChannelReadStateModel{
			UserID:            userID,
			ChannelID:         channelID,
			LastReadMessageID: messageID,
			UpdatedAt:         now,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&domain.ChannelReadStateModel{}).
			Where("user_id = ? AND channel_id = ? AND last_read_message_id < ?", userID, channelID, messageID).
			Updates(map[string]any{"last_read_message_id": messageID, "updated_at": now}).Error
	})
	return translate(err, "advance read state")
}
