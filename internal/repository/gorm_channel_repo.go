package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// GormChannelRepository implements ChannelRepository using gorm.
type GormChannelRepository struct {
	db *gorm.DB
}

func NewGormChannelRepository(db *gorm.DB) *GormChannelRepository {
	return &GormChannelRepository{db: db}
}

var _ ChannelRepository = (*GormChannelRepository)(nil)

// Create assigns the id and timestamps, then inserts the channel and its
// members in one transaction.
func (r *GormChannelRepository) Create(ctx context.Context, ch *domain.Channel) error {
	l := log.Ctx(ctx)

	now := time.Now().UTC()
	ch.ID = uuid.New().String()
	ch.CreatedAt = now
	ch.UpdatedAt = now
	ch.LastActiveAt = now
	model := domain.ChannelToModel(ch)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if model.PublicSlot != nil {
			taken, err := slotTaken(tx, "public_slot", *model.PublicSlot)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("workspace %s already has a public channel: %w", ch.WorkspaceID, domain.ErrInvalidState)
			}
		}
		if model.DirectKey != nil {
			taken, err := slotTaken(tx, "direct_key", *model.DirectKey)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("direct channel already exists: %w", domain.ErrInvalidState)
			}
		}

		if err := tx.Create(model).Error; err != nil {
			return err
		}

		if len(ch.Members) == 0 {
			return nil
		}
		members := make([]domain.ChannelMemberModel, len(ch.Members))
		for i, userID := range ch.Members {
			members[i] = domain.ChannelMemberModel{ChannelID: ch.ID, UserID: userID, JoinedAt: now}
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return err
		}
		l.Error().Err(err).Str(log.FieldWorkspaceID, ch.WorkspaceID).Msg("failed to create channel")
		return translate(err, "create channel")
	}

	l.Debug().Str(log.FieldChannelID, ch.ID).Str("kind", string(ch.Kind)).Msg("channel created in db")
	return nil
}

// slotTaken reports whether a channel already holds value in a unique column.
// The unique index still guards concurrent inserts.
func slotTaken(tx *gorm.DB, column, value string) (bool, error) {
	var n int64
	if err := tx.Model(&domain.ChannelModel{}).Where(column+" = ?", value).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *GormChannelRepository) FindDirect(ctx context.Context, workspaceID, a, b string) (*domain.Channel, error) {
	var model domain.ChannelModel
	err := r.db.WithContext(ctx).
		Preload("Members").
		First(&model, "direct_key = ?", domain.DirectKey(workspaceID, a, b)).Error
	if err != nil {
		return nil, translate(err, "find direct channel")
	}
	return model.ToDomain(), nil
}

func (r *GormChannelRepository) GetByID(ctx context.Context, id string) (*domain.Channel, error) {
	var model domain.ChannelModel
	err := r.db.WithContext(ctx).Preload("Members").First(&model, "id = ?", id).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			l := log.Ctx(ctx)
			l.Error().Err(err).Str(log.FieldChannelID, id).Msg("failed to get channel")
		}
		return nil, translate(err, "get channel "+id)
	}
	return model.ToDomain(), nil
}

func (r *GormChannelRepository) ListForUser(ctx context.Context, workspaceID, userID string) ([]*domain.Channel, error) {
	db := r.db.WithContext(ctx)
	memberOf := db.Model(&domain.ChannelMemberModel{}).Select("channel_id").Where("user_id = ?", userID)

	var models []domain.ChannelModel
	err := db.Preload("Members").
		Where("workspace_id = ?", workspaceID).
		Where(db.Where("kind = ?", string(domain.ChannelPublic)).Or("id IN (?)", memberOf)).
		Order("last_active_at DESC").
		Find(&models).Error
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldWorkspaceID, workspaceID).Msg("failed to list channels")
		return nil, translate(err, "list channels")
	}

	channels := make([]*domain.Channel, len(models))
	for i := range models {
		channels[i] = models[i].ToDomain()
	}
	return channels, nil
}

func (r *GormChannelRepository) Update(ctx context.Context, id string, name, description *string) (*domain.Channel, error) {
	updates := map[string]any{}
	if name != nil {
		updates["name"] = *name
	}
	if description != nil {
		updates["description"] = *description
	}

	if len(updates) > 0 {
		result := r.db.WithContext(ctx).Model(&domain.ChannelModel{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return nil, translate(result.Error, "update channel")
		}
		if result.RowsAffected == 0 {
			return nil, fmt.Errorf("update channel %s: %w", id, domain.ErrNotFound)
		}
	}
	return r.GetByID(ctx, id)
}

func (r *GormChannelRepository) AddMember(ctx context.Context, channelID, userID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&domain.ChannelMemberModel{ChannelID: channelID, UserID: userID, JoinedAt: time.Now().UTC()})
	if result.Error != nil {
		return false, translate(result.Error, "add member")
	}
	return result.RowsAffected > 0, nil
}

func (r *GormChannelRepository) RemoveMember(ctx context.Context, channelID, userID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Delete(&domain.ChannelMemberModel{})
	if result.Error != nil {
		return false, translate(result.Error, "remove member")
	}
	return result.RowsAffected > 0, nil
}

func (r *GormChannelRepository) Delete(ctx context.Context, id string) error {
	l := log.Ctx(ctx)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		steps := []struct {
			model any
			where string
		}{
			{&domain.MessageReadModel{}, "channel_id = ?"},
			{&domain.MessageModel{}, "channel_id = ?"},
			{&domain.ChannelReadStateModel{}, "channel_id = ?"},
			{&domain.ChannelMemberModel{}, "channel_id = ?"},
		}
		for _, s := range steps {
			if err := tx.Where(s.where, id).Delete(s.model).Error; err != nil {
				return err
			}
		}

		result := tx.Where("id = ?", id).Delete(&domain.ChannelModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			l.Error().Err(err).Str(log.FieldChannelID, id).Msg("failed to delete channel")
		}
		return translate(err, "delete channel "+id)
	}

	l.Debug().Str(log.FieldChannelID, id).Msg("channel and messages purged")
	return nil
}
