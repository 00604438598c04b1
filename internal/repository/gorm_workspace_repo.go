package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-chat/internal/domain"
)

// GormWorkspaceDirectory reads the workspace_members table.
type GormWorkspaceDirectory struct {
	db *gorm.DB
}

func NewGormWorkspaceDirectory(db *gorm.DB) *GormWorkspaceDirectory {
	return &GormWorkspaceDirectory{db: db}
}

var _ WorkspaceDirectory = (*GormWorkspaceDirectory)(nil)

func (r *GormWorkspaceDirectory) Role(ctx context.Context, workspaceID, userID string) (domain.WorkspaceRole, error) {
	var model domain.WorkspaceMemberModel
	err := r.db.WithContext(ctx).First(&model, "workspace_id = ? AND user_id = ?", workspaceID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.RoleNone, nil
	}
	if err != nil {
		return domain.RoleNone, translate(err, "workspace role")
	}
	return domain.WorkspaceRole(model.Role), nil
}

func (r *GormWorkspaceDirectory) Members(ctx context.Context, workspaceID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.WorkspaceMemberModel{}).
		Where("workspace_id = ?", workspaceID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, translate(err, "workspace members")
	}
	return ids, nil
}

// AddMember upserts a workspace membership. Used by seeding tools and tests;
// workspace administration itself lives elsewhere.
func (r *GormWorkspaceDirectory) AddMember(ctx context.Context, workspaceID, userID string, role domain.WorkspaceRole) error {
	err := r.db.WithContext(ctx).Save(&domain.WorkspaceMemberModel{
		WorkspaceID: workspaceID,
		UserID:      userID,
		Role:        string(role),
	}).Error
	return translate(err, "add workspace member")
}
