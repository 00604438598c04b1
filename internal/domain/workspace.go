package domain

// WorkspaceRole is a member's role inside a workspace.
type WorkspaceRole string

const (
	RoleOwner  WorkspaceRole = "owner"
	RoleAdmin  WorkspaceRole = "admin"
	RoleMember WorkspaceRole = "member"
	RoleGuest  WorkspaceRole = "guest"

	// RoleNone marks a user outside the workspace.
	RoleNone WorkspaceRole = ""
)

// IsMember reports whether the role belongs to a workspace member.
func (r WorkspaceRole) IsMember() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleGuest:
		return true
	}
	return false
}

// IsAdmin reports whether the role may administer channels.
func (r WorkspaceRole) IsAdmin() bool {
	return r == RoleOwner || r == RoleAdmin
}

// WorkspaceMemberModel is owned by the workspace service; this service only reads it.
type WorkspaceMemberModel struct {
	WorkspaceID string `gorm:"type:varchar(36);primaryKey"`
	UserID      string `gorm:"type:varchar(36);primaryKey;index"`
	Role        string `gorm:"type:varchar(16);not null"`
}

func (WorkspaceMemberModel) TableName() string {
	return "workspace_members"
}
