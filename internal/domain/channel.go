package domain

import (
	"sort"
	"strings"
	"time"
)

// ChannelKind is the visibility class of a channel.
type ChannelKind string

const (
	ChannelPublic  ChannelKind = "public"
	ChannelPrivate ChannelKind = "private"
	ChannelDirect  ChannelKind = "direct"
)

// Valid reports whether k is a known kind.
func (k ChannelKind) Valid() bool {
	return k == ChannelPublic || k == ChannelPrivate || k == ChannelDirect
}

// DirectMemberCount is the fixed size of a direct channel.
const DirectMemberCount = 2

// Channel is a named conversation scope inside a workspace.
type Channel struct {
	ID            string      `json:"id"`
	WorkspaceID   string      `json:"workspace_id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Kind          ChannelKind `json:"kind"`
	CreatorID     string      `json:"creator_id"`
	ProjectID     *string     `json:"project_id,omitempty"`
	Members       []string    `json:"members,omitempty"`
	LastMessageID *uint64     `json:"last_message_id,omitempty"`
	LastActiveAt  time.Time   `json:"last_active_at"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// HasMember reports whether userID is in the stored member set.
func (c *Channel) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// CreateChannelRequest is the body of POST /channels.
type CreateChannelRequest struct {
	WorkspaceID string      `json:"workspace_id" binding:"required"`
	Name        string      `json:"name" binding:"max=80"`
	Description string      `json:"description" binding:"max=500"`
	Kind        ChannelKind `json:"kind" binding:"required"`
	Members     []string    `json:"members"`
	ProjectID   *string     `json:"project_id"`
}

// UpdateChannelRequest is the body of PATCH /channels/:id.
type UpdateChannelRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=1,max=80"`
	Description *string `json:"description" binding:"omitempty,max=500"`
}

// DirectChannelRequest is the body of POST /channels/direct.
type DirectChannelRequest struct {
	WorkspaceID string `json:"workspace_id" binding:"required"`
	UserID      string `json:"user_id" binding:"required"`
}

// MemberRequest is the body of the member add/remove routes.
type MemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// ChannelModel is the gorm model for the channels table.
type ChannelModel struct {
	ID            string  `gorm:"type:varchar(36);primaryKey"`
	WorkspaceID   string  `gorm:"type:varchar(36);index;not null"`
	Name          string  `gorm:"type:varchar(80);not null"`
	Description   string  `gorm:"type:text"`
	Kind          string  `gorm:"type:varchar(16);not null"`
	CreatorID     string  `gorm:"type:varchar(36);not null"`
	ProjectID     *string `gorm:"type:varchar(36)"`
	PublicSlot    *string `gorm:"type:varchar(36);uniqueIndex"`
	DirectKey     *string `gorm:"type:varchar(120);uniqueIndex"`
	LastMessageID *uint64
	LastActiveAt  time.Time `gorm:"index"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`

	Members []ChannelMemberModel `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE"`
}

func (ChannelModel) TableName() string {
	return "channels"
}

// ChannelMemberModel is one row of the channel_members table.
type ChannelMemberModel struct {
	ChannelID string    `gorm:"type:varchar(36);primaryKey"`
	UserID    string    `gorm:"type:varchar(36);primaryKey;index"`
	JoinedAt  time.Time `gorm:"autoCreateTime"`
}

func (ChannelMemberModel) TableName() string {
	return "channel_members"
}

// ToDomain converts the model, including any preloaded members.
func (m *ChannelModel) ToDomain() *Channel {
	ch := &Channel{
		ID:            m.ID,
		WorkspaceID:   m.WorkspaceID,
		Name:          m.Name,
		Description:   m.Description,
		Kind:          ChannelKind(m.Kind),
		CreatorID:     m.CreatorID,
		ProjectID:     m.ProjectID,
		LastMessageID: m.LastMessageID,
		LastActiveAt:  m.LastActiveAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if len(m.Members) > 0 {
		ch.Members = make([]string, len(m.Members))
		for i, mm := range m.Members {
			ch.Members[i] = mm.UserID
		}
		sort.Strings(ch.Members)
	}
	return ch
}

// ChannelToModel converts c and derives the uniqueness slots from its kind.
func ChannelToModel(c *Channel) *ChannelModel {
	m := &ChannelModel{
		ID:            c.ID,
		WorkspaceID:   c.WorkspaceID,
		Name:          c.Name,
		Description:   c.Description,
		Kind:          string(c.Kind),
		CreatorID:     c.CreatorID,
		ProjectID:     c.ProjectID,
		LastMessageID: c.LastMessageID,
		LastActiveAt:  c.LastActiveAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
	switch c.Kind {
	case ChannelPublic:
		slot := c.WorkspaceID
		m.PublicSlot = &slot
	case ChannelDirect:
		if len(c.Members) == DirectMemberCount {
			key := DirectKey(c.WorkspaceID, c.Members[0], c.Members[1])
			m.DirectKey = &key
		}
	}
	return m
}

// DirectKey identifies the direct channel of an unordered user pair.
func DirectKey(workspaceID, a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strings.Join([]string{workspaceID, a, b}, "|")
}
