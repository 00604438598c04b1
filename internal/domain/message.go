package domain

import (
	"time"

	"github.com/weiawesome/wes-chat/pkg/database"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageSystem MessageType = "system"
	MessageFile   MessageType = "file"
)

// Valid reports whether t can be sent by a client. System messages are
// server-generated only.
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageFile
}

// ReadReceipt is one entry of a message's readBy list.
type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// Message is one chat message. Soft-deleted messages keep their row with the
// body and attachments cleared.
type Message struct {
	ID          uint64        `json:"id"`
	ChannelID   string        `json:"channel_id"`
	SenderID    string        `json:"sender_id"`
	Body        string        `json:"body"`
	Type        MessageType   `json:"type"`
	Attachments []string      `json:"attachments"`
	ReplyToID   *uint64       `json:"reply_to_id,omitempty"`
	Mentions    []string      `json:"mentions"`
	ReadBy      []ReadReceipt `json:"read_by"`
	IsEdited    bool          `json:"is_edited"`
	IsDeleted   bool          `json:"is_deleted"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SendMessageRequest is the body of POST /channels/:id/messages and the
// payload of the message:send event.
type SendMessageRequest struct {
	ChannelID   string      `json:"channel_id"`
	Body        string      `json:"body" binding:"max=4000"`
	Type        MessageType `json:"type"`
	Attachments []string    `json:"attachments"`
	ReplyToID   *uint64     `json:"reply_to_id"`
	Mentions    []string    `json:"mentions"`
}

// EditMessageRequest is the body of PATCH /messages/:id.
type EditMessageRequest struct {
	Body string `json:"body" binding:"required,max=4000"`
}

// HistoryPage is one page of channel history, oldest first.
type HistoryPage struct {
	Messages   []*Message `json:"messages"`
	HasMore    bool       `json:"has_more"`
	NextBefore *uint64    `json:"next_before,omitempty"`
}

// MessageModel is the gorm model for the messages table.
type MessageModel struct {
	ID          uint64               `gorm:"primaryKey;autoIncrement"`
	ChannelID   string               `gorm:"type:varchar(36);index;not null"`
	SenderID    string               `gorm:"type:varchar(36);index;not null"`
	Body        string               `gorm:"type:text"`
	Type        string               `gorm:"type:varchar(16);not null;default:'text'"`
	Attachments database.StringArray `gorm:"type:text"`
	ReplyToID   *uint64
	Mentions    database.StringArray `gorm:"type:text"`
	IsEdited    bool                 `gorm:"not null;default:false"`
	IsDeleted   bool                 `gorm:"not null;default:false"`
	CreatedAt   time.Time            `gorm:"autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"autoUpdateTime"`

	Reads []MessageReadModel `gorm:"foreignKey:MessageID"`
}

func (MessageModel) TableName() string {
	return "messages"
}

// MessageReadModel is one (message, reader) row; the pair is the primary key
// so a user appears at most once per message.
type MessageReadModel struct {
	MessageID uint64    `gorm:"primaryKey;autoIncrement:false"`
	UserID    string    `gorm:"type:varchar(36);primaryKey"`
	ChannelID string    `gorm:"type:varchar(36);index;not null"`
	ReadAt    time.Time `gorm:"not null"`
}

func (MessageReadModel) TableName() string {
	return "message_reads"
}

// ChannelReadStateModel holds the newest message id a user has read in a
// channel. It only moves forward.
type ChannelReadStateModel struct {
	UserID            string    `gorm:"type:varchar(36);primaryKey"`
	ChannelID         string    `gorm:"type:varchar(36);primaryKey;index"`
	LastReadMessageID uint64    `gorm:"not null;default:0"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

func (ChannelReadStateModel) TableName() string {
	return "channel_read_states"
}

// ToDomain converts the model, including any preloaded reads.
func (m *MessageModel) ToDomain() *Message {
	msg := &Message{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		SenderID:    m.SenderID,
		Body:        m.Body,
		Type:        MessageType(m.Type),
		Attachments: nonNil(m.Attachments),
		ReplyToID:   m.ReplyToID,
		Mentions:    nonNil(m.Mentions),
		ReadBy:      make([]ReadReceipt, 0, len(m.Reads)),
		IsEdited:    m.IsEdited,
		IsDeleted:   m.IsDeleted,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	for _, r := range m.Reads {
		msg.ReadBy = append(msg.ReadBy, ReadReceipt{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return msg
}

// MessageToModel converts msg for insertion.
func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:          msg.ID,
		ChannelID:   msg.ChannelID,
		SenderID:    msg.SenderID,
		Body:        msg.Body,
		Type:        string(msg.Type),
		Attachments: database.StringArray(msg.Attachments),
		ReplyToID:   msg.ReplyToID,
		Mentions:    database.StringArray(msg.Mentions),
		IsEdited:    msg.IsEdited,
		IsDeleted:   msg.IsDeleted,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}
}

func nonNil(a database.StringArray) []string {
	if a == nil {
		return []string{}
	}
	return []string(a)
}
