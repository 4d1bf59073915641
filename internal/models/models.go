package models

import "time"

// 枚举值直接存为字符串，与数据库列保持一致。
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
	UserStatusBanned   = "banned"

	RoomTypePublic  = "public"
	RoomTypePrivate = "private"
	RoomTypeDirect  = "direct"

	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeFile   = "file"
	MessageTypeSystem = "system"

	RoleMember    = "member"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:50;not null"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string `gorm:"not null"`
	AvatarURL    string `gorm:"type:text"`
	Status       string `gorm:"size:16;default:active;index"`
	IsOnline     bool   `gorm:"default:false;index"`
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"index;size:100;not null"`
	Description string `gorm:"type:text"`
	Type        string `gorm:"size:16;default:public;index"`
	CreatedBy   uint   `gorm:"index;not null"`
	IsActive    bool   `gorm:"default:true;index"`
	MaxMembers  *int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Message struct {
	ID        uint   `gorm:"primaryKey"`
	Content   string `gorm:"type:text;not null"`
	Type      string `gorm:"size:16;default:text;index"`
	UserID    uint   `gorm:"index;not null"`
	RoomID    uint   `gorm:"index:idx_msg_room;not null"`
	ReplyToID *uint  `gorm:"index"`
	EditedAt  *time.Time
	IsDeleted bool      `gorm:"default:false;index"`
	MirrorID  string    `gorm:"size:255"`
	CreatedAt time.Time `gorm:"index"`
}

// Membership 记录用户与房间的多对多关系，(user_id, room_id) 唯一，
// 重新加入时复用并激活已有记录。
type Membership struct {
	ID                uint   `gorm:"primaryKey"`
	UserID            uint   `gorm:"uniqueIndex:idx_member_user_room;not null"`
	RoomID            uint   `gorm:"uniqueIndex:idx_member_user_room;not null"`
	Role              string `gorm:"size:16;default:member"`
	IsActive          bool   `gorm:"default:true;index"`
	LastReadMessageID *uint
	JoinedAt          time.Time `gorm:"autoCreateTime"`
}

// Session 是服务端会话记录，cookie 里只存 token。
type Session struct {
	ID        uint      `gorm:"primaryKey"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	UserID    uint      `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}
