package service

import (
	"time"

	"securechat/internal/models"

	"gorm.io/gorm"
)

// PresenceService 维护持久化的在线状态：在线名单与掉线清扫。
type PresenceService struct {
	db *gorm.DB
}

func NewPresenceService(db *gorm.DB) *PresenceService {
	return &PresenceService{db: db}
}

// UserDTO 是推给客户端的在线用户数据。
type UserDTO struct {
	ID        uint   `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url"`
}

// OnlineUsers 返回 is_online 且 status=active 的全部用户，按用户名排序。
func (s *PresenceService) OnlineUsers() ([]UserDTO, error) {
	var users []models.User
	err := s.db.Select("id", "username", "avatar_url").
		Where("is_online = ? AND status = ?", true, models.UserStatusActive).
		Order("username asc").Find(&users).Error
	if err != nil {
		return nil, err
	}
	out := make([]UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, UserDTO{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL})
	}
	return out, nil
}

// SweepInactive 把 last_seen 早于阈值却仍标记在线的用户翻转为离线，
// 兜底处理从未送达 disconnect 的崩溃连接。只改持久化标记，
// 不动内存中的连接表，两者到下一次 join/leave 才重新对齐。
func (s *PresenceService) SweepInactive(threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold)
	res := s.db.Model(&models.User{}).
		Where("is_online = ? AND last_seen < ?", true, cutoff).
		Update("is_online", false)
	return res.RowsAffected, res.Error
}
