package service

import (
	"time"

	"securechat/internal/mirror"
	"securechat/internal/models"

	"gorm.io/gorm"
)

// MessageService 封装消息持久化与历史回放。
type MessageService struct {
	db     *gorm.DB
	mirror *mirror.Store
}

func NewMessageService(db *gorm.DB, m *mirror.Store) *MessageService {
	return &MessageService{db: db, mirror: m}
}

// MessageDTO 是推给客户端的消息数据。
type MessageDTO struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Create 持久化一条文本消息并返回带作者名的 DTO。
// 镜像写入是旁路的 fire-and-forget：成功时回填 mirror_id，失败只记日志。
func (s *MessageService) Create(userID, roomID uint, content string) (*MessageDTO, error) {
	msg := models.Message{
		Content: content,
		Type:    models.MessageTypeText,
		UserID:  userID,
		RoomID:  roomID,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, err
	}
	var user models.User
	if err := s.db.Select("id", "username").First(&user, userID).Error; err != nil {
		return nil, err
	}
	if s.mirror.Enabled() {
		go func(m models.Message, uname string) {
			if docID := s.mirror.SaveMessage(m, uname); docID != "" {
				s.db.Model(&models.Message{}).Where("id = ?", m.ID).Update("mirror_id", docID)
			}
		}(msg, user.Username)
	}
	return &MessageDTO{ID: msg.ID, Username: user.Username, Message: msg.Content, Timestamp: msg.CreatedAt}, nil
}

// Recent 返回房间最近 limit 条未删除消息，按 created_at、id 升序，
// 附带作者用户名。
func (s *MessageService) Recent(roomID uint, limit int) ([]MessageDTO, error) {
	if limit <= 0 {
		limit = 100
	}
	var msgs []models.Message
	err := s.db.Where("room_id = ? AND is_deleted = ?", roomID, false).
		Order("created_at desc, id desc").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	// 查询取的是最新一段，反转为升序回放
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	usernames, err := s.resolveUsernames(msgs)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			ID:        m.ID,
			Username:  usernames[m.UserID],
			Message:   m.Content,
			Timestamp: m.CreatedAt,
		})
	}
	return out, nil
}

// resolveUsernames 批量获取消息涉及的用户名。
func (s *MessageService) resolveUsernames(msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		userIDs = append(userIDs, m.UserID)
	}
	usernames := make(map[uint]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.Select("id", "username").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, err
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}
	return usernames, nil
}
