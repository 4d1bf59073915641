package service

import (
	"errors"

	"securechat/internal/auth"
	"securechat/internal/mirror"
	"securechat/internal/models"

	"gorm.io/gorm"
)

// DefaultRoomName 是启动时惰性创建的公共房间。
const DefaultRoomName = "General"

// RoomService 封装房间与成员关系的业务逻辑。
type RoomService struct {
	db     *gorm.DB
	mirror *mirror.Store
}

func NewRoomService(db *gorm.DB, m *mirror.Store) *RoomService {
	return &RoomService{db: db, mirror: m}
}

// GetOrCreateDefault 返回默认公共房间，不存在时连同 admin 属主一并创建。
func (s *RoomService) GetOrCreateDefault() (*models.Room, error) {
	var room models.Room
	err := s.db.Where("name = ? AND type = ? AND is_active = ?",
		DefaultRoomName, models.RoomTypePublic, true).First(&room).Error
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var admin models.User
	err = s.db.Where("username = ?", "admin").First(&admin).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		hash, herr := auth.HashPassword("admin123")
		if herr != nil {
			return nil, herr
		}
		admin = models.User{
			Username:     "admin",
			Email:        "admin@securechat.local",
			PasswordHash: hash,
			Status:       models.UserStatusActive,
		}
		if cerr := s.db.Create(&admin).Error; cerr != nil {
			return nil, cerr
		}
	} else if err != nil {
		return nil, err
	}

	room = models.Room{
		Name:        DefaultRoomName,
		Description: "Default public chat room",
		Type:        models.RoomTypePublic,
		CreatedBy:   admin.ID,
		IsActive:    true,
	}
	if err := s.db.Create(&room).Error; err != nil {
		return nil, err
	}
	if s.mirror.Enabled() {
		go s.mirror.SaveRoom(room)
	}
	return &room, nil
}

// Join 确保用户在房间里有一条 active 成员记录：不存在则创建，
// 失活则复活。并发重复插入触发的唯一约束冲突按已加入处理。
func (s *RoomService) Join(userID, roomID uint) error {
	var m models.Membership
	err := s.db.Where("user_id = ? AND room_id = ?", userID, roomID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		m = models.Membership{
			UserID:   userID,
			RoomID:   roomID,
			Role:     models.RoleMember,
			IsActive: true,
		}
		if cerr := s.db.Create(&m).Error; cerr != nil {
			if errors.Is(cerr, gorm.ErrDuplicatedKey) {
				// 另一条并发 join 抢先插入，视为已加入
				return nil
			}
			return cerr
		}
		return nil
	}
	if err != nil {
		return err
	}
	if !m.IsActive {
		return s.db.Model(&m).Update("is_active", true).Error
	}
	return nil
}
