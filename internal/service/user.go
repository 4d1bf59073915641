package service

import (
	"errors"
	"time"

	"securechat/internal/auth"
	"securechat/internal/mirror"
	"securechat/internal/models"

	"gorm.io/gorm"
)

// UserService 封装用户注册、登录与在线状态的业务逻辑。
type UserService struct {
	db     *gorm.DB
	mirror *mirror.Store
}

func NewUserService(db *gorm.DB, m *mirror.Store) *UserService {
	return &UserService{db: db, mirror: m}
}

// Register 创建新用户。用户名与邮箱的唯一性冲突映射为类型化错误，
// 并发下的唯一约束冲突同样按已占用处理。
func (s *UserService) Register(username, email, password string) (*models.User, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}
	if err := s.db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Status:       models.UserStatusActive,
		LastSeen:     time.Now(),
	}
	if err := s.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	if s.mirror.Enabled() {
		go s.mirror.SaveUser(user)
	}
	return &user, nil
}

// Login 按用户名或邮箱查找 active 用户并校验密码，成功后标记在线。
func (s *UserService) Login(username, password string) (*models.User, error) {
	var user models.User
	err := s.db.Where("(username = ? OR email = ?) AND status = ?",
		username, username, models.UserStatusActive).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if err := s.SetOnline(user.ID, true); err != nil {
		return nil, err
	}
	user.IsOnline = true
	return &user, nil
}

// FindByUsername 按用户名查找用户，供 ws 网关在 join 时解析身份。
func (s *UserService) FindByUsername(username string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SetOnline 更新在线标记并刷新 last_seen，镜像同步为旁路写。
func (s *UserService) SetOnline(userID uint, online bool) error {
	now := time.Now()
	err := s.db.Model(&models.User{}).Where("id = ?", userID).
		Updates(map[string]interface{}{"is_online": online, "last_seen": now}).Error
	if err != nil {
		return err
	}
	if s.mirror.Enabled() {
		go s.mirror.SetUserOnline(userID, online, now)
	}
	return nil
}
