package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"securechat/internal/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// CookieName 是会话 cookie 的名字，HTTP 与 WebSocket 握手共用。
const CookieName = "chat_session"

var ErrInvalidSession = errors.New("invalid session")

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func VerifyPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// NewSessionToken 生成 256 位随机会话令牌。
func NewSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateSession 为用户签发一个服务端会话并落库。
func CreateSession(db *gorm.DB, userID uint, ttl time.Duration) (string, error) {
	token, err := NewSessionToken()
	if err != nil {
		return "", err
	}
	s := models.Session{Token: token, UserID: userID, ExpiresAt: time.Now().Add(ttl)}
	if err := db.Create(&s).Error; err != nil {
		return "", err
	}
	return token, nil
}

// SessionUser 校验令牌并返回对应的用户。过期或吊销的会话返回 ErrInvalidSession。
func SessionUser(db *gorm.DB, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}
	var s models.Session
	if err := db.Where("token = ? AND expires_at > ?", token, time.Now()).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	var user models.User
	if err := db.First(&user, s.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if user.Status != models.UserStatusActive {
		return nil, ErrInvalidSession
	}
	return &user, nil
}

// DestroySession 删除会话记录，登出后令牌立即失效。
func DestroySession(db *gorm.DB, token string) error {
	return db.Where("token = ?", token).Delete(&models.Session{}).Error
}

// PurgeExpired 清理已过期的会话行，由后台定时任务调用。
func PurgeExpired(db *gorm.DB) (int64, error) {
	res := db.Where("expires_at <= ?", time.Now()).Delete(&models.Session{})
	return res.RowsAffected, res.Error
}

// Middleware 从 cookie 解析会话并把用户注入请求上下文。
func Middleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(CookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		user, err := SessionUser(db, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

// CurrentUser 取出 Middleware 注入的用户，未经过中间件时返回 nil。
func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get("user"); ok {
		if user, ok2 := v.(*models.User); ok2 {
			return user
		}
	}
	return nil
}
