// Package mirror 将主库写入的数据尽力同步到 MongoDB 镜像库。
// 镜像永远不在请求路径上被读取，任何失败只记日志，不向上传播。
package mirror

import (
	"context"
	"time"

	"securechat/internal/models"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	db      *mongo.Database
	timeout time.Duration
}

// Connect 建立 MongoDB 连接。uri 为空时返回 nil Store，所有写入变为 no-op。
func Connect(uri, dbName string) (*Store, error) {
	if uri == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(10*time.Second))
	if err != nil {
		return nil, err
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, err
	}
	return &Store{db: client.Database(dbName), timeout: 5 * time.Second}, nil
}

// Enabled 对 nil 接收者安全，调用方无需判空。
func (s *Store) Enabled() bool { return s != nil && s.db != nil }

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// SaveUser 以 user_id 为键 upsert 用户文档。
func (s *Store) SaveUser(u models.User) {
	if !s.Enabled() {
		return
	}
	ctx, cancel := s.ctx()
	defer cancel()
	doc := bson.M{
		"user_id":   u.ID,
		"username":  u.Username,
		"email":     u.Email,
		"status":    u.Status,
		"is_online": u.IsOnline,
		"last_seen": u.LastSeen,
	}
	_, err := s.db.Collection("users").UpdateOne(ctx,
		bson.M{"user_id": u.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true))
	if err != nil {
		log.Warn().Err(err).Uint("user_id", u.ID).Msg("mirror save user")
	}
}

// SetUserOnline 同步在线标记与 last_seen。
func (s *Store) SetUserOnline(userID uint, online bool, lastSeen time.Time) {
	if !s.Enabled() {
		return
	}
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.db.Collection("users").UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{"is_online": online, "last_seen": lastSeen}})
	if err != nil {
		log.Warn().Err(err).Uint("user_id", userID).Msg("mirror set online")
	}
}

// SaveRoom 以 room_id 为键 upsert 房间文档。
func (s *Store) SaveRoom(r models.Room) {
	if !s.Enabled() {
		return
	}
	ctx, cancel := s.ctx()
	defer cancel()
	doc := bson.M{
		"room_id":     r.ID,
		"name":        r.Name,
		"description": r.Description,
		"type":        r.Type,
		"created_by":  r.CreatedBy,
		"is_active":   r.IsActive,
	}
	_, err := s.db.Collection("rooms").UpdateOne(ctx,
		bson.M{"room_id": r.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true))
	if err != nil {
		log.Warn().Err(err).Uint("room_id", r.ID).Msg("mirror save room")
	}
}

// SaveMessage 写入消息文档，成功时返回镜像文档 id 供主库回填。
func (s *Store) SaveMessage(m models.Message, username string) string {
	if !s.Enabled() {
		return ""
	}
	ctx, cancel := s.ctx()
	defer cancel()
	doc := bson.M{
		"message_id": m.ID,
		"content":    m.Content,
		"type":       m.Type,
		"user_id":    m.UserID,
		"room_id":    m.RoomID,
		"username":   username,
		"created_at": m.CreatedAt,
	}
	res, err := s.db.Collection("messages").InsertOne(ctx, doc)
	if err != nil {
		log.Warn().Err(err).Uint("message_id", m.ID).Msg("mirror save message")
		return ""
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return ""
}
