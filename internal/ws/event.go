package ws

import (
	"encoding/json"
	"time"

	"securechat/internal/service"
)

// 入站事件统一信封，type 决定其余字段的含义。
type Inbound struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
}

const (
	evtJoin    = "join"
	evtMessage = "message"
	evtTyping  = "typing"

	evtHistory    = "history"
	evtUserJoined = "user_joined"
	evtUserLeft   = "user_left"
	evtUsersList  = "users_list"
	evtError      = "error"
)

func encode(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func historyEvent(msgs []service.MessageDTO) []byte {
	return encode(map[string]interface{}{"type": evtHistory, "messages": msgs})
}

func messageEvent(m *service.MessageDTO) []byte {
	return encode(map[string]interface{}{
		"type":      evtMessage,
		"id":        m.ID,
		"username":  m.Username,
		"message":   m.Message,
		"timestamp": m.Timestamp,
	})
}

func typingEvent(username string, isTyping bool) []byte {
	return encode(map[string]interface{}{"type": evtTyping, "username": username, "is_typing": isTyping})
}

// noticeEvent 生成 user_joined / user_left 系统通告。
func noticeEvent(evtType, username, text string) []byte {
	return encode(map[string]interface{}{
		"type":      evtType,
		"username":  username,
		"message":   text,
		"timestamp": time.Now(),
	})
}

func usersListEvent(users []service.UserDTO) []byte {
	return encode(map[string]interface{}{"type": evtUsersList, "users": users})
}

func errorEvent(msg string) []byte {
	return encode(map[string]interface{}{"type": evtError, "message": msg})
}
