package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"securechat/internal/auth"
	"securechat/internal/config"
	"securechat/internal/db"
	"securechat/internal/models"
	"securechat/internal/service"
	"securechat/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Config{Env: "dev", StaticDir: t.TempDir(), SessionTTLHours: 24, HistoryLimit: 100}
	users := service.NewUserService(gdb, nil)
	rooms := service.NewRoomService(gdb, nil)
	messages := service.NewMessageService(gdb, nil)
	presence := service.NewPresenceService(gdb)
	room, err := rooms.GetOrCreateDefault()
	if err != nil {
		t.Fatalf("default room: %v", err)
	}
	gw := ws.NewGateway(ws.NewHub(), gdb, users, rooms, messages, presence, *room, cfg.HistoryLimit)
	h := NewHandler(gdb, users, presence, cfg)
	return SetupRouter(cfg, h, gw), gdb
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode response %s: %v", w.Body.String(), err)
	}
	return m
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", auth.CookieName)
	return nil
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", w.Code)
	}
}

func TestRegister(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"username": "alice", "email": "alice@x.com", "password": "secret1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d, want 201: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["username"] != "alice" {
		t.Errorf("username = %v, want alice", resp["username"])
	}
	ck := sessionCookie(t, w)
	if ck.Value == "" || !ck.HttpOnly {
		t.Errorf("session cookie = %+v, want non-empty HttpOnly", ck)
	}

	// registering again with the same name must conflict
	w = doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"username": "alice", "email": "other@x.com", "password": "secret1"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate username = %d, want 409", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"username": "alice2", "email": "alice@x.com", "password": "secret1"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate email = %d, want 409", w.Code)
	}
}

func TestRegister_Validation(t *testing.T) {
	r, _ := newTestRouter(t)
	cases := []struct {
		name string
		body gin.H
	}{
		{"missing fields", gin.H{"username": "alice"}},
		{"short username", gin.H{"username": "ab", "email": "a@x.com", "password": "secret1"}},
		{"bad email", gin.H{"username": "alice", "email": "not-an-email", "password": "secret1"}},
		{"short password", gin.H{"username": "alice", "email": "a@x.com", "password": "12345"}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/register", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("register = %d, want 400: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestLogin(t *testing.T) {
	r, _ := newTestRouter(t)
	doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"username": "alice", "email": "alice@x.com", "password": "secret1"})

	w := doJSON(t, r, http.MethodPost, "/api/login", gin.H{"username": "alice", "password": "secret1"})
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d, want 200: %s", w.Code, w.Body.String())
	}
	sessionCookie(t, w)

	// email works as the login identifier too
	w = doJSON(t, r, http.MethodPost, "/api/login", gin.H{"username": "alice@x.com", "password": "secret1"})
	if w.Code != http.StatusOK {
		t.Errorf("login by email = %d, want 200", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/api/login", gin.H{"username": "alice", "password": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/api/login", gin.H{"username": "nobody", "password": "secret1"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unknown user = %d, want 401", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/api/login", gin.H{"username": "alice"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing password = %d, want 400", w.Code)
	}
}

func TestSession(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("session = %d, want 200", w.Code)
	}
	if resp := decode(t, w); resp["authenticated"] != false {
		t.Errorf("anonymous session authenticated = %v, want false", resp["authenticated"])
	}

	reg := doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"username": "alice", "email": "alice@x.com", "password": "secret1"})
	ck := sessionCookie(t, reg)

	w = doJSON(t, r, http.MethodGet, "/api/session", nil, ck)
	resp := decode(t, w)
	if resp["authenticated"] != true {
		t.Fatalf("authenticated = %v, want true: %s", resp["authenticated"], w.Body.String())
	}
	user, _ := resp["user"].(map[string]interface{})
	if user["username"] != "alice" || user["email"] != "alice@x.com" {
		t.Errorf("session user = %v, want alice", user)
	}

	w = doJSON(t, r, http.MethodGet, "/api/session", nil,
		&http.Cookie{Name: auth.CookieName, Value: "bogus"})
	if resp := decode(t, w); resp["authenticated"] != false {
		t.Errorf("bogus token authenticated = %v, want false", resp["authenticated"])
	}
}

func TestLogout(t *testing.T) {
	r, gdb := newTestRouter(t)
	reg := doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"username": "alice", "email": "alice@x.com", "password": "secret1"})
	ck := sessionCookie(t, reg)

	w := doJSON(t, r, http.MethodPost, "/api/logout", nil, ck)
	if w.Code != http.StatusOK {
		t.Fatalf("logout = %d, want 200: %s", w.Code, w.Body.String())
	}

	// the session is gone server-side, not just the cookie
	if _, err := auth.SessionUser(gdb, ck.Value); err == nil {
		t.Error("session still valid after logout")
	}
	w = doJSON(t, r, http.MethodGet, "/api/session", nil, ck)
	if resp := decode(t, w); resp["authenticated"] != false {
		t.Errorf("authenticated after logout = %v, want false", resp["authenticated"])
	}

	// logging out without a session is fine
	w = doJSON(t, r, http.MethodPost, "/api/logout", nil)
	if w.Code != http.StatusOK {
		t.Errorf("anonymous logout = %d, want 200", w.Code)
	}
}

func TestOnlineUsers(t *testing.T) {
	r, gdb := newTestRouter(t)

	w := doJSON(t, r, http.MethodGet, "/api/users/online", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous online list = %d, want 401", w.Code)
	}

	reg := doJSON(t, r, http.MethodPost, "/api/register",
		gin.H{"username": "alice", "email": "alice@x.com", "password": "secret1"})
	ck := sessionCookie(t, reg)
	gdb.Model(&models.User{}).Where("username = ?", "alice").Update("is_online", true)

	w = doJSON(t, r, http.MethodGet, "/api/users/online", nil, ck)
	if w.Code != http.StatusOK {
		t.Fatalf("online list = %d, want 200: %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["me"] != "alice" {
		t.Errorf("me = %v, want alice", resp["me"])
	}
	users, _ := resp["users"].([]interface{})
	if len(users) != 1 {
		t.Fatalf("online users = %v, want just alice", users)
	}
	first, _ := users[0].(map[string]interface{})
	if first["username"] != "alice" {
		t.Errorf("online user = %v, want alice", first)
	}
}

func TestWsRequiresSession(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodGet, "/ws", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET /ws without session = %d, want 401", w.Code)
	}
}
