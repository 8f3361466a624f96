package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hermes/server/internal/config"
	"hermes/server/internal/dispatcher"
	"hermes/server/internal/events"
	"hermes/server/internal/guard"
	"hermes/server/internal/handlers"
	"hermes/server/internal/metrics"
	"hermes/server/internal/presence"
	"hermes/server/internal/routes"
	"hermes/server/internal/store/memory"
	"hermes/server/internal/typing"
	"hermes/server/internal/utils"
	ws "hermes/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testServer struct {
	app     *fiber.App
	store   *memory.Store
	hub     *ws.Hub
	wsCfg   config.WSConfig
	jwt     *utils.JWTManager
	uploads string
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	log := zap.NewNop()
	s := memory.New()
	m := metrics.New()
	tracker := presence.NewMemory()
	hub := ws.NewHub(tracker, s, m, log)
	g := guard.New(s)
	d := dispatcher.New(s, g, hub, nil, m, log)
	relay := typing.NewRelay(g, hub, m, log)
	wsCfg := config.WSConfig{
		PingInterval: time.Minute, PongWait: time.Minute, WriteWait: time.Second,
		MaxMessageBytes: 4096, SendBuffer: 8, EventsPerSecond: 10, Burst: 10,
	}
	jwt := utils.NewJWTManager("test-secret", time.Minute, time.Hour)
	uploads := t.TempDir()

	h := handlers.New(handlers.Deps{
		Store:      s,
		Dispatcher: d,
		Hub:        hub,
		Gateway:    ws.NewGateway(hub, d, relay, g, wsCfg, m, log),
		Presence:   tracker,
		JWT:        jwt,
		Uploads:    config.UploadsConfig{Dir: uploads, MaxAvatarBytes: 1 << 20, AvatarSize: 32},
		Log:        log,
	})
	app := fiber.New()
	routes.Setup(app, h, jwt, routes.Options{UploadsDir: uploads, Users: s, Metrics: m.Handler()})
	return &testServer{app: app, store: s, hub: hub, wsCfg: wsCfg, jwt: jwt, uploads: uploads}
}

func (ts *testServer) token(t *testing.T, username string) string {
	t.Helper()
	var since time.Time
	if u, err := ts.store.GetUser(context.Background(), username); err == nil {
		since = u.CreatedAt
	}
	tok, err := ts.jwt.GenerateToken(username, since)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) send(t *testing.T, req *http.Request, as string) (int, response) {
	t.Helper()
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, as))
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out response
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (ts *testServer) do(t *testing.T, method, path, as string, body any) (int, response) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	return ts.send(t, req, as)
}

func (ts *testServer) seed(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		_, err := ts.store.CreateUser(context.Background(), n, "hash")
		require.NoError(t, err)
	}
}

func decode[T any](t *testing.T, r response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newServer(t)
	creds := map[string]string{"username": "alice", "password": "secret1"}

	status, _ := ts.do(t, http.MethodPost, "/register", "", creds)
	assert.Equal(t, fiber.StatusCreated, status)

	status, res := ts.do(t, http.MethodPost, "/register", "", creds)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "ALREADY_EXISTS", res.Code)

	status, _ = ts.do(t, http.MethodPost, "/register", "", map[string]string{"username": "group_x", "password": "secret1"})
	assert.Equal(t, fiber.StatusBadRequest, status)

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"alice","password":"secret1"}`))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	var names []string
	for _, ck := range resp.Cookies() {
		names = append(names, ck.Name)
	}
	assert.ElementsMatch(t, []string{"token", "refresh_token"}, names)

	status, res = ts.do(t, http.MethodPost, "/login", "", map[string]string{"username": "alice", "password": "wrong!!"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.False(t, res.Success)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newServer(t)
	status, res := ts.do(t, http.MethodGet, "/me", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", res.Code)
}

func TestFriendRequestFlow(t *testing.T) {
	ts := newServer(t)
	ts.seed(t, "alice", "bob")
	body := map[string]string{"sender": "alice", "receiver": "bob"}

	status, _ := ts.do(t, http.MethodPost, "/send-friend-request", "bob", body)
	assert.Equal(t, fiber.StatusForbidden, status, "only the sender may send")

	status, _ = ts.do(t, http.MethodPost, "/send-friend-request", "alice", body)
	assert.Equal(t, fiber.StatusCreated, status)

	status, res := ts.do(t, http.MethodGet, "/friend-requests/bob", "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, decode[[]map[string]any](t, res), 1)

	status, _ = ts.do(t, http.MethodPost, "/accept-friend-request", "alice", body)
	assert.Equal(t, fiber.StatusForbidden, status, "only the receiver may accept")

	status, _ = ts.do(t, http.MethodPost, "/accept-friend-request", "bob", body)
	assert.Equal(t, fiber.StatusOK, status)

	status, res = ts.do(t, http.MethodGet, "/friends/alice", "alice", nil)
	require.Equal(t, fiber.StatusOK, status)
	friends := decode[[]map[string]any](t, res)
	require.Len(t, friends, 1)
	assert.Equal(t, "bob", friends[0]["username"])

	status, _ = ts.do(t, http.MethodDelete, "/friends/bob/alice", "bob", nil)
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = ts.do(t, http.MethodDelete, "/friends/bob/alice", "bob", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestDirectMessages(t *testing.T) {
	ts := newServer(t)
	ts.seed(t, "alice", "bob", "carol")
	require.NoError(t, ts.store.AddFriend(context.Background(), "alice", "bob"))

	status, res := ts.do(t, http.MethodPost, "/message", "alice",
		map[string]string{"sender": "alice", "receiver": "carol", "content": "hi"})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "PERMISSION_DENIED", res.Code)

	status, _ = ts.do(t, http.MethodPost, "/message", "carol",
		map[string]string{"sender": "alice", "receiver": "bob", "content": "spoof"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, res = ts.do(t, http.MethodPost, "/message", "alice",
		map[string]string{"sender": "alice", "receiver": "bob", "content": "hi bob"})
	require.Equal(t, fiber.StatusCreated, status)
	sent := decode[map[string]any](t, res)

	status, _ = ts.do(t, http.MethodGet, "/messages/alice/bob", "carol", nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, res = ts.do(t, http.MethodGet, "/messages/bob/alice", "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	history := decode[[]map[string]any](t, res)
	require.Len(t, history, 1)
	assert.Equal(t, "hi bob", history[0]["content"])

	id := sent["id"].(string)
	status, _ = ts.do(t, http.MethodDelete, "/message/"+id, "bob", nil)
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = ts.do(t, http.MethodDelete, "/message/"+id, "alice", map[string]string{"username": "alice"})
	assert.Equal(t, fiber.StatusOK, status)
}

func TestGroups(t *testing.T) {
	ts := newServer(t)
	ts.seed(t, "alice", "bob", "carol")

	status, res := ts.do(t, http.MethodPost, "/create-group", "alice",
		map[string]any{"groupName": "trip", "owner": "alice", "members": []string{"bob"}})
	require.Equal(t, fiber.StatusCreated, status)
	id := decode[map[string]any](t, res)["id"].(string)

	status, _ = ts.do(t, http.MethodGet, "/group/"+id, "carol", nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = ts.do(t, http.MethodPost, "/group-message", "carol",
		map[string]string{"groupId": id, "sender": "carol", "content": "let me in"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = ts.do(t, http.MethodPost, "/group/"+id+"/add-member", "bob", map[string]string{"username": "carol"})
	assert.Equal(t, fiber.StatusOK, status)

	status, _ = ts.do(t, http.MethodPost, "/group-message", "carol",
		map[string]string{"groupId": id, "sender": "carol", "content": "hello"})
	assert.Equal(t, fiber.StatusCreated, status)

	status, res = ts.do(t, http.MethodGet, "/group-messages/"+id, "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, decode[[]map[string]any](t, res), 1)

	status, _ = ts.do(t, http.MethodDelete, "/kick/"+id+"/carol", "bob", nil)
	assert.Equal(t, fiber.StatusForbidden, status, "only the owner may kick")
	status, _ = ts.do(t, http.MethodDelete, "/kick/"+id+"/carol", "alice", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, res = ts.do(t, http.MethodGet, "/groups/carol", "carol", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, decode[[]map[string]any](t, res))

	status, _ = ts.do(t, http.MethodPost, "/group/"+id+"/leave", "alice", nil)
	assert.Equal(t, fiber.StatusOK, status)
	status, res = ts.do(t, http.MethodGet, "/group/"+id, "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "bob", decode[map[string]any](t, res)["owner"])
}

func TestProfileFields(t *testing.T) {
	ts := newServer(t)
	ts.seed(t, "alice", "mallory")

	status, _ := ts.do(t, http.MethodPut, "/user/alice/bio", "mallory", map[string]string{"bio": "x"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = ts.do(t, http.MethodPut, "/user/alice/bio", "alice", map[string]string{"bio": "hello"})
	assert.Equal(t, fiber.StatusOK, status)
	status, _ = ts.do(t, http.MethodPut, "/user/alice/nickname", "alice", map[string]string{"nickname": "Al"})
	assert.Equal(t, fiber.StatusOK, status)

	_, res := ts.do(t, http.MethodGet, "/user/alice/bio", "", nil)
	assert.Equal(t, "hello", decode[map[string]string](t, res)["bio"])
	_, res = ts.do(t, http.MethodGet, "/user/alice", "", nil)
	user := decode[map[string]any](t, res)
	assert.Equal(t, "Al", user["nickname"])
	assert.Equal(t, "/uploads/profile-pictures/default.jpg", user["profilePicture"])

	status, _ = ts.do(t, http.MethodGet, "/user/nobody", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

func avatarRequest(t *testing.T, filename string) *http.Request {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 40))
	for x := 0; x < 64; x++ {
		for y := 0; y < 40; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: 100, B: 200, A: 255})
		}
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("profilePicture", filename)
	require.NoError(t, err)
	require.NoError(t, png.Encode(fw, img))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/user/alice/profile-picture", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestProfilePictureIsResizedAndReplaced(t *testing.T) {
	ts := newServer(t)
	ts.seed(t, "alice")
	dir := filepath.Join(ts.uploads, "profile-pictures")

	status, res := ts.send(t, avatarRequest(t, "me.png"), "alice")
	require.Equal(t, fiber.StatusOK, status, res.Error)
	first := decode[map[string]string](t, res)["profilePicture"]
	assert.True(t, strings.HasPrefix(first, "/uploads/profile-pictures/alice-"))

	f, err := os.Open(filepath.Join(dir, filepath.Base(first)))
	require.NoError(t, err)
	cfg, _, err := image.DecodeConfig(f)
	f.Close()
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 32, cfg.Height)

	time.Sleep(2 * time.Millisecond)
	status, res = ts.send(t, avatarRequest(t, "me.png"), "alice")
	require.Equal(t, fiber.StatusOK, status)
	second := decode[map[string]string](t, res)["profilePicture"]
	assert.NotEqual(t, first, second)

	_, err = os.Stat(filepath.Join(dir, filepath.Base(first)))
	assert.True(t, os.IsNotExist(err), "previous picture is removed")

	status, _ = ts.send(t, avatarRequest(t, "me.bmp"), "alice")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestDeleteUser(t *testing.T) {
	ts := newServer(t)
	ts.seed(t, "alice", "bob")
	require.NoError(t, ts.store.AddFriend(context.Background(), "alice", "bob"))

	status, _ := ts.do(t, http.MethodDelete, "/user/alice", "bob", nil)
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = ts.do(t, http.MethodDelete, "/user/alice", "alice", nil)
	assert.Equal(t, fiber.StatusOK, status)

	status, res := ts.do(t, http.MethodGet, "/friends/bob", "bob", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, decode[[]map[string]any](t, res))
}

// closedConn is a socket that never delivers frames and records Close.
type closedConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *closedConn) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }
func (c *closedConn) WriteMessage(int, []byte) error    { return nil }
func (c *closedConn) SetReadDeadline(time.Time) error   { return nil }
func (c *closedConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *closedConn) SetReadLimit(int64)                {}
func (c *closedConn) SetPongHandler(func(string) error) {}

func (c *closedConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *closedConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestDeleteUserDropsLiveConnections(t *testing.T) {
	ts := newServer(t)
	ts.seed(t, "alice", "bob")
	grp, err := ts.store.CreateGroup(context.Background(), "trip", "alice", []string{"bob"})
	require.NoError(t, err)
	oldToken := ts.token(t, "bob")

	conn := &closedConn{}
	bob := ws.NewClient("bob", conn, ts.wsCfg)
	ts.hub.Register(context.Background(), bob)
	ts.hub.Join(bob, events.IdentityRoom("bob"))
	ts.hub.Join(bob, events.GroupRoom(grp.ID))

	status, _ := ts.do(t, http.MethodDelete, "/user/bob", "bob", nil)
	require.Equal(t, fiber.StatusOK, status)

	assert.Empty(t, ts.hub.RoomsOf(bob.ID))
	assert.True(t, conn.isClosed())

	status, _ = ts.do(t, http.MethodPost, "/group-message", "alice",
		map[string]string{"sender": "alice", "groupId": grp.ID, "content": "still there?"})
	require.Equal(t, fiber.StatusCreated, status)
	assert.Empty(t, ts.hub.RoomsOf(bob.ID))

	ts.seed(t, "bob")
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+oldToken)
	status, res := ts.send(t, req, "")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHENTICATED", res.Code)
}

func TestPostsFeed(t *testing.T) {
	ts := newServer(t)
	ts.seed(t, "alice", "bob")
	require.NoError(t, ts.store.AddFriend(context.Background(), "alice", "bob"))

	status, _ := ts.do(t, http.MethodPost, "/post", "bob", map[string]string{"username": "bob", "content": "hello"})
	assert.Equal(t, fiber.StatusCreated, status)
	status, _ = ts.do(t, http.MethodPost, "/post", "bob", map[string]string{"username": "bob", "content": "  "})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, res := ts.do(t, http.MethodGet, "/posts/alice", "alice", nil)
	require.Equal(t, fiber.StatusOK, status)
	posts := decode[[]map[string]any](t, res)
	require.Len(t, posts, 1)
	assert.Equal(t, "bob", posts[0]["username"])
}

func TestPresenceAndStats(t *testing.T) {
	ts := newServer(t)
	ts.seed(t, "alice")

	status, res := ts.do(t, http.MethodGet, "/presence/alice", "alice", nil)
	require.Equal(t, fiber.StatusOK, status)
	p := decode[map[string]any](t, res)
	assert.Equal(t, false, p["online"])

	status, res = ts.do(t, http.MethodGet, "/ws/stats", "alice", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 0, decode[map[string]any](t, res)["connections"])

	status, _ = ts.do(t, http.MethodGet, "/ws", "alice", nil)
	assert.Equal(t, fiber.StatusUpgradeRequired, status)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newServer(t)
	resp, err := ts.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = ts.app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "hermes_")
}
