package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"corkboard/api/internal/board"
	"corkboard/api/internal/config"
	"corkboard/api/internal/docstore"
	"corkboard/api/internal/docstore/redisstore"
	"corkboard/api/internal/identity"
	"corkboard/api/internal/likes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type httpEnv struct {
	svc     *Service
	mr      *miniredis.Miniredis
	handler http.Handler
	tokens  *identity.TokenVerifier
}

func newHTTPEnv(t *testing.T, rateLimit int) *httpEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := redisstore.New(client, zap.NewNop())
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Config{RateLimitPerMinute: rateLimit, BatchConcurrency: 4}
	svc := New(cfg, store, zap.NewNop(), Deps{Likes: likes.NewRedisStoreWithClient(client, time.Hour)})
	tokens := identity.NewTokenVerifier("test-secret")
	server := NewHTTPServer(svc, identity.NewAuthenticator(tokens, nil), cfg, zap.NewNop())
	return &httpEnv{svc: svc, mr: mr, handler: server.Handler(), tokens: tokens}
}

func (e *httpEnv) token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := e.tokens.Issue(identity.User{UID: uid, DisplayName: "User " + uid}, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return tok
}

func (e *httpEnv) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

type errorBody struct {
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details"`
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	body := decodeBody[errorBody](t, rec)
	if body.Code != code {
		t.Fatalf("expected code %s, got %+v", code, body)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	rec := env.do(t, http.MethodGet, "/api/health", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeBody[map[string]bool](t, rec); !got["ok"] {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatal("expected a request id header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	if rec := env.do(t, http.MethodGet, "/api/ready", "", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	env.mr.Close()
	rec := env.do(t, http.MethodGet, "/api/ready", "", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after store shutdown, got %d", rec.Code)
	}
	if body := decodeBody[map[string]any](t, rec); body["status"] != "not_ready" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestCreateBoardAndReadView(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	owner := env.token(t, "owner")

	rec := env.do(t, http.MethodPost, "/api/boards", owner, map[string]any{"title": "Retro", "moderationEnabled": true}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[board.Board](t, rec)

	guest := env.token(t, "guest")
	rec = env.do(t, http.MethodPost, "/api/boards/"+created.ID+"/posts", guest, map[string]any{"title": "Pending idea"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if p := decodeBody[board.Post](t, rec); p.Status != board.StatusPending || p.Order != 0 {
		t.Fatalf("unexpected post %+v", p)
	}

	rec = env.do(t, http.MethodGet, "/api/boards/"+created.ID, owner, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	ownerView := decodeBody[board.View](t, rec)
	if len(ownerView.Sections) != 1 || len(ownerView.Posts) != 1 {
		t.Fatalf("owner should see the default section and the pending post: %+v", ownerView)
	}

	rec = env.do(t, http.MethodGet, "/api/boards/"+created.ID, "", nil, nil)
	if anonView := decodeBody[board.View](t, rec); len(anonView.Posts) != 0 {
		t.Fatalf("anonymous visitor must not see pending posts: %+v", anonView.Posts)
	}
	rec = env.do(t, http.MethodGet, "/api/boards/"+created.ID, guest, nil, nil)
	if authorView := decodeBody[board.View](t, rec); len(authorView.Posts) != 1 {
		t.Fatalf("author should see their own pending post: %+v", authorView.Posts)
	}
}

func TestCreateBoardRequiresSignIn(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	rec := env.do(t, http.MethodPost, "/api/boards", "", map[string]any{"title": "Retro"}, nil)
	expectError(t, rec, http.StatusUnauthorized, CodeUnauthorized)
}

func TestInvalidTokenIsRejected(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	rec := env.do(t, http.MethodGet, "/api/me", "not-a-token", nil, nil)
	expectError(t, rec, http.StatusUnauthorized, CodeUnauthorized)

	rec = env.do(t, http.MethodGet, "/api/me", env.token(t, "u1"), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if u := decodeBody[identity.User](t, rec); u.UID != "u1" {
		t.Fatalf("unexpected user %+v", u)
	}
}

func TestViewOnlyGuestCannotWrite(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	b, err := env.svc.CreateBoard(asUser("owner"), NewBoard{Title: "Read only", GuestPermission: board.GuestView})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	p, err := env.svc.CreatePost(asUser("owner"), env.mustView(t, b.ID), NewPost{Title: "pinned"})
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	guest := env.token(t, "guest")
	base := "/api/boards/" + b.ID

	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "create post", method: http.MethodPost, path: base + "/posts", body: map[string]any{"title": "x"}},
		{name: "update post", method: http.MethodPatch, path: base + "/posts/" + p.ID, body: map[string]any{"title": "x"}},
		{name: "delete post", method: http.MethodDelete, path: base + "/posts/" + p.ID},
		{name: "comment", method: http.MethodPost, path: base + "/posts/" + p.ID + "/comments", body: map[string]any{"content": "x"}},
		{name: "create section", method: http.MethodPost, path: base + "/sections", body: map[string]any{"title": "x"}},
		{name: "reorder posts", method: http.MethodPut, path: base + "/posts/order", body: map[string]any{"ids": []string{p.ID}}},
		{name: "settings", method: http.MethodPatch, path: base, body: map[string]any{"title": "x"}},
		{name: "delete board", method: http.MethodDelete, path: base},
		{name: "approve", method: http.MethodPost, path: base + "/approve"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.path, guest, tc.body, nil)
			expectError(t, rec, http.StatusForbidden, CodePermissionDenied)
		})
	}

	rec := env.do(t, http.MethodPost, base+"/posts/"+p.ID+"/like", guest, nil, map[string]string{headerDeviceID: "device-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("viewer should be able to like, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[map[string]bool](t, rec); !got["counted"] {
		t.Fatalf("expected counted like, got %s", rec.Body.String())
	}
}

func (e *httpEnv) mustView(t *testing.T, boardID string) board.View {
	t.Helper()
	v, err := e.svc.LoadView(asUser("owner"), boardID)
	if err != nil {
		t.Fatalf("LoadView() error = %v", err)
	}
	return v
}

func TestPasswordBoardHeader(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	b, err := env.svc.CreateBoard(asUser("owner"), NewBoard{Title: "Secret", Privacy: board.PrivacyPassword, Password: "letmein"})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	path := "/api/boards/" + b.ID

	expectError(t, env.do(t, http.MethodGet, path, "", nil, nil), http.StatusUnauthorized, CodePasswordRequired)
	expectError(t, env.do(t, http.MethodGet, path, "", nil, map[string]string{headerBoardPassword: "nope"}), http.StatusForbidden, CodePermissionDenied)

	rec := env.do(t, http.MethodGet, path, "", nil, map[string]string{headerBoardPassword: "letmein"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with password, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"password":`) {
		t.Fatal("view must not carry the password hash")
	}

	if rec := env.do(t, http.MethodPost, path+"/unlock", "", map[string]string{"password": "letmein"}, nil); rec.Code != http.StatusOK {
		t.Fatalf("unlock: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReorderPartialFailureIsMultiStatus(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	owner := env.token(t, "owner")
	b, _ := env.svc.CreateBoard(asUser("owner"), NewBoard{Title: "Board"})
	p, _ := env.svc.CreatePost(asUser("owner"), env.mustView(t, b.ID), NewPost{Title: "real"})

	rec := env.do(t, http.MethodPut, "/api/boards/"+b.ID+"/posts/order", owner, map[string]any{"sectionId": "", "ids": []string{p.ID, "ghost"}}, nil)
	body := expectError(t, rec, http.StatusMultiStatus, CodePartialFailure)
	failed, _ := body.Details["failed"].([]any)
	if len(failed) != 1 || failed[0] != "ghost" {
		t.Fatalf("unexpected details %+v", body.Details)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	env := newHTTPEnv(t, 2)
	if rec := env.do(t, http.MethodGet, "/api/me", "", nil, nil); rec.Code == http.StatusTooManyRequests {
		t.Fatal("first request should pass the limiter")
	}
	rec := env.do(t, http.MethodGet, "/api/me", "", nil, nil)
	expectError(t, rec, http.StatusTooManyRequests, "RATE_LIMITED")

	if rec := env.do(t, http.MethodGet, "/api/health", "", nil, nil); rec.Code != http.StatusOK {
		t.Fatal("health must not be rate limited")
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	expectError(t, env.do(t, http.MethodGet, "/api/nope", "", nil, nil), http.StatusNotFound, CodeNotFound)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"domain", notFound("post"), http.StatusNotFound, CodeNotFound},
		{"batch", &BatchError{Op: "x", Total: 2, Failed: map[string]error{"a": errors.New("boom")}}, http.StatusMultiStatus, CodePartialFailure},
		{"batch of domain errors", &BatchError{Op: "x", Total: 2, Failed: map[string]error{"a": notFound("post")}}, http.StatusMultiStatus, CodePartialFailure},
		{"merged batch", mergeBatch("approve", &BatchError{Op: "posts", Total: 1, Failed: map[string]error{"p1": storeError(docstore.ErrNotFound, "post")}}), http.StatusMultiStatus, CodePartialFailure},
		{"expired token", identity.ErrExpiredToken, http.StatusUnauthorized, CodeUnauthorized},
		{"not whitelisted", identity.ErrNotWhitelisted, http.StatusForbidden, CodePermissionDenied},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
		{"store down", storeError(docstore.ErrUnavailable, "post"), http.StatusServiceUnavailable, CodeNetworkFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("mapError() = %d %s, want %d %s", status, code, tc.status, tc.code)
			}
		})
	}
}

func TestVisibleTo(t *testing.T) {
	b := board.Board{ID: "b1", OwnerID: "owner", Password: "hash"}
	posts := []board.Post{
		{ID: "p1", SectionID: "s1", Status: board.StatusApproved, Author: board.Author{UID: "owner"}, Comments: []board.Comment{
			{ID: "c1", Status: board.StatusApproved, Author: board.Author{UID: "x"}},
			{ID: "c2", Status: board.StatusPending, Author: board.Author{UID: "alice"}},
			{ID: "c3", Status: board.StatusPending, Author: board.Author{UID: "bob"}},
		}},
		{ID: "p2", SectionID: "s1", Status: board.StatusPending, Author: board.Author{UID: "alice"}},
		{ID: "p3", SectionID: "s1", Status: board.StatusPending, Author: board.Author{UID: "bob"}},
	}
	view := board.Derive(b, []board.Section{{ID: "s1", Order: 0}}, posts)

	owner := VisibleTo(view, "owner")
	if owner.Board.Password != "" || len(owner.Posts) != 3 {
		t.Fatalf("owner view: %+v", owner)
	}

	alice := VisibleTo(view, "alice")
	if len(alice.Posts) != 2 || len(alice.PostsBySection["s1"]) != 2 {
		t.Fatalf("alice should see p1 and p2, got %+v", alice.Posts)
	}
	if got := alice.Posts[0].Comments; len(got) != 2 || got[1].ID != "c2" {
		t.Fatalf("alice should see c1 and c2, got %+v", got)
	}

	anon := VisibleTo(view, "")
	if len(anon.Posts) != 1 || len(anon.Posts[0].Comments) != 1 {
		t.Fatalf("anonymous view: %+v", anon.Posts)
	}
	if len(view.Posts[0].Comments) != 3 {
		t.Fatal("VisibleTo must not modify the input view")
	}
}

func TestBoardStreamDeliversViews(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	b, err := env.svc.CreateBoard(asUser("owner"), NewBoard{Title: "Live"})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/boards/" + b.ID + "?token=" + env.token(t, "owner")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v (%v)", err, resp)
	}
	defer conn.Close()

	if _, err := env.svc.CreatePost(asUser("owner"), env.mustView(t, b.ID), NewPost{Title: "hello"}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg struct {
			Type string     `json:"type"`
			Data board.View `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read frame: %v", err)
		}
		if msg.Type != "view" {
			t.Fatalf("unexpected frame type %q", msg.Type)
		}
		if len(msg.Data.Posts) == 1 && msg.Data.Posts[0].Title == "hello" {
			if len(msg.Data.Sections) != 1 {
				t.Fatalf("expected the default section, got %+v", msg.Data.Sections)
			}
			return
		}
	}
}

type streamFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (e *httpEnv) dialBoard(t *testing.T, srv *httptest.Server, boardID, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/boards/" + boardID + "?token=" + e.token(t, uid)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v (%v)", err, resp)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %q frame: %v", want, err)
		}
		if frame.Type == want && (match == nil || match(frame.Data)) {
			return frame.Data
		}
	}
}

func TestBoardStreamApprovesLoadedPosts(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	b, err := env.svc.CreateBoard(asUser("owner"), NewBoard{Title: "Moderated", ModerationEnabled: true})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	srv := httptest.NewServer(env.handler)
	defer srv.Close()
	conn := env.dialBoard(t, srv, b.ID, "owner")

	p, err := env.svc.CreatePost(asUser("guest"), env.mustView(t, b.ID), NewPost{Title: "needs review"})
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if !p.Pending() {
		t.Fatal("guest post on a moderated board should start pending")
	}
	readUntil(t, conn, "view", func(data json.RawMessage) bool {
		var v board.View
		return json.Unmarshal(data, &v) == nil && len(v.Posts) == 1
	})

	if err := conn.WriteJSON(map[string]string{"type": "approveAll"}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	readUntil(t, conn, "approved", nil)

	view, err := env.svc.LoadView(asUser("owner"), b.ID)
	if err != nil {
		t.Fatalf("LoadView() error = %v", err)
	}
	if len(view.Posts) != 1 || view.Posts[0].Pending() {
		t.Fatalf("post should be approved, got %+v", view.Posts)
	}
}

func TestBoardStreamCommandErrors(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	b, _ := env.svc.CreateBoard(asUser("owner"), NewBoard{Title: "Open"})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()
	conn := env.dialBoard(t, srv, b.ID, "editor")

	cases := []struct {
		command string
		code    string
	}{
		{"approveAll", CodePermissionDenied},
		{"dance", CodeInvalidInput},
	}
	for _, tc := range cases {
		if err := conn.WriteJSON(map[string]string{"type": tc.command}); err != nil {
			t.Fatalf("write command: %v", err)
		}
		data := readUntil(t, conn, "error", nil)
		var body errorBody
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("decode error frame: %v", err)
		}
		if body.Code != tc.code {
			t.Fatalf("%s: code = %s, want %s", tc.command, body.Code, tc.code)
		}
	}
}

func TestBoardStreamRejectsPrivateBoard(t *testing.T) {
	env := newHTTPEnv(t, 1000)
	b, _ := env.svc.CreateBoard(asUser("owner"), NewBoard{Title: "Private", Privacy: board.PrivacyPrivate})
	rec := env.do(t, http.MethodGet, "/api/ws/boards/"+b.ID, env.token(t, "stranger"), nil, nil)
	expectError(t, rec, http.StatusForbidden, CodePermissionDenied)

	rec = env.do(t, http.MethodGet, "/api/ws/directory", "", nil, nil)
	expectError(t, rec, http.StatusUnauthorized, CodeUnauthorized)
}
