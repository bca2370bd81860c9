package router_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"opinion-poll/internal/core/auth"
	"opinion-poll/internal/domain"
	"opinion-poll/internal/hub"
	"opinion-poll/internal/repo"
	"opinion-poll/internal/service"
	"opinion-poll/internal/testutil"
	"opinion-poll/internal/transport/http/handler"
	"opinion-poll/internal/transport/http/router"
)

func init() { gin.SetMode(gin.TestMode) }

type env struct {
	db    *gorm.DB
	hub   *hub.Hub
	api   *httptest.Server
	admin *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	nop := zap.NewNop()
	db := testutil.NewDB(t)
	j := &auth.JWTer{Secret: []byte("test-secret"), Issuer: "opinion-poll", TTL: time.Hour, AnonTTL: time.Hour}
	users := repo.NewUserRepo(db)
	ids := service.NewIdentityResolver(users, j, service.IdentityOpts{
		Salt:                 "pepper",
		AllowTestIdentity:    true,
		AllowAnonymousWrites: true,
	}, nop)

	h := hub.New(hub.Options{GapWait: 20 * time.Millisecond}, nop)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(h.Stop)

	polls := service.NewPollService(service.PollServiceDeps{
		Polls:    repo.NewPollRepo(db),
		Engine:   service.NewEngine(testutil.NewStore(db)),
		Identity: ids,
		Hub:      h,
		Log:      nop,
	})
	authSvc := service.NewAuthService(users, j, []string{"admin"}, nop)

	api := httptest.NewServer(router.NewAPIEngine(router.APIDeps{
		Log:    nop,
		JWT:    j,
		Polls:  handler.NewPollHandler(polls, ids),
		Auth:   handler.NewAuthHandler(authSvc, j),
		Live:   handler.NewLiveHandler(h, nil, nop),
		Limits: router.Limits{PerIPRPS: 10000, PerIPBurst: 10000},
	}))
	t.Cleanup(api.Close)
	admin := httptest.NewServer(router.NewAdminEngine(nop, j, handler.NewAdminHandler(polls, authSvc)))
	t.Cleanup(admin.Close)
	return &env{db: db, hub: h, api: api, admin: admin}
}

type envelope struct {
	Code   int             `json:"code"`
	Reason string          `json:"reason"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

type call struct {
	method string
	url    string
	body   any
	token  string
	header map[string]string
}

func do(t *testing.T, c call) (*http.Response, envelope) {
	t.Helper()
	var rd *bytes.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(c.method, c.url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "router-test")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var out envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res, out
}

func into[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func signup(t *testing.T, e *env, username string) string {
	t.Helper()
	res, out := do(t, call{method: http.MethodPost, url: e.api.URL + "/api/v1/auth/signup",
		body: map[string]string{"username": username, "password": "secret1"}})
	require.Equal(t, http.StatusCreated, res.StatusCode, out.Msg)
	return into[handler.TokenOut](t, out.Data).AccessToken
}

func createPoll(t *testing.T, e *env, token string, options ...string) handler.PollOut {
	t.Helper()
	opts := make([]map[string]string, 0, len(options))
	for _, o := range options {
		opts = append(opts, map[string]string{"option_text": o})
	}
	res, out := do(t, call{method: http.MethodPost, url: e.api.URL + "/api/v1/polls", token: token,
		body: map[string]any{"title": "Best editor?", "options": opts}})
	require.Equal(t, http.StatusCreated, res.StatusCode, out.Msg)
	return into[handler.PollOut](t, out.Data)
}

func dialWS(t *testing.T, e *env) *websocket.Conn {
	t.Helper()
	before := e.hub.Len()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(e.api.URL, "http")+"/api/v1/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	require.Eventually(t, func() bool { return e.hub.Len() == before+1 }, time.Second, 5*time.Millisecond)
	return ws
}

type liveEvent struct {
	Type    string         `json:"type"`
	Version uint64         `json:"version"`
	Data    map[string]any `json:"data"`
}

func readEvent(t *testing.T, ws *websocket.Conn) liveEvent {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev liveEvent
	require.NoError(t, json.Unmarshal(msg, &ev))
	return ev
}

func TestPollLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	ws := dialWS(t, e)
	alice := signup(t, e, "alice")

	p := createPoll(t, e, alice, "vim", "emacs")
	assert.Equal(t, uint64(1), p.Version)
	assert.Equal(t, "alice", p.CreatorUsername)
	require.Len(t, p.Options, 2)

	ev := readEvent(t, ws)
	assert.Equal(t, "poll_created", ev.Type)
	assert.Equal(t, uint64(1), ev.Version)
	assert.EqualValues(t, p.ID, ev.Data["poll_id"])

	pollURL := fmt.Sprintf("%s/api/v1/polls/%d", e.api.URL, p.ID)
	res, out := do(t, call{method: http.MethodPost, url: pollURL + "/vote?test_user=bob",
		body: map[string]uint64{"option_id": p.Options[0].ID}})
	require.Equal(t, http.StatusOK, res.StatusCode, out.Msg)
	vote := into[handler.VoteOut](t, out.Data)
	assert.True(t, vote.Changed)
	assert.Equal(t, int64(1), vote.TotalVotes)

	ev = readEvent(t, ws)
	assert.Equal(t, "poll_vote", ev.Type)
	assert.Equal(t, uint64(2), ev.Version)
	assert.EqualValues(t, 1, ev.Data["vote_count"])
	assert.NotContains(t, ev.Data, "previous_option_id")

	// revote moves the vote
	res, _ = do(t, call{method: http.MethodPost, url: pollURL + "/vote?test_user=bob",
		body: map[string]uint64{"option_id": p.Options[1].ID}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	ev = readEvent(t, ws)
	assert.Equal(t, uint64(3), ev.Version)
	assert.EqualValues(t, p.Options[0].ID, ev.Data["previous_option_id"])
	assert.EqualValues(t, 0, ev.Data["previous_vote_count"])
	assert.EqualValues(t, 1, ev.Data["total_votes"])

	res, _ = do(t, call{method: http.MethodPost, url: pollURL + "/like?test_user=bob"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, out = do(t, call{method: http.MethodPost, url: pollURL + "/like?test_user=bob"})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "already_liked", out.Reason)

	ev = readEvent(t, ws)
	assert.Equal(t, "poll_like", ev.Type)
	assert.Equal(t, uint64(4), ev.Version)
	assert.Equal(t, true, ev.Data["liked"])

	res, out = do(t, call{method: http.MethodGet, url: pollURL})
	require.Equal(t, http.StatusOK, res.StatusCode)
	detail := into[handler.PollOut](t, out.Data)
	assert.Equal(t, int64(1), detail.TotalVotes)
	assert.Equal(t, int64(1), detail.TotalLikes)
	assert.Equal(t, uint64(4), detail.Version)
	assert.Equal(t, int64(1), detail.Options[1].VoteCount)

	res, out = do(t, call{method: http.MethodDelete, url: pollURL + "/like?test_user=bob"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(0), into[handler.LikeOut](t, out.Data).TotalLikes)
	res, out = do(t, call{method: http.MethodDelete, url: pollURL + "/like?test_user=bob"})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_liked", out.Reason)

	// only the creator may close the poll
	res, out = do(t, call{method: http.MethodPatch, url: pollURL + "?test_user=bob", body: map[string]bool{"is_active": false}})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, "not_creator", out.Reason)
	res, _ = do(t, call{method: http.MethodPatch, url: pollURL, token: alice, body: map[string]bool{"is_active": false}})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, out = do(t, call{method: http.MethodGet, url: pollURL})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "poll_inactive", out.Reason)
	res, _ = do(t, call{method: http.MethodPost, url: pollURL + "/vote?test_user=carol",
		body: map[string]uint64{"option_id": p.Options[0].ID}})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, out = do(t, call{method: http.MethodGet, url: e.api.URL + "/api/v1/polls"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `[]`, string(out.Data))

	testutil.AssertNoDrift(t, e.db, p.ID)
}

func TestAnonymousTokenIsIssuedAndHonoured(t *testing.T) {
	e := newEnv(t)
	owner := signup(t, e, "owner")
	p := createPoll(t, e, owner, "a", "b")
	likeURL := fmt.Sprintf("%s/api/v1/polls/%d/like", e.api.URL, p.ID)

	res, _ := do(t, call{method: http.MethodPost, url: likeURL})
	require.Equal(t, http.StatusOK, res.StatusCode)
	tok := res.Header.Get(handler.HeaderAnonToken)
	require.NotEmpty(t, tok)

	// same anonymous user even from a different user agent
	res, out := do(t, call{method: http.MethodPost, url: likeURL, header: map[string]string{
		handler.HeaderAnonToken: tok,
		"User-Agent":            "another-browser",
	}})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "already_liked", out.Reason)
}

func TestRequestValidation(t *testing.T) {
	e := newEnv(t)
	alice := signup(t, e, "alice")

	res, out := do(t, call{method: http.MethodPost, url: e.api.URL + "/api/v1/polls", token: alice,
		body: map[string]any{"title": "one option", "options": []map[string]string{{"option_text": "only"}}}})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "validation_failed", out.Reason)

	res, _ = do(t, call{method: http.MethodPost, url: e.api.URL + "/api/v1/polls", token: alice,
		body: map[string]any{"title": "   ", "options": []map[string]string{{"option_text": "a"}, {"option_text": "b"}}}})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = do(t, call{method: http.MethodGet, url: e.api.URL + "/api/v1/polls?limit=500"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, _ = do(t, call{method: http.MethodGet, url: e.api.URL + "/api/v1/polls/abc"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	res, out = do(t, call{method: http.MethodGet, url: e.api.URL + "/api/v1/polls/999"})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "poll_not_found", out.Reason)

	res, out = do(t, call{method: http.MethodPost, url: e.api.URL + "/api/v1/polls/1/like", token: "not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_token", out.Reason)
}

func TestAuthEndpoints(t *testing.T) {
	e := newEnv(t)
	tok := signup(t, e, "dana")

	res, out := do(t, call{method: http.MethodPost, url: e.api.URL + "/api/v1/auth/signup",
		body: map[string]string{"username": "dana", "password": "secret1"}})
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "username_taken", out.Reason)

	res, out = do(t, call{method: http.MethodPost, url: e.api.URL + "/api/v1/auth/signin",
		body: map[string]string{"username": "dana", "password": "wrong-pass"}})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", out.Reason)

	res, _ = do(t, call{method: http.MethodGet, url: e.api.URL + "/api/v1/auth/me"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, out = do(t, call{method: http.MethodGet, url: e.api.URL + "/api/v1/auth/me", token: tok})
	require.Equal(t, http.StatusOK, res.StatusCode)
	me := into[handler.UserOut](t, out.Data)
	assert.Equal(t, "dana", me.Username)
	assert.Equal(t, "registered", me.Kind)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	res, err := http.Get(e.api.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(e.api.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(res.Body)
	assert.Contains(t, buf.String(), "http_requests_total")
}

func TestEventStream(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.api.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return e.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	owner := signup(t, e, "owner")
	p := createPoll(t, e, owner, "tea", "coffee")

	sc := bufio.NewScanner(res.Body)
	var data string
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data:") {
			data = strings.TrimPrefix(line, "data:")
			break
		}
	}
	var ev liveEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "poll_created", ev.Type)
	assert.EqualValues(t, p.ID, ev.Data["poll_id"])

	cancel()
	require.Eventually(t, func() bool { return e.hub.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWebSocketClosedOnHubStop(t *testing.T) {
	e := newEnv(t)
	ws := dialWS(t, e)
	e.hub.Stop()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, e.hub.Len())
}

func TestAdminSurface(t *testing.T) {
	e := newEnv(t)
	adminTok := signup(t, e, "admin")
	userTok := signup(t, e, "erin")
	p := createPoll(t, e, userTok, "x", "y")
	do(t, call{method: http.MethodPost, url: fmt.Sprintf("%s/api/v1/polls/%d/vote", e.api.URL, p.ID), token: userTok,
		body: map[string]uint64{"option_id": p.Options[0].ID}})

	res, _ := do(t, call{method: http.MethodGet, url: e.admin.URL + "/admin/v1/users", token: userTok})
	assert.Equal(t, http.StatusForbidden, res.StatusCode)

	res, out := do(t, call{method: http.MethodGet, url: e.admin.URL + "/admin/v1/users?q=er", token: adminTok})
	require.Equal(t, http.StatusOK, res.StatusCode)
	users := into[handler.ListUsersOut](t, out.Data)
	assert.Equal(t, int64(1), users.Total)
	assert.Equal(t, "erin", users.Items[0].Username)

	pollPath := fmt.Sprintf("%s/admin/v1/polls/%d", e.admin.URL, p.ID)
	res, out = do(t, call{method: http.MethodGet, url: pollPath + "/audit", token: adminTok})
	require.Equal(t, http.StatusOK, res.StatusCode)
	audit := into[domain.Counters](t, out.Data)
	assert.Equal(t, int64(1), audit.TotalVotes)
	assert.False(t, audit.Drift)

	// corrupt the denormalized counter, then repair it
	require.NoError(t, e.db.Exec("UPDATE polls SET total_votes = 7 WHERE id = ?", p.ID).Error)
	res, out = do(t, call{method: http.MethodPost, url: pollPath + "/reconcile", token: adminTok})
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(out.Data), `"drift":true`)
	testutil.AssertNoDrift(t, e.db, p.ID)

	res, _ = do(t, call{method: http.MethodPost, url: pollPath + "/deactivate", token: adminTok})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = do(t, call{method: http.MethodGet, url: fmt.Sprintf("%s/api/v1/polls/%d", e.api.URL, p.ID)})
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
