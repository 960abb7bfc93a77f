package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quotad/internal/clock"
	"quotad/internal/constants"
	"quotad/internal/limit"
	"quotad/internal/logger"
	"quotad/internal/metrics"
	"quotad/internal/notification"
	"quotad/internal/reaction"
	"quotad/internal/reconcile"
	"quotad/internal/session"
	"quotad/internal/types"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

const (
	hourMs     = int64(time.Hour / time.Millisecond)
	adminToken = "admin-secret"
)

// countingStore counts session writes.
type countingStore struct {
	session.Store
	saves atomic.Int32
}

func (c *countingStore) Save(ctx context.Context, state *session.State) error {
	c.saves.Add(1)
	return c.Store.Save(ctx, state)
}

type fixture struct {
	clock         *clock.Fake
	limits        *limit.Tracker
	notifications *notification.Service
	sessionStore  *countingStore
	srv           *httptest.Server
	client        *http.Client
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureWithReactions(t, cfg, reaction.NewMemoryStore())
}

func newFixtureWithReactions(t *testing.T, cfg Config, reactions reaction.Store) *fixture {
	t.Helper()
	fake := clock.NewFake(t0)
	discard := logger.Discard()

	tracker, err := limit.NewTracker(limit.NewMemoryStore(), limit.WithClock(fake), limit.WithLogger(discard))
	require.NoError(t, err)

	memory := session.NewMemoryStore(fake, time.Hour)
	t.Cleanup(func() { memory.Close() })
	store := &countingStore{Store: memory}
	sessions := session.NewManager(store, session.WithClock(fake), session.WithLogger(discard))

	notifications := notification.NewService(notification.NewMemoryStore(), notification.NewHub(discard),
		notification.WithClock(fake), notification.WithLogger(discard))
	rec := reconcile.New(sessions, tracker, reconcile.WithClock(fake), reconcile.WithLogger(discard),
		reconcile.WithNotifier(notifications))

	cookies, err := session.NewCookieSigner("test secret")
	require.NoError(t, err)

	s, err := New(cfg, Deps{
		Limits:        tracker,
		Sessions:      sessions,
		Reconciler:    rec,
		Reactions:     reaction.NewService(reactions, fake, discard),
		Notifications: notifications,
		Cookies:       cookies,
		Metrics:       metrics.New(),
		Clock:         fake,
		Logger:        discard,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &fixture{
		clock:         fake,
		limits:        tracker,
		notifications: notifications,
		sessionStore:  store,
		srv:           srv,
		client:        &http.Client{Jar: jar},
	}
}

func defaultConfig() Config {
	return Config{LoginQuota: 5 * hourMs, ReactionQuota: 2, AdminToken: adminToken}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return f.doWith(t, nil, method, path, body)
}

// admin sends the request with the admin bearer token.
func (f *fixture) admin(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	return f.doWith(t, http.Header{"Authorization": {"Bearer " + adminToken}}, method, path, body)
}

func (f *fixture) doWith(t *testing.T, header http.Header, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	return body.Error.Code
}

func (f *fixture) login(t *testing.T, username string) types.LoginResponse {
	t.Helper()
	resp, data := f.do(t, http.MethodPost, "/api/login", types.LoginRequest{Username: username})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var out types.LoginResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, defaultConfig())

	resp, data := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"status":"ok"`)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, data = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `quotad_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestLoginLogoutFlow(t *testing.T) {
	f := newFixture(t, defaultConfig())

	resp, data := f.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, codeNotLoggedIn, errorCode(t, data))

	login := f.login(t, "Alice")
	assert.Equal(t, userIDFor("alice"), login.UserID)
	assert.Equal(t, 5*hourMs, login.RemainingQuota)
	assert.True(t, login.LoginTime.Equal(t0))

	resp, data = f.do(t, http.MethodPost, "/api/login", types.LoginRequest{Username: "alice"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, codeAlreadyLoggedIn, errorCode(t, data))

	f.clock.Advance(time.Hour)
	resp, data = f.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess types.SessionResponse
	require.NoError(t, json.Unmarshal(data, &sess))
	assert.True(t, sess.LoggedIn)
	assert.Equal(t, login.UserID, sess.UserID)
	assert.Equal(t, hourMs, sess.TimeLoggedIn)

	resp, data = f.do(t, http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var out types.LogoutResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, login.UserID, out.UserID)
	assert.Equal(t, hourMs, out.TimeLoggedIn)

	// Logout settled the hour against the login quota.
	remaining, err := f.limits.GetRemaining(context.Background(), login.UserID, constants.LimitTypeLoginToken)
	require.NoError(t, err)
	assert.Equal(t, 4*hourMs, remaining)

	resp, _ = f.do(t, http.MethodPost, "/api/logout", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_RejectedWhenQuotaExhausted(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	bob := userIDFor("bob")
	_, err := f.limits.SetLimit(ctx, bob, hourMs, constants.LimitTypeLoginToken, nil)
	require.NoError(t, err)
	_, err = f.limits.Decrement(ctx, bob, hourMs, constants.LimitTypeLoginToken)
	require.NoError(t, err)

	resp, data := f.do(t, http.MethodPost, "/api/login", types.LoginRequest{Username: "bob"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, codeQuotaExceeded, errorCode(t, data))
	assert.Equal(t, "86400", resp.Header.Get("Retry-After"))

	// Once the window has passed the pool is refilled on login.
	f.clock.Advance(24 * time.Hour)
	login := f.login(t, "bob")
	assert.Equal(t, hourMs, login.RemainingQuota)
}

func TestLogin_BadInput(t *testing.T) {
	f := newFixture(t, defaultConfig())

	resp, data := f.do(t, http.MethodPost, "/api/login", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, codeBadRequest, errorCode(t, data))

	resp, _ = f.do(t, http.MethodPost, "/api/login", types.LoginRequest{Username: "has space"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLimitsAPI_Admin(t *testing.T) {
	f := newFixture(t, defaultConfig())
	base := "/api/limits/user-1/reaction"

	resp, data := f.admin(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, codeNotFound, errorCode(t, data))

	resp, data = f.admin(t, http.MethodPut, base, types.SetLimitRequest{Limit: 100, BackgroundColor: "#fff"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var rec limit.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, int64(100), rec.Remaining)
	require.NotNil(t, rec.Options)
	assert.Equal(t, "#fff", rec.Options.BackgroundColor)

	resp, data = f.admin(t, http.MethodPatch, base+"/decrement", types.DecrementRequest{Amount: 30})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, int64(70), rec.Remaining)

	f.clock.Advance(2 * time.Hour)
	resp, data = f.admin(t, http.MethodPatch, base+"/decrement", types.DecrementRequest{Amount: 80})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "79200", resp.Header.Get("Retry-After"))
	var exceeded struct {
		Error struct {
			Code string `json:"code"`
			types.QuotaExceededResponse
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &exceeded))
	assert.Equal(t, codeQuotaExceeded, exceeded.Error.Code)
	assert.Equal(t, int64(70), exceeded.Error.Remaining)
	assert.Equal(t, int64(80), exceeded.Error.Requested)

	resp, data = f.admin(t, http.MethodGet, base+"/remaining", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var remaining types.RemainingResponse
	require.NoError(t, json.Unmarshal(data, &remaining))
	assert.Equal(t, int64(70), remaining.Remaining)

	resp, data = f.admin(t, http.MethodGet, base+"/reset-in", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wait limit.ResetWait
	require.NoError(t, json.Unmarshal(data, &wait))
	assert.False(t, wait.Due)
	assert.Equal(t, int64(22), wait.Hours)

	resp, data = f.admin(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, int64(100), rec.Remaining)

	resp, data = f.admin(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status limit.Status
	require.NoError(t, json.Unmarshal(data, &status))
	assert.Equal(t, limit.Status{Limit: 100, Remaining: 100, ResetTime: rec.ResetTime}, status)

	resp, data = f.admin(t, http.MethodGet, "/api/limits/user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []limit.Record
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list, 1)

	resp, _ = f.admin(t, http.MethodPatch, base+"/decrement", types.DecrementRequest{Amount: -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.admin(t, http.MethodPut, base, types.SetLimitRequest{Limit: -5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.admin(t, http.MethodPatch, base+"/decrement", `{"amount":1,"extra":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLimitsAPI_Authorization(t *testing.T) {
	f := newFixture(t, defaultConfig())
	alice := userIDFor("alice")
	bob := userIDFor("bob")
	own := "/api/limits/" + alice + "/" + constants.LimitTypeLoginToken
	other := "/api/limits/" + bob + "/" + constants.LimitTypeLoginToken

	// Anonymous callers get nothing, not even reads.
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, own},
		{http.MethodGet, "/api/limits/" + alice},
		{http.MethodPut, own},
		{http.MethodPatch, own + "/decrement"},
		{http.MethodPost, own + "/reset"},
	} {
		resp, data := f.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, tc.method+" "+tc.path)
		assert.Equal(t, codeNotLoggedIn, errorCode(t, data))
	}
	resp, _ := f.doWith(t, http.Header{"Authorization": {"Bearer wrong"}}, http.MethodPost, own+"/reset", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	f.login(t, "alice")

	resp, data := f.do(t, http.MethodGet, own, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	resp, data = f.do(t, http.MethodPatch, own+"/decrement", types.DecrementRequest{Amount: 1000})
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	// Owners may spend but not refill or raise their own quota.
	resp, data = f.do(t, http.MethodPost, own+"/reset", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, codeForbidden, errorCode(t, data))
	resp, _ = f.do(t, http.MethodPut, own, types.SetLimitRequest{Limit: 1 << 60})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Other users' quotas are off limits.
	resp, _ = f.do(t, http.MethodGet, other, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPatch, other+"/decrement", types.DecrementRequest{Amount: 1})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPost, other+"/reset", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	remaining, err := f.limits.GetRemaining(context.Background(), alice, constants.LimitTypeLoginToken)
	require.NoError(t, err)
	assert.Equal(t, 5*hourMs-1000, remaining)

	resp, data = f.admin(t, http.MethodPost, own+"/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var rec limit.Record
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, 5*hourMs, rec.Remaining)
}

func TestLimitsAPI_NoAdminTokenConfigured(t *testing.T) {
	cfg := defaultConfig()
	cfg.AdminToken = ""
	f := newFixture(t, cfg)

	resp, _ := f.doWith(t, http.Header{"Authorization": {"Bearer "}}, http.MethodGet, "/api/limits/user-1/reaction", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestReactions(t *testing.T) {
	f := newFixture(t, defaultConfig())

	resp, _ := f.do(t, http.MethodPost, "/api/reactions/post-1", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	f.login(t, "alice")

	resp, data := f.do(t, http.MethodPost, "/api/reactions/post-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var toggled types.ToggleReactionResponse
	require.NoError(t, json.Unmarshal(data, &toggled))
	assert.True(t, toggled.Reacted)
	assert.Equal(t, int64(1), toggled.Count)

	resp, data = f.do(t, http.MethodGet, "/api/reactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mine []reaction.Reaction
	require.NoError(t, json.Unmarshal(data, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, "post-1", mine[0].Target)

	resp, data = f.do(t, http.MethodPost, "/api/reactions/post-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &toggled))
	assert.False(t, toggled.Reacted)
	assert.Equal(t, int64(0), toggled.Count)

	// The reaction quota of two is spent.
	resp, data = f.do(t, http.MethodPost, "/api/reactions/post-1", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, codeQuotaExceeded, errorCode(t, data))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, data = f.do(t, http.MethodGet, "/api/reactions/post-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var count types.ReactionCountResponse
	require.NoError(t, json.Unmarshal(data, &count))
	assert.Equal(t, int64(0), count.Count)
}

// failingReactionStore refuses every write.
type failingReactionStore struct {
	*reaction.MemoryStore
}

func (failingReactionStore) Add(context.Context, *reaction.Reaction) (bool, error) {
	return false, errors.New("reaction store unavailable")
}

func TestReactions_FailedToggleKeepsQuota(t *testing.T) {
	f := newFixtureWithReactions(t, defaultConfig(), failingReactionStore{reaction.NewMemoryStore()})
	login := f.login(t, "alice")

	resp, data := f.do(t, http.MethodPost, "/api/reactions/post-1", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, codeInternal, errorCode(t, data))

	remaining, err := f.limits.GetRemaining(context.Background(), login.UserID, constants.LimitTypeReaction)
	require.NoError(t, err)
	assert.Equal(t, int64(2), remaining)
}

func TestNotifications(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	resp, _ := f.do(t, http.MethodGet, "/api/notifications", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	login := f.login(t, "alice")
	n, err := f.notifications.Send(ctx, login.UserID, "hello")
	require.NoError(t, err)
	_, err = f.notifications.Send(ctx, userIDFor("bob"), "not for alice")
	require.NoError(t, err)

	resp, data := f.do(t, http.MethodGet, "/api/notifications?read=false", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []notification.Notification
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, n.ID, list[0].ID)

	resp, _ = f.do(t, http.MethodPost, "/api/notifications/"+n.ID+"/read", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = f.do(t, http.MethodGet, "/api/notifications?read=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &list))
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)

	resp, _ = f.do(t, http.MethodPost, "/api/notifications/"+n.ID+"/unread", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/notifications?read=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/notifications/"+n.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.do(t, http.MethodDelete, "/api/notifications/"+n.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = f.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(data))
}

func TestForgedCookieGetsFreshSession(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.login(t, "alice")

	u, err := url.Parse(f.srv.URL)
	require.NoError(t, err)
	cookies := f.client.Jar.Cookies(u)
	require.Len(t, cookies, 1)
	forged := &http.Cookie{Name: constants.SessionCookieName, Value: cookies[0].Value + "00"}

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/session", nil)
	require.NoError(t, err)
	req.AddCookie(forged)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, resp.Cookies())

	body, err := json.Marshal(types.LoginRequest{Username: "bob"})
	require.NoError(t, err)
	req, err = http.NewRequest(http.MethodPost, f.srv.URL+"/api/login", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(forged)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.Cookies(), 1)
	assert.NotEqual(t, cookies[0].Value, resp.Cookies()[0].Value)
}

func TestAnonymousRequestsStoreNoSession(t *testing.T) {
	f := newFixture(t, defaultConfig())

	f.do(t, http.MethodGet, "/api/session", nil)
	f.do(t, http.MethodGet, "/api/limits/user-1/reaction", nil)
	f.do(t, http.MethodPost, "/api/logout", nil)
	f.do(t, http.MethodGet, "/api/notifications", nil)

	u, err := url.Parse(f.srv.URL)
	require.NoError(t, err)
	assert.Zero(t, f.sessionStore.saves.Load())
	assert.Empty(t, f.client.Jar.Cookies(u))

	f.login(t, "alice")
	assert.NotZero(t, f.sessionStore.saves.Load())
	assert.Len(t, f.client.Jar.Cookies(u), 1)

	resp, _ := f.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, Config{AllowedOrigins: []string{"https://app.example"}})

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/session", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func (f *fixture) dial(t *testing.T) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u, err := url.Parse(f.srv.URL)
	require.NoError(t, err)

	header := http.Header{}
	for _, c := range f.client.Jar.Cookies(u) {
		header.Add("Cookie", c.Name+"="+c.Value)
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(f.srv.URL, "http")+constants.EndpointWebSocket, header)
}

func TestWebSocket_RequiresLogin(t *testing.T) {
	f := newFixture(t, defaultConfig())
	_, resp, err := f.dial(t)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_PushesNotifications(t *testing.T) {
	f := newFixture(t, defaultConfig())
	login := f.login(t, "alice")

	conn, _, err := f.dial(t)
	require.NoError(t, err)
	defer conn.Close()

	hub := f.notifications.Hub()
	require.Eventually(t, func() bool { return hub.Subscribers(login.UserID) == 1 }, 2*time.Second, 5*time.Millisecond)

	sent, err := f.notifications.Send(context.Background(), login.UserID, "ping")
	require.NoError(t, err)

	var got notification.Notification
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "ping", got.Content)
}
