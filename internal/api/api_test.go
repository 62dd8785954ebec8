package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"signalpush/internal/model"
	"signalpush/internal/service/dispatch"
	"signalpush/pkg/rbac"
	"signalpush/pkg/trace"
	"signalpush/pkg/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeDispatcher struct {
	resp      *model.DispatchResponse
	err       error
	recent    []model.Notification
	recentErr error
	panicMsg  string
	requests  []model.NotificationRequest
	limit     int
	byID      map[string]*model.Notification
	getErr    error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req model.NotificationRequest) (*model.DispatchResponse, error) {
	if d.panicMsg != "" {
		panic(d.panicMsg)
	}
	d.requests = append(d.requests, req)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return d.resp, d.err
}

func (d *fakeDispatcher) Recent(_ context.Context, limit int) ([]model.Notification, error) {
	d.limit = limit
	return d.recent, d.recentErr
}

func (d *fakeDispatcher) Get(_ context.Context, id string) (*model.Notification, error) {
	if d.getErr != nil {
		return nil, d.getErr
	}
	if n, ok := d.byID[id]; ok {
		return n, nil
	}
	return nil, model.ErrNotFound
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestRouter(d *fakeDispatcher, opts Options) *gin.Engine {
	h := NewNotificationHandler(d, zap.NewNop())
	return NewRouter(h, fakePinger{}, opts, zap.NewNop()).Engine
}

func do(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func assertCORS(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

const validBody = `{"type":"alert","title":"X","message":"Y","target_user":"u1"}`

func sentResponse() *model.DispatchResponse {
	return &model.DispatchResponse{
		Success:        true,
		NotificationID: "n-1",
		Recipients:     1,
		FCMResult:      model.Sent(1),
	}
}

func TestOptions_ReturnsEmpty200WithCORS(t *testing.T) {
	r := newTestRouter(&fakeDispatcher{}, Options{})

	for _, path := range []string{PathNotifications, PathFunction} {
		w := do(r, http.MethodOptions, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
		assertCORS(t, w)
	}
}

func TestPost_Dispatches(t *testing.T) {
	d := &fakeDispatcher{resp: sentResponse()}
	r := newTestRouter(d, Options{})

	w := do(r, http.MethodPost, PathNotifications,
		`{"type":"alert","title":"X","message":"Y","data":{"pair":"ETH"},"target_user":"u1","target_device_ids":["d1"]}`, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assertCORS(t, w)
	assert.JSONEq(t, `{"success":true,"notification_id":"n-1","recipients":1,"fcm_result":{"success":true,"tokens_sent":1}}`, w.Body.String())

	require.Len(t, d.requests, 1)
	assert.Equal(t, "u1", d.requests[0].TargetUser)
	assert.Equal(t, []string{"d1"}, d.requests[0].TargetDeviceIDs)
	assert.JSONEq(t, `{"pair":"ETH"}`, string(d.requests[0].Data))
}

func TestPost_ZeroRecipientsIsStillSuccess(t *testing.T) {
	d := &fakeDispatcher{resp: &model.DispatchResponse{Success: true, NotificationID: "n-2"}}
	w := do(newTestRouter(d, Options{}), http.MethodPost, PathFunction, validBody, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":true,"notification_id":"n-2","recipients":0,"fcm_result":null}`, w.Body.String())
}

func TestPost_MalformedJSON(t *testing.T) {
	d := &fakeDispatcher{}
	w := do(newTestRouter(d, Options{}), http.MethodPost, PathNotifications, `{"type":`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assertCORS(t, w)
	body := decode(t, w)
	assert.Equal(t, "Invalid request body", body["error"])
	assert.NotEmpty(t, body["details"])
	assert.Empty(t, d.requests)
}

func TestPost_ValidationError(t *testing.T) {
	w := do(newTestRouter(&fakeDispatcher{}, Options{}), http.MethodPost, PathNotifications,
		`{"type":"alert","message":"Y"}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Invalid notification", body["error"])
	assert.Equal(t, "title: is required", body["details"])
}

func TestPost_PersistenceFailure(t *testing.T) {
	d := &fakeDispatcher{err: errors.New("failed to insert notification: connection refused")}
	w := do(newTestRouter(d, Options{}), http.MethodPost, PathNotifications, validBody, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assertCORS(t, w)
	assert.JSONEq(t, `{"error":"Failed to process notification","details":"failed to insert notification: connection refused"}`, w.Body.String())
}

func TestPost_FinalizeFailureIncludesID(t *testing.T) {
	d := &fakeDispatcher{err: &dispatch.FinalizeError{NotificationID: "n-9", Err: errors.New("timeout")}}
	w := do(newTestRouter(d, Options{}), http.MethodPost, PathNotifications, validBody, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Failed to process notification", body["error"])
	assert.Equal(t, "n-9", body["notification_id"])
}

func TestPost_PanicBecomes500JSON(t *testing.T) {
	w := do(newTestRouter(&fakeDispatcher{panicMsg: "boom"}, Options{}), http.MethodPost, PathNotifications, validBody, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assertCORS(t, w)
	body := decode(t, w)
	assert.Equal(t, "Failed to process notification", body["error"])
	assert.Equal(t, "boom", body["details"])
}

func TestGet_ListsRecent(t *testing.T) {
	created := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	d := &fakeDispatcher{recent: []model.Notification{
		{ID: "n-2", Type: model.KindSignal, Title: "B", Message: "b", Status: model.StatusSent, CreatedAt: created},
		{ID: "n-1", Type: model.KindAlert, Title: "A", Message: "a", Status: model.StatusFailed, CreatedAt: created.Add(-time.Minute)},
	}}

	w := do(newTestRouter(d, Options{}), http.MethodGet, PathNotifications, "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assertCORS(t, w)
	assert.Equal(t, dispatch.MaxRecent, d.limit)

	var body struct {
		Notifications []model.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 2)
	assert.Equal(t, "n-2", body.Notifications[0].ID)
}

func TestGet_EmptyListIsArray(t *testing.T) {
	w := do(newTestRouter(&fakeDispatcher{recent: []model.Notification{}}, Options{}), http.MethodGet, PathNotifications, "", nil)
	assert.JSONEq(t, `{"notifications":[]}`, w.Body.String())
}

func TestGet_LimitQuery(t *testing.T) {
	d := &fakeDispatcher{recent: []model.Notification{}}
	r := newTestRouter(d, Options{})

	w := do(r, http.MethodGet, PathNotifications+"?limit=5", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, d.limit)

	w = do(r, http.MethodGet, PathNotifications+"?limit=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGet_StoreFailure(t *testing.T) {
	d := &fakeDispatcher{recentErr: errors.New("db down")}
	w := do(newTestRouter(d, Options{}), http.MethodGet, PathNotifications, "", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to process notification","details":"db down"}`, w.Body.String())
}

func TestGetByID(t *testing.T) {
	const id = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	d := &fakeDispatcher{byID: map[string]*model.Notification{
		id: {ID: id, Type: model.KindAlert, Title: "X", Message: "Y", Status: model.StatusSent},
	}}
	r := newTestRouter(d, Options{})

	w := do(r, http.MethodGet, PathNotifications+"/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assertCORS(t, w)
	n := decode(t, w)["notification"].(map[string]any)
	assert.Equal(t, id, n["id"])
	assert.Equal(t, "sent", n["status"])

	w = do(r, http.MethodGet, PathFunction+"/"+id, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, PathNotifications+"/1b4e28ba-2fa1-11d2-883f-0016d3cca427", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Notification not found", decode(t, w)["error"])

	// not a uuid: never reaches the store
	d.getErr = errors.New("should not be called")
	w = do(r, http.MethodGet, PathNotifications+"/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetByID_StoreFailure(t *testing.T) {
	d := &fakeDispatcher{getErr: errors.New("db down")}
	w := do(newTestRouter(d, Options{}), http.MethodGet, PathNotifications+"/7c9e6679-7425-40de-944b-e07fc1f90ae7", "", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to process notification","details":"db down"}`, w.Body.String())
}

func TestOptions_AnsweredByCORSOnAnyPath(t *testing.T) {
	r := newTestRouter(&fakeDispatcher{}, Options{})

	for _, path := range []string{PathNotifications + "/7c9e6679-7425-40de-944b-e07fc1f90ae7", "/unknown"} {
		w := do(r, http.MethodOptions, path, "", nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Empty(t, w.Body.String(), path)
		assertCORS(t, w)
	}
}

func TestUnsupportedMethods(t *testing.T) {
	r := newTestRouter(&fakeDispatcher{}, Options{})

	for _, method := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		w := do(r, method, PathNotifications, "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
		assertCORS(t, w)
		assert.Equal(t, "Method not allowed", decode(t, w)["error"])
	}
}

func TestTraceIDIsEchoed(t *testing.T) {
	r := newTestRouter(&fakeDispatcher{recent: []model.Notification{}}, Options{})

	w := do(r, http.MethodGet, PathNotifications, "", map[string]string{trace.HeaderName(): "trace-abc"})
	assert.Equal(t, "trace-abc", w.Header().Get(trace.HeaderName()))

	w = do(r, http.MethodGet, PathNotifications, "", nil)
	assert.Len(t, w.Header().Get(trace.HeaderName()), 32)
}

func TestHealthAndReadiness(t *testing.T) {
	h := NewNotificationHandler(&fakeDispatcher{}, zap.NewNop())

	ok := NewRouter(h, fakePinger{}, Options{}, zap.NewNop()).Engine
	assert.Equal(t, http.StatusOK, do(ok, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(ok, http.MethodGet, "/readyz", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(ok, http.MethodGet, "/metrics", "", nil).Code)

	down := NewRouter(h, fakePinger{err: errors.New("no db")}, Options{}, zap.NewNop()).Engine
	assert.Equal(t, http.StatusServiceUnavailable, do(down, http.MethodGet, "/readyz", "", nil).Code)
}

func bearer(t *testing.T, role string) map[string]string {
	t.Helper()
	token, err := util.GenerateJWT("caller", role, "jwt-secret", time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestAuth_RolesAndPermissions(t *testing.T) {
	d := &fakeDispatcher{resp: sentResponse(), recent: []model.Notification{}}
	r := newTestRouter(d, Options{JWTSecret: "jwt-secret"})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, PathNotifications, validBody, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, PathNotifications, "", map[string]string{"Authorization": "Bearer junk"}).Code)

	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, PathNotifications, validBody, bearer(t, rbac.RoleAnon)).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, PathNotifications, validBody, bearer(t, rbac.RoleAuthenticated)).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, PathNotifications, "", bearer(t, rbac.RoleAnon)).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, PathNotifications, validBody, bearer(t, rbac.RoleService)).Code)

	// preflight never needs a token
	w := do(r, http.MethodOptions, PathNotifications, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assertCORS(t, w)

	assert.Len(t, d.requests, 1)
}

func TestRateLimit(t *testing.T) {
	r := newTestRouter(&fakeDispatcher{recent: []model.Notification{}}, Options{RateLimitPerMinute: 2})

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, PathNotifications, "", nil).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, PathNotifications, "", nil).Code)

	w := do(r, http.MethodGet, PathNotifications, "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assertCORS(t, w)
}

func TestIPRateLimiter_PerIP(t *testing.T) {
	l := NewIPRateLimiter(1)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
}

func TestIPRateLimiter_SweepsIdleEntries(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))
	assert.Equal(t, 2, l.Len())

	now = now.Add(limiterIdleTTL / 2)
	l.Allow("10.0.0.2")

	now = now.Add(limiterIdleTTL/2 + time.Second)
	assert.True(t, l.Allow("10.0.0.3"))
	// 10.0.0.1 was idle for longer than the TTL; 10.0.0.2 was seen since
	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Allow("10.0.0.1"))
}

func TestIdempotency_FailsOpenWithoutRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	d := &fakeDispatcher{resp: sentResponse()}
	r := newTestRouter(d, Options{Deduper: util.NewDeduper(rdb, time.Minute)})

	headers := map[string]string{HeaderIdempotencyKey: "key-1"}
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, PathNotifications, validBody, headers).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, PathNotifications, validBody, headers).Code)
	assert.Len(t, d.requests, 2)
}
