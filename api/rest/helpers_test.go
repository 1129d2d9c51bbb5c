package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/divelog/server/api/rest"
	"github.com/divelog/server/audit"
	"github.com/divelog/server/config"
	"github.com/divelog/server/mail"
	"github.com/divelog/server/model"
	"github.com/divelog/server/scheduler"
	"github.com/divelog/server/social"
	"github.com/divelog/server/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testSecurity = config.SecurityConfig{
	JWTSecret: "test-secret",
	JWTTTLH:   72 * time.Hour,
}

type testEnv struct {
	r     *gin.Engine
	db    *gorm.DB
	audit *audit.Service
	sched *scheduler.Scheduler
}

func newEnv(t *testing.T, mutate ...func(*social.Config)) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c := testutil.SetupTestCache(t)
	logger := testutil.Logger(t)

	cfg := social.DefaultConfig()
	cfg.MirrorRetryBackoff = time.Millisecond
	for _, m := range mutate {
		m(&cfg)
	}

	store := social.NewGormStore(db, 0)
	accounts := social.NewGormAccounts(db)
	outbox := mail.NewOutbox(db, "noreply@divelog.test", true, logger)
	auditSvc := audit.New(db, 10*time.Millisecond, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	life := social.NewLifecycle(store, accounts, outbox, cfg, logger)
	eval := social.NewEvaluator(store, accounts, cfg)
	roster := social.NewRoster(store, accounts)
	repairer := social.NewRepairer(store, cfg, 0, logger)

	routes := &rest.Routes{
		Auth:     rest.NewAuthHandler(db, c, testSecurity),
		Accounts: rest.NewAccountHandler(db, accounts, eval),
		Logbook:  rest.NewLogbookHandler(db, accounts, eval),
		Social:   rest.NewSocialHandler(accounts, life, eval, roster, auditSvc),
		Mail:     rest.NewMailHandler(outbox),
		Admin:    rest.NewAdminHandler(db, accounts, store, life, repairer, sched, auditSvc, logger),
		Health:   rest.NewHealthHandler(db, c),
	}
	r := gin.New()
	routes.Register(r, testSecurity, c, accounts)
	return &testEnv{r: r, db: db, audit: auditSvc, sched: sched}
}

// user creates an account and returns it with a live session token.
func (e *testEnv) user(t *testing.T, name string, vis model.Visibility) (*model.Account, string) {
	t.Helper()
	acc := testutil.CreateAccount(t, e.db, name, model.RoleUser, vis)
	return acc, e.login(t, name)
}

func (e *testEnv) admin(t *testing.T, name string) (*model.Account, string) {
	t.Helper()
	acc := testutil.CreateAccount(t, e.db, name, model.RoleAdmin, model.VisibilityPrivate)
	return acc, e.login(t, name)
}

func (e *testEnv) login(t *testing.T, name string) string {
	t.Helper()
	w := postJSON(e.r, "/api/auth/login", map[string]string{"username": name, "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)["token"].(string)
}

// befriend runs the request and approval through the API.
func (e *testEnv) befriend(t *testing.T, from string, fromToken, to, toToken string) {
	t.Helper()
	w := send(e.r, http.MethodPost, "/api/friends/"+to, fromToken, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = send(e.r, http.MethodPost, "/api/friends/requests/"+from+"/approve", toToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func postJSON(r *gin.Engine, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// send issues an authenticated request. A nil body sends no body at all.
func send(r *gin.Engine, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func findEdge(t *testing.T, db *gorm.DB, subjectID, objectID int64) *model.Relationship {
	t.Helper()
	var rel model.Relationship
	err := db.Where("subject_id = ? AND object_id = ?", subjectID, objectID).Take(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	require.NoError(t, err)
	return &rel
}
