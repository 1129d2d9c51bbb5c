package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	apirest "github.com/divelog/server/api/rest"
	apiws "github.com/divelog/server/api/ws"
	"github.com/divelog/server/audit"
	"github.com/divelog/server/cache"
	"github.com/divelog/server/config"
	"github.com/divelog/server/mail"
	mw "github.com/divelog/server/middleware"
	"github.com/divelog/server/scheduler"
	"github.com/divelog/server/social"
	"github.com/divelog/server/testutil"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB       *gorm.DB
	Cache    cache.Cache
	Store    social.Store
	Hub      *apiws.Hub
	Audit    *audit.Service
	Repairer *social.Repairer
	Server   *httptest.Server
	URL      string // http://127.0.0.1:<port>
	WSURL    string // ws://127.0.0.1:<port>/ws
	Sec      config.SecurityConfig
}

// NewTestServer creates a fully wired server for integration testing. It
// mirrors the dependency wiring in main.go. wrap, when non-nil, decorates the
// gorm-backed relationship store.
func NewTestServer(t *testing.T, cfg social.Config, wrap func(social.Store) social.Store) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		JWTTTLH:        72 * time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
	}

	// ---- Relationship core ----
	var store social.Store = social.NewGormStore(db, 5*time.Second)
	if wrap != nil {
		store = wrap(store)
	}
	accounts := social.NewGormAccounts(db)
	hub := apiws.NewHub(logger)
	relay := apiws.NewRelay(cache.NewPubSub(c, cache.CacheConfig{}), hub, logger)
	require.NoError(t, relay.Start(context.Background()))
	outbox := mail.NewOutbox(db, "no-reply@divelog.test", true, logger)
	outbox.SetPublisher(relay)
	auditSvc := audit.New(db, 20*time.Millisecond, logger)
	sched := scheduler.New(logger)

	life := social.NewLifecycle(store, accounts, outbox, cfg, logger)
	eval := social.NewEvaluator(store, accounts, cfg)
	roster := social.NewRoster(store, accounts)
	repairer := social.NewRepairer(store, cfg, 0, logger)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))
	routes := &apirest.Routes{
		Auth:     apirest.NewAuthHandler(db, c, sec),
		Accounts: apirest.NewAccountHandler(db, accounts, eval),
		Logbook:  apirest.NewLogbookHandler(db, accounts, eval),
		Social:   apirest.NewSocialHandler(accounts, life, eval, roster, auditSvc),
		Mail:     apirest.NewMailHandler(outbox),
		Admin:    apirest.NewAdminHandler(db, accounts, store, life, repairer, sched, auditSvc, logger),
		Health:   apirest.NewHealthHandler(db, c),
	}
	routes.Register(r, sec, c, accounts)
	r.GET("/ws", apiws.NewHandler(c, sec, hub, logger).ServeWS)

	// ---- Start server ----
	server := httptest.NewServer(r)
	ts := &TestServer{
		DB:       db,
		Cache:    c,
		Store:    store,
		Hub:      hub,
		Audit:    auditSvc,
		Repairer: repairer,
		Server:   server,
		URL:      server.URL,
		WSURL:    "ws" + server.URL[len("http"):] + "/ws",
		Sec:      sec,
	}
	t.Cleanup(func() {
		relay.Stop()
		hub.CloseAll()
		server.Close()
		sched.Stop()
		auditSvc.Stop(context.Background())
	})
	return ts
}

// --- HTTP helpers ---

// Do sends a request with an optional JSON body and Bearer token.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, bodyReader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// PostJSON sends a POST request with JSON body and optional Bearer token.
func (ts *TestServer) PostJSON(t *testing.T, path string, body interface{}, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodPost, path, body, token)
}

// Get sends a GET request with optional Bearer token.
func (ts *TestServer) Get(t *testing.T, path string, token string) *http.Response {
	t.Helper()
	return ts.Do(t, http.MethodGet, path, nil, token)
}

// Status performs a request and returns only its status code.
func (ts *TestServer) Status(t *testing.T, method, path string, body interface{}, token string) int {
	t.Helper()
	resp := ts.Do(t, method, path, body, token)
	resp.Body.Close()
	return resp.StatusCode
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// --- Auth helpers ---

// Register creates an account through the API and returns its ID.
func (ts *TestServer) Register(t *testing.T, username, visibility string) int64 {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/register", map[string]string{
		"username":   username,
		"password":   "testpass1234",
		"visibility": visibility,
	}, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var result struct {
		Account struct {
			ID int64 `json:"id"`
		} `json:"account"`
	}
	ReadJSON(t, resp, &result)
	return result.Account.ID
}

// Login logs in and returns the session token.
func (ts *TestServer) Login(t *testing.T, username string) string {
	t.Helper()
	resp := ts.PostJSON(t, "/api/auth/login", map[string]string{
		"username": username,
		"password": "testpass1234",
	}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result map[string]interface{}
	ReadJSON(t, resp, &result)
	return result["token"].(string)
}

// Signup registers and logs in, returning the account ID and token.
func (ts *TestServer) Signup(t *testing.T, username, visibility string) (int64, string) {
	t.Helper()
	id := ts.Register(t, username, visibility)
	return id, ts.Login(t, username)
}

// --- WebSocket helpers ---

// ConnectWS opens a notification socket and waits until the hub sees it.
func (ts *TestServer) ConnectWS(t *testing.T, accountID int64, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.WSURL+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return ts.Hub.Online(accountID) > 0 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

// RecvPacket reads one WS packet or fails after timeout.
func RecvPacket(t *testing.T, conn *websocket.Conn, timeout time.Duration) apiws.Packet {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var pkt apiws.Packet
	require.NoError(t, conn.ReadJSON(&pkt))
	return pkt
}

var testCounter uint64

// UniqueID returns a short unique alphanumeric string suitable for usernames.
func UniqueID(prefix string) string {
	n := atomic.AddUint64(&testCounter, 1)
	return fmt.Sprintf("%s%d%d", prefix, time.Now().UnixNano()%100000, n)
}
