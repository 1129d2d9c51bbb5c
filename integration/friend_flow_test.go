package integration

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/divelog/server/model"
	"github.com/divelog/server/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() social.Config {
	cfg := social.DefaultConfig()
	cfg.MirrorRetryBackoff = time.Millisecond
	return cfg
}

func TestFriendshipLifecycle(t *testing.T) {
	ts := NewTestServer(t, testConfig(), nil)
	require.Equal(t, http.StatusOK, ts.Status(t, http.MethodGet, "/health", nil, ""))

	alice := UniqueID("alice")
	bob := UniqueID("bob")
	_, aliceToken := ts.Signup(t, alice, "friends")
	bobID, bobToken := ts.Signup(t, bob, "private")
	conn := ts.ConnectWS(t, bobID, bobToken)

	// 1. bob cannot see alice's logbook yet.
	assert.Equal(t, http.StatusForbidden, ts.Status(t, http.MethodGet, "/api/accounts/"+alice+"/logs", nil, bobToken))

	// 2. alice asks; bob is notified live.
	assert.Equal(t, http.StatusCreated, ts.Status(t, http.MethodPost, "/api/friends/"+bob, nil, aliceToken))
	pkt := RecvPacket(t, conn, 2*time.Second)
	assert.Equal(t, "mail", pkt.Type)
	assert.Contains(t, string(pkt.Payload), "New friend request")

	// 3. bob sees the incoming request and approves it.
	resp := ts.Get(t, "/api/accounts/"+bob+"/friends?view=incoming", bobToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var incoming struct {
		Friends []struct {
			Username string `json:"username"`
		} `json:"friends"`
	}
	ReadJSON(t, resp, &incoming)
	require.Len(t, incoming.Friends, 1)
	assert.Equal(t, alice, incoming.Friends[0].Username)

	assert.Equal(t, http.StatusOK, ts.Status(t, http.MethodPost, "/api/friends/requests/"+alice+"/approve", nil, bobToken))

	// 4. Friends-only content is now visible to bob.
	assert.Equal(t, http.StatusOK, ts.Status(t, http.MethodGet, "/api/accounts/"+alice+"/logs", nil, bobToken))

	// 5. alice removes her edge; bob loses access, his own edge stays.
	assert.Equal(t, http.StatusOK, ts.Status(t, http.MethodDelete, "/api/friends/"+bob, nil, aliceToken))
	assert.Equal(t, http.StatusForbidden, ts.Status(t, http.MethodGet, "/api/accounts/"+alice+"/logs", nil, bobToken))

	resp = ts.Get(t, "/api/accounts/"+bob+"/friends", bobToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var friends struct {
		Friends []map[string]interface{} `json:"friends"`
	}
	ReadJSON(t, resp, &friends)
	assert.Len(t, friends.Friends, 1)
}

func TestConcurrentFriendRequests(t *testing.T) {
	ts := NewTestServer(t, testConfig(), nil)

	bob := UniqueID("bob")
	ts.Signup(t, bob, "public")
	_, aliceToken := ts.Signup(t, UniqueID("alice"), "public")

	const n = 10
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/friends/"+bob, nil)
			req.Header.Set("Authorization", "Bearer "+aliceToken)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return
			}
			resp.Body.Close()
			codes[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, n-1, conflicts)

	var count int64
	require.NoError(t, ts.DB.Model(&model.Relationship{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

// flakyStore fails reciprocal upserts while down is set.
type flakyStore struct {
	social.Store
	down atomic.Bool
}

func (s *flakyStore) UpsertApproved(ctx context.Context, subjectID, objectID int64, reason string, at time.Time, mirrorPending bool) error {
	if s.down.Load() {
		return &social.Error{Kind: social.KindUnavailable, Op: "test.UpsertApproved", Msg: "store offline", Err: social.ErrUnavailable}
	}
	return s.Store.UpsertApproved(ctx, subjectID, objectID, reason, at, mirrorPending)
}

func TestHalfAppliedApprovalIsRepaired(t *testing.T) {
	cfg := testConfig()
	cfg.AtomicApproval = false
	cfg.MirrorRetries = 2
	flaky := &flakyStore{}
	ts := NewTestServer(t, cfg, func(s social.Store) social.Store {
		flaky.Store = s
		return flaky
	})

	alice := UniqueID("alice")
	bob := UniqueID("bob")
	aliceID, aliceToken := ts.Signup(t, alice, "private")
	bobID, bobToken := ts.Signup(t, bob, "private")
	adminID, adminToken := ts.Signup(t, UniqueID("root"), "private")
	require.NoError(t, ts.DB.Model(&model.Account{}).Where("id = ?", adminID).Update("role", model.RoleAdmin).Error)

	require.Equal(t, http.StatusCreated, ts.Status(t, http.MethodPost, "/api/friends/"+bob, nil, aliceToken))

	flaky.down.Store(true)
	resp := ts.PostJSON(t, "/api/friends/requests/"+alice+"/approve", nil, bobToken)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	resp.Body.Close()

	var original model.Relationship
	require.NoError(t, ts.DB.Where("subject_id = ? AND object_id = ?", aliceID, bobID).Take(&original).Error)
	assert.Equal(t, model.StatusApproved, original.Status)
	assert.True(t, original.MirrorPending)

	flaky.down.Store(false)
	resp = ts.PostJSON(t, "/api/admin/relationships/repair", nil, adminToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]interface{}
	ReadJSON(t, resp, &out)
	assert.Equal(t, float64(1), out["fixed"])

	var reverse model.Relationship
	require.NoError(t, ts.DB.Where("subject_id = ? AND object_id = ?", bobID, aliceID).Take(&reverse).Error)
	assert.Equal(t, model.StatusApproved, reverse.Status)
	require.NotNil(t, reverse.EvaluatedAt)
	assert.True(t, original.EvaluatedAt.Equal(*reverse.EvaluatedAt))

	require.NoError(t, ts.DB.First(&original, original.ID).Error)
	assert.False(t, original.MirrorPending)
}

func TestAuditTrailFollowsRequests(t *testing.T) {
	ts := NewTestServer(t, testConfig(), nil)

	alice := UniqueID("alice")
	aliceID, aliceToken := ts.Signup(t, alice, "private")
	_, bobToken := ts.Signup(t, UniqueID("bob"), "private")

	for i := 0; i < 3; i++ {
		target := UniqueID("t")
		ts.Signup(t, target, "private")
		require.Equal(t, http.StatusCreated, ts.Status(t, http.MethodPost, "/api/friends/"+target, nil, aliceToken))
	}
	require.Equal(t, http.StatusCreated, ts.Status(t, http.MethodPost, "/api/friends/"+alice, nil, bobToken))
	assert.Equal(t, http.StatusConflict, ts.Status(t, http.MethodPost, "/api/friends/"+alice, nil, bobToken))

	assert.Eventually(t, func() bool {
		logs, err := ts.Audit.Recent(context.Background(), aliceID, 0)
		return err == nil && len(logs) == 5
	}, 2*time.Second, 20*time.Millisecond, "audit entries for %d", aliceID)
}
