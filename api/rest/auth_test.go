package rest_test

import (
	"net/http"
	"testing"

	"github.com/divelog/server/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	env := newEnv(t)

	w := postJSON(env.r, "/api/auth/register", map[string]string{
		"username": "Alice",
		"password": "pass1234",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	acc := decode(t, w)["account"].(map[string]interface{})
	assert.Equal(t, "alice", acc["username"])
	assert.Equal(t, "private", acc["visibility"])
	assert.Equal(t, "user", acc["role"])

	w = postJSON(env.r, "/api/auth/login", map[string]string{"username": "ALICE", "password": "pass1234"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.NotEmpty(t, resp["token"])
	assert.Equal(t, acc["id"], resp["account_id"])
}

func TestRegisterDuplicate(t *testing.T) {
	env := newEnv(t)
	body := map[string]string{"username": "bob", "password": "pass1234"}

	require.Equal(t, http.StatusCreated, postJSON(env.r, "/api/auth/register", body).Code)
	w := postJSON(env.r, "/api/auth/register", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decode(t, w)["code"])
}

func TestRegisterValidation(t *testing.T) {
	env := newEnv(t)

	cases := map[string]map[string]string{
		"short password":     {"username": "carol", "password": "short"},
		"bad username":       {"username": "carol!", "password": "pass1234"},
		"unknown visibility": {"username": "carol", "password": "pass1234", "visibility": "everyone"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := postJSON(env.r, "/api/auth/register", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRegisterPublicVisibility(t *testing.T) {
	env := newEnv(t)

	w := postJSON(env.r, "/api/auth/register", map[string]string{
		"username":   "dave",
		"password":   "pass1234",
		"visibility": "public",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var acc model.Account
	require.NoError(t, env.db.Where("username = ?", "dave").Take(&acc).Error)
	assert.Equal(t, model.VisibilityPublic, acc.Visibility)
	assert.NotEqual(t, "pass1234", acc.PasswordHash)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newEnv(t)
	env.user(t, "bob", model.VisibilityPrivate)

	w := postJSON(env.r, "/api/auth/login", map[string]string{"username": "bob", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginUnknownUser(t *testing.T) {
	env := newEnv(t)

	w := postJSON(env.r, "/api/auth/login", map[string]string{"username": "nobody", "password": "pass1234"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginBanned(t *testing.T) {
	env := newEnv(t)
	acc, _ := env.user(t, "erin", model.VisibilityPrivate)
	require.NoError(t, env.db.Model(acc).Update("status", 0).Error)

	w := postJSON(env.r, "/api/auth/login", map[string]string{"username": "erin", "password": "pass1234"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestLogout(t *testing.T) {
	env := newEnv(t)
	_, token := env.user(t, "dave", model.VisibilityPrivate)

	w := send(env.r, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Session removed
	w = send(env.r, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefresh(t *testing.T) {
	env := newEnv(t)
	_, token := env.user(t, "frank", model.VisibilityPrivate)

	w := send(env.r, http.MethodPost, "/api/auth/refresh", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	fresh := decode(t, w)["token"].(string)
	assert.NotEqual(t, token, fresh)

	assert.Equal(t, http.StatusUnauthorized, send(env.r, http.MethodPost, "/api/auth/refresh", token, nil).Code)
	assert.Equal(t, http.StatusOK, send(env.r, http.MethodPost, "/api/auth/refresh", fresh, nil).Code)
}

func TestRefreshNoToken(t *testing.T) {
	env := newEnv(t)
	w := send(env.r, http.MethodPost, "/api/auth/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
