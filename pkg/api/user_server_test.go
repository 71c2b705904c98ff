package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/storefront/pkg/auth"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type userFixture struct {
	server *UserServer
	users  *store.UserStore
	cache  *repository.RedisRepository
	redis  *miniredis.Miniredis
}

func newUserFixture(t *testing.T) *userFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := repository.NewRedisRepository(&config.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	users := store.NewUserStore(newTestDB(t))
	return &userFixture{
		server: NewUserServer(users, newTestIssuer(t), cache, nil, zap.NewNop(), nil),
		users:  users,
		cache:  cache,
		redis:  mr,
	}
}

type tokens struct {
	User    map[string]any `json:"user"`
	Access  string         `json:"access"`
	Refresh string         `json:"refresh"`
}

func (f *userFixture) register(t *testing.T, username, email string) tokens {
	t.Helper()
	w := doJSON(t, f.server.Handler(), http.MethodPost, "/auth/register/", "", map[string]any{
		"username":         username,
		"fullname":         username + " example",
		"email":            email,
		"password":         "s3cret-pass",
		"password_confirm": "s3cret-pass",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decodeBody[tokens](t, w)
}

func (f *userFixture) admin(t *testing.T) tokens {
	t.Helper()
	hash, err := auth.HashPassword("admin-pass")
	require.NoError(t, err)
	_, err = f.users.EnsureSuperuser(context.Background(), "admin", "admin@example.com", hash)
	require.NoError(t, err)

	w := doJSON(t, f.server.Handler(), http.MethodPost, "/auth/login/", "", map[string]any{
		"email":    "admin@example.com",
		"password": "admin-pass",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody[tokens](t, w)
}

func TestRegisterLoginVerify(t *testing.T) {
	f := newUserFixture(t)
	h := f.server.Handler()

	reg := f.register(t, "alice", "alice@example.com")
	assert.Equal(t, "alice", reg.User["username"])
	assert.NotContains(t, reg.User, "password")
	assert.NotEmpty(t, reg.Access)
	assert.NotEmpty(t, reg.Refresh)

	w := doJSON(t, h, http.MethodPost, "/auth/login/", "", map[string]any{
		"email":    "alice@example.com",
		"password": "s3cret-pass",
	})
	require.Equal(t, http.StatusOK, w.Code)
	login := decodeBody[tokens](t, w)
	require.NotEmpty(t, login.Access)
	require.NotEmpty(t, login.Refresh)

	w = doJSON(t, h, http.MethodGet, "/auth/verify/", bearer(login.Access), nil)
	require.Equal(t, http.StatusOK, w.Code)
	id := decodeBody[auth.Identity](t, w)
	assert.Equal(t, uint(reg.User["id"].(float64)), id.UserID)
	assert.Equal(t, "alice", id.Username)
	assert.False(t, id.IsAdmin)
}

func TestRegisterValidation(t *testing.T) {
	f := newUserFixture(t)
	h := f.server.Handler()
	f.register(t, "alice", "alice@example.com")

	cases := map[string]struct {
		body  map[string]any
		field string
	}{
		"mismatched passwords": {
			body: map[string]any{
				"username": "bob", "fullname": "Bob", "email": "bob@example.com",
				"password": "s3cret-pass", "password_confirm": "other-pass",
			},
			field: "password_confirm",
		},
		"duplicate username": {
			body: map[string]any{
				"username": "alice", "fullname": "Alice", "email": "alice2@example.com",
				"password": "s3cret-pass", "password_confirm": "s3cret-pass",
			},
			field: "username",
		},
		"duplicate email": {
			body: map[string]any{
				"username": "alice2", "fullname": "Alice", "email": "ALICE@example.com",
				"password": "s3cret-pass", "password_confirm": "s3cret-pass",
			},
			field: "email",
		},
		"missing email": {
			body: map[string]any{
				"username": "carol", "fullname": "Carol",
				"password": "s3cret-pass", "password_confirm": "s3cret-pass",
			},
			field: "email",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/auth/register/", "", tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeBody[map[string]map[string][]string](t, w)
			assert.Contains(t, body["errors"], tc.field)
		})
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newUserFixture(t)
	f.register(t, "alice", "alice@example.com")

	for _, creds := range []map[string]any{
		{"email": "alice@example.com", "password": "wrong-pass"},
		{"email": "nobody@example.com", "password": "s3cret-pass"},
	} {
		w := doJSON(t, f.server.Handler(), http.MethodPost, "/auth/login/", "", creds)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "Invalid credentials", decodeBody[map[string]string](t, w)["error"])
	}
}

func TestRefresh(t *testing.T) {
	f := newUserFixture(t)
	h := f.server.Handler()
	reg := f.register(t, "alice", "alice@example.com")

	w := doJSON(t, h, http.MethodPost, "/auth/refresh/", "", map[string]any{"refresh": reg.Refresh})
	require.Equal(t, http.StatusOK, w.Code)
	access := decodeBody[map[string]string](t, w)["access"]
	require.NotEmpty(t, access)

	w = doJSON(t, h, http.MethodGet, "/auth/verify/", bearer(access), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/auth/refresh/", "", map[string]any{"refresh": reg.Access})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodGet, "/auth/verify/", bearer(reg.Refresh), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerifyRejectsMissingAndStaleTokens(t *testing.T) {
	f := newUserFixture(t)
	h := f.server.Handler()
	adm := f.admin(t)
	reg := f.register(t, "alice", "alice@example.com")

	w := doJSON(t, h, http.MethodGet, "/auth/verify/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodGet, "/auth/verify/", "Bearer not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodDelete, "/users/"+entityID(uint(reg.User["id"].(float64)))+"/", bearer(adm.Access), nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, h, http.MethodGet, "/auth/verify/", bearer(reg.Access), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerifyReflectsCurrentAdminFlag(t *testing.T) {
	f := newUserFixture(t)
	h := f.server.Handler()
	adm := f.admin(t)
	reg := f.register(t, "alice", "alice@example.com")
	path := "/users/" + entityID(uint(reg.User["id"].(float64))) + "/"

	w := doJSON(t, h, http.MethodPut, path, bearer(adm.Access), map[string]any{"is_staff": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodGet, "/auth/verify/", bearer(reg.Access), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[auth.Identity](t, w).IsAdmin)
}

func TestUserDetailAccess(t *testing.T) {
	f := newUserFixture(t)
	h := f.server.Handler()
	adm := f.admin(t)
	alice := f.register(t, "alice", "alice@example.com")
	bob := f.register(t, "bob", "bob@example.com")
	alicePath := "/users/" + entityID(uint(alice.User["id"].(float64))) + "/"

	w := doJSON(t, h, http.MethodGet, alicePath, bearer(alice.Access), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice@example.com", decodeBody[map[string]any](t, w)["email"])

	w = doJSON(t, h, http.MethodGet, alicePath, bearer(bob.Access), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, h, http.MethodGet, alicePath, "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, h, http.MethodGet, alicePath, bearer(adm.Access), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/users/9999/", bearer(adm.Access), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, h, http.MethodGet, "/users/", bearer(bob.Access), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, h, http.MethodGet, "/users/", bearer(adm.Access), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]map[string]any](t, w), 3)
}

func TestUserDetailIsCachedAndInvalidated(t *testing.T) {
	f := newUserFixture(t)
	h := f.server.Handler()
	adm := f.admin(t)
	alice := f.register(t, "alice", "alice@example.com")
	aliceID := uint(alice.User["id"].(float64))
	path := "/users/" + entityID(aliceID) + "/"

	w := doJSON(t, h, http.MethodGet, path, bearer(adm.Access), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.redis.Exists("user:"+entityID(aliceID)))

	cached, err := f.cache.GetUserCache(context.Background(), aliceID)
	require.NoError(t, err)
	assert.Equal(t, "alice", cached.Username)
	assert.Empty(t, cached.Password)

	w = doJSON(t, h, http.MethodPut, path, bearer(adm.Access), map[string]any{"city": "Bangkok"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.redis.Exists("user:"+entityID(aliceID)))

	w = doJSON(t, h, http.MethodGet, path, bearer(alice.Access), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bangkok", decodeBody[map[string]any](t, w)["city"])
}

func TestProfileUpdate(t *testing.T) {
	f := newUserFixture(t)
	h := f.server.Handler()
	alice := f.register(t, "alice", "alice@example.com")
	f.register(t, "bob", "bob@example.com")

	w := doJSON(t, h, http.MethodPut, "/users/profile/", bearer(alice.Access), map[string]any{
		"fullname": "Alice Liddell",
		"tel":      "0812345678",
		"is_staff": true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, "Alice Liddell", body["fullname"])
	assert.Equal(t, "0812345678", body["tel"])
	assert.Equal(t, false, body["is_staff"])

	w = doJSON(t, h, http.MethodPut, "/users/profile/", bearer(alice.Access), map[string]any{"email": "bob@example.com"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody[map[string]map[string][]string](t, w)["errors"], "email")

	w = doJSON(t, h, http.MethodGet, "/users/profile/", bearer(alice.Access), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice@example.com", decodeBody[map[string]any](t, w)["email"])
}
