package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/example/storefront/pkg/auth"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/database"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/userclient"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, append(models.AllModels(), &models.User{})...))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

func newTestIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	issuer, err := auth.NewIssuer(&config.AuthConfig{
		Secret:     "test-secret",
		Issuer:     "user-service",
		AccessTTL:  5 * time.Minute,
		RefreshTTL: time.Hour,
	})
	require.NoError(t, err)
	return issuer
}

func doJSON(t *testing.T, h http.Handler, method, path, authorization string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func bearer(token string) string {
	return "Bearer " + token
}

// fakeVerifier maps Authorization headers to identities.
type fakeVerifier struct {
	mu    sync.Mutex
	ids   map[string]*auth.Identity
	calls int
}

func (f *fakeVerifier) Verify(_ context.Context, authorization string) (*auth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id, ok := f.ids[authorization]
	if !ok {
		return nil, userclient.ErrAuthenticationFailed
	}
	return id, nil
}

func (f *fakeVerifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCustomers struct {
	mu    sync.Mutex
	info  map[uint]map[string]any
	calls int
}

func (f *fakeCustomers) Customer(_ context.Context, id uint, _ string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	info, ok := f.info[id]
	if !ok {
		return nil, userclient.ErrCustomerUnavailable
	}
	return info, nil
}
