package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/jobkeeper/internal/store"
	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

type mockKeyStore struct {
	created *models.APIKey
	listed  []*models.APIKey
	revoked uuid.UUID
	err     error
}

func (m *mockKeyStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.created = key
	return m.err
}
func (m *mockKeyStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	return m.listed, m.err
}
func (m *mockKeyStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	m.revoked = id
	return m.err
}

func keyRouter(st *mockKeyStore) chi.Router {
	r := chi.NewRouter()
	r.Post("/keys", NewCreateKeyHandler(st))
	r.Get("/keys", NewListKeysHandler(st))
	r.Delete("/keys/{keyID}", NewRevokeKeyHandler(st))
	return r
}

func TestCreateKey_ReturnsRawKeyOnce(t *testing.T) {
	st := &mockKeyStore{}
	router := keyRouter(st)

	req := httptest.NewRequest(http.MethodPost, "/keys",
		bytes.NewBufferString(`{"name":"worker","scopes":["jobs"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := decodeData(t, rec)

	rawKey := data["key"].(string)
	assert.True(t, strings.HasPrefix(rawKey, "jk_"))
	assert.Equal(t, "worker", data["name"])

	// Only the hash is stored; it must verify against the returned raw key.
	require.NotNil(t, st.created)
	assert.Equal(t, rawKey[:8], st.created.KeyPrefix)
	assert.NotContains(t, st.created.KeyHash, rawKey)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(st.created.KeyHash), []byte(rawKey)))
}

func TestCreateKey_DefaultScope(t *testing.T) {
	st := &mockKeyStore{}
	router := keyRouter(st)

	req := httptest.NewRequest(http.MethodPost, "/keys",
		bytes.NewBufferString(`{"name":"worker"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"jobs"}, st.created.Scopes)
}

func TestCreateKey_MissingName(t *testing.T) {
	router := keyRouter(&mockKeyStore{})

	req := httptest.NewRequest(http.MethodPost, "/keys", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListKeys_EmptyIsArray(t *testing.T) {
	router := keyRouter(&mockKeyStore{})

	req := httptest.NewRequest(http.MethodGet, "/keys", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Empty(t, env.Data)
}

func TestRevokeKey(t *testing.T) {
	st := &mockKeyStore{}
	router := keyRouter(st)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodDelete, "/keys/"+id.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, st.revoked)
}

func TestRevokeKey_BadID(t *testing.T) {
	router := keyRouter(&mockKeyStore{})

	req := httptest.NewRequest(http.MethodDelete, "/keys/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeKey_NotFound(t *testing.T) {
	router := keyRouter(&mockKeyStore{err: store.ErrNotFound})

	req := httptest.NewRequest(http.MethodDelete, "/keys/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
