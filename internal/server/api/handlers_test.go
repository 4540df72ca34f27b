package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momscoder/expensesmanager/internal/protocol"
	"github.com/momscoder/expensesmanager/internal/server/auth"
	"github.com/momscoder/expensesmanager/internal/server/service"
	"github.com/momscoder/expensesmanager/internal/server/store"
)

type fakeUsers struct {
	nextID int64
	byMail map[string]*store.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{nextID: 1, byMail: map[string]*store.User{}}
}

func (f *fakeUsers) CreateUser(_ context.Context, email, passwordHash string) (int64, error) {
	if _, ok := f.byMail[email]; ok {
		return 0, store.ErrUserExists
	}
	u := &store.User{ID: f.nextID, Email: email, PasswordHash: passwordHash}
	f.nextID++
	f.byMail[email] = u
	return u.ID, nil
}

func (f *fakeUsers) UserByEmail(_ context.Context, email string) (*store.User, error) {
	u, ok := f.byMail[email]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

type fakeReconciler struct {
	err      error
	lastUser int64
	lastReq  protocol.SyncRequest
}

func (f *fakeReconciler) ProcessBatch(_ context.Context, userID int64, req protocol.SyncRequest) (*protocol.SyncResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastUser = userID
	f.lastReq = req
	resp := &protocol.SyncResponse{
		LocalIDToServerID: map[int64]int64{},
		HashToServerID:    map[string]int64{},
	}
	for i, rec := range req.Receipts {
		serverID := int64(100 + i)
		resp.HashToServerID[rec.Hash] = serverID
		if rec.LocalID < 0 {
			resp.LocalIDToServerID[rec.LocalID] = serverID
		}
		resp.Results.Receipts = append(resp.Results.Receipts, protocol.ReceiptResult{
			Hash: rec.Hash, ServerID: serverID, Status: protocol.StatusCreated,
		})
	}
	return resp, nil
}

type fakeData struct {
	snapshot   *protocol.PullResponse
	categories []protocol.PullCategory
	deleteErr  error
}

func (f *fakeData) Snapshot(context.Context, int64) (*protocol.PullResponse, error) {
	if f.snapshot == nil {
		return &protocol.PullResponse{
			Receipts:   []protocol.PullReceipt{},
			Purchases:  []protocol.PullPurchase{},
			Categories: []protocol.PullCategory{},
		}, nil
	}
	return f.snapshot, nil
}

func (f *fakeData) DeleteReceipt(context.Context, int64, int64) error { return f.deleteErr }

func (f *fakeData) ListCategories(context.Context, int64) ([]protocol.PullCategory, error) {
	return f.categories, nil
}

func (f *fakeData) CreateCategory(_ context.Context, _ int64, name string) (int64, error) {
	for _, c := range f.categories {
		if c.Name == name {
			return 0, store.ErrCategoryExists
		}
	}
	id := int64(len(f.categories) + 1)
	f.categories = append(f.categories, protocol.PullCategory{ID: id, Name: name})
	return id, nil
}

func (f *fakeData) DeleteCategory(_ context.Context, _ int64, id int64) error {
	for i, c := range f.categories {
		if c.ID == id {
			f.categories = append(f.categories[:i], f.categories[i+1:]...)
			return nil
		}
	}
	return store.ErrCategoryMissing
}

func (f *fakeData) ExpensesByCategory(context.Context, int64, string, string) ([]store.CategoryTotal, error) {
	return []store.CategoryTotal{{Category: "Groceries", Total: 12.5}}, nil
}

func (f *fakeData) TotalsByDate(context.Context, int64, string, string) ([]store.DateTotal, error) {
	return []store.DateTotal{{Date: "2024-03-01", Total: 12.5}}, nil
}

type testEnv struct {
	handler    *Handler
	reconciler *fakeReconciler
	data       *fakeData
	token      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	authSvc := auth.NewService(newFakeUsers(), "test-secret", logger)
	rec := &fakeReconciler{}
	data := &fakeData{}
	h := NewHandler(data, rec, authSvc, logger)

	token, err := authSvc.Register(context.Background(), "u@example.com", "pw")
	require.NoError(t, err)

	return &testEnv{handler: h, reconciler: rec, data: data, token: token}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.handler.Router().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.request(t, "GET", "/api/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("register returns token", func(t *testing.T) {
		w := env.request(t, "POST", "/api/register",
			map[string]string{"email": "new@example.com", "password": "pw"}, false)
		require.Equal(t, http.StatusCreated, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.NotEmpty(t, body["token"])
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		w := env.request(t, "POST", "/api/register",
			map[string]string{"email": "u@example.com", "password": "pw"}, false)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("login with bad password", func(t *testing.T) {
		w := env.request(t, "POST", "/api/login",
			map[string]string{"email": "u@example.com", "password": "wrong"}, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("login succeeds", func(t *testing.T) {
		w := env.request(t, "POST", "/api/login",
			map[string]string{"email": "u@example.com", "password": "pw"}, false)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		w := env.request(t, "POST", "/api/register",
			map[string]string{"email": "x@example.com"}, false)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestSyncEndpoint(t *testing.T) {
	t.Run("requires a token", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.request(t, "POST", "/api/sync", protocol.SyncRequest{}, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("reconciles and returns mappings", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.request(t, "POST", "/api/sync", protocol.SyncRequest{
			Receipts: []protocol.ReceiptUpload{{LocalID: -1, Hash: "h1", Date: "2024-03-01"}},
		}, true)
		require.Equal(t, http.StatusOK, w.Code)

		var resp protocol.SyncResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(100), resp.LocalIDToServerID[-1])
		assert.Equal(t, int64(1), env.reconciler.lastUser)
	})

	t.Run("bad batch maps to 422", func(t *testing.T) {
		env := newTestEnv(t)
		env.reconciler.err = service.ErrBadBatch
		w := env.request(t, "POST", "/api/sync", protocol.SyncRequest{}, true)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("concurrent conflict maps to 409", func(t *testing.T) {
		env := newTestEnv(t)
		env.reconciler.err = store.ErrConflict
		w := env.request(t, "POST", "/api/sync", protocol.SyncRequest{}, true)
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestPullEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.data.snapshot = &protocol.PullResponse{
		Receipts:  []protocol.PullReceipt{{ID: 1, Date: "2024-03-01", Hash: "h1"}},
		Purchases: []protocol.PullPurchase{{ID: 2, ReceiptID: 1, Name: "Milk", Amount: 1}},
	}

	w := env.request(t, "GET", "/api/pull", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var snap protocol.PullResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Len(t, snap.Receipts, 1)
	assert.Len(t, snap.Purchases, 1)
}

func TestReceiptEndpoints(t *testing.T) {
	t.Run("list nests purchases under receipts", func(t *testing.T) {
		env := newTestEnv(t)
		env.data.snapshot = &protocol.PullResponse{
			Receipts: []protocol.PullReceipt{
				{ID: 1, Date: "2024-03-01", Hash: "h1"},
				{ID: 2, Date: "2024-03-02", Hash: "h2"},
			},
			Purchases: []protocol.PullPurchase{
				{ID: 10, ReceiptID: 1, Name: "Milk", Amount: 1},
			},
		}

		w := env.request(t, "GET", "/api/receipts", nil, true)
		require.Equal(t, http.StatusOK, w.Code)

		var views []receiptView
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
		require.Len(t, views, 2)
		assert.Len(t, views[0].Purchases, 1)
		assert.Empty(t, views[1].Purchases)
	})

	t.Run("create goes through reconciliation", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.request(t, "POST", "/api/receipts", map[string]any{
			"uid":  "FP1",
			"date": "2024-03-01",
			"purchases": []map[string]any{
				{"name": "Milk", "amount": 1.5},
				{"name": "Bread", "amount": 0.5},
			},
		}, true)
		require.Equal(t, http.StatusCreated, w.Code)

		req := env.reconciler.lastReq
		require.Len(t, req.Receipts, 1)
		assert.NotEmpty(t, req.Receipts[0].Hash)
		assert.InDelta(t, 2.0, req.Receipts[0].TotalAmount, 1e-9)
		assert.Len(t, req.Purchases, 2)
	})

	t.Run("delete missing receipt", func(t *testing.T) {
		env := newTestEnv(t)
		env.data.deleteErr = store.ErrReceiptNotFound
		w := env.request(t, "DELETE", "/api/receipts/55", nil, true)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCategoryEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.request(t, "POST", "/api/categories", map[string]string{"name": "Groceries"}, true)
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("duplicate conflicts", func(t *testing.T) {
		w := env.request(t, "POST", "/api/categories", map[string]string{"name": "Groceries"}, true)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("list", func(t *testing.T) {
		w := env.request(t, "GET", "/api/categories", nil, true)
		require.Equal(t, http.StatusOK, w.Code)

		var cats []protocol.PullCategory
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cats))
		require.Len(t, cats, 1)
	})

	t.Run("delete then missing", func(t *testing.T) {
		w := env.request(t, "DELETE", "/api/categories/1", nil, true)
		assert.Equal(t, http.StatusOK, w.Code)
		w = env.request(t, "DELETE", "/api/categories/1", nil, true)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAggregationEndpoints(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing range params rejected", func(t *testing.T) {
		w := env.request(t, "GET", "/api/expenses-by-category-range", nil, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad date format rejected", func(t *testing.T) {
		w := env.request(t, "GET", "/api/total-expenses-range?start=01.03.2024&end=2024-03-31", nil, true)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("expenses by category", func(t *testing.T) {
		w := env.request(t, "GET", "/api/expenses-by-category-range?start=2024-03-01&end=2024-03-31", nil, true)
		require.Equal(t, http.StatusOK, w.Code)

		var totals []store.CategoryTotal
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &totals))
		require.Len(t, totals, 1)
		assert.Equal(t, "Groceries", totals[0].Category)
	})

	t.Run("totals by date", func(t *testing.T) {
		w := env.request(t, "GET", "/api/total-expenses-range?start=2024-03-01&end=2024-03-31", nil, true)
		require.Equal(t, http.StatusOK, w.Code)

		var totals []store.DateTotal
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &totals))
		require.Len(t, totals, 1)
	})
}
