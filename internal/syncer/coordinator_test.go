package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momscoder/expensesmanager/internal/domain"
	"github.com/momscoder/expensesmanager/internal/protocol"
)

type fakeStore struct {
	mu         sync.Mutex
	unsynced   []domain.Receipt
	categories []domain.Category

	rewriteErr   error
	rewrites     int
	lastLocalMap map[int64]int64
	lastHashMap  map[string]int64

	replaced *protocol.PullResponse
}

func (f *fakeStore) UnsyncedReceipts(context.Context) ([]domain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsynced, nil
}

func (f *fakeStore) Categories(context.Context) ([]domain.Category, error) {
	return f.categories, nil
}

func (f *fakeStore) RewriteIdentifiers(_ context.Context, localToServer map[int64]int64, hashToServer map[string]int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rewriteErr != nil {
		return f.rewriteErr
	}
	f.rewrites++
	f.lastLocalMap = localToServer
	f.lastHashMap = hashToServer
	f.unsynced = nil
	return nil
}

func (f *fakeStore) ReplaceAll(_ context.Context, snap *protocol.PullResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaced = snap
	return nil
}

type fakeTransport struct {
	pingErr error
	syncErr error

	mu       sync.Mutex
	batches  []protocol.SyncRequest
	response *protocol.SyncResponse
	snapshot *protocol.PullResponse
	release  chan struct{} // when set, Sync blocks until closed
}

func (f *fakeTransport) Ping(context.Context) error { return f.pingErr }

func (f *fakeTransport) Sync(_ context.Context, req protocol.SyncRequest) (*protocol.SyncResponse, error) {
	if f.release != nil {
		<-f.release
	}
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	f.mu.Lock()
	f.batches = append(f.batches, req)
	f.mu.Unlock()
	return f.response, nil
}

func (f *fakeTransport) Pull(context.Context) (*protocol.PullResponse, error) {
	if f.snapshot == nil {
		return &protocol.PullResponse{}, nil
	}
	return f.snapshot, nil
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func unsyncedReceipt(localSeq int64, hash string, purchases int) domain.Receipt {
	rec := domain.Receipt{
		ID:   domain.NewLocalID(localSeq),
		Date: "2024-03-01",
		Hash: hash,
	}
	for i := 0; i < purchases; i++ {
		rec.Purchases = append(rec.Purchases, domain.Purchase{
			ID:        domain.NewLocalID(localSeq*10 + int64(i) + 1),
			ReceiptID: rec.ID,
			Name:      "item",
			Amount:    1,
		})
		rec.TotalAmount += 1
	}
	return rec
}

func TestSyncToServer(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads batch and rewrites identifiers", func(t *testing.T) {
		store := &fakeStore{unsynced: []domain.Receipt{
			unsyncedReceipt(1, "h1", 2),
			unsyncedReceipt(2, "h2", 0),
		}}
		transport := &fakeTransport{response: &protocol.SyncResponse{
			LocalIDToServerID: map[int64]int64{-1: 100, -2: 101},
			HashToServerID:    map[string]int64{"h1": 100, "h2": 101},
			Results: protocol.BatchResults{Receipts: []protocol.ReceiptResult{
				{Hash: "h1", ServerID: 100, Status: protocol.StatusCreated},
				{Hash: "h2", ServerID: 101, Status: protocol.StatusUpdated},
			}},
		}}
		c := New(store, transport, StaticToken("tok"), testLogger())

		res, err := c.SyncToServer(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, res.ReceiptsSent)
		assert.Equal(t, 2, res.PurchasesSent)
		assert.Equal(t, 1, res.Created)
		assert.Equal(t, 1, res.Updated)
		assert.Equal(t, 1, store.rewrites)
		assert.Equal(t, int64(100), store.lastLocalMap[-1])

		// Purchases reference their parent's local id within the batch.
		require.Len(t, transport.batches, 1)
		for _, p := range transport.batches[0].Purchases {
			assert.Equal(t, int64(-1), p.ReceiptID)
		}
	})

	t.Run("empty store is a no-op without network traffic", func(t *testing.T) {
		store := &fakeStore{}
		transport := &fakeTransport{}
		c := New(store, transport, StaticToken("tok"), testLogger())

		res, err := c.SyncToServer(ctx)
		require.NoError(t, err)
		assert.True(t, res.NoOp())
		assert.Empty(t, transport.batches)
	})

	t.Run("missing token fails before any request", func(t *testing.T) {
		c := New(&fakeStore{}, &fakeTransport{}, StaticToken(""), testLogger())
		_, err := c.SyncToServer(ctx)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("unreachable server fails preflight", func(t *testing.T) {
		transport := &fakeTransport{pingErr: ErrOffline}
		c := New(&fakeStore{}, transport, StaticToken("tok"), testLogger())
		_, err := c.SyncToServer(ctx)
		assert.ErrorIs(t, err, ErrOffline)
	})

	t.Run("upload failure leaves store untouched", func(t *testing.T) {
		store := &fakeStore{unsynced: []domain.Receipt{unsyncedReceipt(1, "h1", 1)}}
		transport := &fakeTransport{syncErr: ErrServerRejected}
		c := New(store, transport, StaticToken("tok"), testLogger())

		_, err := c.SyncToServer(ctx)
		assert.ErrorIs(t, err, ErrServerRejected)
		assert.Zero(t, store.rewrites)
		assert.Len(t, store.unsynced, 1)
	})

	t.Run("rewrite failure after server commit surfaces distinctly", func(t *testing.T) {
		store := &fakeStore{
			unsynced:   []domain.Receipt{unsyncedReceipt(1, "h1", 0)},
			rewriteErr: errors.New("disk full"),
		}
		transport := &fakeTransport{response: &protocol.SyncResponse{
			LocalIDToServerID: map[int64]int64{-1: 100},
			HashToServerID:    map[string]int64{"h1": 100},
		}}
		c := New(store, transport, StaticToken("tok"), testLogger())

		_, err := c.SyncToServer(ctx)
		assert.ErrorIs(t, err, ErrPostSyncReconciliation)
	})
}

func TestMutualExclusion(t *testing.T) {
	ctx := context.Background()

	store := &fakeStore{unsynced: []domain.Receipt{unsyncedReceipt(1, "h1", 0)}}
	release := make(chan struct{})
	transport := &fakeTransport{
		release: release,
		response: &protocol.SyncResponse{
			LocalIDToServerID: map[int64]int64{-1: 1},
			HashToServerID:    map[string]int64{"h1": 1},
		},
	}
	c := New(store, transport, StaticToken("tok"), testLogger())

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := c.SyncToServer(ctx)
		done <- err
	}()
	<-started

	// Busy-wait until the first cycle holds the flag, then every other
	// trigger must fail fast.
	for {
		st, err := c.Status(ctx)
		require.NoError(t, err)
		if st.Syncing {
			break
		}
	}

	_, err := c.SyncToServer(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, err = c.PullFromServer(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	_, _, err = c.FullSync(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Syncing)
}

func TestPullFromServer(t *testing.T) {
	ctx := context.Background()

	store := &fakeStore{}
	transport := &fakeTransport{snapshot: &protocol.PullResponse{
		Receipts:   []protocol.PullReceipt{{ID: 1, Date: "2024-03-01", Hash: "h1"}},
		Purchases:  []protocol.PullPurchase{{ID: 10, ReceiptID: 1, Name: "Milk", Amount: 1}},
		Categories: []protocol.PullCategory{{ID: 1, Name: "Groceries"}},
	}}
	c := New(store, transport, StaticToken("tok"), testLogger())

	res, err := c.PullFromServer(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Receipts)
	assert.Equal(t, 1, res.Purchases)
	assert.Equal(t, 1, res.Categories)
	require.NotNil(t, store.replaced)
	assert.Len(t, store.replaced.Receipts, 1)
}

func TestFullSync(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads before replacing", func(t *testing.T) {
		store := &fakeStore{unsynced: []domain.Receipt{unsyncedReceipt(1, "h1", 1)}}
		transport := &fakeTransport{
			response: &protocol.SyncResponse{
				LocalIDToServerID: map[int64]int64{-1: 50},
				HashToServerID:    map[string]int64{"h1": 50},
			},
			snapshot: &protocol.PullResponse{
				Receipts: []protocol.PullReceipt{{ID: 50, Date: "2024-03-01", Hash: "h1"}},
			},
		}
		c := New(store, transport, StaticToken("tok"), testLogger())

		syncRes, pullRes, err := c.FullSync(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, syncRes.ReceiptsSent)
		assert.Equal(t, 1, pullRes.Receipts)
		assert.Len(t, transport.batches, 1)
		require.NotNil(t, store.replaced)
	})

	t.Run("upload failure aborts before the pull", func(t *testing.T) {
		store := &fakeStore{unsynced: []domain.Receipt{unsyncedReceipt(1, "h1", 0)}}
		transport := &fakeTransport{syncErr: ErrServerRejected}
		c := New(store, transport, StaticToken("tok"), testLogger())

		_, _, err := c.FullSync(ctx)
		assert.ErrorIs(t, err, ErrServerRejected)
		assert.Nil(t, store.replaced)
	})
}

func TestStatus(t *testing.T) {
	ctx := context.Background()

	store := &fakeStore{unsynced: []domain.Receipt{unsyncedReceipt(1, "h1", 0)}}
	c := New(store, &fakeTransport{}, StaticToken(""), testLogger())

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.UnsyncedCount)
	assert.False(t, st.Authenticated)
	assert.True(t, st.Online)
	assert.False(t, st.Syncing)
}
