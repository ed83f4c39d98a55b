package queue_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aierrors "github.com/randalmurphal/anonintent/pkg/anonintent/errors"
	"github.com/randalmurphal/anonintent/pkg/anonintent/event"
	"github.com/randalmurphal/anonintent/pkg/anonintent/queue"
	"github.com/randalmurphal/anonintent/pkg/anonintent/storage"
)

// flakyStorage wraps MemoryStorage and fails writes while failing is set.
type flakyStorage struct {
	*storage.MemoryStorage
	failing atomic.Bool
}

var errDiskFull = errors.New("disk full")

func newFlakyStorage() *flakyStorage {
	return &flakyStorage{MemoryStorage: storage.NewMemoryStorage()}
}

func (f *flakyStorage) SetItem(key, value string) error {
	if f.failing.Load() {
		return errDiskFull
	}
	return f.MemoryStorage.SetItem(key, value)
}

func newEvent(t *testing.T, i int) *event.IntentEvent {
	t.Helper()
	e, _, err := event.Build(event.NameClick, map[string]any{"i": i}, event.Stamp{
		AnonID:    "anon",
		SessionID: "sess",
	}, time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC))
	require.NoError(t, err)
	return e
}

func appendN(t *testing.T, q *queue.Store, n int) []*event.IntentEvent {
	t.Helper()
	out := make([]*event.IntentEvent, n)
	for i := 0; i < n; i++ {
		out[i] = newEvent(t, i)
		_, err := q.Append(out[i])
		require.NoError(t, err)
	}
	return out
}

func ids(events []*event.IntentEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventID
	}
	return out
}

func TestAppendPeek(t *testing.T) {
	q := queue.Load(storage.NewMemoryStorage())
	assert.Zero(t, q.Size())
	assert.Empty(t, q.PeekBatch(10))

	events := appendN(t, q, 5)
	assert.Equal(t, 5, q.Size())
	assert.Equal(t, ids(events[:3]), ids(q.PeekBatch(3)))
	assert.Equal(t, ids(events), ids(q.PeekBatch(100)))
	assert.Empty(t, q.PeekBatch(-1))
	assert.Equal(t, 5, q.Size(), "peek does not remove")
}

func TestAppendPersistsBeforeReturning(t *testing.T) {
	store := storage.NewMemoryStorage()
	q := queue.Load(store)
	events := appendN(t, q, 2)

	raw, err := store.GetItem(storage.KeyPendingEvents)
	require.NoError(t, err)
	var persisted []map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	require.Len(t, persisted, 2)
	assert.Equal(t, events[0].EventID, persisted[0]["eventId"])
	assert.Equal(t, events[1].EventID, persisted[1]["eventId"])
}

func TestDurabilityAcrossRestart(t *testing.T) {
	factories := map[string]func(t *testing.T) (storage.Storage, func() storage.Storage){
		"memory": func(t *testing.T) (storage.Storage, func() storage.Storage) {
			s := storage.NewMemoryStorage()
			return s, func() storage.Storage { return s }
		},
		"file": func(t *testing.T) (storage.Storage, func() storage.Storage) {
			dir := t.TempDir()
			s, err := storage.NewFileStorage(dir)
			require.NoError(t, err)
			return s, func() storage.Storage {
				s2, err := storage.NewFileStorage(dir)
				require.NoError(t, err)
				return s2
			}
		},
		"sqlite": func(t *testing.T) (storage.Storage, func() storage.Storage) {
			path := filepath.Join(t.TempDir(), "agent.db")
			s, err := storage.NewSQLiteStorage(path)
			require.NoError(t, err)
			return s, func() storage.Storage {
				require.NoError(t, s.Close())
				s2, err := storage.NewSQLiteStorage(path)
				require.NoError(t, err)
				t.Cleanup(func() { _ = s2.Close() })
				return s2
			}
		},
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			store, reopen := factory(t)
			q := queue.Load(store)
			events := appendN(t, q, 7)
			_, err := q.RemovePrefix(2)
			require.NoError(t, err)

			restarted := queue.Load(reopen())
			assert.Equal(t, 5, restarted.Size())
			assert.Equal(t, ids(events[2:]), ids(restarted.PeekBatch(10)))
		})
	}
}

func TestRemovePrefix(t *testing.T) {
	q := queue.Load(storage.NewMemoryStorage())
	events := appendN(t, q, 4)

	n, err := q.RemovePrefix(3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, ids(events[3:]), ids(q.PeekBatch(10)))

	n, err = q.RemovePrefix(10)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "clamped to queue size")
	assert.Zero(t, q.Size())

	n, err = q.RemovePrefix(1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCheckoutAcknowledge(t *testing.T) {
	q := queue.Load(storage.NewMemoryStorage())
	events := appendN(t, q, 5)

	b := q.Checkout(3)
	require.Equal(t, 3, b.Len())
	require.Len(t, b.Raw, 3)
	assert.Equal(t, ids(events[:3]), ids(b.Events))

	// Appends during delivery land behind the batch.
	late := newEvent(t, 99)
	_, err := q.Append(late)
	require.NoError(t, err)

	n, err := q.Acknowledge(b)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, append(ids(events[3:]), late.EventID), ids(q.PeekBatch(10)))

	// A second acknowledgment of the same batch removes nothing.
	n, err = q.Acknowledge(b)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 3, q.Size())
}

func TestAcknowledgeAfterClear(t *testing.T) {
	q := queue.Load(storage.NewMemoryStorage())
	appendN(t, q, 3)
	b := q.Checkout(3)

	require.NoError(t, q.Clear())
	fresh := appendN(t, q, 2)

	n, err := q.Acknowledge(b)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, ids(fresh), ids(q.PeekBatch(10)))
}

func TestAcknowledgeAfterEviction(t *testing.T) {
	q := queue.Load(storage.NewMemoryStorage(), queue.WithMaxSize(3))
	events := appendN(t, q, 3)
	b := q.Checkout(2)

	// Evicts events[0], which is part of the outstanding batch.
	extra := newEvent(t, 50)
	evicted, err := q.Append(extra)
	require.NoError(t, err)
	require.NotNil(t, evicted)
	assert.Equal(t, events[0].EventID, evicted.EventID)

	n, err := q.Acknowledge(b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{events[2].EventID, extra.EventID}, ids(q.PeekBatch(10)))
}

func TestMaxSizeEviction(t *testing.T) {
	q := queue.Load(storage.NewMemoryStorage(), queue.WithMaxSize(2))
	events := appendN(t, q, 2)

	evicted, err := q.Append(newEvent(t, 2))
	require.NoError(t, err)
	require.NotNil(t, evicted)
	assert.Equal(t, events[0].EventID, evicted.EventID)
	assert.Equal(t, 2, q.Size())

	unbounded := queue.Load(storage.NewMemoryStorage(), queue.WithMaxSize(0))
	appendN(t, unbounded, 20)
	assert.Equal(t, 20, unbounded.Size())
}

func TestClear(t *testing.T) {
	store := storage.NewMemoryStorage()
	q := queue.Load(store)
	appendN(t, q, 3)
	gen := q.Generation()

	require.NoError(t, q.Clear())
	assert.Zero(t, q.Size())
	assert.Equal(t, gen+1, q.Generation())

	_, err := store.GetItem(storage.KeyPendingEvents)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Zero(t, queue.Load(store).Size())
}

func TestAppend_StorageFailureKeepsEventInMemory(t *testing.T) {
	store := newFlakyStorage()
	q := queue.Load(store)
	appendN(t, q, 1)

	store.failing.Store(true)
	e := newEvent(t, 1)
	_, err := q.Append(e)

	var storageErr *aierrors.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "set", storageErr.Op)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 2, q.Size())

	// Once storage recovers the next mutation persists everything.
	store.failing.Store(false)
	appendN(t, q, 1)
	assert.Equal(t, 3, queue.Load(store).Size())
}

func TestAppend_Unencodable(t *testing.T) {
	q := queue.Load(storage.NewMemoryStorage())
	e := newEvent(t, 0)
	e.Properties = map[string]any{"fn": func() {}}

	_, err := q.Append(e)
	var encodeErr *aierrors.EncodeError
	require.ErrorAs(t, err, &encodeErr)
	assert.Equal(t, e.EventID, encodeErr.EventID)
	assert.Zero(t, q.Size())
}

func TestLoad_CorruptData(t *testing.T) {
	store := storage.NewMemoryStorage()
	require.NoError(t, store.SetItem(storage.KeyPendingEvents, "not json"))
	assert.Zero(t, queue.Load(store).Size())

	good := newEvent(t, 1)
	raw, err := event.Encode(good)
	require.NoError(t, err)
	require.NoError(t, store.SetItem(storage.KeyPendingEvents, fmt.Sprintf(`[%s, "garbage", %s]`, raw, raw)))
	q := queue.Load(store)
	assert.Equal(t, 2, q.Size())
}

func TestConcurrentAppendAndAcknowledge(t *testing.T) {
	store := storage.NewMemoryStorage()
	q := queue.Load(store, queue.WithMaxSize(0))

	const producers, perProducer = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := q.Append(newEvent(t, p*perProducer+i))
				assert.NoError(t, err)
			}
		}(p)
	}

	var removed atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for removed.Load() < producers*perProducer {
			b := q.Checkout(7)
			n, err := q.Acknowledge(b)
			assert.NoError(t, err)
			removed.Add(int64(n))
		}
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the queue")
	}
	assert.Zero(t, q.Size())
	assert.Zero(t, queue.Load(store).Size())
}
